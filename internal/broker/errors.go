package broker

import (
	"errors"
	"fmt"

	"github.com/YaganovValera/iggy-clients/internal/payload"
)

var (
	// ErrNotFound: stream или topic отсутствует. Это не ошибка bootstrap.
	ErrNotFound = errors.New("broker: not found")
	// ErrAlreadyExists: ресурс создан кем-то раньше нас.
	ErrAlreadyExists = errors.New("broker: already exists")
	// ErrNotLoggedIn: вызов до успешного Login.
	ErrNotLoggedIn = errors.New("broker: not logged in")
)

// AuthError: неверные учётные данные или недоступный сервис при логине.
// Фатальна на этапе bootstrap.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error (%s): %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ProvisioningError: не удалось проверить или создать stream/topic.
type ProvisioningError struct {
	Resource string // "stream" | "topic"
	Name     string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s %q: %v", e.Resource, e.Name, e.Err)
}
func (e *ProvisioningError) Unwrap() error { return e.Err }

// TransportError: сетевая ошибка или non-2xx ответ. Восстановимая.
type TransportError struct {
	Op         string
	StatusCode int // 0, если ответа не было
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (%s): status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Op, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// IsAuth сообщает, является ли err (или его причина) AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransport сообщает, является ли err (или его причина) TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DecodeError: полезная нагрузка не раскодировалась; обработка
// продолжается с best-effort текстом. Определена рядом с декодером.
type DecodeError = payload.DecodeError
