package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/YaganovValera/iggy-clients/internal/broker"
)

const maxErrorBody = 512

// statusError переводит non-2xx ответ в ошибку из internal/broker.
// Тело ответа (обрезанное) сохраняется как текст причины.
func statusError(op string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		text = http.StatusText(code)
	}

	lower := strings.ToLower(text)
	switch {
	case code == http.StatusNotFound:
		return &broker.TransportError{Op: op, StatusCode: code, Err: broker.ErrNotFound}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &broker.AuthError{Op: op, Err: &broker.TransportError{Op: op, StatusCode: code, Err: errors.New(text)}}
	case code == http.StatusConflict ||
		strings.Contains(lower, "already exists") ||
		strings.Contains(lower, "already_exists"):
		return &broker.TransportError{Op: op, StatusCode: code, Err: broker.ErrAlreadyExists}
	default:
		return &broker.TransportError{Op: op, StatusCode: code, Err: errors.New(text)}
	}
}
