// Package payload декодирует полезную нагрузку сообщений, которая в
// зависимости от транспорта приходит сырыми байтами, base64-строкой или
// JSON-массивом чисел.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Encoding: форма, в которой транспорт отдал полезную нагрузку.
type Encoding int

const (
	Raw       Encoding = iota // байты как есть
	Base64                    // ASCII-текст в base64
	ByteArray                 // байты из JSON-массива чисел
)

func (e Encoding) String() string {
	switch e {
	case Raw:
		return "raw"
	case Base64:
		return "base64"
	case ByteArray:
		return "byte_array"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// Encoded: тегированное объединение: форма + данные.
type Encoded struct {
	Encoding Encoding
	Data     []byte
}

// RawBytes оборачивает байты, пришедшие без кодирования.
func RawBytes(b []byte) Encoded { return Encoded{Encoding: Raw, Data: b} }

// Base64Text оборачивает base64-строку.
func Base64Text(s string) Encoded { return Encoded{Encoding: Base64, Data: []byte(s)} }

// Bytes оборачивает байты, собранные из массива чисел.
func Bytes(b []byte) Encoded { return Encoded{Encoding: ByteArray, Data: b} }

// DecodeError: нагрузку не удалось раскодировать; вызывающий получает
// best-effort текст вместе с этой ошибкой.
type DecodeError struct {
	Encoding Encoding
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Encoding, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

var errInvalidUTF8 = errors.New("not valid UTF-8")

// base64 пробуем в этом порядке; все варианты строгие.
var base64Encodings = []*base64.Encoding{
	base64.StdEncoding.Strict(),
	base64.RawStdEncoding.Strict(),
	base64.URLEncoding.Strict(),
	base64.RawURLEncoding.Strict(),
}

// Decode превращает нагрузку в текст. Функция чистая.
//
// Base64 считается раскодированным, только если результат: валидный
// UTF-8; иначе вход трактуется как уже раскодированный текст. Поэтому
// повторный Decode уже раскодированного JSON возвращает его без изменений.
// Непустая ошибка всегда *DecodeError, а текст при этом всё равно пригоден
// для логирования.
func Decode(e Encoded) (string, error) {
	switch e.Encoding {
	case Base64:
		s := strings.TrimSpace(string(e.Data))
		if s == "" {
			return "", nil
		}
		var lastErr error
		for _, enc := range base64Encodings {
			b, err := enc.DecodeString(s)
			if err != nil {
				lastErr = err
				continue
			}
			if !utf8.Valid(b) {
				lastErr = errInvalidUTF8
				continue
			}
			return string(b), nil
		}
		return text(e.Data), &DecodeError{Encoding: Base64, Err: lastErr}
	case Raw, ByteArray:
		if utf8.Valid(e.Data) {
			return string(e.Data), nil
		}
		return text(e.Data), &DecodeError{Encoding: e.Encoding, Err: errInvalidUTF8}
	default:
		return text(e.Data), &DecodeError{Encoding: e.Encoding, Err: errors.New("unknown encoding")}
	}
}

func text(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// FromJSON классифицирует поле payload из JSON-ответа брокера:
// строка → Base64, массив чисел 0..255 → ByteArray, всё прочее → Raw
// (исходный JSON-текст).
func FromJSON(raw json.RawMessage) Encoded {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return RawBytes(nil)
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Base64Text(s)
		}
	case '[':
		var nums []int
		if err := json.Unmarshal(trimmed, &nums); err == nil {
			out := make([]byte, len(nums))
			ok := true
			for i, n := range nums {
				if n < 0 || n > 255 {
					ok = false
					break
				}
				out[i] = byte(n)
			}
			if ok {
				return Bytes(out)
			}
		}
	}
	return RawBytes(append([]byte(nil), trimmed...))
}
