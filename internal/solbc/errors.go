// internal/solbc/errors.go
package solbc

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrTransient — сетевая ошибка, которую имеет смысл повторить с backoff.
	ErrTransient = errors.New("transient network error")
)

// IsAccountNotFoundError проверяет, является ли ошибка "not found"
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// IsTransient классифицирует ошибку как временную: таймауты, обрывы
// соединения и перегрузка узла. Такие ошибки повторяются, остальные нет.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"too many requests",
		"429",
		"503",
		"node is behind",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
