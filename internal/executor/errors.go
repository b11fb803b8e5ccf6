// internal/executor/errors.go
package executor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInFlight — по этому отпечатку уже идёт исполнение.
	ErrInFlight = errors.New("execution already in flight for this fingerprint")

	// ErrConcurrencyLimit — достигнут глобальный предел одновременных исполнений.
	ErrConcurrencyLimit = errors.New("global execution limit reached")

	// ErrRelayUnavailable — защищённый релей не принял бандл.
	ErrRelayUnavailable = errors.New("protected relay unavailable")

	// ErrInsufficientBalance — на кошельке меньше, чем нужно для входа в путь.
	ErrInsufficientBalance = errors.New("wallet balance below requested trade amount")
)

// QuoteMismatchError — входная сумма котировки не совпала с запрошенной.
// Фатальна для попытки исполнения и никогда не ретраится: расхождение
// сумм ранее приводило к полному сливу баланса, когда агрегатор молча
// подменял крошечную запрошенную сумму «всем доступным балансом».
type QuoteMismatchError struct {
	Requested uint64
	Returned  uint64
	Tolerance uint64
}

func (e *QuoteMismatchError) Error() string {
	return fmt.Sprintf("quote in amount mismatch: requested %d, quote returned %d (tolerance %d)",
		e.Requested, e.Returned, e.Tolerance)
}

// SimulationError — симуляция транзакции завершилась ошибкой.
// Исполнение прерывается до отправки, без повтора в этом цикле.
type SimulationError struct {
	Reason string
	Logs   []string
}

func (e *SimulationError) Error() string {
	if len(e.Logs) == 0 {
		return fmt.Sprintf("transaction simulation failed: %s", e.Reason)
	}
	return fmt.Sprintf("transaction simulation failed: %s; logs: %s",
		e.Reason, strings.Join(e.Logs, " | "))
}
