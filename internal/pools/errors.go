// internal/pools/errors.go
package pools

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ValidationReason — причина отбраковки кандидата пула.
type ValidationReason string

const (
	// ReasonOwnerMismatch — аккаунтом владеет не та программа, что ожидалась
	ReasonOwnerMismatch ValidationReason = "owner_mismatch"
	// ReasonLayoutParse — бинарные данные не соответствуют ожидаемой раскладке
	ReasonLayoutParse ValidationReason = "layout_parse"
	// ReasonVaultRead — не удалось прочитать баланс vault-аккаунта
	ReasonVaultRead ValidationReason = "vault_read"
)

// ValidationError описывает отказ валидации кандидата пула. Валидационные
// ошибки логируются и отбрасывают кандидата, но не прерывают цикл обновления.
type ValidationError struct {
	Pool   solana.PublicKey
	Reason ValidationReason
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pool %s validation failed (%s): %v", e.Pool, e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
