// internal/pools/layouts.go
package pools

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// Известные программы площадок (mainnet).
var (
	RaydiumAMMProgram = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	OrcaSwapProgram   = solana.MustPublicKeyFromBase58("9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP")
)

// layoutFields — результат разбора аккаунта пула: минты и vault-адреса.
// Резервы сюда не входят: балансы vault читаются отдельным запросом,
// а не из тела аккаунта пула.
type layoutFields struct {
	BaseMint   solana.PublicKey
	QuoteMint  solana.PublicKey
	BaseVault  solana.PublicKey
	QuoteVault solana.PublicKey
}

// venueLayout — способность площадки: разбор бинарной раскладки и модель комиссии.
// Закрытый набор реализаций вместо ветвления по строковым именам.
type venueLayout interface {
	Venue() types.VenueType
	MinAccountSize() int
	Parse(data []byte) (*layoutFields, error)
	DefaultFeeBps() uint16
}

// layoutFor возвращает раскладку для программы-владельца, если она поддержана.
func layoutFor(owner solana.PublicKey) (venueLayout, bool) {
	switch {
	case owner.Equals(RaydiumAMMProgram):
		return raydiumV4Layout{}, true
	case owner.Equals(OrcaSwapProgram):
		return orcaSwapLayout{}, true
	default:
		return nil, false
	}
}

// readPubKey читает 32-байтовый публичный ключ по смещению.
func readPubKey(data []byte, offset int) (solana.PublicKey, error) {
	if offset+32 > len(data) {
		return solana.PublicKey{}, fmt.Errorf("insufficient data for public key at offset %d", offset)
	}
	var key solana.PublicKey
	copy(key[:], data[offset:offset+32])
	if key.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("zero public key at offset %d", offset)
	}
	return key, nil
}

////////////////////////////////////////////////////////////////////////////////
// Raydium AMM v4
////////////////////////////////////////////////////////////////////////////////

// raydiumV4Layout разбирает состояние пула Raydium AMM v4.
// Смещения полей — из Raydium SDK: минты 400/432, vault-аккаунты 464/496.
type raydiumV4Layout struct{}

const raydiumV4MinSize = 752

func (raydiumV4Layout) Venue() types.VenueType { return types.VenueConstantProductAMM }
func (raydiumV4Layout) MinAccountSize() int    { return raydiumV4MinSize }
func (raydiumV4Layout) DefaultFeeBps() uint16  { return 25 }

func (raydiumV4Layout) Parse(data []byte) (*layoutFields, error) {
	if len(data) < raydiumV4MinSize {
		return nil, fmt.Errorf("insufficient data length: got %d, need at least %d", len(data), raydiumV4MinSize)
	}

	fields := &layoutFields{}
	var err error
	if fields.BaseMint, err = readPubKey(data, 400); err != nil {
		return nil, fmt.Errorf("failed to read base mint: %w", err)
	}
	if fields.QuoteMint, err = readPubKey(data, 432); err != nil {
		return nil, fmt.Errorf("failed to read quote mint: %w", err)
	}
	if fields.BaseVault, err = readPubKey(data, 464); err != nil {
		return nil, fmt.Errorf("failed to read base vault: %w", err)
	}
	if fields.QuoteVault, err = readPubKey(data, 496); err != nil {
		return nil, fmt.Errorf("failed to read quote vault: %w", err)
	}
	if fields.BaseMint.Equals(fields.QuoteMint) {
		return nil, fmt.Errorf("base and quote mint are identical: %s", fields.BaseMint)
	}
	return fields, nil
}

////////////////////////////////////////////////////////////////////////////////
// Orca token swap
////////////////////////////////////////////////////////////////////////////////

// orcaSwapLayout разбирает состояние constant-product пула Orca.
// Vault-аккаунты лежат по смещениям 85/165, минты — 101/181.
type orcaSwapLayout struct{}

const orcaSwapMinSize = 324

func (orcaSwapLayout) Venue() types.VenueType { return types.VenueConstantProductAMM }
func (orcaSwapLayout) MinAccountSize() int    { return orcaSwapMinSize }
func (orcaSwapLayout) DefaultFeeBps() uint16  { return 30 }

func (orcaSwapLayout) Parse(data []byte) (*layoutFields, error) {
	if len(data) < orcaSwapMinSize {
		return nil, fmt.Errorf("insufficient data length: got %d, need at least %d", len(data), orcaSwapMinSize)
	}

	fields := &layoutFields{}
	var err error
	if fields.BaseVault, err = readPubKey(data, 85); err != nil {
		return nil, fmt.Errorf("failed to read base vault: %w", err)
	}
	if fields.BaseMint, err = readPubKey(data, 101); err != nil {
		return nil, fmt.Errorf("failed to read base mint: %w", err)
	}
	if fields.QuoteVault, err = readPubKey(data, 165); err != nil {
		return nil, fmt.Errorf("failed to read quote vault: %w", err)
	}
	if fields.QuoteMint, err = readPubKey(data, 181); err != nil {
		return nil, fmt.Errorf("failed to read quote mint: %w", err)
	}
	if fields.BaseMint.Equals(fields.QuoteMint) {
		return nil, fmt.Errorf("base and quote mint are identical: %s", fields.BaseMint)
	}
	return fields, nil
}
