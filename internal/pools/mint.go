// internal/pools/mint.go
package pools

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// fetchMintDecimals читает аккаунт минта и декодирует точность токена.
func fetchMintDecimals(ctx context.Context, client AccountReader, mint solana.PublicKey) (uint8, error) {
	info, err := client.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("fetch mint account: %w", err)
	}

	var mintInfo token.Mint
	decoder := bin.NewBinDecoder(info.Value.Data.GetBinary())
	if err := mintInfo.UnmarshalWithDecoder(decoder); err != nil {
		return 0, fmt.Errorf("decode mint %s: %w", mint, err)
	}
	return mintInfo.Decimals, nil
}
