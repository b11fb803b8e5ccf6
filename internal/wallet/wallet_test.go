package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generatedKeyBase58(t *testing.T) string {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.String()
}

func TestNewWallet(t *testing.T) {
	w, err := NewWallet(generatedKeyBase58(t))
	require.NoError(t, err)
	assert.False(t, w.Address().IsZero())
}

func TestNewWalletRejectsGarbage(t *testing.T) {
	_, err := NewWallet("not-a-key")
	assert.Error(t, err)

	_, err = NewWallet("3QJmV3qfvL9SuYo3") // валидный base58, неверная длина
	assert.ErrorContains(t, err, "invalid private key length")
}

func TestLoadWallets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.csv")
	content := "name,private_key\nmain," + generatedKeyBase58(t) + "\nbackup," + generatedKeyBase58(t) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	wallets, err := LoadWallets(path)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Contains(t, wallets, "main")
	assert.Contains(t, wallets, "backup")
}

// Выбор торгового кошелька не должен зависеть от порядка обхода map:
// при одном и том же файле процесс всегда стартует с одним подписантом.
func TestPrimaryIsDeterministic(t *testing.T) {
	wallets := map[string]*Wallet{}
	for _, name := range []string{"trading", "backup", "main"} {
		w, err := NewWallet(generatedKeyBase58(t))
		require.NoError(t, err)
		wallets[name] = w
	}

	firstName, firstWallet := Primary(wallets)
	assert.Equal(t, "backup", firstName)
	for i := 0; i < 20; i++ {
		name, w := Primary(wallets)
		assert.Equal(t, firstName, name)
		assert.Same(t, firstWallet, w)
	}
}

func TestPrimaryEmptyMap(t *testing.T) {
	name, w := Primary(nil)
	assert.Empty(t, name)
	assert.Nil(t, w)
}

func TestLoadWalletsBadKeyFailsLoudly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.csv")
	content := "name,private_key\nmain,broken-key\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadWallets(path)
	assert.ErrorContains(t, err, `wallet "main"`)
}

func TestLoadWalletsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,private_key\n"), 0o600))

	_, err := LoadWallets(path)
	assert.Error(t, err)
}

func TestGetATACaches(t *testing.T) {
	w, err := NewWallet(generatedKeyBase58(t))
	require.NoError(t, err)

	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	first, err := w.GetATA(mint)
	require.NoError(t, err)
	second, err := w.GetATA(mint)
	require.NoError(t, err)
	assert.True(t, first.Equals(second))

	expected, _, err := solana.FindAssociatedTokenAddress(w.Address(), mint)
	require.NoError(t, err)
	assert.True(t, first.Equals(expected))
}

func TestSignTransaction(t *testing.T) {
	w, err := NewWallet(generatedKeyBase58(t))
	require.NoError(t, err)

	recipient, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solana.NewInstruction(
				solana.SystemProgramID,
				[]*solana.AccountMeta{
					{PublicKey: w.Address(), IsWritable: true, IsSigner: true},
					{PublicKey: recipient.PublicKey(), IsWritable: true, IsSigner: false},
				},
				[]byte{2, 0, 0, 0}, // transfer
			),
		},
		solana.Hash{},
		solana.TransactionPayer(w.Address()),
	)
	require.NoError(t, err)

	require.NoError(t, w.SignTransaction(tx))
	assert.Len(t, tx.Signatures, 1)
}
