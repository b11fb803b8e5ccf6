package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
rpc_list:
  - https://api.mainnet-beta.solana.com
venues:
  - name: raydium
    kind: constant_product_amm
    program_id: 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8
    fee_bps: 25
  - name: orca
    kind: constant_product_amm
    program_id: 9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP
    fee_bps: 30
watched_pools:
  - 58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxHops, cfg.MaxHops)
	assert.Equal(t, DefaultCooldownMs, cfg.CooldownMs)
	assert.Equal(t, DefaultRefreshWorkers, cfg.RefreshWorkers)
	assert.Equal(t, float64(DefaultMinTVLUSD), cfg.MinTVLUSD)
	assert.Equal(t, 1, cfg.MaxSameTokenRepeats)
	assert.Equal(t, uint64(10_000_000_000), cfg.TradeAmountLamports)
	assert.Equal(t, uint64(1), cfg.Execution.AmountToleranceLamports)
	assert.Equal(t, DefaultMaxConcurrent, cfg.Execution.MaxConcurrent)
	assert.True(t, cfg.Execution.MEVProtection)
	assert.Equal(t, "fixed", cfg.Execution.FeePolicy)
	assert.Equal(t, int64(50), cfg.Risk.BaseThresholdBps)
}

func TestLoadConfigMissingRPC(t *testing.T) {
	content := `
venues:
  - name: raydium
    kind: constant_product_amm
    program_id: 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8
`
	_, err := LoadConfig(writeConfig(t, content))
	assert.ErrorContains(t, err, "rpc_list")
}

func TestLoadConfigUnknownVenueProgram(t *testing.T) {
	// Неизвестный program id — фатальная ошибка стартовой конфигурации
	content := `
rpc_list:
  - https://api.mainnet-beta.solana.com
venues:
  - name: raydium
    kind: constant_product_amm
    program_id: not-a-pubkey
`
	_, err := LoadConfig(writeConfig(t, content))
	assert.ErrorContains(t, err, "unknown venue program id")
}

func TestLoadConfigUnsupportedVenueKind(t *testing.T) {
	content := `
rpc_list:
  - https://api.mainnet-beta.solana.com
venues:
  - name: raydium
    kind: magic_pool
    program_id: 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8
`
	_, err := LoadConfig(writeConfig(t, content))
	assert.ErrorContains(t, err, "unsupported venue kind")
}

func TestLoadConfigBadTradeBounds(t *testing.T) {
	content := validConfigYAML + `
risk:
  min_trade_lamports: 1000
  max_trade_lamports: 500
`
	_, err := LoadConfig(writeConfig(t, content))
	assert.ErrorContains(t, err, "trade size bounds")
}

func TestLoadConfigBadFeePolicy(t *testing.T) {
	content := validConfigYAML + `
execution:
  fee_policy: guess
`
	_, err := LoadConfig(writeConfig(t, content))
	assert.ErrorContains(t, err, "fee_policy")
}
