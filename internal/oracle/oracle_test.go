package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/pools"
	"github.com/rovshanmuradov/solana-arb/internal/types"
)

var (
	solMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	poolAddr = solana.MustPublicKeyFromBase58("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2")
)

type stubAggregator struct {
	quote *types.Quote
	err   error
	calls int
}

func (s *stubAggregator) GetQuote(_ context.Context, _, _ solana.PublicKey, _ uint64, _ uint16) (*types.Quote, error) {
	s.calls++
	return s.quote, s.err
}

func seededRegistry() *pools.Registry {
	registry := pools.NewRegistry()
	registry.Upsert(&types.Pool{
		Address:   poolAddr,
		Venue:     types.VenueConstantProductAMM,
		TokenA:    types.Token{Mint: solMint, Decimals: 9},
		TokenB:    types.Token{Mint: usdcMint, Decimals: 6},
		ReserveA:  2_562_260_000_000,
		ReserveB:  516_222_140_000,
		FeeBps:    25,
		TVLUSD:    decimal.NewFromInt(1_000_000),
		Refreshed: time.Now(),
	})
	return registry
}

func newTestOracle(agg Aggregator) *Oracle {
	return NewOracle(agg, seededRegistry(), 50, 5*time.Second, zap.NewNop())
}

func TestGetQuotePrefersAggregator(t *testing.T) {
	agg := &stubAggregator{quote: &types.Quote{
		InputMint:  solMint,
		OutputMint: usdcMint,
		InAmount:   1_000_000_000,
		OutAmount:  200_000_000,
		Source:     types.QuoteSourceAggregator,
	}}

	oracle := newTestOracle(agg)
	quote, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000)

	require.NoError(t, err)
	assert.Equal(t, types.QuoteSourceAggregator, quote.Source)
	assert.Equal(t, uint64(200_000_000), quote.OutAmount)
}

func TestGetQuoteFallsBackOnAggregatorError(t *testing.T) {
	agg := &stubAggregator{err: errors.New("connection refused")}

	oracle := newTestOracle(agg)
	quote, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000)

	require.NoError(t, err)
	assert.Equal(t, types.QuoteSourceLocalAMM, quote.Source)
	assert.NotZero(t, quote.OutAmount)
	// Тот же расчёт, что и в пуле: fee 25 бп, целочисленный floor.
	assert.Less(t, quote.OutAmount, uint64(516_222_140_000))
}

func TestGetQuoteRejectsMismatchedInAmount(t *testing.T) {
	// Агрегатор вернул котировку на сумму, которую никто не запрашивал.
	agg := &stubAggregator{quote: &types.Quote{
		InputMint:  solMint,
		OutputMint: usdcMint,
		InAmount:   20_000_000,
		OutAmount:  4_000_000,
		Source:     types.QuoteSourceAggregator,
	}}

	oracle := newTestOracle(agg)
	quote, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 10_000)

	require.NoError(t, err)
	assert.Equal(t, types.QuoteSourceLocalAMM, quote.Source,
		"quote with a foreign in amount must never pass through")
	assert.Equal(t, uint64(10_000), quote.InAmount)
}

func TestGetQuoteRejectsZeroOutAmount(t *testing.T) {
	agg := &stubAggregator{quote: &types.Quote{
		InputMint:  solMint,
		OutputMint: usdcMint,
		InAmount:   1_000_000_000,
		OutAmount:  0,
		Source:     types.QuoteSourceAggregator,
	}}

	oracle := newTestOracle(agg)
	quote, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000)

	require.NoError(t, err)
	assert.Equal(t, types.QuoteSourceLocalAMM, quote.Source)
}

func TestGetQuoteRejectsTooGoodToBeTrue(t *testing.T) {
	agg := &stubAggregator{quote: &types.Quote{
		InputMint:  solMint,
		OutputMint: usdcMint,
		InAmount:   1_000_000_000,
		OutAmount:  9_000_000_000_000, // в десятки раз выше локальной оценки
		Source:     types.QuoteSourceAggregator,
	}}

	oracle := newTestOracle(agg)
	quote, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000)

	require.NoError(t, err)
	assert.Equal(t, types.QuoteSourceLocalAMM, quote.Source)
}

func TestGetQuoteNoRouteAnywhere(t *testing.T) {
	agg := &stubAggregator{err: errors.New("timeout")}
	oracle := NewOracle(agg, pools.NewRegistry(), 50, 5*time.Second, zap.NewNop())

	_, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestLocalQuoteUsesDeepestPool(t *testing.T) {
	registry := seededRegistry()
	shallow := solana.MustPublicKeyFromBase58("7XawhbbxtsRcQA8KTkHT9f9nc6d69UwqCDh6U5EEbEmX")
	registry.Upsert(&types.Pool{
		Address:   shallow,
		Venue:     types.VenueConstantProductAMM,
		TokenA:    types.Token{Mint: solMint, Decimals: 9},
		TokenB:    types.Token{Mint: usdcMint, Decimals: 6},
		ReserveA:  1_000_000_000,
		ReserveB:  200_000_000,
		FeeBps:    30,
		TVLUSD:    decimal.NewFromInt(400),
		Refreshed: time.Now(),
	})

	oracle := NewOracle(&stubAggregator{err: errors.New("down")}, registry, 50, 5*time.Second, zap.NewNop())
	quote, err := oracle.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000)

	require.NoError(t, err)
	// Мелкий пул дал бы выход около половины резерва; глубокий — ~201 USDC.
	assert.Greater(t, quote.OutAmount, uint64(150_000_000))
}
