package pools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

var (
	testPool   = solana.MustPublicKeyFromBase58("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2")
	testMintA  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testMintB  = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testVaultA = solana.MustPublicKeyFromBase58("DQyrAcCrDXQ7NeoqGgDCZwBvWDcYmFCjSb9JtteuvPpz")
	testVaultB = solana.MustPublicKeyFromBase58("HLmqeL62xR1QoZ1HKKbXRrdN1p3phKpxRMb2VVopvBBz")
)

// buildRaydiumAccount собирает синтетические данные аккаунта Raydium v4
func buildRaydiumAccount(baseMint, quoteMint, baseVault, quoteVault solana.PublicKey) []byte {
	data := make([]byte, raydiumV4MinSize)
	copy(data[400:432], baseMint[:])
	copy(data[432:464], quoteMint[:])
	copy(data[464:496], baseVault[:])
	copy(data[496:528], quoteVault[:])
	return data
}

// fakeReader подменяет RPC-клиент в тестах провайдера.
type fakeReader struct {
	owner       solana.PublicKey
	accountData []byte
	balances    map[solana.PublicKey]uint64
	decimals    map[solana.PublicKey]uint8
	balanceErr  error
}

func (f *fakeReader) GetAccountInfo(_ context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if dec, ok := f.decimals[pubkey]; ok {
		return mintAccountResult(dec), nil
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: f.owner,
			Data:  rpc.DataBytesOrJSONFromBytes(f.accountData),
		},
	}, nil
}

func (f *fakeReader) GetTokenAccountBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	bal, ok := f.balances[account]
	if !ok {
		return 0, errors.New("unknown vault")
	}
	return bal, nil
}

func (f *fakeReader) GetAccountDataInto(_ context.Context, _ solana.PublicKey, _ interface{}) error {
	return errors.New("not implemented")
}

// mintAccountResult кодирует SPL mint аккаунт: decimals лежит по смещению 44.
func mintAccountResult(decimals uint8) *rpc.GetAccountInfoResult {
	data := make([]byte, 82)
	data[44] = decimals
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: solana.TokenProgramID,
			Data:  rpc.DataBytesOrJSONFromBytes(data),
		},
	}
}

type fixedPricer struct {
	prices map[solana.PublicKey]decimal.Decimal
}

func (fp *fixedPricer) PriceUSD(_ context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	price, ok := fp.prices[mint]
	if !ok {
		return decimal.Zero, errors.New("no price source responded")
	}
	return price, nil
}

func newTestProvider(reader *fakeReader, pricer USDPricer, minTVL float64) *Provider {
	return NewProvider(
		reader,
		pricer,
		NewRegistry(),
		[]Candidate{{Address: testPool, Program: RaydiumAMMProgram}},
		defaultVenues(),
		minTVL,
		2,
		zap.NewNop(),
	)
}

func defaultVenues() []Venue {
	return []Venue{
		{Program: RaydiumAMMProgram, FeeBps: 25},
		{Program: OrcaSwapProgram, FeeBps: 30},
	}
}

func defaultPricer() *fixedPricer {
	return &fixedPricer{prices: map[solana.PublicKey]decimal.Decimal{
		testMintA: decimal.NewFromInt(200), // SOL
		testMintB: decimal.NewFromInt(1),   // USDC
	}}
}

func TestRefreshValidPool(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000, // 2562.26 SOL
			testVaultB: 516_222_140_000,   // 516222.14 USDC
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := newTestProvider(reader, defaultPricer(), 400_000)
	provider.Refresh(context.Background())

	require.Equal(t, 1, provider.Registry().Len())
	pool, ok := provider.Registry().Get(testPool)
	require.True(t, ok)
	assert.Equal(t, types.VenueConstantProductAMM, pool.Venue)
	assert.Equal(t, uint64(2_562_260_000_000), pool.ReserveA)
	assert.Equal(t, uint64(516_222_140_000), pool.ReserveB)
	assert.Equal(t, uint16(25), pool.FeeBps)
	// TVL = 2562.26*200 + 516222.14*1 ≈ $1,028,674
	assert.True(t, pool.TVLUSD.GreaterThan(decimal.NewFromInt(1_000_000)))
}

func TestRefreshOwnerMismatch(t *testing.T) {
	reader := &fakeReader{
		owner:       OrcaSwapProgram, // ожидался Raydium
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		decimals:    map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := newTestProvider(reader, defaultPricer(), 400_000)
	provider.Refresh(context.Background())

	assert.Equal(t, 0, provider.Registry().Len(), "owner mismatch must not create a pool")
}

func TestRefreshZeroProgramAcceptsAnySupportedOwner(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000,
			testVaultB: 516_222_140_000,
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := NewProvider(
		reader,
		defaultPricer(),
		NewRegistry(),
		[]Candidate{{Address: testPool}}, // программа не задана
		defaultVenues(),
		400_000,
		2,
		zap.NewNop(),
	)
	provider.Refresh(context.Background())

	require.Equal(t, 1, provider.Registry().Len())
	pool, ok := provider.Registry().Get(testPool)
	require.True(t, ok)
	assert.Equal(t, RaydiumAMMProgram, pool.VenueOwner)
}

// Кандидат без явной программы принимается только площадками из
// конфигурации, а не всем, для чего нашлась раскладка.
func TestRefreshZeroProgramRejectsUnconfiguredVenue(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000,
			testVaultB: 516_222_140_000,
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := NewProvider(
		reader,
		defaultPricer(),
		NewRegistry(),
		[]Candidate{{Address: testPool}},
		[]Venue{{Program: OrcaSwapProgram, FeeBps: 30}}, // Raydium не допущен
		400_000,
		2,
		zap.NewNop(),
	)
	provider.Refresh(context.Background())

	assert.Equal(t, 0, provider.Registry().Len(), "owner outside the venue list must be rejected")
}

// Комиссия площадки берётся из конфигурации, а не из дефолта раскладки.
func TestRefreshUsesConfiguredVenueFee(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000,
			testVaultB: 516_222_140_000,
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := NewProvider(
		reader,
		defaultPricer(),
		NewRegistry(),
		[]Candidate{{Address: testPool, Program: RaydiumAMMProgram}},
		[]Venue{{Program: RaydiumAMMProgram, FeeBps: 20}},
		400_000,
		2,
		zap.NewNop(),
	)
	provider.Refresh(context.Background())

	pool, ok := provider.Registry().Get(testPool)
	require.True(t, ok)
	assert.Equal(t, uint16(20), pool.FeeBps)
}

func TestRefreshBelowMinTVLDroppedSilently(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 1_000_000_000, // 1 SOL
			testVaultB: 200_000_000,   // 200 USDC
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := newTestProvider(reader, defaultPricer(), 400_000)
	provider.Refresh(context.Background())

	assert.Equal(t, 0, provider.Registry().Len())
}

func TestRefreshStalePricesLeaveRegistryUntouched(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000,
			testVaultB: 516_222_140_000,
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}

	provider := newTestProvider(reader, &fixedPricer{prices: nil}, 400_000)
	provider.Refresh(context.Background())

	assert.Equal(t, 0, provider.Registry().Len())
}

// Просадка ценовых источников не засчитывается в битые разборы:
// здоровый пул обязан пережить её любой длительности.
func TestRefreshPriceOutageDoesNotEvict(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000,
			testVaultB: 516_222_140_000,
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}
	pricer := defaultPricer()
	provider := newTestProvider(reader, pricer, 400_000)

	provider.Refresh(context.Background())
	require.Equal(t, 1, provider.Registry().Len())

	pricer.prices = nil
	for i := 0; i < maxParseFails+2; i++ {
		provider.Refresh(context.Background())
	}

	pool, ok := provider.Registry().Get(testPool)
	require.True(t, ok, "price outage must not evict a healthy pool")
	assert.Zero(t, pool.ParseFails)
}

func TestRefreshRepeatedParseFailuresEvict(t *testing.T) {
	reader := &fakeReader{
		owner:       RaydiumAMMProgram,
		accountData: buildRaydiumAccount(testMintA, testMintB, testVaultA, testVaultB),
		balances: map[solana.PublicKey]uint64{
			testVaultA: 2_562_260_000_000,
			testVaultB: 516_222_140_000,
		},
		decimals: map[solana.PublicKey]uint8{testMintA: 9, testMintB: 6},
	}
	provider := newTestProvider(reader, defaultPricer(), 400_000)

	provider.Refresh(context.Background())
	require.Equal(t, 1, provider.Registry().Len())

	reader.accountData = make([]byte, 100) // раскладка больше не читается
	for i := 0; i < maxParseFails; i++ {
		provider.Refresh(context.Background())
	}

	assert.Equal(t, 0, provider.Registry().Len())
}

func TestRaydiumLayoutTooShort(t *testing.T) {
	_, err := raydiumV4Layout{}.Parse(make([]byte, 100))
	assert.ErrorContains(t, err, "insufficient data length")
}

func TestRaydiumLayoutIdenticalMints(t *testing.T) {
	data := buildRaydiumAccount(testMintA, testMintA, testVaultA, testVaultB)
	_, err := raydiumV4Layout{}.Parse(data)
	assert.ErrorContains(t, err, "identical")
}

func TestRegistrySnapshotExcludesStale(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()

	registry.Upsert(&types.Pool{
		Address:   testPool,
		ReserveA:  1,
		ReserveB:  1,
		Refreshed: now.Add(-time.Minute),
	})
	fresh := solana.MustPublicKeyFromBase58("7XawhbbxtsRcQA8KTkHT9f9nc6d69UwqCDh6U5EEbEmX")
	registry.Upsert(&types.Pool{
		Address:   fresh,
		ReserveA:  1,
		ReserveB:  1,
		Refreshed: now,
	})

	snapshot := registry.Snapshot(now, 5*time.Second)
	require.Len(t, snapshot, 1)
	assert.Equal(t, fresh, snapshot[0].Address)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Upsert(&types.Pool{Address: testPool, ReserveA: 10, ReserveB: 10, Refreshed: now})

	snapshot := registry.Snapshot(now, time.Minute)
	require.Len(t, snapshot, 1)
	snapshot[0].ReserveA = 999

	pool, ok := registry.Get(testPool)
	require.True(t, ok)
	assert.Equal(t, uint64(10), pool.ReserveA, "mutating a snapshot must not touch the registry")
}
