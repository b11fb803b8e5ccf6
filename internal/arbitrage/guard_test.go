package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

func directOpportunity(pools []*types.Pool) *types.Opportunity {
	return &types.Opportunity{
		ID:        "op-1",
		Kind:      types.OpportunityDirect,
		StartMint: solMint,
		AmountIn:  1_000_000_000,
		Path: []types.Hop{
			{Pool: pools[0], OutMint: usdcMint},
			{Pool: pools[1], OutMint: solMint},
		},
	}
}

func TestGuardAcceptsCrossVenuePath(t *testing.T) {
	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	assert.NoError(t, guard.Check(directOpportunity(crossVenueSnapshot())))
}

func TestGuardRejectsSameVenueRoundTrip(t *testing.T) {
	pools := []*types.Pool{
		mkPool("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2", raydiumProgram,
			solMint, usdcMint, 1_000_000_000_000, 200_000_000_000, 25),
		mkPool("7XawhbbxtsRcQA8KTkHT9f9nc6d69UwqCDh6U5EEbEmX", raydiumProgram,
			solMint, usdcMint, 900_000_000_000, 200_000_000_000, 25),
	}

	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	err := guard.Check(directOpportunity(pools))

	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, GuardSameVenue, guardErr.Reason)
}

func TestGuardRejectsSamePoolTwice(t *testing.T) {
	pool := mkPool("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2", raydiumProgram,
		solMint, usdcMint, 1_000_000_000_000, 200_000_000_000, 25)

	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	err := guard.Check(directOpportunity([]*types.Pool{pool, pool}))

	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, GuardSameVenue, guardErr.Reason)
}

// Треугольный путь, у которого «третий» токен совпадает со стартовым,
// должен отсекаться до скоринга.
func TestGuardRejectsDegenerateTriangular(t *testing.T) {
	pools := crossVenueSnapshot()
	third := mkPool("7XawhbbxtsRcQA8KTkHT9f9nc6d69UwqCDh6U5EEbEmX", raydiumProgram,
		solMint, usdcMint, 900_000_000_000, 200_000_000_000, 25)

	op := &types.Opportunity{
		ID:        "op-degenerate",
		Kind:      types.OpportunityTriangular,
		StartMint: solMint,
		AmountIn:  1_000_000_000,
		Path: []types.Hop{
			{Pool: pools[0], OutMint: usdcMint},
			{Pool: pools[1], OutMint: solMint}, // «RAY», оказавшийся стартовым токеном
			{Pool: third, OutMint: solMint},
		},
	}

	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	err := guard.Check(op)

	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, GuardTokenRepeat, guardErr.Reason)
}

func TestGuardCooldownBlocksRepeat(t *testing.T) {
	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	op := directOpportunity(crossVenueSnapshot())

	require.NoError(t, guard.Check(op))
	guard.MarkExecuted(op.Fingerprint())

	err := guard.Check(op)
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, GuardCooldown, guardErr.Reason)
}

func TestGuardCooldownExpires(t *testing.T) {
	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	current := time.Now()
	guard.now = func() time.Time { return current }

	op := directOpportunity(crossVenueSnapshot())
	guard.MarkExecuted(op.Fingerprint())

	current = current.Add(31 * time.Second)
	assert.NoError(t, guard.Check(op), "fingerprint older than the cooldown must pass")
}

func TestGuardErrorCarriesFingerprint(t *testing.T) {
	guard := NewGuard(30*time.Second, 1, zap.NewNop())
	op := directOpportunity(crossVenueSnapshot())
	guard.MarkExecuted(op.Fingerprint())

	err := guard.Check(op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(GuardCooldown))
	assert.Contains(t, err.Error(), op.Fingerprint())
}
