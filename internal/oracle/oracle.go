// internal/oracle/oracle.go
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/amm"
	"github.com/rovshanmuradov/solana-arb/internal/pools"
	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// ErrNoRoute означает, что ни агрегатор, ни локальные пулы не дают
// маршрут для запрошенной пары.
var ErrNoRoute = errors.New("no route for requested pair")

// plausibilityFactor ограничивает расхождение агрегатора с локальной
// оценкой: выход больше локального в 10 раз считается неправдоподобным.
const plausibilityFactor = 10

// Aggregator — внешний источник котировок с реальной рыночной маршрутизацией.
type Aggregator interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (*types.Quote, error)
}

// Oracle выдаёт котировки: сперва агрегатор, при сбое, таймауте или
// неправдоподобном ответе — локальный расчёт по лучшему пулу реестра.
type Oracle struct {
	aggregator  Aggregator
	registry    *pools.Registry
	logger      *zap.Logger
	slippageBps uint16
	staleness   time.Duration
}

func NewOracle(aggregator Aggregator, registry *pools.Registry, slippageBps uint16, staleness time.Duration, logger *zap.Logger) *Oracle {
	return &Oracle{
		aggregator:  aggregator,
		registry:    registry,
		logger:      logger.Named("oracle"),
		slippageBps: slippageBps,
		staleness:   staleness,
	}
}

// GetQuote возвращает котировку обмена amount единиц input на output.
func (o *Oracle) GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) (*types.Quote, error) {
	local, localErr := o.localQuote(inputMint, outputMint, amount)

	quote, err := o.aggregator.GetQuote(ctx, inputMint, outputMint, amount, o.slippageBps)
	if err != nil {
		o.logger.Warn("Aggregator quote failed, falling back to local AMM",
			zap.String("input", inputMint.String()),
			zap.String("output", outputMint.String()),
			zap.Error(err))
		if localErr != nil {
			return nil, fmt.Errorf("aggregator failed (%s) and no local route: %w", err, localErr)
		}
		return local, nil
	}

	if reason := o.implausible(quote, local, amount); reason != "" {
		o.logger.Warn("Aggregator quote rejected as implausible",
			zap.String("reason", reason),
			zap.Uint64("requested", amount),
			zap.Uint64("in_amount", quote.InAmount),
			zap.Uint64("out_amount", quote.OutAmount))
		if localErr != nil {
			return nil, fmt.Errorf("implausible aggregator quote (%s) and no local route: %w", reason, localErr)
		}
		return local, nil
	}

	return quote, nil
}

// implausible возвращает причину отклонения котировки или пустую строку.
// Котировка с чужой входной суммой отбрасывается здесь же: дальше по
// конвейеру она не должна пройти ни при каких условиях.
func (o *Oracle) implausible(quote *types.Quote, local *types.Quote, requested uint64) string {
	if quote.OutAmount == 0 {
		return "zero out amount"
	}
	if quote.InAmount != requested {
		return fmt.Sprintf("in amount %d does not match requested %d", quote.InAmount, requested)
	}
	if local != nil && local.OutAmount > 0 && quote.OutAmount > local.OutAmount*plausibilityFactor {
		return fmt.Sprintf("out amount %d exceeds %dx local estimate %d",
			quote.OutAmount, plausibilityFactor, local.OutAmount)
	}
	return ""
}

// localQuote считает обмен по лучшему (по TVL) пулу реестра с нужной парой.
func (o *Oracle) localQuote(inputMint, outputMint solana.PublicKey, amount uint64) (*types.Quote, error) {
	pool := o.bestPool(inputMint, outputMint)
	if pool == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, inputMint, outputMint)
	}

	reserveIn, reserveOut, err := pool.ReserveFor(inputMint)
	if err != nil {
		return nil, err
	}

	outAmount, err := amm.CalculateOutput(reserveIn, reserveOut, amount, pool.FeeBps)
	if err != nil {
		return nil, fmt.Errorf("local quote via pool %s: %w", pool.Address, err)
	}

	impact, err := amm.PriceImpactBps(reserveIn, reserveOut, amount, pool.FeeBps)
	if err != nil {
		impact = 0
	}

	return &types.Quote{
		Venue:          pool.Venue.String(),
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       amount,
		OutAmount:      outAmount,
		PriceImpactBps: impact,
		Source:         types.QuoteSourceLocalAMM,
		ObservedAt:     time.Now(),
	}, nil
}

// bestPool выбирает среди пригодных пулов с парой (input, output)
// пул с наибольшим TVL.
func (o *Oracle) bestPool(inputMint, outputMint solana.PublicKey) *types.Pool {
	snapshot := o.registry.Snapshot(time.Now(), o.staleness)

	var best *types.Pool
	for _, pool := range snapshot {
		hasPair := (pool.TokenA.Mint.Equals(inputMint) && pool.TokenB.Mint.Equals(outputMint)) ||
			(pool.TokenA.Mint.Equals(outputMint) && pool.TokenB.Mint.Equals(inputMint))
		if !hasPair {
			continue
		}
		if best == nil || pool.TVLUSD.GreaterThan(best.TVLUSD) {
			best = pool
		}
	}
	return best
}
