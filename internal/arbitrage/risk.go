// internal/arbitrage/risk.go
package arbitrage

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/config"
	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// Filter — риск-фильтр: четыре упорядоченные проверки с коротким
// замыканием на первой неудаче. Сам по себе решения не хранит, но
// читает и обновляет суточные счётчики экспозиции и убытков.
type Filter struct {
	cfg    config.RiskConfig
	logger *zap.Logger

	mu         sync.Mutex
	day        time.Time
	exposure   uint64
	loss       uint64
	hardStop   bool
	volatility float64

	now func() time.Time
}

func NewFilter(cfg config.RiskConfig, logger *zap.Logger) *Filter {
	f := &Filter{
		cfg:    cfg,
		logger: logger.Named("risk"),
		now:    time.Now,
	}
	f.day = dayOf(f.now())
	return f
}

// SetVolatilityIndex обновляет индекс волатильности, по которому
// масштабируется порог прибыли.
func (f *Filter) SetVolatilityIndex(index float64) {
	f.mu.Lock()
	f.volatility = index
	f.mu.Unlock()
}

// Evaluate принимает или отклоняет возможность. Отказ всегда несёт
// код причины: молчаливых отбрасываний нет.
func (f *Filter) Evaluate(op *types.Opportunity) types.RiskDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolloverLocked()

	decision := func(accepted bool, reason types.RiskReason, size uint64) types.RiskDecision {
		if !accepted {
			f.logger.Info("Opportunity rejected",
				zap.String("opportunity_id", op.ID),
				zap.String("reason", string(reason)),
				zap.Int64("net_profit_bps", op.NetProfitBps))
		}
		return types.RiskDecision{
			Opportunity:  op,
			Accepted:     accepted,
			Reason:       reason,
			AdjustedSize: size,
			DecidedAt:    f.now(),
		}
	}

	// 4 проверяется первой частично: hard-stop отклоняет всё сразу,
	// не тратя время на остальное.
	if f.hardStop {
		return decision(false, types.RiskDailyLossHardStop, 0)
	}

	// 1. Абсолютные границы размера сделки.
	if op.AmountIn < f.cfg.MinTradeLamports || op.AmountIn > f.cfg.MaxTradeLamports {
		return decision(false, types.RiskTradeSizeBounds, 0)
	}

	// 2. Доля от ликвидности самого мелкого пула пути.
	maxByLiquidity := uint64(float64(op.MinPathLiquidity()) * f.cfg.MaxPoolSharePct / 100)
	if op.AmountIn > maxByLiquidity {
		return decision(false, types.RiskLiquidityCap, 0)
	}

	// 3. Динамический порог прибыли.
	if op.NetProfitBps < f.dynamicThresholdLocked() {
		return decision(false, types.RiskBelowThreshold, 0)
	}

	// 4. Суточные лимиты экспозиции.
	if f.exposure+op.AmountIn > f.cfg.DailyExposureCapLamports {
		return decision(false, types.RiskDailyExposureCap, 0)
	}

	return decision(true, types.RiskAccepted, op.AmountIn)
}

// dynamicThresholdLocked масштабирует базовый порог по режиму
// волатильности. Вызывается под мьютексом.
func (f *Filter) dynamicThresholdLocked() int64 {
	adjustment := 1.0
	switch {
	case f.volatility >= f.cfg.VolatilityIndexHigh:
		adjustment = f.cfg.HighVolMultiplier
	case f.volatility > 0 && f.volatility <= f.cfg.VolatilityIndexLow:
		adjustment = f.cfg.LowVolMultiplier
	}
	return int64(float64(f.cfg.BaseThresholdBps) * adjustment)
}

// RecordResult заносит итог исполнения в суточные счётчики. Вызывается
// для любого исхода, включая неудачи: потраченные комиссии — убыток.
func (f *Filter) RecordResult(result *types.ExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolloverLocked()

	f.exposure += result.RealizedIn

	if result.ProfitLamports < 0 {
		f.loss += uint64(-result.ProfitLamports)
		if f.loss >= f.cfg.DailyLossCapLamports {
			f.hardStop = true
			f.logger.Error("Daily loss cap breached, rejecting all opportunities",
				zap.Uint64("loss_lamports", f.loss),
				zap.Uint64("cap_lamports", f.cfg.DailyLossCapLamports))
		}
	}
}

// HardStopped сообщает, активен ли аварийный останов.
func (f *Filter) HardStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hardStop
}

// Reset вручную снимает аварийный останов и обнуляет счётчики.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
	f.logger.Warn("Risk counters manually reset")
}

// rolloverLocked обнуляет счётчики при смене календарного дня.
func (f *Filter) rolloverLocked() {
	today := dayOf(f.now())
	if today.After(f.day) {
		f.resetLocked()
		f.logger.Info("Daily risk counters rolled over")
	}
}

func (f *Filter) resetLocked() {
	f.day = dayOf(f.now())
	f.exposure = 0
	f.loss = 0
	f.hardStop = false
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
