// internal/bot/orchestrator.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/solana-arb/internal/config"
	"github.com/rovshanmuradov/solana-arb/internal/executor"
	"github.com/rovshanmuradov/solana-arb/internal/logger"
	"github.com/rovshanmuradov/solana-arb/internal/types"
	"go.uber.org/zap"
)

// PoolSource обновляет данные пулов перед циклом обнаружения.
type PoolSource interface {
	Refresh(ctx context.Context)
}

// Snapshotter отдаёт согласованный срез реестра пулов.
type Snapshotter interface {
	Snapshot(now time.Time, staleness time.Duration) []*types.Pool
}

// OpportunityScanner ищет арбитражные возможности на срезе пулов.
type OpportunityScanner interface {
	Scan(snapshot []*types.Pool, startMint solana.PublicKey, amountIn uint64) []*types.Opportunity
}

// Gatekeeper отбрасывает структурно вырожденные и недавно исполненные пути.
type Gatekeeper interface {
	Check(op *types.Opportunity) error
}

// RiskEvaluator пропускает возможность через риск-фильтр.
type RiskEvaluator interface {
	Evaluate(op *types.Opportunity) types.RiskDecision
	HardStopped() bool
}

// TradeExecutor исполняет принятую возможность.
type TradeExecutor interface {
	Execute(ctx context.Context, op *types.Opportunity) (*types.ExecutionResult, error)
}

// Orchestrator крутит главный цикл: обновление пулов → срез → сканирование →
// страж → риск-фильтр → асинхронное исполнение. Ошибки внутри цикла
// локализуются и логируются, цикл не останавливают.
type Orchestrator struct {
	cfg       *config.Config
	log       *logger.Logger
	source    PoolSource
	registry  Snapshotter
	scanner   OpportunityScanner
	guard     Gatekeeper
	risk      RiskEvaluator
	executor  TradeExecutor
	startMint solana.PublicKey

	shutdownCh chan os.Signal
	inflight   sync.WaitGroup
	now        func() time.Time
}

func NewOrchestrator(
	cfg *config.Config,
	log *logger.Logger,
	source PoolSource,
	registry Snapshotter,
	scanner OpportunityScanner,
	guard Gatekeeper,
	risk RiskEvaluator,
	exec TradeExecutor,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		source:     source,
		registry:   registry,
		scanner:    scanner,
		guard:      guard,
		risk:       risk,
		executor:   exec,
		startMint:  solana.WrappedSol,
		shutdownCh: make(chan os.Signal, 1),
		now:        time.Now,
	}
}

// Run запускает цикл обнаружения и блокируется до сигнала или отмены контекста.
// Начатые исполнения дорабатывают до конца и после остановки цикла.
func (o *Orchestrator) Run(ctx context.Context) error {
	signal.Notify(o.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-o.shutdownCh:
			o.log.Info("📡 Signal received: " + sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	o.log.Info("🚀 Arbitrage engine started",
		zap.String("start_token", types.SymbolFor(o.startMint)),
		zap.Uint64("trade_amount_lamports", o.cfg.TradeAmountLamports),
		zap.Duration("cycle_interval", o.cfg.CycleInterval()),
		zap.Duration("cycle_deadline", o.cfg.CycleDeadline()))

	ticker := time.NewTicker(o.cfg.CycleInterval())
	defer ticker.Stop()

	var cycle uint64
	for {
		cycle++
		o.runCycle(runCtx, cycle)

		select {
		case <-runCtx.Done():
			o.log.Info("⏳ Waiting for in-flight executions to finish")
			o.inflight.Wait()
			o.log.Info("✅ Arbitrage engine stopped", zap.Uint64("cycles", cycle))
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle выполняет один цикл обнаружения под собственным дедлайном.
// Любая ошибка внутри цикла относится к классу устойчивых: она логируется
// и не выходит наружу.
func (o *Orchestrator) runCycle(ctx context.Context, cycle uint64) {
	if ctx.Err() != nil {
		return
	}
	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.CycleDeadline())
	defer cancel()

	log := o.log.WithCycle(cycle)
	started := o.now()

	o.source.Refresh(cycleCtx)

	snapshot := o.registry.Snapshot(o.now(), o.cfg.Staleness())
	if len(snapshot) == 0 {
		log.Warn("No fresh pools in registry, skipping cycle")
		return
	}

	if o.risk.HardStopped() {
		log.Warn("Daily loss cap reached, discovery idles until reset")
		return
	}

	opportunities := o.scanner.Scan(snapshot, o.startMint, o.cfg.TradeAmountLamports)
	dispatched := o.dispatch(ctx, opportunities, log)

	log.Info("Cycle finished",
		zap.Int("pools", len(snapshot)),
		zap.Int("opportunities", len(opportunities)),
		zap.Int("dispatched", dispatched),
		zap.Duration("elapsed", o.now().Sub(started)))
}

// dispatch прогоняет возможности через стража и риск-фильтр и отправляет
// принятые в исполнение. Возможности приходят отсортированными по убыванию
// прибыли, поэтому упор в предел параллельности завершает раздачу.
func (o *Orchestrator) dispatch(ctx context.Context, opportunities []*types.Opportunity, log *zap.Logger) int {
	dispatched := 0
	for _, op := range opportunities {
		if err := o.guard.Check(op); err != nil {
			log.Debug("Opportunity blocked by guard",
				zap.String("opportunity_id", op.ID),
				zap.Error(err))
			continue
		}

		decision := o.risk.Evaluate(op)
		if !decision.Accepted {
			log.Debug("Opportunity rejected by risk filter",
				zap.String("opportunity_id", op.ID),
				zap.String("reason", string(decision.Reason)))
			continue
		}

		opLog := log.With(
			zap.String("opportunity_id", op.ID),
			zap.String("fingerprint", op.Fingerprint()))
		opLog.Info("Opportunity accepted",
			zap.Stringer("kind", op.Kind),
			zap.Int64("net_profit_bps", op.NetProfitBps),
			zap.Uint64("amount_in", op.AmountIn))

		o.inflight.Add(1)
		go func() {
			defer o.inflight.Done()
			// Исполнение живёт дольше дедлайна цикла: ему выдаётся контекст запуска.
			if _, err := o.executor.Execute(ctx, op); err != nil {
				if errors.Is(err, executor.ErrInFlight) || errors.Is(err, executor.ErrConcurrencyLimit) {
					opLog.Debug("Execution slot unavailable", zap.Error(err))
					return
				}
				opLog.Error("Execution dispatch failed", zap.Error(err))
			}
		}()
		dispatched++
	}
	return dispatched
}

// Shutdown сбрасывает буферы логгера при завершении процесса.
func (o *Orchestrator) Shutdown() {
	o.log.Info("👋 Shutting down gracefully")
	if err := o.log.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to sync logger during shutdown: %v\n", err)
	}
}
