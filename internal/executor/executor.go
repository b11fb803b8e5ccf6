// internal/executor/executor.go
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/config"
	"github.com/rovshanmuradov/solana-arb/internal/types"
	"github.com/rovshanmuradov/solana-arb/internal/wallet"
)

const (
	confirmTimeout  = 30 * time.Second
	confirmInterval = 500 * time.Millisecond
	baseFeeLamports = 5_000
)

// jitoTipAccount — один из тип-аккаунтов block engine.
var jitoTipAccount = solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5")

// RPC — подмножество RPC-клиента, нужное исполнителю.
type RPC interface {
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Quoter выдаёт свежую котировку для ноги исполнения.
type Quoter interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) (*types.Quote, error)
}

// SwapBuilder собирает неподписанную swap-транзакцию по котировке агрегатора.
type SwapBuilder interface {
	BuildSwapTransaction(ctx context.Context, quote *types.Quote, owner solana.PublicKey) ([]byte, error)
}

// ResultSink принимает итоги исполнения для учёта экспозиции и убытков.
type ResultSink interface {
	RecordResult(result *types.ExecutionResult)
}

// MultiSink разветвляет итог исполнения по нескольким приёмникам.
type MultiSink []ResultSink

func (m MultiSink) RecordResult(result *types.ExecutionResult) {
	for _, sink := range m {
		sink.RecordResult(result)
	}
}

// PathMarker фиксирует отпечаток исполненного пути в антициклическом кеше.
type PathMarker interface {
	MarkExecuted(fingerprint string)
}

// Executor ведёт каждую ногу через конечный автомат
// Quoted → AmountVerified → Simulated → Signed → Submitted → {Confirmed|Failed}.
// Вход в исполнение сторожат два замка: по отпечатку пути (не больше одного
// исполнения одного пути одновременно) и глобальный предел параллельности.
type Executor struct {
	rpc    RPC
	quoter Quoter
	swaps  SwapBuilder
	signer wallet.Signer
	relay  BundleRelay
	risk   ResultSink
	marker PathMarker
	cfg    config.ExecutionConfig
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	sem      chan struct{}
}

func NewExecutor(
	rpcClient RPC,
	quoter Quoter,
	swaps SwapBuilder,
	signer wallet.Signer,
	relay BundleRelay,
	risk ResultSink,
	marker PathMarker,
	cfg config.ExecutionConfig,
	logger *zap.Logger,
) *Executor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrent
	}
	return &Executor{
		rpc:      rpcClient,
		quoter:   quoter,
		swaps:    swaps,
		signer:   signer,
		relay:    relay,
		risk:     risk,
		marker:   marker,
		cfg:      cfg,
		logger:   logger.Named("executor"),
		inFlight: make(map[string]struct{}),
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Execute исполняет принятую возможность. Итог всегда попадает в учёт
// риск-фильтра, каким бы он ни был.
func (e *Executor) Execute(ctx context.Context, op *types.Opportunity) (*types.ExecutionResult, error) {
	fp := op.Fingerprint()

	if !e.acquireFingerprint(fp) {
		return nil, ErrInFlight
	}
	defer e.releaseFingerprint(fp)

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	default:
		return nil, ErrConcurrencyLimit
	}

	logger := e.logger.With(
		zap.String("opportunity_id", op.ID),
		zap.String("fingerprint", fp))
	logger.Info("Execution started",
		zap.Uint64("amount_in", op.AmountIn),
		zap.Int("hops", op.Hops()),
		zap.Int64("expected_profit_bps", op.NetProfitBps))

	preBalance, balanceKnown := e.startBalance(ctx, op.StartMint)

	// Проверка достаточности баланса до первой ноги: входить в путь,
	// который заведомо не пройдёт, нельзя.
	if balanceKnown && preBalance < op.AmountIn {
		logger.Warn("Balance below trade amount, execution aborted",
			zap.Uint64("balance", preBalance),
			zap.Uint64("amount_in", op.AmountIn))
		result := &types.ExecutionResult{
			Opportunity: op,
			State:       types.StateFailed,
			Err: fmt.Errorf("%w: have %d, need %d",
				ErrInsufficientBalance, preBalance, op.AmountIn),
			FinishedAt: time.Now(),
		}
		e.risk.RecordResult(result)
		return result, nil
	}

	result := e.runPath(ctx, op, logger)

	if balanceKnown && result.State == types.StateConfirmed {
		if postBalance, ok := e.startBalance(context.WithoutCancel(ctx), op.StartMint); ok {
			result.ProfitLamports = int64(postBalance) - int64(preBalance)
			e.verifyRealizedDelta(result, logger)
		}
	}

	e.risk.RecordResult(result)
	if result.LegsCompleted > 0 || result.State == types.StateConfirmed {
		e.marker.MarkExecuted(fp)
	}

	logger.Info("Execution finished",
		zap.String("state", string(result.State)),
		zap.Int("legs_completed", result.LegsCompleted),
		zap.Uint64("fees_lamports", result.FeesLamports),
		zap.Int64("profit_lamports", result.ProfitLamports),
		zap.Error(result.Err))
	return result, nil
}

// runPath прогоняет все ноги пути. Сбой на ноге k прерывает остальные
// и фиксирует частичную экспозицию.
func (e *Executor) runPath(ctx context.Context, op *types.Opportunity, logger *zap.Logger) *types.ExecutionResult {
	result := &types.ExecutionResult{
		Opportunity: op,
		State:       types.StateQuoted,
	}

	amount := op.AmountIn
	mint := op.StartMint

	for i, hop := range op.Path {
		legLogger := logger.With(zap.Int("leg", i+1))
		outAmount, sig, err := e.runLeg(ctx, mint, hop.OutMint, amount, op.NetProfitBps, result, legLogger)
		if err != nil {
			result.State = types.StateFailed
			result.Err = fmt.Errorf("leg %d/%d: %w", i+1, op.Hops(), err)
			result.FinishedAt = time.Now()
			if i > 0 {
				// Часть пути уже исполнена: экспозиция реальна.
				result.RealizedIn = op.AmountIn
			}
			// Комиссии по отправленным ногам — уже понесённый убыток,
			// дневной лимит обязан его видеть.
			result.ProfitLamports = -int64(result.FeesLamports)
			return result
		}

		result.Signatures = append(result.Signatures, sig)
		result.LegsCompleted++
		amount = outAmount
		mint = hop.OutMint
	}

	result.State = types.StateConfirmed
	result.RealizedIn = op.AmountIn
	result.RealizedOut = amount
	// До сверки балансов прибыль оценивается по котировкам за вычетом
	// фактических комиссий.
	result.ProfitLamports = int64(amount) - int64(op.AmountIn) - int64(result.FeesLamports)
	result.FinishedAt = time.Now()
	return result
}

// runLeg ведёт одну ногу через все состояния автомата.
func (e *Executor) runLeg(
	ctx context.Context,
	inputMint, outputMint solana.PublicKey,
	amount uint64,
	expectedProfitBps int64,
	result *types.ExecutionResult,
	logger *zap.Logger,
) (uint64, solana.Signature, error) {
	// Quoted: свежая котировка именно на эту ногу.
	result.State = types.StateQuoted
	quote, err := e.quoter.GetQuote(ctx, inputMint, outputMint, amount)
	if err != nil {
		return 0, solana.Signature{}, fmt.Errorf("quote: %w", err)
	}

	// AmountVerified: обязательный барьер. Котировка с чужой входной
	// суммой убивает попытку немедленно и безвозвратно.
	if err := e.verifyAmount(amount, quote); err != nil {
		return 0, solana.Signature{}, err
	}
	result.State = types.StateAmountVerified

	tx, err := e.buildTransaction(ctx, quote)
	if err != nil {
		return 0, solana.Signature{}, err
	}

	// Simulated: прогон против текущего состояния сети до подписи.
	sim, err := e.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		return 0, solana.Signature{}, fmt.Errorf("simulate: %w", err)
	}
	if sim.Value != nil && sim.Value.Err != nil {
		simErr := &SimulationError{Reason: fmt.Sprintf("%v", sim.Value.Err)}
		if sim.Value.Logs != nil {
			simErr.Logs = sim.Value.Logs
		}
		return 0, solana.Signature{}, simErr
	}
	result.State = types.StateSimulated

	logger.Debug("Leg simulated",
		zap.Uint64("network_fee_lamports", e.networkFee(sim)))

	// Signed: подпись делегируется кошельку, ключи сюда не попадают.
	if err := e.signer.SignTransaction(tx); err != nil {
		return 0, solana.Signature{}, fmt.Errorf("sign: %w", err)
	}
	result.State = types.StateSigned

	// После подписи отмена контекста не прерывает отправку: неизвестный
	// исход хуже завершённого.
	submitCtx := context.WithoutCancel(ctx)
	sig, tip, err := e.submit(submitCtx, tx, expectedProfitBps, amount, logger)
	if err != nil {
		return 0, solana.Signature{}, fmt.Errorf("submit: %w", err)
	}
	result.State = types.StateSubmitted
	// Отправленная нога стоит денег независимо от исхода подтверждения.
	result.FeesLamports += e.networkFee(sim) + tip

	if err := e.awaitConfirmation(submitCtx, sig); err != nil {
		return 0, sig, fmt.Errorf("confirm: %w", err)
	}
	return quote.OutAmount, sig, nil
}

// verifyAmount сверяет входную сумму котировки с запрошенной.
func (e *Executor) verifyAmount(requested uint64, quote *types.Quote) error {
	tolerance := e.cfg.AmountToleranceLamports
	var diff uint64
	if quote.InAmount > requested {
		diff = quote.InAmount - requested
	} else {
		diff = requested - quote.InAmount
	}
	if diff > tolerance {
		return &QuoteMismatchError{
			Requested: requested,
			Returned:  quote.InAmount,
			Tolerance: tolerance,
		}
	}
	return nil
}

// buildTransaction получает у агрегатора swap-транзакцию и обновляет
// blockhash: между котировкой и отправкой он мог протухнуть.
func (e *Executor) buildTransaction(ctx context.Context, quote *types.Quote) (*solana.Transaction, error) {
	raw, err := e.swaps.BuildSwapTransaction(ctx, quote, e.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(decoded))
	if err != nil {
		return nil, fmt.Errorf("parse swap transaction: %w", err)
	}

	blockhash, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}
	tx.Message.RecentBlockhash = blockhash
	return tx, nil
}

// submit отправляет транзакцию: через защищённый релей при включённой
// MEV-защите, иначе стандартным путём. Отказ релея — деградация с
// явным предупреждением, не молчаливый переход.
func (e *Executor) submit(ctx context.Context, tx *solana.Transaction, profitBps int64, amount uint64, logger *zap.Logger) (solana.Signature, uint64, error) {
	if e.cfg.MEVProtection && e.relay != nil {
		tip := e.tipFor(profitBps, amount)
		tipTx, tipErr := e.buildTipTransaction(ctx, tip)
		bundle := []*solana.Transaction{tx}
		if tipErr == nil {
			bundle = append(bundle, tipTx)
		} else {
			tip = 0
			logger.Warn("Tip transaction build failed, submitting bundle without tip", zap.Error(tipErr))
		}

		if _, err := e.relay.SubmitBundle(ctx, bundle); err == nil {
			if len(tx.Signatures) == 0 {
				return solana.Signature{}, 0, fmt.Errorf("bundle transaction has no signature")
			}
			return tx.Signatures[0], tip, nil
		} else {
			logger.Warn("Protected relay unavailable, degrading to standard submission",
				zap.Error(err))
		}
	}

	sig, err := e.rpc.SendTransaction(ctx, tx)
	return sig, 0, err
}

// tipFor считает чай релею: floor либо доля ожидаемой прибыли,
// что больше, но не выше потолка и не ниже минимума block engine.
func (e *Executor) tipFor(profitBps int64, amount uint64) uint64 {
	expectedProfit := uint64(0)
	if profitBps > 0 {
		expectedProfit = uint64(profitBps) * amount / 10_000
	}

	tip := e.cfg.TipFloorLamports
	if fraction := uint64(e.cfg.TipProfitFraction * float64(expectedProfit)); fraction > tip {
		tip = fraction
	}
	if e.cfg.TipCapLamports > 0 && tip > e.cfg.TipCapLamports {
		tip = e.cfg.TipCapLamports
	}
	if tip < MinTipLamports {
		tip = MinTipLamports
	}
	return tip
}

// buildTipTransaction собирает отдельную подписанную транзакцию перевода
// чая: бандл [swap, tip] — обычная форма для block engine.
func (e *Executor) buildTipTransaction(ctx context.Context, tip uint64) (*solana.Transaction, error) {
	blockhash, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(tip, e.signer.Address(), jitoTipAccount).Build(),
		},
		blockhash,
		solana.TransactionPayer(e.signer.Address()),
	)
	if err != nil {
		return nil, fmt.Errorf("build tip transaction: %w", err)
	}
	if err := e.signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("sign tip transaction: %w", err)
	}
	return tx, nil
}

// awaitConfirmation опрашивает статус подписи до подтверждения или таймаута.
func (e *Executor) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation timed out for %s: %w", sig, ctx.Err())
		case <-ticker.C:
			status, err := e.rpc.GetSignatureStatus(ctx, sig)
			if err != nil || status == nil {
				continue
			}
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

// networkFee оценивает сетевую стоимость по выбранной политике.
func (e *Executor) networkFee(sim *rpc.SimulateTransactionResponse) uint64 {
	if e.cfg.FeePolicy == config.FeePolicySimulated && sim != nil && sim.Value != nil && sim.Value.UnitsConsumed != nil {
		return baseFeeLamports + *sim.Value.UnitsConsumed/1_000
	}
	return e.cfg.NetworkFeeLamports
}

// startBalance читает баланс стартового токена: лампорты для нативного
// SOL, иначе баланс ассоциированного токен-аккаунта.
func (e *Executor) startBalance(ctx context.Context, mint solana.PublicKey) (uint64, bool) {
	owner := e.signer.Address()

	if mint.Equals(solana.WrappedSol) {
		balance, err := e.rpc.GetBalance(ctx, owner)
		if err != nil {
			return 0, false
		}
		return balance, true
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, false
	}
	balance, err := e.rpc.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		return 0, false
	}
	return balance, true
}

// verifyRealizedDelta сверяет фактическое изменение баланса с ожидаемым
// выходом. Расхождение сверх допуска не отменяет уже случившееся, но
// обязано попасть в лог.
func (e *Executor) verifyRealizedDelta(result *types.ExecutionResult, logger *zap.Logger) {
	expected := int64(result.RealizedOut) - int64(result.Opportunity.AmountIn) - int64(result.FeesLamports)
	diff := result.ProfitLamports - expected
	if diff < 0 {
		diff = -diff
	}

	slippageAllowance := int64(result.Opportunity.AmountIn) * int64(e.cfg.SlippageBps) / 10_000
	if diff > slippageAllowance+int64(e.cfg.AmountToleranceLamports) {
		logger.Warn("Realized balance delta deviates from quoted output",
			zap.Int64("expected_profit_lamports", expected),
			zap.Int64("realized_profit_lamports", result.ProfitLamports),
			zap.Int64("allowance_lamports", slippageAllowance))
	}
}

func (e *Executor) acquireFingerprint(fp string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[fp]; busy {
		return false
	}
	e.inFlight[fp] = struct{}{}
	return true
}

func (e *Executor) releaseFingerprint(fp string) {
	e.mu.Lock()
	delete(e.inFlight, fp)
	e.mu.Unlock()
}
