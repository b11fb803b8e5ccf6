// internal/oracle/jupiter.go
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/solbc"
	"github.com/rovshanmuradov/solana-arb/internal/types"
)

const (
	defaultJupiterTimeout = 5 * time.Second
	jupiterMaxRetries     = 3
)

// ErrBreakerOpen возвращается, когда агрегатор временно отключён
// после серии сбоев.
var ErrBreakerOpen = errors.New("aggregator circuit breaker is open")

// JupiterClient — клиент Jupiter v6: котировки и сборка swap-транзакций.
// Все запросы проходят через circuit breaker: после серии сбоев агрегатор
// отключается, и оракул переходит на локальный расчёт.
type JupiterClient struct {
	client  *http.Client
	quoteCB *gobreaker.CircuitBreaker[*quoteResponse]
	swapCB  *gobreaker.CircuitBreaker[*swapResponse]
	logger  *zap.Logger
	baseURL string
}

// quoteResponse — ответ Jupiter /quote. Суммы приходят строками.
type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	SlippageBps    uint16          `json:"slippageBps"`
	RoutePlan      json.RawMessage `json:"routePlan"`

	raw []byte
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

func NewJupiterClient(baseURL string, timeout time.Duration, logger *zap.Logger) *JupiterClient {
	if timeout <= 0 {
		timeout = defaultJupiterTimeout
	}

	jc := &JupiterClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:  logger.Named("jupiter"),
		baseURL: baseURL,
	}
	jc.quoteCB = gobreaker.NewCircuitBreaker[*quoteResponse](breakerSettings("jupiter-quote", jc.logger))
	jc.swapCB = gobreaker.NewCircuitBreaker[*swapResponse](breakerSettings("jupiter-swap", jc.logger))
	return jc
}

// breakerSettings — общие настройки breaker'а: отключение после пяти
// последовательных сбоев, полуоткрытие через 30 секунд.
func breakerSettings(name string, logger *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

// GetQuote запрашивает котировку у агрегатора.
func (jc *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (*types.Quote, error) {
	resp, err := jc.quoteCB.Execute(func() (*quoteResponse, error) {
		return jc.fetchQuote(ctx, inputMint, outputMint, amount, slippageBps)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, err)
		}
		return nil, err
	}

	return resp.toQuote()
}

// fetchQuote выполняет GET /quote с повторами на транзиентных ошибках.
func (jc *JupiterClient) fetchQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (*quoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		jc.baseURL, inputMint, outputMint, amount, slippageBps)

	op := func() (*quoteResponse, error) {
		body, err := jc.doGet(ctx, url)
		if err != nil {
			if solbc.IsTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		var resp quoteResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode quote response: %w", err))
		}
		resp.raw = body
		return &resp, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(jupiterMaxRetries),
	)
}

// BuildSwapTransaction собирает неподписанную swap-транзакцию через /swap.
// Агрегатору передаётся его же ответ без изменений: любое расхождение между
// котировкой и транзакцией ловится позже проверкой сумм.
func (jc *JupiterClient) BuildSwapTransaction(ctx context.Context, quote *types.Quote, owner solana.PublicKey) ([]byte, error) {
	if len(quote.RawSwapPayload) == 0 {
		return nil, errors.New("quote has no aggregator payload, cannot build swap")
	}

	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:    quote.RawSwapPayload,
		UserPublicKey:    owner.String(),
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	resp, err := jc.swapCB.Execute(func() (*swapResponse, error) {
		return jc.postSwap(ctx, reqBody)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, err)
		}
		return nil, err
	}

	if resp.SwapTransaction == "" {
		return nil, errors.New("aggregator returned empty swap transaction")
	}
	return []byte(resp.SwapTransaction), nil
}

func (jc *JupiterClient) postSwap(ctx context.Context, body []byte) (*swapResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, jc.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := jc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer httpResp.Body.Close()

	jc.logger.Debug("swap request completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("status", httpResp.StatusCode))

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", httpResp.StatusCode, string(respBody))
	}

	var resp swapResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}
	return &resp, nil
}

func (jc *JupiterClient) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := jc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	jc.logger.Debug("quote request completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// toQuote конвертирует ответ агрегатора во внутреннюю котировку.
// Суммы парсятся строго: нечисловое значение — повод отбросить котировку,
// а не подставить ноль.
func (qr *quoteResponse) toQuote() (*types.Quote, error) {
	inAmount, err := strconv.ParseUint(qr.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount %q: %w", qr.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(qr.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount %q: %w", qr.OutAmount, err)
	}
	inputMint, err := solana.PublicKeyFromBase58(qr.InputMint)
	if err != nil {
		return nil, fmt.Errorf("parse inputMint %q: %w", qr.InputMint, err)
	}
	outputMint, err := solana.PublicKeyFromBase58(qr.OutputMint)
	if err != nil {
		return nil, fmt.Errorf("parse outputMint %q: %w", qr.OutputMint, err)
	}

	impactBps := uint16(0)
	if pct, err := strconv.ParseFloat(qr.PriceImpactPct, 64); err == nil && pct > 0 {
		impactBps = uint16(pct * 10_000)
	}

	return &types.Quote{
		Venue:          "jupiter",
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactBps: impactBps,
		Source:         types.QuoteSourceAggregator,
		ObservedAt:     time.Now(),
		RawSwapPayload: qr.raw,
	}, nil
}
