// internal/oracle/prices.go
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// ErrStalePrices означает, что ни один референсный источник не ответил.
// Вызывающий обязан считать затронутые пулы непригодными в этом цикле,
// а не работать по последней известной цене.
var ErrStalePrices = errors.New("all reference price sources failed")

const (
	defaultSourceTimeout = 3 * time.Second
	defaultPriceTTL      = 30 * time.Second
)

// PriceSource — один независимый источник референсных цен.
type PriceSource interface {
	Name() string
	Fetch(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
}

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

// stableMints — стейблкоины с закреплённой ценой $1: их не нужно
// опрашивать у внешних источников.
var stableMints = map[solana.PublicKey]struct{}{
	types.USDCMint: {},
	types.USDTMint: {},
}

// ReferencePrices опрашивает независимые источники параллельно и отдаёт
// медиану успешных ответов. Кеш с TTL защищает от лишних запросов внутри
// одного цикла обнаружения.
type ReferencePrices struct {
	sources       []PriceSource
	sourceTimeout time.Duration
	ttl           time.Duration
	logger        *zap.Logger

	mu    sync.Mutex
	cache map[solana.PublicKey]pricePoint
}

func NewReferencePrices(sources []PriceSource, sourceTimeout, ttl time.Duration, logger *zap.Logger) *ReferencePrices {
	if sourceTimeout <= 0 {
		sourceTimeout = defaultSourceTimeout
	}
	if ttl <= 0 {
		ttl = defaultPriceTTL
	}
	return &ReferencePrices{
		sources:       sources,
		sourceTimeout: sourceTimeout,
		ttl:           ttl,
		logger:        logger.Named("ref-prices"),
		cache:         make(map[solana.PublicKey]pricePoint),
	}
}

// PriceUSD возвращает референсную цену токена в долларах.
func (rp *ReferencePrices) PriceUSD(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	if _, ok := stableMints[mint]; ok {
		return decimal.NewFromInt(1), nil
	}

	rp.mu.Lock()
	if point, ok := rp.cache[mint]; ok && time.Since(point.at) < rp.ttl {
		rp.mu.Unlock()
		return point.price, nil
	}
	rp.mu.Unlock()

	price, err := rp.fetchMedian(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}

	rp.mu.Lock()
	rp.cache[mint] = pricePoint{price: price, at: time.Now()}
	rp.mu.Unlock()
	return price, nil
}

// fetchMedian опрашивает все источники параллельно с индивидуальным
// таймаутом и берёт медиану: один сошедший с ума источник не утащит
// цену за собой.
func (rp *ReferencePrices) fetchMedian(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	if len(rp.sources) == 0 {
		return decimal.Zero, ErrStalePrices
	}

	var wg sync.WaitGroup
	results := make([]decimal.Decimal, len(rp.sources))
	oks := make([]bool, len(rp.sources))

	for i, src := range rp.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srcCtx, cancel := context.WithTimeout(ctx, rp.sourceTimeout)
			defer cancel()

			price, err := src.Fetch(srcCtx, mint)
			if err != nil {
				rp.logger.Debug("Price source failed",
					zap.String("source", src.Name()),
					zap.String("mint", mint.String()),
					zap.Error(err))
				return
			}
			if price.IsPositive() {
				results[i] = price
				oks[i] = true
			}
		}()
	}
	wg.Wait()

	prices := make([]decimal.Decimal, 0, len(results))
	for i, ok := range oks {
		if ok {
			prices = append(prices, results[i])
		}
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: mint %s", ErrStalePrices, mint)
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid], nil
	}
	return prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2)), nil
}

// Invalidate сбрасывает кешированную цену токена.
func (rp *ReferencePrices) Invalidate(mint solana.PublicKey) {
	rp.mu.Lock()
	delete(rp.cache, mint)
	rp.mu.Unlock()
}

// httpPriceSource читает цены из HTTP API формата price.jup.ag:
// {"data": {"<mint>": {"price": "1.23"}}}.
type httpPriceSource struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewHTTPPriceSource(name, baseURL string, timeout time.Duration) PriceSource {
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	return &httpPriceSource{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *httpPriceSource) Name() string { return s.name }

func (s *httpPriceSource) Fetch(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s?ids=%s", s.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data map[string]struct {
			Price decimal.Decimal `json:"price"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode price response: %w", err)
	}

	entry, ok := parsed.Data[mint.String()]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for mint %s", mint)
	}
	if !entry.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for mint %s", mint)
	}
	return entry.Price, nil
}
