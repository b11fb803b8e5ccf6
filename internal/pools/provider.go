// internal/pools/provider.go
package pools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// maxParseFails — количество подряд неудачных разборов, после которого
// пул выселяется из реестра.
const maxParseFails = 3

// AccountReader — подмножество RPC-клиента, нужное провайдеру данных пулов.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetAccountDataInto(ctx context.Context, pubkey solana.PublicKey, dst interface{}) error
}

// USDPricer поставляет референсные цены для расчёта TVL.
type USDPricer interface {
	PriceUSD(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
}

// Candidate — кандидат пула: адрес и ожидаемая программа-владелец.
// Нулевая программа означает "любая допущенная площадка": владелец
// сверяется со списком venues провайдера.
type Candidate struct {
	Address solana.PublicKey
	Program solana.PublicKey
}

// Venue — допущенная конфигурацией площадка: программа-владелец и
// комиссия. Нулевая комиссия означает дефолт раскладки.
type Venue struct {
	Program solana.PublicKey
	FeeBps  uint16
}

// Provider владеет реестром пулов: валидирует кандидатов, разбирает
// venue-специфичные раскладки и обновляет резервы из vault-балансов.
type Provider struct {
	client    AccountReader
	pricer    USDPricer
	registry  *Registry
	logger    *zap.Logger
	minTVLUSD decimal.Decimal
	workers   int

	candidates []Candidate
	venues     map[solana.PublicKey]uint16 // программа → сконфигурированная комиссия

	decMu    sync.Mutex
	decimals map[solana.PublicKey]uint8
}

func NewProvider(
	client AccountReader,
	pricer USDPricer,
	registry *Registry,
	candidates []Candidate,
	venues []Venue,
	minTVLUSD float64,
	workers int,
	logger *zap.Logger,
) *Provider {
	if workers <= 0 {
		workers = 10
	}
	allowed := make(map[solana.PublicKey]uint16, len(venues))
	for _, venue := range venues {
		allowed[venue.Program] = venue.FeeBps
	}
	return &Provider{
		client:     client,
		pricer:     pricer,
		registry:   registry,
		logger:     logger.Named("pool-provider"),
		minTVLUSD:  decimal.NewFromFloat(minTVLUSD),
		workers:    workers,
		candidates: candidates,
		venues:     allowed,
		decimals:   make(map[solana.PublicKey]uint8),
	}
}

// Registry возвращает реестр, которым владеет провайдер.
func (p *Provider) Registry() *Registry { return p.registry }

// Refresh прогоняет всех кандидатов через валидацию и обновление.
// До workers валидаций идут параллельно; ошибка одного кандидата
// не прерывает остальных.
func (p *Provider) Refresh(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, cand := range p.candidates {
		g.Go(func() error {
			if err := p.refreshOne(gctx, cand); err != nil {
				p.handleRefreshError(cand, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Provider) handleRefreshError(cand Candidate, err error) {
	p.logger.Warn("Pool refresh failed",
		zap.String("pool", cand.Address.String()),
		zap.Error(err))

	// К выселению ведут только ошибки разбора раскладки: сетевые сбои
	// и отсутствие референсных цен не говорят о битом аккаунте.
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Reason != ReasonLayoutParse {
		return
	}

	pool, ok := p.registry.Get(cand.Address)
	if !ok {
		return
	}
	pool.ParseFails++
	if pool.ParseFails >= maxParseFails {
		p.registry.Evict(cand.Address)
		p.logger.Info("Pool evicted after repeated parse failures",
			zap.String("pool", cand.Address.String()),
			zap.Int("fails", pool.ParseFails))
		return
	}
	p.registry.Upsert(&pool)
}

// refreshOne валидирует кандидата и обновляет его запись в реестре.
func (p *Provider) refreshOne(ctx context.Context, cand Candidate) error {
	info, err := p.client.GetAccountInfo(ctx, cand.Address)
	if err != nil {
		return fmt.Errorf("fetch pool account: %w", err)
	}
	account := info.Value

	// Проверка программы-владельца: аккаунт с чужим владельцем отбрасывается.
	if !cand.Program.IsZero() && !account.Owner.Equals(cand.Program) {
		return &ValidationError{
			Pool:   cand.Address,
			Reason: ReasonOwnerMismatch,
			Err:    fmt.Errorf("expected owner %s, got %s", cand.Program, account.Owner),
		}
	}
	if cand.Program.IsZero() {
		if _, ok := p.venues[account.Owner]; !ok {
			return &ValidationError{
				Pool:   cand.Address,
				Reason: ReasonOwnerMismatch,
				Err:    fmt.Errorf("owner %s is not a configured venue", account.Owner),
			}
		}
	}

	layout, ok := layoutFor(account.Owner)
	if !ok {
		return &ValidationError{
			Pool:   cand.Address,
			Reason: ReasonLayoutParse,
			Err:    fmt.Errorf("no layout for program %s", account.Owner),
		}
	}

	fields, err := layout.Parse(account.Data.GetBinary())
	if err != nil {
		return &ValidationError{Pool: cand.Address, Reason: ReasonLayoutParse, Err: err}
	}

	// Балансы vault-аккаунтов читаются отдельным запросом, а не из тела
	// аккаунта пула: внутренние поля резервов у части площадок отстают.
	reserveA, err := p.client.GetTokenAccountBalance(ctx, fields.BaseVault)
	if err != nil {
		return &ValidationError{Pool: cand.Address, Reason: ReasonVaultRead, Err: err}
	}
	reserveB, err := p.client.GetTokenAccountBalance(ctx, fields.QuoteVault)
	if err != nil {
		return &ValidationError{Pool: cand.Address, Reason: ReasonVaultRead, Err: err}
	}

	decA, err := p.mintDecimals(ctx, fields.BaseMint)
	if err != nil {
		return fmt.Errorf("base mint decimals: %w", err)
	}
	decB, err := p.mintDecimals(ctx, fields.QuoteMint)
	if err != nil {
		return fmt.Errorf("quote mint decimals: %w", err)
	}

	tvl, err := p.computeTVL(ctx, fields, reserveA, reserveB, decA, decB)
	if err != nil {
		// Нет референсных цен — пул непригоден в этом цикле, но запись
		// не трогаем: свежая цена может появиться в следующем.
		return fmt.Errorf("tvl: %w", err)
	}

	// Пулы ниже порога ликвидности молча пропускаются: это не ошибка.
	if tvl.LessThan(p.minTVLUSD) {
		p.registry.Evict(cand.Address)
		p.logger.Debug("Pool below minimum TVL, skipped",
			zap.String("pool", cand.Address.String()),
			zap.String("tvl_usd", tvl.StringFixed(0)))
		return nil
	}

	// Комиссия из конфигурации площадки перекрывает дефолт раскладки.
	feeBps := layout.DefaultFeeBps()
	if configured, ok := p.venues[account.Owner]; ok && configured > 0 {
		feeBps = configured
	}

	pool := &types.Pool{
		Address:    cand.Address,
		Venue:      layout.Venue(),
		VenueOwner: account.Owner,
		TokenA:     types.Token{Mint: fields.BaseMint, Decimals: decA},
		TokenB:     types.Token{Mint: fields.QuoteMint, Decimals: decB},
		VaultA:     fields.BaseVault,
		VaultB:     fields.QuoteVault,
		ReserveA:   reserveA,
		ReserveB:   reserveB,
		FeeBps:     feeBps,
		TVLUSD:     tvl,
		Refreshed:  time.Now(),
	}
	p.registry.Upsert(pool)

	p.logger.Debug("Pool refreshed",
		zap.String("pool", cand.Address.String()),
		zap.String("venue", pool.Venue.String()),
		zap.Uint64("reserve_a", reserveA),
		zap.Uint64("reserve_b", reserveB),
		zap.String("tvl_usd", tvl.StringFixed(0)))
	return nil
}

// computeTVL считает TVL как сумму долларовой стоимости обоих резервов.
func (p *Provider) computeTVL(
	ctx context.Context,
	fields *layoutFields,
	reserveA, reserveB uint64,
	decA, decB uint8,
) (decimal.Decimal, error) {
	priceA, err := p.pricer.PriceUSD(ctx, fields.BaseMint)
	if err != nil {
		return decimal.Zero, err
	}
	priceB, err := p.pricer.PriceUSD(ctx, fields.QuoteMint)
	if err != nil {
		return decimal.Zero, err
	}

	usdA := decimal.NewFromUint64(reserveA).
		Div(decimal.NewFromFloat(math.Pow10(int(decA)))).
		Mul(priceA)
	usdB := decimal.NewFromUint64(reserveB).
		Div(decimal.NewFromFloat(math.Pow10(int(decB)))).
		Mul(priceB)
	return usdA.Add(usdB), nil
}

// mintDecimals возвращает точность токена, кешируя ответ: decimals
// неизменяемы после создания минта.
func (p *Provider) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	p.decMu.Lock()
	if dec, ok := p.decimals[mint]; ok {
		p.decMu.Unlock()
		return dec, nil
	}
	p.decMu.Unlock()

	dec, err := fetchMintDecimals(ctx, p.client, mint)
	if err != nil {
		return 0, err
	}

	p.decMu.Lock()
	p.decimals[mint] = dec
	p.decMu.Unlock()
	return dec, nil
}
