// internal/types/types.go
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// VenueType определяет тип торговой площадки (закрытый набор вариантов).
type VenueType uint8

const (
	VenueUnknown VenueType = iota
	// VenueConstantProductAMM — классический AMM с формулой x*y=k (Raydium v4, Orca swap)
	VenueConstantProductAMM
	// VenueConcentratedLiquidityAMM — AMM с концентрированной ликвидностью (Whirlpool, CLMM)
	VenueConcentratedLiquidityAMM
	// VenueOrderBook — площадка с книгой ордеров (OpenBook)
	VenueOrderBook
	// VenueDynamicVault — пулы с динамическим перераспределением ликвидности
	VenueDynamicVault
)

func (v VenueType) String() string {
	switch v {
	case VenueConstantProductAMM:
		return "constant_product_amm"
	case VenueConcentratedLiquidityAMM:
		return "concentrated_liquidity_amm"
	case VenueOrderBook:
		return "order_book"
	case VenueDynamicVault:
		return "dynamic_vault"
	default:
		return "unknown"
	}
}

// Минты основных токенов mainnet.
var (
	USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	USDTMint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
	RAYMint  = solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R")
)

// KnownSymbols сопоставляет известным минтам тикеры для логов и журнала.
var KnownSymbols = map[solana.PublicKey]string{
	solana.WrappedSol: "SOL",
	USDCMint:          "USDC",
	USDTMint:          "USDT",
	RAYMint:           "RAY",
}

// SymbolFor возвращает тикер известного минта либо его полный адрес.
func SymbolFor(mint solana.PublicKey) string {
	if symbol, ok := KnownSymbols[mint]; ok {
		return symbol
	}
	return mint.String()
}

// Token описывает токен: mint-адрес и точность. Неизменяем после первого наблюдения.
type Token struct {
	Mint     solana.PublicKey
	Decimals uint8
	Symbol   string
}

// Pool хранит состояние пула ликвидности одной площадки.
// Единственный владелец записей — Pool Data Provider; остальные компоненты
// работают только со снапшотами.
type Pool struct {
	Address    solana.PublicKey
	Venue      VenueType
	VenueOwner solana.PublicKey // программа-владелец аккаунта пула
	TokenA     Token
	TokenB     Token
	VaultA     solana.PublicKey
	VaultB     solana.PublicKey
	ReserveA   uint64 // базовые единицы, из баланса vault-аккаунта
	ReserveB   uint64
	FeeBps     uint16
	TVLUSD     decimal.Decimal
	Refreshed  time.Time
	ParseFails int // счётчик подряд неудачных парсингов, для эвикции
}

// IsUsable проверяет, что данные пула не устарели относительно окна staleness.
func (p *Pool) IsUsable(now time.Time, staleness time.Duration) bool {
	if p.ReserveA == 0 || p.ReserveB == 0 {
		return false
	}
	return now.Sub(p.Refreshed) <= staleness
}

// ReserveFor возвращает (reserveIn, reserveOut) для обмена из указанного минта.
func (p *Pool) ReserveFor(inputMint solana.PublicKey) (uint64, uint64, error) {
	switch {
	case inputMint.Equals(p.TokenA.Mint):
		return p.ReserveA, p.ReserveB, nil
	case inputMint.Equals(p.TokenB.Mint):
		return p.ReserveB, p.ReserveA, nil
	default:
		return 0, 0, fmt.Errorf("mint %s not in pool %s", inputMint, p.Address)
	}
}

// OtherMint возвращает противоположный минт пары.
func (p *Pool) OtherMint(mint solana.PublicKey) solana.PublicKey {
	if mint.Equals(p.TokenA.Mint) {
		return p.TokenB.Mint
	}
	return p.TokenA.Mint
}

// MinReserveLiquidity возвращает меньший из двух резервов — мелкая сторона
// пула ограничивает допустимый размер сделки.
func (p *Pool) MinReserveLiquidity() uint64 {
	if p.ReserveA < p.ReserveB {
		return p.ReserveA
	}
	return p.ReserveB
}

// QuoteSource указывает происхождение котировки.
type QuoteSource string

const (
	QuoteSourceAggregator QuoteSource = "aggregator"
	QuoteSourceLocalAMM   QuoteSource = "local_amm"
)

// Quote — эфемерная котировка, одна на запрос.
type Quote struct {
	Venue          string
	InputMint      solana.PublicKey
	OutputMint     solana.PublicKey
	InAmount       uint64
	OutAmount      uint64
	PriceImpactBps uint16
	Source         QuoteSource
	ObservedAt     time.Time

	// RawSwapPayload — ответ агрегатора, нужный для сборки swap-транзакции.
	RawSwapPayload []byte
}

// OpportunityKind различает прямой и треугольный арбитраж.
type OpportunityKind uint8

const (
	OpportunityDirect OpportunityKind = iota + 1
	OpportunityTriangular
)

func (k OpportunityKind) String() string {
	switch k {
	case OpportunityDirect:
		return "direct"
	case OpportunityTriangular:
		return "triangular"
	default:
		return "unknown"
	}
}

// Hop — один шаг пути: пул и минт, который получаем на выходе шага.
type Hop struct {
	Pool    *Pool
	OutMint solana.PublicKey
}

// Opportunity — кандидат на исполнение, живёт один цикл обнаружения.
type Opportunity struct {
	ID           string
	Kind         OpportunityKind
	StartMint    solana.PublicKey
	AmountIn     uint64
	Path         []Hop // для Direct ровно два хопа
	GrossOutput  uint64
	TotalFees    uint64
	SlippageCost uint64
	NetworkCost  uint64
	NetProfitBps int64
	DiscoveredAt time.Time
}

// Fingerprint возвращает стабильный отпечаток пути: hash упорядоченной
// последовательности минтов и адресов площадок.
func (o *Opportunity) Fingerprint() string {
	var b strings.Builder
	b.WriteString(o.StartMint.String())
	for _, h := range o.Path {
		b.WriteByte('|')
		b.WriteString(h.Pool.Address.String())
		b.WriteByte(':')
		b.WriteString(h.OutMint.String())
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Hops возвращает длину пути.
func (o *Opportunity) Hops() int { return len(o.Path) }

// MinPathLiquidity возвращает ликвидность самого мелкого пула на пути.
func (o *Opportunity) MinPathLiquidity() uint64 {
	var minLiq uint64
	for i, h := range o.Path {
		liq := h.Pool.MinReserveLiquidity()
		if i == 0 || liq < minLiq {
			minLiq = liq
		}
	}
	return minLiq
}

// RiskReason — код причины решения риск-фильтра, для наблюдаемости.
type RiskReason string

const (
	RiskAccepted          RiskReason = "accepted"
	RiskTradeSizeBounds   RiskReason = "trade_size_out_of_bounds"
	RiskLiquidityCap      RiskReason = "liquidity_consumption_cap"
	RiskBelowThreshold    RiskReason = "below_dynamic_threshold"
	RiskDailyExposureCap  RiskReason = "daily_exposure_cap"
	RiskDailyLossHardStop RiskReason = "daily_loss_hard_stop"
	RiskInsufficientFunds RiskReason = "insufficient_balance"
)

// RiskDecision — результат проверки возможности риск-фильтром.
type RiskDecision struct {
	Opportunity  *Opportunity
	Accepted     bool
	Reason       RiskReason
	AdjustedSize uint64 // допустимый размер сделки; 0 при отказе
	DecidedAt    time.Time
}

// ExecState — состояние конечного автомата исполнения.
type ExecState string

const (
	StateQuoted         ExecState = "quoted"
	StateAmountVerified ExecState = "amount_verified"
	StateSimulated      ExecState = "simulated"
	StateSigned         ExecState = "signed"
	StateSubmitted      ExecState = "submitted"
	StateConfirmed      ExecState = "confirmed"
	StateFailed         ExecState = "failed"
)

// ExecutionResult фиксирует итог попытки исполнения возможности.
type ExecutionResult struct {
	Opportunity    *Opportunity
	Signatures     []solana.Signature
	State          ExecState
	RealizedIn     uint64
	RealizedOut    uint64
	FeesLamports   uint64 // сетевые комиссии и чай по отправленным ногам
	ProfitLamports int64  // отрицательное значение — убыток
	LegsCompleted  int
	Err            error
	FinishedAt     time.Time
}
