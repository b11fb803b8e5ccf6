// internal/arbitrage/guard.go
package arbitrage

import (
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// GuardReason — причина отклонения пути антициклическим фильтром.
type GuardReason string

const (
	GuardCooldown    GuardReason = "fingerprint_in_cooldown"
	GuardTokenRepeat GuardReason = "token_repeat_limit"
	GuardSameVenue   GuardReason = "same_venue_round_trip"
)

// GuardError описывает отклонённый путь: причина и отпечаток.
type GuardError struct {
	Reason      GuardReason
	Fingerprint string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("path rejected: %s (fingerprint %s)", e.Reason, e.Fingerprint)
}

// Guard отсекает вырожденные и недавно исполненные пути до скоринга.
// Кеш отпечатков ограничен по времени: запись живёт cooldown и при
// следующей проверке истёкшие записи вычищаются.
type Guard struct {
	logger     *zap.Logger
	cooldown   time.Duration
	maxRepeats int

	mu       sync.Mutex
	executed map[string]time.Time

	now func() time.Time
}

func NewGuard(cooldown time.Duration, maxSameTokenRepeats int, logger *zap.Logger) *Guard {
	if maxSameTokenRepeats < 1 {
		maxSameTokenRepeats = 1
	}
	return &Guard{
		logger:     logger.Named("guard"),
		cooldown:   cooldown,
		maxRepeats: maxSameTokenRepeats,
		executed:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Check проверяет путь. Возвращает *GuardError при отклонении.
func (g *Guard) Check(op *types.Opportunity) error {
	fp := op.Fingerprint()

	if reason, ok := g.structuralReject(op); ok {
		g.logger.Debug("Path rejected by guard",
			zap.String("reason", string(reason)),
			zap.String("fingerprint", fp))
		return &GuardError{Reason: reason, Fingerprint: fp}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked()

	if at, ok := g.executed[fp]; ok && g.now().Sub(at) < g.cooldown {
		return &GuardError{Reason: GuardCooldown, Fingerprint: fp}
	}
	return nil
}

// MarkExecuted фиксирует отпечаток исполненного пути в кеше.
func (g *Guard) MarkExecuted(fingerprint string) {
	g.mu.Lock()
	g.executed[fingerprint] = g.now()
	g.mu.Unlock()
}

// structuralReject проверяет вырожденность пути без обращения к кешу.
func (g *Guard) structuralReject(op *types.Opportunity) (GuardReason, bool) {
	// Двухходовый путь по одной площадке — не арбитраж, а сравнение
	// площадки с самой собой.
	if len(op.Path) == 2 {
		first, second := op.Path[0].Pool, op.Path[1].Pool
		if first.Address.Equals(second.Address) || first.VenueOwner.Equals(second.VenueOwner) {
			return GuardSameVenue, true
		}
	}

	// Нетерминальные токены: стартовый и все промежуточные, кроме
	// финального возврата. Повторы сверх лимита — вырожденный цикл.
	counts := make(map[solana.PublicKey]int)
	counts[op.StartMint]++
	for i, hop := range op.Path {
		if i == len(op.Path)-1 {
			break
		}
		counts[hop.OutMint]++
	}
	for _, n := range counts {
		if n > g.maxRepeats {
			return GuardTokenRepeat, true
		}
	}
	return "", false
}

// purgeLocked вычищает записи старше cooldown. Вызывается под мьютексом.
func (g *Guard) purgeLocked() {
	cutoff := g.now().Add(-g.cooldown)
	for fp, at := range g.executed {
		if at.Before(cutoff) {
			delete(g.executed, fp)
		}
	}
}
