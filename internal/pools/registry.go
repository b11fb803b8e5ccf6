// internal/pools/registry.go
package pools

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// Registry — явный реестр пулов с единственным писателем (Pool Data Provider).
// Читатели получают копии через Snapshot и не блокируют обновление.
type Registry struct {
	mu    sync.RWMutex
	pools map[solana.PublicKey]*types.Pool
}

func NewRegistry() *Registry {
	return &Registry{
		pools: make(map[solana.PublicKey]*types.Pool),
	}
}

// Upsert добавляет или обновляет запись пула на месте.
func (r *Registry) Upsert(pool *types.Pool) {
	r.mu.Lock()
	r.pools[pool.Address] = pool
	r.mu.Unlock()
}

// Get возвращает копию пула по адресу.
func (r *Registry) Get(address solana.PublicKey) (types.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[address]
	if !ok {
		return types.Pool{}, false
	}
	return *p, true
}

// Evict удаляет пул из реестра.
func (r *Registry) Evict(address solana.PublicKey) {
	r.mu.Lock()
	delete(r.pools, address)
	r.mu.Unlock()
}

// Len возвращает количество пулов в реестре.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Snapshot возвращает согласованный снимок пригодных к использованию пулов.
// Все оценки одного цикла работают с одним снимком: значения резервов
// до и после обновления никогда не смешиваются.
func (r *Registry) Snapshot(now time.Time, staleness time.Duration) []*types.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*types.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		if !p.IsUsable(now, staleness) {
			continue
		}
		cp := *p
		snapshot = append(snapshot, &cp)
	}
	return snapshot
}
