// internal/arbitrage/graph.go
package arbitrage

import (
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/amm"
	"github.com/rovshanmuradov/solana-arb/internal/types"
)

// Scanner строит граф смежности токенов по снимку пулов и перечисляет
// кандидатов: прямые (две площадки с одной парой) и треугольные
// (циклы глубины до maxHops).
type Scanner struct {
	logger      *zap.Logger
	maxHops     int
	networkCost uint64
}

func NewScanner(maxHops int, networkCostLamports uint64, logger *zap.Logger) *Scanner {
	if maxHops < 2 {
		maxHops = 2
	}
	return &Scanner{
		logger:      logger.Named("scanner"),
		maxHops:     maxHops,
		networkCost: networkCostLamports,
	}
}

// Scan перечисляет возможности для стартового токена на данном снимке.
// Возвращаются только кандидаты с положительной прибылью, отсортированные
// по убыванию net_profit_bps; при равенстве — меньше хопов, затем выше
// ликвидность самого мелкого пула пути.
func (s *Scanner) Scan(snapshot []*types.Pool, startMint solana.PublicKey, amountIn uint64) []*types.Opportunity {
	if amountIn == 0 || len(snapshot) == 0 {
		return nil
	}

	candidates := s.directOpportunities(snapshot, startMint, amountIn)
	candidates = append(candidates, s.triangularOpportunities(snapshot, startMint, amountIn)...)

	profitable := lo.Filter(candidates, func(op *types.Opportunity, _ int) bool {
		return op.NetProfitBps > 0
	})

	sort.Slice(profitable, func(i, j int) bool {
		a, b := profitable[i], profitable[j]
		if a.NetProfitBps != b.NetProfitBps {
			return a.NetProfitBps > b.NetProfitBps
		}
		if a.Hops() != b.Hops() {
			return a.Hops() < b.Hops()
		}
		return a.MinPathLiquidity() > b.MinPathLiquidity()
	})

	s.logger.Debug("Scan complete",
		zap.String("start_mint", startMint.String()),
		zap.Int("pools", len(snapshot)),
		zap.Int("candidates", len(candidates)),
		zap.Int("profitable", len(profitable)))
	return profitable
}

// directOpportunities перебирает пары пулов, делящих одну и ту же пару
// токенов: вход прогоняется через пул A, результат — обратно через пул B.
func (s *Scanner) directOpportunities(snapshot []*types.Pool, startMint solana.PublicKey, amountIn uint64) []*types.Opportunity {
	withStart := lo.Filter(snapshot, func(p *types.Pool, _ int) bool {
		return p.TokenA.Mint.Equals(startMint) || p.TokenB.Mint.Equals(startMint)
	})

	byPair := lo.GroupBy(withStart, func(p *types.Pool) string {
		return pairKey(p.TokenA.Mint, p.TokenB.Mint)
	})

	var out []*types.Opportunity
	for _, group := range byPair {
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := 0; j < len(group); j++ {
				if i == j {
					continue
				}
				first, second := group[i], group[j]
				mid := first.OtherMint(startMint)
				path := []types.Hop{
					{Pool: first, OutMint: mid},
					{Pool: second, OutMint: startMint},
				}
				op, err := s.evaluatePath(types.OpportunityDirect, startMint, amountIn, path)
				if err != nil {
					continue
				}
				out = append(out, op)
			}
		}
	}
	return out
}

// triangularOpportunities ищет циклы start → t1 → … → start обходом
// в глубину с ограничением maxHops. Пул не используется в пути дважды.
func (s *Scanner) triangularOpportunities(snapshot []*types.Pool, startMint solana.PublicKey, amountIn uint64) []*types.Opportunity {
	adjacency := make(map[solana.PublicKey][]*types.Pool)
	for _, p := range snapshot {
		adjacency[p.TokenA.Mint] = append(adjacency[p.TokenA.Mint], p)
		adjacency[p.TokenB.Mint] = append(adjacency[p.TokenB.Mint], p)
	}

	var out []*types.Opportunity
	used := make(map[solana.PublicKey]bool)

	var dfs func(cur solana.PublicKey, path []types.Hop)
	dfs = func(cur solana.PublicKey, path []types.Hop) {
		if len(path) >= s.maxHops {
			return
		}
		for _, pool := range adjacency[cur] {
			if used[pool.Address] {
				continue
			}
			next := pool.OtherMint(cur)

			if next.Equals(startMint) {
				// Циклы длины два — прямой арбитраж, он перечислен отдельно.
				if len(path)+1 >= 3 {
					cycle := append(append([]types.Hop{}, path...), types.Hop{Pool: pool, OutMint: next})
					op, err := s.evaluatePath(types.OpportunityTriangular, startMint, amountIn, cycle)
					if err == nil {
						out = append(out, op)
					}
				}
				continue
			}

			used[pool.Address] = true
			dfs(next, append(path, types.Hop{Pool: pool, OutMint: next}))
			used[pool.Address] = false
		}
	}
	dfs(startMint, nil)
	return out
}

// evaluatePath прогоняет сумму через все хопы и считает чистую прибыль.
// Выход каждого хопа уже учитывает комиссию и проскальзывание пула;
// сверх этого вычитается только сетевая стоимость.
func (s *Scanner) evaluatePath(kind types.OpportunityKind, startMint solana.PublicKey, amountIn uint64, path []types.Hop) (*types.Opportunity, error) {
	cur := amountIn
	curMint := startMint
	var totalFees, slippage uint64

	for _, hop := range path {
		reserveIn, reserveOut, err := hop.Pool.ReserveFor(curMint)
		if err != nil {
			return nil, err
		}

		out, err := amm.CalculateOutput(reserveIn, reserveOut, cur, hop.Pool.FeeBps)
		if err != nil {
			return nil, fmt.Errorf("hop via pool %s: %w", hop.Pool.Address, err)
		}
		if out == 0 {
			return nil, fmt.Errorf("hop via pool %s: output rounds to zero", hop.Pool.Address)
		}

		totalFees += amm.FeeAmount(cur, hop.Pool.FeeBps)
		if impact, err := amm.PriceImpactBps(reserveIn, reserveOut, cur, hop.Pool.FeeBps); err == nil {
			slippage += uint64(impact) * cur / 10_000
		}

		cur = out
		curMint = hop.OutMint
	}

	if !curMint.Equals(startMint) {
		return nil, fmt.Errorf("path does not return to start mint %s", startMint)
	}

	net := int64(cur) - int64(amountIn) - int64(s.networkCost)
	return &types.Opportunity{
		ID:           uuid.NewString(),
		Kind:         kind,
		StartMint:    startMint,
		AmountIn:     amountIn,
		Path:         path,
		GrossOutput:  cur,
		TotalFees:    totalFees,
		SlippageCost: slippage,
		NetworkCost:  s.networkCost,
		NetProfitBps: net * 10_000 / int64(amountIn),
		DiscoveredAt: time.Now(),
	}, nil
}

// pairKey — канонический ключ неупорядоченной пары минтов.
func pairKey(a, b solana.PublicKey) string {
	as, bs := a.String(), b.String()
	if as < bs {
		return as + "/" + bs
	}
	return bs + "/" + as
}
