package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RebateEpsilon is the smallest pool worth walking further for.
var RebateEpsilon = decimal.RequireFromString("0.01")

// DefaultMaxHops caps the agent chain walk.
const DefaultMaxHops = 32

// RebateCut is one agent's share of a stake's rebate pool.
type RebateCut struct {
	AgentID int64           `json:"agent_id"`
	Mode    RebateMode      `json:"mode"`
	Share   decimal.Decimal `json:"share"`
	Amount  decimal.Decimal `json:"amount"`
}

// RebateAllocation is the full split of one stake's pool.
type RebateAllocation struct {
	TotalPool decimal.Decimal `json:"total_pool"`
	Cuts      []RebateCut     `json:"cuts"`
	Retained  decimal.Decimal `json:"retained"` // kept by the platform, never recorded
}

// Distributed is the sum of all cuts.
func (a RebateAllocation) Distributed() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range a.Cuts {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// AllocateRebate splits stake × market.RebateRate() over chain, which is
// ordered from the member's direct agent up to the root.
//
//	all         cut = remaining pool, walk stops
//	none        cut = 0
//	percentage  cut = clamp(stake×s − stake×allocated, 0, remaining)
//	            allocated = max(allocated, s)
//
// Shares are cumulative fractions of the stake. Every cut is rounded down to
// 2 decimals and the walk stops once the remaining pool is at most
// RebateEpsilon, so the sum of cuts never exceeds the pool.
func AllocateRebate(stake decimal.Decimal, market MarketType, chain []Agent) RebateAllocation {
	pool := stake.Mul(market.RebateRate())
	alloc := RebateAllocation{TotalPool: pool, Retained: pool}
	if !pool.IsPositive() {
		alloc.Retained = decimal.Zero
		return alloc
	}

	remaining := pool
	allocated := decimal.Zero

	for _, agent := range chain {
		if remaining.LessThanOrEqual(RebateEpsilon) {
			break
		}
		cut := RebateCut{AgentID: agent.ID, Mode: agent.RebateMode, Amount: decimal.Zero}

		switch agent.RebateMode {
		case RebateAll:
			cut.Amount = remaining.RoundDown(2)
		case RebatePercentage:
			s := clampShare(agent.RebatePercentage)
			cut.Share = s
			owed := stake.Mul(s).Sub(stake.Mul(allocated))
			cut.Amount = decimal.Min(decimal.Max(owed, decimal.Zero), remaining).RoundDown(2)
			allocated = decimal.Max(allocated, s)
		default:
			// none, or a mode this service does not know: pass through
		}

		remaining = remaining.Sub(cut.Amount)
		alloc.Cuts = append(alloc.Cuts, cut)
		if agent.RebateMode == RebateAll {
			break
		}
	}

	alloc.Retained = remaining
	return alloc
}

func clampShare(s decimal.Decimal) decimal.Decimal {
	if s.IsNegative() {
		return decimal.Zero
	}
	if s.GreaterThan(one) {
		return one
	}
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// Chain walk
// ──────────────────────────────────────────────────────────────────────────────

// AgentLookup resolves one agent of the directory.
type AgentLookup func(id int64) (*Agent, error)

// WalkChain loads the chain from start up to the root. The directory is
// edited outside this service, so the walk is bounded by maxHops and refuses
// to revisit an agent: a parent_id pointing back into the visited set yields a
// *CycleDetectedError.
func WalkChain(start int64, maxHops int, lookup AgentLookup) ([]Agent, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	visited := make(map[int64]bool)
	var (
		chain []Agent
		path  []int64
	)

	next := &start
	for next != nil {
		id := *next
		if visited[id] {
			return nil, &CycleDetectedError{AgentID: id, Path: append(path, id)}
		}
		if len(chain) >= maxHops {
			return nil, fmt.Errorf("%w: %d hops from agent %d", ErrChainTooDeep, maxHops, start)
		}
		agent, err := lookup(id)
		if err != nil {
			return nil, fmt.Errorf("walk chain at agent %d: %w", id, err)
		}
		visited[id] = true
		path = append(path, id)
		chain = append(chain, *agent)
		next = agent.ParentID
	}
	return chain, nil
}
