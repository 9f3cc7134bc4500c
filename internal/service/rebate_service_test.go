package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/service"
)

func rebateRequest(betID int64) service.RebateRequest {
	return service.RebateRequest{
		PeriodID:      testPeriod,
		BetID:         betID,
		MemberID:      testMember,
		DirectAgentID: i64(3),
		Market:        domain.MarketD,
		Stake:         dec("100"),
	}
}

func TestDistributeReferenceChain(t *testing.T) {
	h := newHarness(seedWorld())

	txns, err := h.rebates.Distribute(context.Background(), rebateRequest(1))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	want := map[int64]string{3: "1.00", 2: "0.50", 1: "2.60"}
	if len(txns) != len(want) {
		t.Fatalf("transactions = %d, want %d", len(txns), len(want))
	}
	for _, txn := range txns {
		if got := txn.Amount.StringFixed(2); got != want[txn.UserID] {
			t.Errorf("agent %d credited %s, want %s", txn.UserID, got, want[txn.UserID])
		}
		if !txn.Balanced() {
			t.Errorf("agent %d entry not balanced: %s → %s (%s)", txn.UserID, txn.BalanceBefore, txn.BalanceAfter, txn.Amount)
		}
		if txn.IdempotencyKey != domain.RebateKey(testPeriod, txn.UserID, 1) {
			t.Errorf("key = %q", txn.IdempotencyKey)
		}
	}
}

func TestDistributeIsIdempotent(t *testing.T) {
	h := newHarness(seedWorld())
	ctx := context.Background()

	if _, err := h.rebates.Distribute(ctx, rebateRequest(1)); err != nil {
		t.Fatalf("first: %v", err)
	}
	again, err := h.rebates.Distribute(ctx, rebateRequest(1))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second call wrote %d transactions, want 0", len(again))
	}
	if got := h.w.agentBalance(1); !got.Equal(dec("2.60")) {
		t.Errorf("agent 1 balance = %s, want 2.60", got)
	}
}

func TestDistributeWithoutAgent(t *testing.T) {
	h := newHarness(seedWorld())
	req := rebateRequest(1)
	req.DirectAgentID = nil

	txns, err := h.rebates.Distribute(context.Background(), req)
	if err != nil || txns != nil {
		t.Errorf("Distribute = %v, %v; want nil, nil", txns, err)
	}
}

func TestDistributeFallsBackToAgentMarket(t *testing.T) {
	w := seedWorld()
	for _, a := range w.agents {
		a.MarketType = domain.MarketA
	}
	h := newHarness(w)
	req := rebateRequest(1)
	req.Market = ""

	txns, err := h.rebates.Distribute(context.Background(), req)
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	// market A pool is 1.10: C 1.00, B 0.10 (capped by the pool), A nothing left
	total := dec("0")
	for _, txn := range txns {
		total = total.Add(txn.Amount)
	}
	if !total.Equal(dec("1.10")) {
		t.Errorf("distributed = %s, want 1.10", total)
	}
}

func TestDistributeChainErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(w *world)
		check func(error) bool
	}{
		{
			name:  "cycle",
			setup: func(w *world) { w.agents[1].ParentID = i64(3) },
			check: domain.IsCycle,
		},
		{
			name:  "missing parent",
			setup: func(w *world) { w.agents[1].ParentID = i64(99) },
			check: func(err error) bool { return errors.Is(err, domain.ErrAgentNotFound) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := seedWorld()
			tt.setup(w)
			h := newHarness(w)

			txns, err := h.rebates.Distribute(context.Background(), rebateRequest(1))
			if !tt.check(err) {
				t.Fatalf("err = %v", err)
			}
			if len(txns) != 0 || w.txnCount(domain.TxRebate) != 0 {
				t.Errorf("chain error still credited %d agents", len(txns))
			}
		})
	}
}
