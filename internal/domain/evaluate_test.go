package domain_test

import (
	"errors"
	"testing"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intp(n int) *int { return &n }

// draw used by most cases: champion 7, runner-up 3, sum 10.
var sampleDraw = domain.DrawResult{7, 3, 10, 1, 5, 2, 9, 4, 8, 6}

// TestPositionNumberPayout checks the concrete scenario from the settlement
// rules:
//
//	bet: position 1 = number 7, stake 100, odds 9.59
//	draw[0] = 7 → win, 959.00
//	draw[0] = 3 → lose, 0
func TestPositionNumberPayout(t *testing.T) {
	bet := domain.Bet{
		ID: 1, BetType: domain.BetTypeNumber, BetValue: "7", Position: intp(1),
		Amount: dec("100"), Odds: dec("9.59"),
	}

	out, err := domain.Evaluate(bet, sampleDraw)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.Win || !out.WinAmount.Equal(dec("959.00")) {
		t.Errorf("winning draw: got win=%v amount=%s, want true 959.00", out.Win, out.WinAmount)
	}

	losing := domain.DrawResult{3, 7, 10, 1, 5, 2, 9, 4, 8, 6}
	out, err = domain.Evaluate(bet, losing)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Win || !out.WinAmount.IsZero() {
		t.Errorf("losing draw: got win=%v amount=%s, want false 0", out.Win, out.WinAmount)
	}
	t.Logf("reason=%q", out.Reason)
}

func TestEvaluateTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		bet    domain.Bet
		win    bool
		payout string
	}{
		{"champion number", domain.Bet{BetType: "champion", BetValue: "7"}, true, "197.80"},
		{"runnerup number miss", domain.Bet{BetType: "runnerup", BetValue: "7"}, false, "0"},
		{"champion big", domain.Bet{BetType: "champion", BetValue: "big"}, true, "197.80"},
		{"runnerup small", domain.Bet{BetType: "runnerup", BetValue: "small"}, true, "197.80"},
		{"third even", domain.Bet{BetType: "third", BetValue: "even"}, true, "197.80"},
		{"fourth odd", domain.Bet{BetType: "fourth", BetValue: "odd"}, true, "197.80"},
		{"tenth big", domain.Bet{BetType: "tenth", BetValue: "big"}, true, "197.80"},
		{"two_sides 5 small", domain.Bet{BetType: "two_sides", BetValue: "5_small"}, true, "197.80"},
		{"two_sides 7 small miss", domain.Bet{BetType: "two_sides", BetValue: "7_small"}, false, "0"},
		{"sum exact", domain.Bet{BetType: "sumValue", BetValue: "10"}, true, "197.80"},
		{"sum exact miss", domain.Bet{BetType: "sum", BetValue: "11"}, false, "0"},
		{"sum small at 10", domain.Bet{BetType: "sumValue", BetValue: "small"}, true, "197.80"},
		{"sum big at 10", domain.Bet{BetType: "sumValue", BetValue: "big"}, false, "0"},
		{"sum even", domain.Bet{BetType: "sum", BetValue: "even"}, true, "197.80"},
		{"dragon 1v2", domain.Bet{BetType: "dragonTiger", BetValue: "dragon"}, true, "197.80"},
		{"tiger 1v2", domain.Bet{BetType: "dragonTiger", BetValue: "tiger"}, false, "0"},
		{"tiger 4v7", domain.Bet{BetType: "dragonTiger", BetValue: "tiger_4_7"}, true, "197.80"},
		{"vs format", domain.Bet{BetType: "dragon_tiger", BetValue: "3_vs_10"}, true, "197.80"},
		{"pair with side", domain.Bet{BetType: "dragonTiger", BetValue: "2_9_tiger"}, true, "197.80"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bet := tc.bet
			bet.Amount = dec("100")
			bet.Odds = dec("1.978")
			out, err := domain.Evaluate(bet, sampleDraw)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if out.Win != tc.win {
				t.Errorf("win = %v, want %v (%s)", out.Win, tc.win, out.Reason)
			}
			if !out.WinAmount.Equal(dec(tc.payout)) {
				t.Errorf("win amount = %s, want %s", out.WinAmount, tc.payout)
			}
		})
	}
}

// TestSumBoundary pins the documented convention: 11 is small, 12 is big.
func TestSumBoundary(t *testing.T) {
	eleven := domain.DrawResult{5, 6, 1, 2, 3, 4, 7, 8, 9, 10}
	twelve := domain.DrawResult{5, 7, 1, 2, 3, 4, 6, 8, 9, 10}

	check := func(draw domain.DrawResult, value string, want bool) {
		t.Helper()
		bet := domain.Bet{BetType: "sumValue", BetValue: value, Amount: dec("10"), Odds: dec("1.978")}
		out, err := domain.Evaluate(bet, draw)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if out.Win != want {
			t.Errorf("sum %d %s: win = %v, want %v", draw.Sum(), value, out.Win, want)
		}
	}
	check(eleven, "small", true)
	check(eleven, "big", false)
	check(twelve, "big", true)
	check(twelve, "small", false)
}

func TestEvaluateFallsBackToPublishedOdds(t *testing.T) {
	bet := domain.Bet{
		BetType: domain.BetTypeNumber, BetValue: "7", Position: intp(1),
		Amount: dec("100"), Market: domain.MarketA,
	}
	out, err := domain.Evaluate(bet, sampleDraw)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.Odds.Equal(dec("9.89")) || !out.WinAmount.Equal(dec("989")) {
		t.Errorf("odds=%s amount=%s, want 9.89 989.00", out.Odds, out.WinAmount)
	}

	bet.Market = ""
	if _, err = domain.Evaluate(bet, sampleDraw); !errors.Is(err, domain.ErrInvalidBet) {
		t.Errorf("no market and no odds: err = %v, want ErrInvalidBet", err)
	}
}

func TestEvaluateRejectsMalformedBets(t *testing.T) {
	bad := []domain.Bet{
		{BetType: "number", BetValue: "7"},                     // no position
		{BetType: "number", BetValue: "11", Position: intp(1)}, // number out of range
		{BetType: "number", BetValue: "x", Position: intp(1)},  // not a number
		{BetType: "champion", BetValue: "huge"},                // unknown attribute
		{BetType: "two_sides", BetValue: "12_big"},             // position out of range
		{BetType: "sumValue", BetValue: "20"},                  // sum out of range
		{BetType: "dragonTiger", BetValue: "dragon_3_3"},       // same position
		{BetType: "dragonTiger", BetValue: "1_2_phoenix"},      // unknown side
		{BetType: "lottery", BetValue: "1"},                    // unknown type
	}
	for _, bet := range bad {
		bet.Amount = dec("10")
		bet.Odds = dec("2")
		if _, err := domain.Evaluate(bet, sampleDraw); !errors.Is(err, domain.ErrInvalidBet) {
			t.Errorf("%s %q: err = %v, want ErrInvalidBet", bet.BetType, bet.BetValue, err)
		}
	}
}

// TestEvaluateIsDeterministic evaluates the same inputs twice.
func TestEvaluateIsDeterministic(t *testing.T) {
	bet := domain.Bet{BetType: "sumValue", BetValue: "10", Amount: dec("33.33"), Odds: dec("5.473")}
	a, errA := domain.Evaluate(bet, sampleDraw)
	b, errB := domain.Evaluate(bet, sampleDraw)
	if errA != nil || errB != nil {
		t.Fatalf("Evaluate: %v / %v", errA, errB)
	}
	if a.Win != b.Win || !a.WinAmount.Equal(b.WinAmount) {
		t.Errorf("non-deterministic: %v %s vs %v %s", a.Win, a.WinAmount, b.Win, b.WinAmount)
	}
	// 33.33 × 5.473 = 182.41509 → 182.42
	if !a.WinAmount.Equal(dec("182.42")) {
		t.Errorf("win amount = %s, want 182.42", a.WinAmount)
	}
}

func TestDrawValidation(t *testing.T) {
	cases := []struct {
		name string
		draw domain.DrawResult
		ok   bool
	}{
		{"permutation", domain.DrawResult{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, true},
		{"duplicate", domain.DrawResult{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}, false},
		{"too short", domain.DrawResult{1, 2, 3}, false},
		{"zero", domain.DrawResult{0, 2, 3, 4, 5, 6, 7, 8, 9, 10}, false},
		{"eleven", domain.DrawResult{11, 2, 3, 4, 5, 6, 7, 8, 9, 10}, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		err := tc.draw.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !domain.IsDataIntegrity(err) {
			t.Errorf("%s: err = %v, want DataIntegrityError", tc.name, err)
		}
	}

	bet := domain.Bet{BetType: "champion", BetValue: "big", Amount: dec("10"), Odds: dec("2")}
	if _, err := domain.Evaluate(bet, domain.DrawResult{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}); !domain.IsDataIntegrity(err) {
		t.Errorf("Evaluate on duplicate draw: err = %v, want DataIntegrityError", err)
	}
}

func TestPublishedOdds(t *testing.T) {
	cases := []struct {
		market domain.MarketType
		kind   domain.BetKind
		sum    int
		want   string
	}{
		{domain.MarketA, domain.KindPositionNumber, 0, "9.89"},
		{domain.MarketD, domain.KindPositionNumber, 0, "9.59"},
		{domain.MarketA, domain.KindTwoWay, 0, "1.978"},
		{domain.MarketD, domain.KindDragonTiger, 0, "1.918"},
		{domain.MarketA, domain.KindSumExact, 3, "44.505"},
		{domain.MarketD, domain.KindSumExact, 19, "86.31"},
		{domain.MarketD, domain.KindSumExact, 2, "0"},
	}
	for _, tc := range cases {
		got := domain.PublishedOdds(tc.market, tc.kind, tc.sum)
		if !got.Equal(dec(tc.want)) {
			t.Errorf("%s %s sum=%d: odds = %s, want %s", tc.market, tc.kind, tc.sum, got, tc.want)
		}
	}
}
