package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Sum big/small boundary: 3..11 is small, 12..19 is big. There is no tie
// outcome on the sum.
const SumBigFrom = 12

// Single-position big/small boundary: 1..5 small, 6..10 big.
const PositionBigFrom = 6

// Outcome is the result of evaluating one bet against one draw.
type Outcome struct {
	Win       bool            `json:"win"`
	WinAmount decimal.Decimal `json:"win_amount"`
	Odds      decimal.Decimal `json:"odds"`
	Kind      BetKind         `json:"-"`
	Reason    string          `json:"reason"`
}

// wager is the parsed form of a bet row.
type wager struct {
	kind   BetKind
	pos    int    // KindPositionNumber, KindTwoWay on a position
	number int    // picked car number, or the exact sum for KindSumExact
	attr   string // big | small | odd | even
	onSum  bool   // KindTwoWay applied to champion + runner-up
	left   int    // dragon position
	right  int    // tiger position
	side   string // dragon | tiger
}

// Evaluate decides win/lose and the payout of bet against draw.
//
// It has no side effects and depends only on its arguments, so a resumed
// settlement reproduces exactly the same decision. The draw is validated first;
// an invalid draw yields a *DataIntegrityError and no decision.
//
// payout = stake × odds, rounded to 2 decimals. When the row carries no odds,
// the published odds of the bet's market are used.
func Evaluate(bet Bet, draw DrawResult) (Outcome, error) {
	if err := draw.Validate(); err != nil {
		return Outcome{}, err
	}
	if !bet.Amount.IsPositive() {
		return Outcome{}, fmt.Errorf("%w: bet %d has non-positive stake %s", ErrInvalidBet, bet.ID, bet.Amount)
	}

	w, err := parseWager(bet)
	if err != nil {
		return Outcome{}, err
	}

	odds := bet.Odds
	if !odds.IsPositive() {
		odds = PublishedOdds(bet.Market, w.kind, w.number)
		if odds.IsZero() {
			return Outcome{}, fmt.Errorf("%w: bet %d has no odds for market %q", ErrInvalidBet, bet.ID, bet.Market)
		}
	}

	win, reason := w.decide(draw)
	out := Outcome{
		Win:       win,
		WinAmount: decimal.Zero,
		Odds:      odds,
		Kind:      w.kind,
		Reason:    reason,
	}
	if win {
		out.WinAmount = bet.Amount.Mul(odds).Round(2)
	}
	return out, nil
}

// ── Parsing ──────────────────────────────────────────────────────────────────

func parseWager(bet Bet) (wager, error) {
	value := strings.TrimSpace(bet.BetValue)

	switch {
	case bet.BetType == BetTypeNumber:
		if bet.Position == nil {
			return wager{}, invalid(bet, "number bet without position")
		}
		p := *bet.Position
		n, err := strconv.Atoi(value)
		if err != nil || !inRange(p) || !inRange(n) {
			return wager{}, invalid(bet, "position/number out of range")
		}
		return wager{kind: KindPositionNumber, pos: p, number: n}, nil

	case PositionOf(bet.BetType) > 0:
		p := PositionOf(bet.BetType)
		if n, err := strconv.Atoi(value); err == nil {
			if !inRange(n) {
				return wager{}, invalid(bet, "number out of range")
			}
			return wager{kind: KindPositionNumber, pos: p, number: n}, nil
		}
		if !isTwoWayAttr(value) {
			return wager{}, invalid(bet, "unknown attribute")
		}
		return wager{kind: KindTwoWay, pos: p, attr: value}, nil

	case bet.BetType == BetTypeTwoSides:
		parts := strings.Split(value, "_")
		if len(parts) != 2 {
			return wager{}, invalid(bet, "two_sides value must be <pos>_<attr>")
		}
		p, err := strconv.Atoi(parts[0])
		if err != nil || !inRange(p) || !isTwoWayAttr(parts[1]) {
			return wager{}, invalid(bet, "bad two_sides value")
		}
		return wager{kind: KindTwoWay, pos: p, attr: parts[1]}, nil

	case bet.BetType == BetTypeSumValue || bet.BetType == BetTypeSum:
		if n, err := strconv.Atoi(value); err == nil {
			if n < 3 || n > 19 {
				return wager{}, invalid(bet, "sum out of range 3..19")
			}
			return wager{kind: KindSumExact, number: n}, nil
		}
		if !isTwoWayAttr(value) {
			return wager{}, invalid(bet, "unknown sum attribute")
		}
		return wager{kind: KindTwoWay, onSum: true, attr: value}, nil

	case bet.BetType == BetTypeDragonTiger || bet.BetType == BetTypeDragonAlias:
		return parseDragonTiger(bet, value)
	}

	return wager{}, invalid(bet, "unknown bet type")
}

// parseDragonTiger accepts "dragon" / "tiger" (champion vs runner-up),
// "dragon_<p1>_<p2>", "tiger_<p1>_<p2>", "<p1>_vs_<p2>" (dragon) and
// "<p1>_<p2>[_<side>]".
func parseDragonTiger(bet Bet, value string) (wager, error) {
	w := wager{kind: KindDragonTiger, left: 1, right: 2}

	switch {
	case value == "dragon" || value == "tiger":
		w.side = value
		return w, nil

	case strings.HasPrefix(value, "dragon_") || strings.HasPrefix(value, "tiger_"):
		parts := strings.Split(value, "_")
		if len(parts) != 3 {
			return wager{}, invalid(bet, "bad dragon/tiger value")
		}
		w.side = parts[0]
		return fillPair(bet, w, parts[1], parts[2])

	case strings.Contains(value, "_vs_"):
		parts := strings.Split(value, "_vs_")
		if len(parts) != 2 {
			return wager{}, invalid(bet, "bad dragon/tiger value")
		}
		w.side = "dragon"
		return fillPair(bet, w, parts[0], parts[1])
	}

	parts := strings.Split(value, "_")
	if len(parts) < 2 || len(parts) > 3 {
		return wager{}, invalid(bet, "bad dragon/tiger value")
	}
	w.side = "dragon"
	if len(parts) == 3 {
		w.side = parts[2]
	}
	if w.side != "dragon" && w.side != "tiger" {
		return wager{}, invalid(bet, "unknown dragon/tiger side")
	}
	return fillPair(bet, w, parts[0], parts[1])
}

func fillPair(bet Bet, w wager, a, b string) (wager, error) {
	p1, err1 := strconv.Atoi(a)
	p2, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || !inRange(p1) || !inRange(p2) || p1 == p2 {
		return wager{}, invalid(bet, "bad dragon/tiger positions")
	}
	w.left, w.right = p1, p2
	return w, nil
}

// ── Decision ─────────────────────────────────────────────────────────────────

func (w wager) decide(draw DrawResult) (bool, string) {
	switch w.kind {
	case KindPositionNumber:
		got := draw.At(w.pos)
		return got == w.number, fmt.Sprintf("position %d drew %d, picked %d", w.pos, got, w.number)

	case KindSumExact:
		sum := draw.Sum()
		return sum == w.number, fmt.Sprintf("sum %d, picked %d", sum, w.number)

	case KindTwoWay:
		if w.onSum {
			sum := draw.Sum()
			return attrWins(w.attr, sum, SumBigFrom), fmt.Sprintf("sum %d, picked %s", sum, w.attr)
		}
		got := draw.At(w.pos)
		return attrWins(w.attr, got, PositionBigFrom), fmt.Sprintf("position %d drew %d, picked %s", w.pos, got, w.attr)

	case KindDragonTiger:
		a, b := draw.At(w.left), draw.At(w.right)
		dragon := a > b
		win := (w.side == "dragon" && dragon) || (w.side == "tiger" && !dragon)
		return win, fmt.Sprintf("position %d drew %d vs position %d drew %d, picked %s", w.left, a, w.right, b, w.side)
	}
	return false, "unknown"
}

func attrWins(attr string, n, bigFrom int) bool {
	switch attr {
	case "big":
		return n >= bigFrom
	case "small":
		return n < bigFrom
	case "odd":
		return n%2 == 1
	case "even":
		return n%2 == 0
	}
	return false
}

func isTwoWayAttr(s string) bool {
	return s == "big" || s == "small" || s == "odd" || s == "even"
}

func inRange(n int) bool {
	return n >= 1 && n <= DrawPositions
}

func invalid(bet Bet, why string) error {
	return fmt.Errorf("%w: bet %d (%s %q): %s", ErrInvalidBet, bet.ID, bet.BetType, bet.BetValue, why)
}
