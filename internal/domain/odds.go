package domain

import (
	"github.com/shopspring/decimal"
)

// BetKind groups bet shapes that share an odds formula.
type BetKind int

const (
	KindPositionNumber BetKind = iota + 1
	KindTwoWay                 // big/small/odd/even on a position or on the sum
	KindSumExact
	KindDragonTiger
)

func (k BetKind) String() string {
	switch k {
	case KindPositionNumber:
		return "position_number"
	case KindTwoWay:
		return "two_way"
	case KindSumExact:
		return "sum_exact"
	case KindDragonTiger:
		return "dragon_tiger"
	}
	return "unknown"
}

// sumBaseOdds is the zero-rebate payout for each champion + runner-up sum.
var sumBaseOdds = map[int]decimal.Decimal{
	3:  decimal.NewFromInt(45),
	4:  decimal.NewFromInt(23),
	5:  decimal.NewFromInt(15),
	6:  decimal.RequireFromString("11.5"),
	7:  decimal.NewFromInt(9),
	8:  decimal.RequireFromString("7.5"),
	9:  decimal.RequireFromString("6.5"),
	10: decimal.RequireFromString("5.7"),
	11: decimal.RequireFromString("5.7"),
	12: decimal.RequireFromString("6.5"),
	13: decimal.RequireFromString("7.5"),
	14: decimal.NewFromInt(9),
	15: decimal.RequireFromString("11.5"),
	16: decimal.NewFromInt(15),
	17: decimal.NewFromInt(23),
	18: decimal.NewFromInt(45),
	19: decimal.NewFromInt(90),
}

var (
	ten = decimal.NewFromInt(10)
	two = decimal.NewFromInt(2)
	one = decimal.NewFromInt(1)
)

// PublishedOdds returns the odds the intake service quotes for kind in
// market, i.e. the fair odds with the market's rebate rate taken off:
//
//	position-number  10 × (1 − rate)   → 9.89 (A), 9.59 (D)
//	two-way, D/T      2 × (1 − rate)   → 1.978 (A), 1.918 (D)
//	sum exact       base × (1 − rate)
//
// sum is only read for KindSumExact. Zero means "no published odds".
func PublishedOdds(market MarketType, kind BetKind, sum int) decimal.Decimal {
	if !market.IsValid() {
		return decimal.Zero
	}
	keep := one.Sub(market.RebateRate())
	switch kind {
	case KindPositionNumber:
		return ten.Mul(keep).Round(3)
	case KindTwoWay, KindDragonTiger:
		return two.Mul(keep).Round(3)
	case KindSumExact:
		base, ok := sumBaseOdds[sum]
		if !ok {
			return decimal.Zero
		}
		return base.Mul(keep).Round(3)
	}
	return decimal.Zero
}
