package discount

import (
	"github.com/shopspring/decimal"
)

// Rule identifies a discount rule that fired for an order.
type Rule string

const (
	// RuleBulkOrder fires for orders of BulkThreshold books or more.
	RuleBulkOrder Rule = "bulk_order"
	// RuleLoyaltyMilestone fires when the order is the member's 10th, 20th, ... order.
	RuleLoyaltyMilestone Rule = "loyalty_milestone"
)

const (
	// BulkThreshold is the minimum book count for the bulk order rule.
	BulkThreshold = 5
	// BulkPercent is the bulk order rule's contribution.
	BulkPercent = 5
	// LoyaltyEvery is the order interval of the loyalty milestone rule.
	LoyaltyEvery = 10
	// LoyaltyPercent is the loyalty milestone rule's contribution.
	LoyaltyPercent = 10
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Input describes the order being priced.
type Input struct {
	// Books is the number of books in the order, duplicates included.
	Books int
	// PriorOrders is the number of the member's non-cancelled orders placed
	// before this one. The evaluated order is order number PriorOrders+1.
	PriorOrders int
	// Total is the gross order amount. FinalAmount is only computed when set.
	Total *decimal.Decimal
}

// Result holds the combined outcome of all rules.
type Result struct {
	Eligible    bool
	Percent     int
	Rules       []Rule
	FinalAmount decimal.Decimal
}

// Evaluate applies every rule to in and sums the percentages of those that
// fired. It has no side effects.
func Evaluate(in Input) Result {
	var res Result

	if in.Books >= BulkThreshold {
		res.Percent += BulkPercent
		res.Rules = append(res.Rules, RuleBulkOrder)
	}
	if isMilestone(in.PriorOrders + 1) {
		res.Percent += LoyaltyPercent
		res.Rules = append(res.Rules, RuleLoyaltyMilestone)
	}

	res.Percent = min(max(res.Percent, 0), 100)
	res.Eligible = len(res.Rules) > 0

	if in.Total != nil {
		res.FinalAmount = Apply(*in.Total, res.Percent)
	}
	return res
}

// Apply returns total reduced by percent, rounded to 2 decimal places.
func Apply(total decimal.Decimal, percent int) decimal.Decimal {
	factor := hundred.Sub(decimal.NewFromInt(int64(percent))).Div(hundred)
	return floorAtZero(total.Mul(factor)).Round(2)
}

// isMilestone reports whether the n-th order is a positive multiple of LoyaltyEvery.
func isMilestone(n int) bool {
	return n > 0 && n%LoyaltyEvery == 0
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
