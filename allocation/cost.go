package allocation

import "github.com/shopspring/decimal"

// CostSummary is the derived spend of one work site as of a date.
type CostSummary struct {
	WorkSiteID        string
	AsOf              Date
	Labor             decimal.Decimal
	PurchasesPending  decimal.Decimal
	PurchasesApproved decimal.Decimal
	LaborDays         int
	Allocations       int
}

func (c CostSummary) Total() decimal.Decimal {
	return c.Labor.Add(c.PurchasesPending).Add(c.PurchasesApproved)
}

// SummarizeCosts derives the totals of workSiteID from allocations.
//
// Labor at a daily rate costs one rate per day in [Start, min(End, asOf)],
// so truncating an allocation (transfer) removes its cost from the day after
// the new end. Per-meter and lump-sum labor count once, when started.
// Cancelled labor and quotes never count.
func SummarizeCosts(allocations []Allocation, workSiteID string, asOf Date) CostSummary {
	sum := CostSummary{
		WorkSiteID:        workSiteID,
		AsOf:              asOf,
		Labor:             decimal.Zero,
		PurchasesPending:  decimal.Zero,
		PurchasesApproved: decimal.Zero,
	}

	for _, a := range allocations {
		if a.WorkSiteID != workSiteID || a.Start.After(asOf) {
			continue
		}
		switch a.Kind() {
		case KindQuote:
			continue
		case KindPurchase:
			if a.Status == StatusApproved {
				sum.PurchasesApproved = sum.PurchasesApproved.Add(a.Payment.Amount)
			} else {
				sum.PurchasesPending = sum.PurchasesPending.Add(a.Payment.Amount)
			}
			sum.Allocations++
			continue
		}

		if a.Status == StatusCancelled {
			continue
		}
		sum.Allocations++

		if a.Payment.Type != PaymentDailyRate {
			sum.Labor = sum.Labor.Add(a.Payment.Amount)
			continue
		}
		last := asOf
		if a.End != nil && a.End.Before(asOf) {
			last = *a.End
		}
		days := a.Start.DaysUntil(last) + 1
		sum.LaborDays += days
		sum.Labor = sum.Labor.Add(a.Payment.Amount.Mul(decimal.NewFromInt(int64(days))))
	}
	return sum
}
