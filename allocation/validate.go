package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate checks the record invariants that do not need the store.
// The employee conflict invariant is checked by the Service.
func Validate(a Allocation) error {
	if a.WorkSiteID == "" {
		return &ValidationError{Field: "work_site_id", Message: "work site is required"}
	}
	if a.Resource == nil {
		return &ValidationError{Field: "resource_kind", Message: "resource is required"}
	}
	if a.Start.IsZero() {
		return &ValidationError{Field: "start_date", Message: "start date is required"}
	}
	if a.End != nil && a.End.Before(a.Start) {
		return &ValidationError{Field: "end_date", Message: fmt.Sprintf("end date %s is before start date %s", a.End, a.Start)}
	}

	if !a.Payment.Type.Valid() {
		return &ValidationError{Field: "payment_type", Message: fmt.Sprintf("unknown payment type %q", a.Payment.Type)}
	}
	switch a.Kind() {
	case KindTeam, KindEmployee:
		if !a.Payment.Amount.GreaterThan(decimal.Zero) {
			return &ValidationError{Field: "payment_amount", Message: "payment amount must be greater than zero"}
		}
	default:
		if a.Payment.Amount.IsNegative() {
			return &ValidationError{Field: "payment_amount", Message: "payment amount cannot be negative"}
		}
	}
	if a.Payment.Date != nil && a.Payment.Date.Before(a.Start) {
		return &ValidationError{Field: "payment_date", Message: "payment date cannot be before the start date"}
	}

	if !a.Status.validFor(a.Category()) {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("status %q is not valid for %s allocations", a.Status, a.Category())}
	}
	return nil
}
