package allocation_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteiro/planner/allocation"
)

func TestNewResource_ExactlyOneReference(t *testing.T) {
	tests := []struct {
		name                  string
		kind                  allocation.ResourceKind
		team, employee, label string
		want                  allocation.Resource
		wantField             string
	}{
		{name: "team", kind: allocation.KindTeam, team: "T1", want: allocation.TeamRef{TeamID: "T1"}},
		{name: "employee", kind: allocation.KindEmployee, employee: "E1", want: allocation.EmployeeRef{EmployeeID: "E1"}},
		{name: "external", kind: allocation.KindExternalService, label: "Locação de betoneira", want: allocation.ExternalServiceRef{Label: "Locação de betoneira"}},
		{name: "quote", kind: allocation.KindQuote, label: "Areia", want: allocation.PurchaseRef{Quote: true, Description: "Areia"}},
		{name: "missing", kind: allocation.KindEmployee, wantField: "employee_id"},
		{name: "two set", kind: allocation.KindTeam, team: "T1", employee: "E1", wantField: "resource"},
		{name: "wrong slot", kind: allocation.KindTeam, employee: "E1", wantField: "team_id"},
		{name: "purchase with employee", kind: allocation.KindPurchase, employee: "E1", wantField: "resource"},
		{name: "unknown kind", kind: "crane", wantField: "resource_kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := allocation.NewResource(tt.kind, tt.team, tt.employee, tt.label)
			if tt.wantField != "" {
				var ve *allocation.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantField, ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			kind, team, employee, label := allocation.ResourceFields(got)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.team, team)
			assert.Equal(t, tt.employee, employee)
			assert.Equal(t, tt.label, label)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := employeeAlloc("S1", "E1", "2024-06-05", "2024-06-07")
	require.NoError(t, allocation.Validate(valid))

	mutate := func(f func(*allocation.Allocation)) allocation.Allocation {
		a := valid.Clone()
		f(&a)
		return a
	}

	tests := []struct {
		name  string
		in    allocation.Allocation
		field string
	}{
		{"no site", mutate(func(a *allocation.Allocation) { a.WorkSiteID = "" }), "work_site_id"},
		{"no resource", mutate(func(a *allocation.Allocation) { a.Resource = nil }), "resource_kind"},
		{"end before start", mutate(func(a *allocation.Allocation) { a.End = allocation.DatePtr(d("2024-06-04")) }), "end_date"},
		{"zero amount for employee", mutate(func(a *allocation.Allocation) { a.Payment.Amount = decimal.Zero }), "payment_amount"},
		{"bad payment type", mutate(func(a *allocation.Allocation) { a.Payment.Type = "barter" }), "payment_type"},
		{"payment before start", mutate(func(a *allocation.Allocation) { a.Payment.Date = allocation.DatePtr(d("2024-06-01")) }), "payment_date"},
		{"purchase status on labor", mutate(func(a *allocation.Allocation) { a.Status = allocation.StatusApproved }), "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *allocation.ValidationError
			require.ErrorAs(t, allocation.Validate(tt.in), &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, ve, allocation.ErrValidation)
		})
	}

	external := mutate(func(a *allocation.Allocation) {
		a.Resource = allocation.ExternalServiceRef{Label: "Topografia"}
		a.Payment.Amount = decimal.Zero
	})
	assert.NoError(t, allocation.Validate(external), "external services may be free")
}

func TestSpan_Overlaps(t *testing.T) {
	closed := func(a, b string) allocation.Span {
		return allocation.Span{Start: d(a), End: allocation.DatePtr(d(b))}
	}
	open := func(a string) allocation.Span { return allocation.Span{Start: d(a)} }

	assert.True(t, closed("2024-06-05", "2024-06-10").Overlaps(open("2024-06-07")))
	assert.True(t, closed("2024-06-05", "2024-06-05").Overlaps(closed("2024-06-05", "2024-06-05")))
	assert.True(t, open("2024-06-01").Overlaps(open("2030-01-01")))
	assert.False(t, closed("2024-06-05", "2024-06-06").Overlaps(open("2024-06-07")))
	assert.False(t, open("2024-06-07").Overlaps(closed("2024-06-01", "2024-06-06")))

	assert.True(t, open("2024-06-07").Contains(d("2099-12-31")))
	assert.False(t, closed("2024-06-05", "2024-06-06").Contains(d("2024-06-07")))
}

func TestDate_JSON(t *testing.T) {
	type payload struct {
		Start allocation.Date  `json:"start"`
		End   *allocation.Date `json:"end"`
	}

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2024-06-05T13:45:00-03:00","end":null}`), &p))
	assert.Equal(t, d("2024-06-05"), p.Start)
	assert.Nil(t, p.End)

	out, err := json.Marshal(payload{Start: d("2024-06-07"), End: allocation.DatePtr(d("2024-06-09"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2024-06-07","end":"2024-06-09"}`, string(out))

	_, err = allocation.ParseDate("07/06/2024")
	assert.Error(t, err)
}

func TestSummarizeCosts_TruncationStopsAccrual(t *testing.T) {
	asOf := d("2024-06-10")
	open := employeeAlloc("S1", "E1", "2024-06-05", "")
	truncated := open.Clone()
	truncated.End = allocation.DatePtr(d("2024-06-06"))

	purchase := allocation.Allocation{
		WorkSiteID: "S1",
		Resource:   allocation.PurchaseRef{Description: "Vergalhão"},
		Start:      d("2024-06-04"),
		Payment:    allocation.Payment{Type: allocation.PaymentLumpSum, Amount: decimal.NewFromInt(800)},
		Status:     allocation.StatusApproved,
	}
	quote := purchase.Clone()
	quote.Resource = allocation.PurchaseRef{Quote: true, Description: "Vergalhão"}

	before := allocation.SummarizeCosts([]allocation.Allocation{open, purchase, quote}, "S1", asOf)
	assert.Equal(t, 6, before.LaborDays)
	assert.True(t, decimal.NewFromInt(1500).Equal(before.Labor), before.Labor.String())
	assert.True(t, decimal.NewFromInt(800).Equal(before.PurchasesApproved))
	assert.True(t, decimal.NewFromInt(2300).Equal(before.Total()))

	after := allocation.SummarizeCosts([]allocation.Allocation{truncated, purchase}, "S1", asOf)
	assert.Equal(t, 2, after.LaborDays)
	assert.True(t, decimal.NewFromInt(500).Equal(after.Labor))

	future := allocation.SummarizeCosts([]allocation.Allocation{employeeAlloc("S1", "E1", "2024-06-20", "")}, "S1", asOf)
	assert.True(t, future.Labor.IsZero())
}
