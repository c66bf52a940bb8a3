/*
Package allocation is the scheduling core of the construction-site planner.

PURPOSE:
  Models the assignment of a team, employee or external service to a work
  site ("locação"), and weekly purchase entries ("compras"), for a date
  range with a payment term. Enforces the record invariants and the
  employee conflict invariant, and resolves conflicts by atomic transfer.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource: closed union of Team / Employee / ExternalService / Purchase
  - Allocation: the scheduled record itself
  - Payment: payment type, amount and optional payment date
  - Status: active/cancelled for labor, pending/approved for purchases

DESIGN PRINCIPLES:
  1. Exactly one resource per allocation, enforced by the type system
  2. Money is decimal.Decimal, never float64
  3. Dates are calendar days (see date.go), never timestamps
  4. Display names are read-only decorations filled by the store

SEE ALSO:
  - validate.go: Record invariants
  - conflict.go: Employee overlap detection
  - service.go: Create / update / transfer orchestration
  - store.go: Persistence interfaces
*/
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ID identifies an allocation. Assigned by the server, immutable.
type ID string

// =============================================================================
// RESOURCE - What is being allocated
// =============================================================================

// ResourceKind discriminates the Resource union.
type ResourceKind string

const (
	KindTeam            ResourceKind = "team"
	KindEmployee        ResourceKind = "employee"
	KindExternalService ResourceKind = "external_service"
	KindPurchase        ResourceKind = "purchase"
	KindQuote           ResourceKind = "quote"
)

// Category groups resource kinds into the two planner boards.
type Category string

const (
	CategoryLabor    Category = "labor"
	CategoryPurchase Category = "purchase"
)

func (k ResourceKind) Category() Category {
	switch k {
	case KindPurchase, KindQuote:
		return CategoryPurchase
	default:
		return CategoryLabor
	}
}

func (k ResourceKind) Valid() bool {
	switch k {
	case KindTeam, KindEmployee, KindExternalService, KindPurchase, KindQuote:
		return true
	}
	return false
}

// Resource is the allocated thing. Implementations live in this package only.
type Resource interface {
	Kind() ResourceKind
	resource()
}

type TeamRef struct {
	TeamID string
}

type EmployeeRef struct {
	EmployeeID string
}

type ExternalServiceRef struct {
	Label string
}

// PurchaseRef is a weekly purchase or a quote for one.
type PurchaseRef struct {
	Quote       bool
	Description string
}

func (TeamRef) Kind() ResourceKind            { return KindTeam }
func (EmployeeRef) Kind() ResourceKind        { return KindEmployee }
func (ExternalServiceRef) Kind() ResourceKind { return KindExternalService }
func (p PurchaseRef) Kind() ResourceKind {
	if p.Quote {
		return KindQuote
	}
	return KindPurchase
}

func (TeamRef) resource()            {}
func (EmployeeRef) resource()        {}
func (ExternalServiceRef) resource() {}
func (PurchaseRef) resource()        {}

// NewResource builds the union member for kind from the one matching
// reference. Any other populated reference is an error, so callers decoding
// loosely typed payloads cannot produce an ambiguous resource.
func NewResource(kind ResourceKind, teamID, employeeID, label string) (Resource, error) {
	set := 0
	for _, v := range []string{teamID, employeeID, label} {
		if v != "" {
			set++
		}
	}

	var (
		r     Resource
		field string
		value string
	)
	switch kind {
	case KindTeam:
		r, field, value = TeamRef{TeamID: teamID}, "team_id", teamID
	case KindEmployee:
		r, field, value = EmployeeRef{EmployeeID: employeeID}, "employee_id", employeeID
	case KindExternalService:
		r, field, value = ExternalServiceRef{Label: label}, "external_service", label
	case KindPurchase, KindQuote:
		// Purchases carry their description in the label slot.
		if teamID != "" || employeeID != "" {
			return nil, &ValidationError{Field: "resource", Message: "purchases cannot reference a team or employee"}
		}
		return PurchaseRef{Quote: kind == KindQuote, Description: label}, nil
	default:
		return nil, &ValidationError{Field: "resource_kind", Message: fmt.Sprintf("unknown resource kind %q", kind)}
	}

	if value == "" {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("%s is required for %s allocations", field, kind)}
	}
	if set > 1 {
		return nil, &ValidationError{Field: "resource", Message: "exactly one of team_id, employee_id, external_service must be set"}
	}
	return r, nil
}

// ResourceFields is the inverse of NewResource, used by stores and DTOs.
func ResourceFields(r Resource) (kind ResourceKind, teamID, employeeID, label string) {
	switch v := r.(type) {
	case TeamRef:
		return KindTeam, v.TeamID, "", ""
	case EmployeeRef:
		return KindEmployee, "", v.EmployeeID, ""
	case ExternalServiceRef:
		return KindExternalService, "", "", v.Label
	case PurchaseRef:
		return v.Kind(), "", "", v.Description
	}
	return "", "", "", ""
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentType string

const (
	PaymentDailyRate PaymentType = "daily_rate"
	PaymentPerMeter  PaymentType = "per_meter"
	PaymentLumpSum   PaymentType = "lump_sum"
)

func (p PaymentType) Valid() bool {
	return p == PaymentDailyRate || p == PaymentPerMeter || p == PaymentLumpSum
}

type Payment struct {
	Type   PaymentType
	Amount decimal.Decimal
	Date   *Date
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
)

// DefaultStatus is the status a new allocation of the given category gets.
func DefaultStatus(c Category) Status {
	if c == CategoryPurchase {
		return StatusPending
	}
	return StatusActive
}

func (s Status) validFor(c Category) bool {
	if c == CategoryPurchase {
		return s == StatusPending || s == StatusApproved
	}
	return s == StatusActive || s == StatusCancelled
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Names are server-computed display fields. They are never written back.
type Names struct {
	WorkSite string
	Team     string
	Employee string
}

type Allocation struct {
	ID         ID
	WorkSiteID string
	Resource   Resource
	Start      Date
	End        *Date
	Payment    Payment
	Status     Status
	Notes      string

	Names Names
}

// Span returns the inclusive occupied range.
func (a Allocation) Span() Span {
	return Span{Start: a.Start, End: a.End}
}

func (a Allocation) Kind() ResourceKind {
	if a.Resource == nil {
		return ""
	}
	return a.Resource.Kind()
}

func (a Allocation) Category() Category { return a.Kind().Category() }

// EmployeeID returns the employee reference, or "" for non-employee kinds.
func (a Allocation) EmployeeID() string {
	if e, ok := a.Resource.(EmployeeRef); ok {
		return e.EmployeeID
	}
	return ""
}

// IsActiveEmployee reports whether the allocation takes part in the
// conflict invariant.
func (a Allocation) IsActiveEmployee() bool {
	return a.Status == StatusActive && a.EmployeeID() != ""
}

// Clone returns a deep copy; pointer fields are not shared.
func (a Allocation) Clone() Allocation {
	c := a
	if a.End != nil {
		c.End = DatePtr(*a.End)
	}
	if a.Payment.Date != nil {
		c.Payment.Date = DatePtr(*a.Payment.Date)
	}
	return c
}

// Draft strips the identity and display fields: what a client submits when
// creating an allocation from an existing one.
func (a Allocation) Draft() Allocation {
	d := a.Clone()
	d.ID = ""
	d.Names = Names{}
	return d
}

// OnDay returns a copy collapsed to the single day d. A payment date keeps
// its offset from the start.
func (a Allocation) OnDay(d Date) Allocation {
	c := a.Clone()
	if a.Payment.Date != nil {
		c.Payment.Date = DatePtr(shiftPaymentDate(a, d))
	}
	c.Start = d
	c.End = DatePtr(d)
	return c
}

func shiftPaymentDate(a Allocation, start Date) Date {
	return a.Payment.Date.AddDays(a.Start.DaysUntil(start))
}

// =============================================================================
// DIRECTORY - Reference data for display names
// =============================================================================

type WorkSite struct {
	ID      string
	Name    string
	Address string
}

type Team struct {
	ID   string
	Name string
}

type Employee struct {
	ID   string
	Name string
	Role string
}
