/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the allocation model (a sealed Resource union, civil dates) from the wire
  contract, where the resource is flattened into resource_kind plus one of
  team_id / employee_id / label.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Allocations:
    AllocationDTO, AllocationRequest, UpdateAllocationRequest
  Transfer:
    TransferRequestDTO, TransferResultDTO
  Conflicts and errors:
    ConflictingAllocationDTO, ErrorResponse
  Directory:
    WorkSiteDTO, TeamDTO, EmployeeDTO
  Other:
    CostSummaryDTO, EventDTO, ScenarioDTO

DATES AND MONEY:
  Dates are "YYYY-MM-DD" (allocation.Date JSON). Amounts are decimal
  strings ("187.50"); numbers are accepted on input.

SEE ALSO:
  - handlers.go: Uses these types
  - client/client.go: Decodes them on the other side
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/canteiro/planner/allocation"
)

// =============================================================================
// ALLOCATIONS
// =============================================================================

// AllocationDTO represents an allocation in API responses.
type AllocationDTO struct {
	ID            string           `json:"id"`
	WorkSiteID    string           `json:"work_site_id"`
	WorkSiteName  string           `json:"work_site_name,omitempty"`
	ResourceKind  string           `json:"resource_kind"`
	TeamID        string           `json:"team_id,omitempty"`
	TeamName      string           `json:"team_name,omitempty"`
	EmployeeID    string           `json:"employee_id,omitempty"`
	EmployeeName  string           `json:"employee_name,omitempty"`
	Label         string           `json:"label,omitempty"` // external service or purchase description
	StartDate     allocation.Date  `json:"start_date"`
	EndDate       *allocation.Date `json:"end_date"`
	PaymentType   string           `json:"payment_type"`
	PaymentAmount decimal.Decimal  `json:"payment_amount"`
	PaymentDate   *allocation.Date `json:"payment_date,omitempty"`
	Status        string           `json:"status"`
	Notes         string           `json:"notes,omitempty"`
}

// AllocationRequest is the body of a create. Only foreign keys and scalars;
// display names are resolved by the server.
type AllocationRequest struct {
	WorkSiteID    string           `json:"work_site_id"`
	ResourceKind  string           `json:"resource_kind"`
	TeamID        string           `json:"team_id,omitempty"`
	EmployeeID    string           `json:"employee_id,omitempty"`
	Label         string           `json:"label,omitempty"`
	StartDate     allocation.Date  `json:"start_date"`
	EndDate       *allocation.Date `json:"end_date"`
	PaymentType   string           `json:"payment_type"`
	PaymentAmount decimal.Decimal  `json:"payment_amount"`
	PaymentDate   *allocation.Date `json:"payment_date,omitempty"`
	Status        string           `json:"status,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// UpdateAllocationRequest is the body of a PATCH. Absent fields are left
// unchanged. A null end_date cannot be told from an absent one, so
// clear_end_date / clear_payment_date remove them explicitly.
type UpdateAllocationRequest struct {
	WorkSiteID       *string          `json:"work_site_id,omitempty"`
	ResourceKind     *string          `json:"resource_kind,omitempty"`
	TeamID           string           `json:"team_id,omitempty"`
	EmployeeID       string           `json:"employee_id,omitempty"`
	Label            string           `json:"label,omitempty"`
	StartDate        *allocation.Date `json:"start_date,omitempty"`
	EndDate          *allocation.Date `json:"end_date,omitempty"`
	ClearEndDate     bool             `json:"clear_end_date,omitempty"`
	PaymentType      *string          `json:"payment_type,omitempty"`
	PaymentAmount    *decimal.Decimal `json:"payment_amount,omitempty"`
	PaymentDate      *allocation.Date `json:"payment_date,omitempty"`
	ClearPaymentDate bool             `json:"clear_payment_date,omitempty"`
	Status           *string          `json:"status,omitempty"`
	Notes            *string          `json:"notes,omitempty"`
}

// TransferRequestDTO asks the server to cut the conflicting allocation short
// and write the new one, atomically.
type TransferRequestDTO struct {
	ConflictingAllocationID string            `json:"conflicting_allocation_id"`
	Allocation              AllocationRequest `json:"allocation"`
	ReplacesID              string            `json:"replaces_id,omitempty"`
}

type TransferResultDTO struct {
	Truncated  AllocationDTO `json:"truncated"`
	Allocation AllocationDTO `json:"allocation"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ConflictingAllocationDTO describes the allocation that blocks a write.
type ConflictingAllocationDTO struct {
	ID           string           `json:"id"`
	EmployeeID   string           `json:"employee_id,omitempty"`
	WorkSiteID   string           `json:"work_site_id,omitempty"`
	WorkSiteName string           `json:"work_site_name,omitempty"`
	StartDate    *allocation.Date `json:"start_date,omitempty"`
	EndDate      *allocation.Date `json:"end_date,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`

	// validation
	Field string `json:"field,omitempty"`

	// conflict and transfer_failed
	ConflictField         string                    `json:"conflict_field,omitempty"`
	ConflictingAllocation *ConflictingAllocationDTO `json:"conflicting_allocation,omitempty"`
	Reason                string                    `json:"reason,omitempty"`
}

// Error codes.
const (
	CodeBadRequest       = "bad_request"
	CodeValidation       = "validation"
	CodeConflict         = "conflict"
	CodeTransferFailed   = "transfer_failed"
	CodeNotFound         = "not_found"
	CodeUnknownReference = "unknown_reference"
	CodeInternal         = "internal"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type WorkSiteDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type TeamDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EmployeeDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// =============================================================================
// OTHER
// =============================================================================

// CostSummaryDTO is the spend of one work site as of a date.
type CostSummaryDTO struct {
	WorkSiteID        string          `json:"work_site_id"`
	AsOf              allocation.Date `json:"as_of"`
	Labor             decimal.Decimal `json:"labor"`
	LaborDays         int             `json:"labor_days"`
	PurchasesPending  decimal.Decimal `json:"purchases_pending"`
	PurchasesApproved decimal.Decimal `json:"purchases_approved"`
	Total             decimal.Decimal `json:"total"`
	Allocations       int             `json:"allocations"`
}

// EventDTO is one message on the change feed.
type EventDTO struct {
	Type         string          `json:"type"`
	AllocationID string          `json:"allocation_id"`
	WorkSiteID   string          `json:"work_site_id"`
	Date         allocation.Date `json:"date"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func ToAllocationDTO(a allocation.Allocation) AllocationDTO {
	kind, teamID, employeeID, label := allocation.ResourceFields(a.Resource)
	return AllocationDTO{
		ID:            string(a.ID),
		WorkSiteID:    a.WorkSiteID,
		WorkSiteName:  a.Names.WorkSite,
		ResourceKind:  string(kind),
		TeamID:        teamID,
		TeamName:      a.Names.Team,
		EmployeeID:    employeeID,
		EmployeeName:  a.Names.Employee,
		Label:         label,
		StartDate:     a.Start,
		EndDate:       a.End,
		PaymentType:   string(a.Payment.Type),
		PaymentAmount: a.Payment.Amount,
		PaymentDate:   a.Payment.Date,
		Status:        string(a.Status),
		Notes:         a.Notes,
	}
}

func toAllocationDTOs(list []allocation.Allocation) []AllocationDTO {
	dtos := make([]AllocationDTO, len(list))
	for i, a := range list {
		dtos[i] = ToAllocationDTO(a)
	}
	return dtos
}

// FromAllocationDTO is the inverse of ToAllocationDTO.
func FromAllocationDTO(d AllocationDTO) (allocation.Allocation, error) {
	r, err := allocation.NewResource(allocation.ResourceKind(d.ResourceKind), d.TeamID, d.EmployeeID, d.Label)
	if err != nil {
		return allocation.Allocation{}, err
	}
	return allocation.Allocation{
		ID:         allocation.ID(d.ID),
		WorkSiteID: d.WorkSiteID,
		Resource:   r,
		Start:      d.StartDate,
		End:        d.EndDate,
		Payment: allocation.Payment{
			Type:   allocation.PaymentType(d.PaymentType),
			Amount: d.PaymentAmount,
			Date:   d.PaymentDate,
		},
		Status: allocation.Status(d.Status),
		Notes:  d.Notes,
		Names: allocation.Names{
			WorkSite: d.WorkSiteName,
			Team:     d.TeamName,
			Employee: d.EmployeeName,
		},
	}, nil
}

// NewAllocationRequest flattens a draft for submission.
func NewAllocationRequest(a allocation.Allocation) AllocationRequest {
	kind, teamID, employeeID, label := allocation.ResourceFields(a.Resource)
	return AllocationRequest{
		WorkSiteID:    a.WorkSiteID,
		ResourceKind:  string(kind),
		TeamID:        teamID,
		EmployeeID:    employeeID,
		Label:         label,
		StartDate:     a.Start,
		EndDate:       a.End,
		PaymentType:   string(a.Payment.Type),
		PaymentAmount: a.Payment.Amount,
		PaymentDate:   a.Payment.Date,
		Status:        string(a.Status),
		Notes:         a.Notes,
	}
}

// Allocation converts the request into a draft.
func (req AllocationRequest) Allocation() (allocation.Allocation, error) {
	r, err := allocation.NewResource(allocation.ResourceKind(req.ResourceKind), req.TeamID, req.EmployeeID, req.Label)
	if err != nil {
		return allocation.Allocation{}, err
	}
	return allocation.Allocation{
		WorkSiteID: req.WorkSiteID,
		Resource:   r,
		Start:      req.StartDate,
		End:        req.EndDate,
		Payment: allocation.Payment{
			Type:   allocation.PaymentType(req.PaymentType),
			Amount: req.PaymentAmount,
			Date:   req.PaymentDate,
		},
		Status: allocation.Status(req.Status),
		Notes:  req.Notes,
	}, nil
}

// NewUpdateRequest is the wire form of a patch.
func NewUpdateRequest(p allocation.Patch) UpdateAllocationRequest {
	req := UpdateAllocationRequest{
		WorkSiteID:       p.WorkSiteID,
		StartDate:        p.Start,
		EndDate:          p.End,
		ClearEndDate:     p.ClearEnd,
		PaymentAmount:    p.PaymentAmount,
		PaymentDate:      p.PaymentDate,
		ClearPaymentDate: p.ClearPaymentDate,
		Notes:            p.Notes,
	}
	if p.Resource != nil {
		kind, teamID, employeeID, label := allocation.ResourceFields(p.Resource)
		k := string(kind)
		req.ResourceKind = &k
		req.TeamID, req.EmployeeID, req.Label = teamID, employeeID, label
	}
	if p.PaymentType != nil {
		t := string(*p.PaymentType)
		req.PaymentType = &t
	}
	if p.Status != nil {
		s := string(*p.Status)
		req.Status = &s
	}
	return req
}

// Patch converts the request into a domain patch.
func (req UpdateAllocationRequest) Patch() (allocation.Patch, error) {
	p := allocation.Patch{
		WorkSiteID:       req.WorkSiteID,
		Start:            req.StartDate,
		End:              req.EndDate,
		ClearEnd:         req.ClearEndDate,
		PaymentAmount:    req.PaymentAmount,
		PaymentDate:      req.PaymentDate,
		ClearPaymentDate: req.ClearPaymentDate,
		Notes:            req.Notes,
	}
	if req.ResourceKind != nil {
		r, err := allocation.NewResource(allocation.ResourceKind(*req.ResourceKind), req.TeamID, req.EmployeeID, req.Label)
		if err != nil {
			return allocation.Patch{}, err
		}
		p.Resource = r
	}
	if req.PaymentType != nil {
		t := allocation.PaymentType(*req.PaymentType)
		p.PaymentType = &t
	}
	if req.Status != nil {
		s := allocation.Status(*req.Status)
		p.Status = &s
	}
	return p, nil
}

func toConflictingDTO(ce *allocation.ConflictError) *ConflictingAllocationDTO {
	start := ce.Conflicting.Start
	return &ConflictingAllocationDTO{
		ID:           string(ce.Conflicting.ID),
		EmployeeID:   ce.EmployeeID,
		WorkSiteID:   ce.Conflicting.WorkSiteID,
		WorkSiteName: ce.Conflicting.WorkSiteName,
		StartDate:    &start,
		EndDate:      ce.Conflicting.End,
	}
}

func toEventDTO(e allocation.Event) EventDTO {
	return EventDTO{
		Type:         string(e.Type),
		AllocationID: string(e.AllocationID),
		WorkSiteID:   e.WorkSiteID,
		Date:         e.Date,
	}
}

// FromEventDTO is the inverse of the feed encoding.
func FromEventDTO(d EventDTO) allocation.Event {
	return allocation.Event{
		Type:         allocation.EventType(d.Type),
		AllocationID: allocation.ID(d.AllocationID),
		WorkSiteID:   d.WorkSiteID,
		Date:         d.Date,
	}
}

func toCostSummaryDTO(c allocation.CostSummary) CostSummaryDTO {
	return CostSummaryDTO{
		WorkSiteID:        c.WorkSiteID,
		AsOf:              c.AsOf,
		Labor:             c.Labor,
		LaborDays:         c.LaborDays,
		PurchasesPending:  c.PurchasesPending,
		PurchasesApproved: c.PurchasesApproved,
		Total:             c.Total(),
		Allocations:       c.Allocations,
	}
}
