/*
service.go - Allocation writes: validation, conflict detection, transfer

PURPOSE:
  The Service is the only writer of allocations. Every write runs inside a
  store transaction so the employee conflict check and the write it guards
  are atomic with respect to other writers.

OPERATIONS:
  Create:   validate, reject employee overlaps with ConflictError, insert
  Update:   apply a Patch, same checks, write
  Delete:   remove by ID
  Transfer: truncate the conflicting allocation to the day before the new
            start and create (or rewrite) the new one, all-or-nothing

TRANSFER FAILURES:
  Anything that stops a transfer (conflicting record deleted or changed,
  truncation would invert its range, the new data still conflicts with a
  third allocation, storage errors) is reported as *TransferError and the
  transaction is rolled back. The caller restarts the original action; the
  conflict snapshot it held is stale.

SEE ALSO:
  - conflict.go: FindConflict
  - store.go:    TxStore.WithTx
  - api/handlers.go: HTTP surface
*/
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE EVENTS
// =============================================================================

type EventType string

const (
	EventCreated     EventType = "allocation.created"
	EventUpdated     EventType = "allocation.updated"
	EventDeleted     EventType = "allocation.deleted"
	EventTransferred EventType = "allocation.transferred"
)

// Event is published after a write commits.
type Event struct {
	Type         EventType
	AllocationID ID
	WorkSiteID   string
	Date         Date
}

// Publisher receives change events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store     TxStore
	publisher Publisher
	log       zerolog.Logger
	newID     func() ID
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithIDGenerator replaces the UUID generator, for deterministic tests.
func WithIDGenerator(f func() ID) Option {
	return func(s *Service) { s.newID = f }
}

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: nopPublisher{},
		log:       zerolog.Nop(),
		newID:     func() ID { return ID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id ID) (*Allocation, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, q Query) ([]Allocation, error) {
	if q.To.Before(q.From) {
		return nil, &ValidationError{Field: "end", Message: "range end is before range start"}
	}
	return s.store.List(ctx, q)
}

// Create inserts a new allocation. Any ID on a is ignored.
func (s *Service) Create(ctx context.Context, a Allocation) (*Allocation, error) {
	a = a.Clone()
	a.ID = s.newID()
	a.Names = Names{}
	if a.Status == "" && a.Resource != nil {
		a.Status = DefaultStatus(a.Category())
	}
	if err := Validate(a); err != nil {
		return nil, err
	}

	var created *Allocation
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := checkConflict(ctx, tx, a); err != nil {
			return err
		}
		if err := tx.Create(ctx, a); err != nil {
			return err
		}
		var err error
		created, err = tx.Get(ctx, a.ID)
		return err
	})
	if err != nil {
		s.logRejected("create", a, err)
		return nil, err
	}

	s.log.Info().Str("id", string(a.ID)).Str("work_site", a.WorkSiteID).
		Str("kind", string(a.Kind())).Str("start", a.Start.String()).Msg("allocation created")
	s.publisher.Publish(Event{Type: EventCreated, AllocationID: a.ID, WorkSiteID: a.WorkSiteID, Date: a.Start})
	return created, nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	WorkSiteID       *string
	Resource         Resource
	Start            *Date
	End              *Date
	ClearEnd         bool
	PaymentType      *PaymentType
	PaymentAmount    *decimal.Decimal
	PaymentDate      *Date
	ClearPaymentDate bool
	Status           *Status
	Notes            *string
}

// Apply returns a copy of a with the patch applied.
func (p Patch) Apply(a Allocation) Allocation {
	a = a.Clone()
	if p.WorkSiteID != nil {
		a.WorkSiteID = *p.WorkSiteID
	}
	if p.Resource != nil {
		a.Resource = p.Resource
	}
	if p.Start != nil {
		a.Start = *p.Start
	}
	if p.ClearEnd {
		a.End = nil
	} else if p.End != nil {
		a.End = DatePtr(*p.End)
	}
	if p.PaymentType != nil {
		a.Payment.Type = *p.PaymentType
	}
	if p.PaymentAmount != nil {
		a.Payment.Amount = *p.PaymentAmount
	}
	if p.ClearPaymentDate {
		a.Payment.Date = nil
	} else if p.PaymentDate != nil {
		a.Payment.Date = DatePtr(*p.PaymentDate)
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
	return a
}

// MovePatch collapses an allocation onto the single day d. It leaves the
// payment date alone; use Allocation.MoveTo to carry it along.
func MovePatch(d Date) Patch {
	return Patch{Start: DatePtr(d), End: DatePtr(d)}
}

// MoveTo is the patch that collapses a onto the single day d. A payment
// date keeps its offset from the start.
func (a Allocation) MoveTo(d Date) Patch {
	p := MovePatch(d)
	if a.Payment.Date != nil {
		p.PaymentDate = DatePtr(shiftPaymentDate(a, d))
	}
	return p
}

func (s *Service) Update(ctx context.Context, id ID, p Patch) (*Allocation, error) {
	var (
		updated   *Allocation
		candidate Allocation
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		candidate = p.Apply(*current)
		if err := Validate(candidate); err != nil {
			return err
		}
		if err := checkConflict(ctx, tx, candidate); err != nil {
			return err
		}
		if err := tx.Update(ctx, candidate); err != nil {
			return err
		}
		updated, err = tx.Get(ctx, id)
		return err
	})
	if err != nil {
		s.logRejected("update", candidate, err)
		return nil, err
	}

	s.log.Info().Str("id", string(id)).Str("start", updated.Start.String()).Msg("allocation updated")
	s.publisher.Publish(Event{Type: EventUpdated, AllocationID: id, WorkSiteID: updated.WorkSiteID, Date: updated.Start})
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id ID) error {
	var deleted *Allocation
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		deleted, err = tx.Get(ctx, id)
		if err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("id", string(id)).Msg("allocation deleted")
	s.publisher.Publish(Event{Type: EventDeleted, AllocationID: id, WorkSiteID: deleted.WorkSiteID, Date: deleted.Start})
	return nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// TransferRequest resolves a ConflictError.
//
// Allocation is the new data. When ReplacesID is set the transfer rewrites
// that existing allocation (a move that hit a conflict) instead of creating
// a new one.
type TransferRequest struct {
	ConflictingID ID
	Allocation    Allocation
	ReplacesID    ID
}

type TransferResult struct {
	Truncated  Allocation
	Allocation Allocation
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	fail := func(reason string, cause error) error {
		return &TransferError{ConflictingID: req.ConflictingID, Reason: reason, Cause: cause}
	}

	next := req.Allocation.Clone()
	next.Names = Names{}
	if next.Status == "" && next.Resource != nil {
		next.Status = DefaultStatus(next.Category())
	}
	if req.ReplacesID != "" {
		next.ID = req.ReplacesID
	} else {
		next.ID = s.newID()
	}
	if req.ConflictingID == "" {
		return nil, fail("no conflicting allocation given", nil)
	}
	if req.ReplacesID == req.ConflictingID {
		return nil, fail("an allocation cannot be transferred onto itself", nil)
	}
	if err := Validate(next); err != nil {
		return nil, fail("invalid allocation data", err)
	}

	var result TransferResult
	err := s.store.WithTx(ctx, func(tx Store) error {
		old, err := tx.Get(ctx, req.ConflictingID)
		if errors.Is(err, ErrNotFound) {
			return fail("conflicting allocation no longer exists", err)
		}
		if err != nil {
			return fail("storage error", err)
		}
		if req.ReplacesID != "" {
			if _, err := tx.Get(ctx, req.ReplacesID); err != nil {
				return fail("allocation to move no longer exists", err)
			}
		}

		// The snapshot the client holds must still describe a real conflict.
		if !old.IsActiveEmployee() || old.EmployeeID() != next.EmployeeID() || !old.Span().Overlaps(next.Span()) {
			return fail("allocation no longer conflicts", nil)
		}

		cut := next.Start.AddDays(-1)
		if cut.Before(old.Start) {
			return fail(fmt.Sprintf("conflicting allocation starts on %s, it cannot end before the new start %s", old.Start, next.Start), nil)
		}
		truncated := old.Clone()
		truncated.End = DatePtr(cut)
		if err := tx.Update(ctx, truncated); err != nil {
			return fail("storage error", err)
		}

		if err := checkConflict(ctx, tx, next); err != nil {
			return fail("new allocation still conflicts", err)
		}
		if req.ReplacesID != "" {
			err = tx.Update(ctx, next)
		} else {
			err = tx.Create(ctx, next)
		}
		if err != nil {
			return fail("storage error", err)
		}

		t, err := tx.Get(ctx, truncated.ID)
		if err != nil {
			return fail("storage error", err)
		}
		n, err := tx.Get(ctx, next.ID)
		if err != nil {
			return fail("storage error", err)
		}
		result = TransferResult{Truncated: *t, Allocation: *n}
		return nil
	})
	if err != nil {
		var te *TransferError
		if !errors.As(err, &te) {
			err = fail("storage error", err)
		}
		s.log.Warn().Err(err).Str("conflicting", string(req.ConflictingID)).Msg("transfer rolled back")
		return nil, err
	}

	s.log.Info().Str("from", string(result.Truncated.ID)).Str("to", string(result.Allocation.ID)).
		Str("employee", next.EmployeeID()).Str("cut", result.Truncated.End.String()).Msg("employee transferred")
	s.publisher.Publish(Event{Type: EventTransferred, AllocationID: result.Truncated.ID, WorkSiteID: result.Truncated.WorkSiteID, Date: *result.Truncated.End})
	s.publisher.Publish(Event{Type: EventTransferred, AllocationID: result.Allocation.ID, WorkSiteID: result.Allocation.WorkSiteID, Date: result.Allocation.Start})
	return &result, nil
}

func (s *Service) logRejected(op string, a Allocation, err error) {
	if ce, ok := AsConflict(err); ok {
		s.log.Info().Str("op", op).Str("employee", ce.EmployeeID).
			Str("conflicting", string(ce.Conflicting.ID)).Msg("allocation conflict")
		return
	}
	if IsClientError(err) || errors.Is(err, ErrNotFound) {
		s.log.Debug().Err(err).Str("op", op).Msg("allocation rejected")
		return
	}
	s.log.Error().Err(err).Str("op", op).Str("work_site", a.WorkSiteID).Msg("allocation write failed")
}
