/*
store.go - Persistence interface for allocations and directory data

PURPOSE:
  Defines the interface between the scheduling logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:     Allocation CRUD and the two queries the planner needs
  TxStore:   Store plus WithTx for atomic multi-record writes
  Directory: Work sites, teams and employees (display names)

ATOMICITY:
  The conflict check and the write it guards run inside one WithTx call.
  Transfer (truncate + create) is one WithTx call: either both writes are
  visible or neither is.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:     SQLite
  - allocation/store/memory.go: In-memory for tests

SEE ALSO:
  - service.go: The only writer
*/
package allocation

import "context"

// Query selects allocations whose start date lies in [From, To].
type Query struct {
	From       Date
	To         Date
	WorkSiteID string   // optional
	Category   Category // optional
}

// Matches applies the query to one allocation. Stores without a query
// language (memory) filter with it; SQL stores must agree with it.
func (q Query) Matches(a Allocation) bool {
	if a.Start.Before(q.From) || a.Start.After(q.To) {
		return false
	}
	if q.WorkSiteID != "" && a.WorkSiteID != q.WorkSiteID {
		return false
	}
	if q.Category != "" && a.Category() != q.Category {
		return false
	}
	return true
}

// Store persists allocations. Get returns ErrNotFound for unknown IDs.
// Read methods return display names resolved from the directory.
type Store interface {
	Get(ctx context.Context, id ID) (*Allocation, error)
	Create(ctx context.Context, a Allocation) error
	Update(ctx context.Context, a Allocation) error
	Delete(ctx context.Context, id ID) error

	// List returns matching allocations ordered by start date, then creation.
	List(ctx context.Context, q Query) ([]Allocation, error)

	// ListByEmployee returns every active allocation of the employee.
	ListByEmployee(ctx context.Context, employeeID string) ([]Allocation, error)

	// ListByWorkSite returns every allocation of the work site.
	ListByWorkSite(ctx context.Context, workSiteID string) ([]Allocation, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is discarded.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Directory holds the reference data allocations point at.
type Directory interface {
	SaveWorkSite(ctx context.Context, w WorkSite) error
	GetWorkSite(ctx context.Context, id string) (*WorkSite, error)
	ListWorkSites(ctx context.Context) ([]WorkSite, error)

	SaveTeam(ctx context.Context, t Team) error
	ListTeams(ctx context.Context) ([]Team, error)

	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}
