package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/canteiro/planner/allocation"
)

var (
	// ErrFetchFailed wraps the transport failure of a week retrieval.
	ErrFetchFailed = errors.New("could not load allocations")

	// ErrStaleResult is returned for a retrieval that was superseded by a
	// newer one, or whose planner was closed while it was in flight.
	ErrStaleResult = errors.New("stale result discarded")
)

// Lister is the read half of the API.
type Lister interface {
	List(ctx context.Context, q allocation.Query) ([]allocation.Allocation, error)
}

// Filter narrows a week retrieval. Zero values mean no filter.
type Filter struct {
	WorkSiteID string
	Category   allocation.Category
}

// Result is one completed retrieval.
type Result struct {
	Week        Week
	Filter      Filter
	Allocations []allocation.Allocation
	gen         uint64
}

// Fetcher loads weeks with last-request-wins semantics: every call takes a
// new generation and only the newest generation's result is current.
type Fetcher struct {
	api Lister

	mu     sync.Mutex
	gen    uint64
	closed bool
}

func NewFetcher(api Lister) *Fetcher {
	return &Fetcher{api: api}
}

// FetchWeek retrieves every allocation starting within w. A superseded call
// returns ErrStaleResult; a failed call returns an error wrapping both
// ErrFetchFailed and the cause. The returned Result is non-zero in both
// cases so callers can re-check IsCurrent under their own lock.
func (f *Fetcher) FetchWeek(ctx context.Context, w Week, filter Filter) (Result, error) {
	return f.Fetch(ctx, f.Begin(w, filter))
}

// Begin reserves the next generation for a retrieval of w, making every
// earlier one stale. Callers that track their own window state call it
// while holding the lock that guards that state, then run Fetch outside it.
func (f *Fetcher) Begin(w Week, filter Filter) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Result{Week: w, Filter: filter}
	}
	f.gen++
	return Result{Week: w, Filter: filter, gen: f.gen}
}

// Fetch runs the retrieval reserved by Begin.
func (f *Fetcher) Fetch(ctx context.Context, res Result) (Result, error) {
	if !f.IsCurrent(res) {
		return res, ErrStaleResult
	}

	list, err := f.api.List(ctx, res.Week.Query(res.Filter.WorkSiteID, res.Filter.Category))

	if !f.IsCurrent(res) {
		return res, ErrStaleResult
	}
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	res.Allocations = list
	return res, nil
}

// IsCurrent reports whether r belongs to the most recent FetchWeek call.
func (f *Fetcher) IsCurrent(r Result) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && r.gen != 0 && r.gen == f.gen
}

// Invalidate makes every in-flight retrieval stale.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	f.gen++
	f.mu.Unlock()
}

// Close discards in-flight and future results.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
