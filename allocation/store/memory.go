// Package store provides in-memory allocation.TxStore and allocation.Directory
// implementations for tests and demos.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/canteiro/planner/allocation"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	allocations map[allocation.ID]record
	seq         int

	workSites map[string]allocation.WorkSite
	teams     map[string]allocation.Team
	employees map[string]allocation.Employee
}

// record keeps the insertion sequence so List can order ties stably.
type record struct {
	a   allocation.Allocation
	seq int
}

func NewMemory() *Memory {
	return &Memory{
		allocations: make(map[allocation.ID]record),
		workSites:   make(map[string]allocation.WorkSite),
		teams:       make(map[string]allocation.Team),
		employees:   make(map[string]allocation.Employee),
	}
}

func (m *Memory) Get(_ context.Context, id allocation.ID) (*allocation.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) Create(_ context.Context, a allocation.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(a)
}

func (m *Memory) Update(_ context.Context, a allocation.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(a)
}

func (m *Memory) Delete(_ context.Context, id allocation.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) List(_ context.Context, q allocation.Query) ([]allocation.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(q.Matches), nil
}

func (m *Memory) ListByEmployee(_ context.Context, employeeID string) ([]allocation.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(byEmployee(employeeID)), nil
}

func (m *Memory) ListByWorkSite(_ context.Context, workSiteID string) ([]allocation.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(byWorkSite(workSiteID)), nil
}

// Len returns the number of stored allocations.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.allocations)
}

func byEmployee(id string) func(allocation.Allocation) bool {
	return func(a allocation.Allocation) bool {
		return a.Status == allocation.StatusActive && a.EmployeeID() == id
	}
}

func byWorkSite(id string) func(allocation.Allocation) bool {
	return func(a allocation.Allocation) bool { return a.WorkSiteID == id }
}

func (m *Memory) getLocked(id allocation.ID) (*allocation.Allocation, error) {
	r, ok := m.allocations[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	a := m.decorate(r.a)
	return &a, nil
}

func (m *Memory) createLocked(a allocation.Allocation) error {
	if _, ok := m.allocations[a.ID]; ok {
		return fmt.Errorf("allocation %s already exists", a.ID)
	}
	if err := m.checkRefs(a); err != nil {
		return err
	}
	m.seq++
	a.Names = allocation.Names{}
	m.allocations[a.ID] = record{a: a.Clone(), seq: m.seq}
	return nil
}

func (m *Memory) updateLocked(a allocation.Allocation) error {
	r, ok := m.allocations[a.ID]
	if !ok {
		return allocation.ErrNotFound
	}
	if err := m.checkRefs(a); err != nil {
		return err
	}
	a.Names = allocation.Names{}
	r.a = a.Clone()
	m.allocations[a.ID] = r
	return nil
}

func (m *Memory) deleteLocked(id allocation.ID) error {
	if _, ok := m.allocations[id]; !ok {
		return allocation.ErrNotFound
	}
	delete(m.allocations, id)
	return nil
}

func (m *Memory) filterLocked(keep func(allocation.Allocation) bool) []allocation.Allocation {
	var rs []record
	for _, r := range m.allocations {
		if keep(r.a) {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].a.Start.Equal(rs[j].a.Start) {
			return rs[i].a.Start.Before(rs[j].a.Start)
		}
		return rs[i].seq < rs[j].seq
	})

	result := make([]allocation.Allocation, len(rs))
	for i, r := range rs {
		result[i] = m.decorate(r.a)
	}
	return result
}

// checkRefs mirrors the SQL foreign keys.
func (m *Memory) checkRefs(a allocation.Allocation) error {
	if _, ok := m.workSites[a.WorkSiteID]; !ok {
		return fmt.Errorf("%w: work site %q", allocation.ErrUnknownReference, a.WorkSiteID)
	}
	switch r := a.Resource.(type) {
	case allocation.TeamRef:
		if _, ok := m.teams[r.TeamID]; !ok {
			return fmt.Errorf("%w: team %q", allocation.ErrUnknownReference, r.TeamID)
		}
	case allocation.EmployeeRef:
		if _, ok := m.employees[r.EmployeeID]; !ok {
			return fmt.Errorf("%w: employee %q", allocation.ErrUnknownReference, r.EmployeeID)
		}
	}
	return nil
}

func (m *Memory) decorate(a allocation.Allocation) allocation.Allocation {
	a = a.Clone()
	a.Names.WorkSite = m.workSites[a.WorkSiteID].Name
	switch r := a.Resource.(type) {
	case allocation.TeamRef:
		a.Names.Team = m.teams[r.TeamID].Name
	case allocation.EmployeeRef:
		a.Names.Employee = m.employees[r.EmployeeID].Name
	}
	return a
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveWorkSite(_ context.Context, w allocation.WorkSite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workSites[w.ID] = w
	return nil
}

func (m *Memory) GetWorkSite(_ context.Context, id string) (*allocation.WorkSite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workSites[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *Memory) ListWorkSites(_ context.Context) ([]allocation.WorkSite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]allocation.WorkSite, 0, len(m.workSites))
	for _, w := range m.workSites {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveTeam(_ context.Context, t allocation.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[t.ID] = t
	return nil
}

func (m *Memory) ListTeams(_ context.Context) ([]allocation.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]allocation.Team, 0, len(m.teams))
	for _, t := range m.teams {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveEmployee(_ context.Context, e allocation.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*allocation.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]allocation.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]allocation.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot that is restored when
// fn returns an error or panics.
func (m *Memory) WithTx(ctx context.Context, fn func(allocation.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	committed := false
	defer func() {
		if !committed {
			m.allocations, m.seq = snapshot.allocations, snapshot.seq
		}
	}()

	if err := fn(&txView{parent: m}); err != nil {
		return err
	}
	committed = true
	return nil
}

type memorySnapshot struct {
	allocations map[allocation.ID]record
	seq         int
}

func (m *Memory) snapshot() memorySnapshot {
	cp := make(map[allocation.ID]record, len(m.allocations))
	for k, v := range m.allocations {
		cp[k] = record{a: v.a.Clone(), seq: v.seq}
	}
	return memorySnapshot{allocations: cp, seq: m.seq}
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) Get(_ context.Context, id allocation.ID) (*allocation.Allocation, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) Create(_ context.Context, a allocation.Allocation) error {
	return tv.parent.createLocked(a)
}

func (tv *txView) Update(_ context.Context, a allocation.Allocation) error {
	return tv.parent.updateLocked(a)
}

func (tv *txView) Delete(_ context.Context, id allocation.ID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txView) List(_ context.Context, q allocation.Query) ([]allocation.Allocation, error) {
	return tv.parent.filterLocked(q.Matches), nil
}

func (tv *txView) ListByEmployee(_ context.Context, employeeID string) ([]allocation.Allocation, error) {
	return tv.parent.filterLocked(byEmployee(employeeID)), nil
}

func (tv *txView) ListByWorkSite(_ context.Context, workSiteID string) ([]allocation.Allocation, error) {
	return tv.parent.filterLocked(byWorkSite(workSiteID)), nil
}
