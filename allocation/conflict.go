package allocation

import "context"

// FindConflict returns the first allocation in existing that violates the
// conflict invariant together with candidate, or nil.
//
// Only active employee allocations take part. The candidate itself (same ID)
// and any ID in skip are ignored.
func FindConflict(existing []Allocation, candidate Allocation, skip ...ID) *ConflictError {
	if !candidate.IsActiveEmployee() {
		return nil
	}
	span := candidate.Span()

	for _, other := range existing {
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}
		if contains(skip, other.ID) {
			continue
		}
		if !other.IsActiveEmployee() || other.EmployeeID() != candidate.EmployeeID() {
			continue
		}
		if !span.Overlaps(other.Span()) {
			continue
		}
		return &ConflictError{
			Field:      "employee",
			EmployeeID: candidate.EmployeeID(),
			Conflicting: ConflictDetails{
				ID:           other.ID,
				WorkSiteID:   other.WorkSiteID,
				WorkSiteName: other.Names.WorkSite,
				Start:        other.Start,
				End:          other.End,
			},
		}
	}
	return nil
}

// checkConflict loads the employee's allocations through s and runs FindConflict.
func checkConflict(ctx context.Context, s Store, candidate Allocation, skip ...ID) error {
	if !candidate.IsActiveEmployee() {
		return nil
	}
	existing, err := s.ListByEmployee(ctx, candidate.EmployeeID())
	if err != nil {
		return err
	}
	if ce := FindConflict(existing, candidate, skip...); ce != nil {
		return ce
	}
	return nil
}

func contains(ids []ID, id ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
