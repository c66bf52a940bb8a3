package planner

import (
	"time"

	"github.com/canteiro/planner/allocation"
)

// Week is the Monday..Sunday window the planner shows.
type Week struct {
	Start allocation.Date
	End   allocation.Date
	Days  [7]allocation.Date
}

// ComputeWeek returns the week containing ref.
func ComputeWeek(ref allocation.Date) Week {
	// Weekday is Sunday=0; shift so Monday=0.
	offset := (int(ref.Weekday()) + 6) % 7
	start := ref.AddDays(-offset)

	w := Week{Start: start, End: start.AddDays(6)}
	for i := range w.Days {
		w.Days[i] = start.AddDays(i)
	}
	return w
}

// Previous returns a reference date in the week before w.
func (w Week) Previous() allocation.Date { return w.Start.AddDays(-7) }

// Next returns a reference date in the week after w.
func (w Week) Next() allocation.Date { return w.Start.AddDays(7) }

// Today returns the reference date for the current week.
func Today(clock func() time.Time) allocation.Date {
	return allocation.DateOf(clock())
}

func (w Week) Contains(d allocation.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// Index returns the 0-based day index of d, or -1.
func (w Week) Index(d allocation.Date) int {
	if !w.Contains(d) {
		return -1
	}
	return w.Start.DaysUntil(d)
}

// Query is the retrieval for this window.
func (w Week) Query(workSiteID string, category allocation.Category) allocation.Query {
	return allocation.Query{From: w.Start, To: w.End, WorkSiteID: workSiteID, Category: category}
}

func (w Week) String() string {
	return w.Start.String() + ".." + w.End.String()
}
