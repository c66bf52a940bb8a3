package planner

import (
	"github.com/shopspring/decimal"

	"github.com/canteiro/planner/allocation"
)

// Day is one column of the board.
type Day struct {
	Date  allocation.Date
	Items []allocation.Allocation
}

// Count is the number of cards in the column.
func (d Day) Count() int { return len(d.Items) }

// Total sums payment amounts (labor rates or purchase totals) of the column.
func (d Day) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.Items {
		total = total.Add(a.Payment.Amount)
	}
	return total
}

// Board is the bucketed view of one week. It is replaced wholesale on every
// successful fetch and never patched in place.
type Board struct {
	Week Week
	Days [7]Day
}

// BucketByDay groups allocations by start date onto days. Allocations that
// start outside days are dropped; order within a day is input order.
func BucketByDay(allocations []allocation.Allocation, days [7]allocation.Date) Board {
	var b Board
	index := make(map[allocation.Date]int, len(days))
	for i, d := range days {
		b.Days[i].Date = d
		index[d] = i
	}

	for _, a := range allocations {
		i, ok := index[a.Start]
		if !ok {
			continue
		}
		b.Days[i].Items = append(b.Days[i].Items, a)
	}
	return b
}

func emptyBoard(w Week) Board {
	b := BucketByDay(nil, w.Days)
	b.Week = w
	return b
}

// Find locates a card by ID and returns it with the day it sits on.
func (b Board) Find(id allocation.ID) (allocation.Allocation, allocation.Date, bool) {
	for _, day := range b.Days {
		for _, a := range day.Items {
			if a.ID == id {
				return a, day.Date, true
			}
		}
	}
	return allocation.Allocation{}, allocation.Date{}, false
}

// Len is the number of cards on the board.
func (b Board) Len() int {
	n := 0
	for _, d := range b.Days {
		n += len(d.Items)
	}
	return n
}

func (b Board) clone() Board {
	c := b
	for i := range c.Days {
		c.Days[i].Items = append([]allocation.Allocation(nil), b.Days[i].Items...)
	}
	return c
}
