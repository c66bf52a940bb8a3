package planner_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteiro/planner/allocation"
	"github.com/canteiro/planner/planner"
)

func card(id, start, amount string) allocation.Allocation {
	return allocation.Allocation{
		ID:         allocation.ID(id),
		WorkSiteID: "S1",
		Resource:   allocation.TeamRef{TeamID: "T1"},
		Start:      allocation.MustDate(start),
		Payment:    allocation.Payment{Type: allocation.PaymentDailyRate, Amount: decimal.RequireFromString(amount)},
		Status:     allocation.StatusActive,
	}
}

func TestBucketByDay_GroupsByStartAndKeepsOrder(t *testing.T) {
	week := planner.ComputeWeek(allocation.MustDate("2024-06-05"))
	list := []allocation.Allocation{
		card("b", "2024-06-05", "100"),
		card("outside", "2024-06-10", "999"),
		card("a", "2024-06-05", "50.50"),
		card("mon", "2024-06-03", "10"),
	}

	board := planner.BucketByDay(list, week.Days)

	wed := board.Days[2]
	assert.Equal(t, allocation.MustDate("2024-06-05"), wed.Date)
	require.Equal(t, 2, wed.Count())
	assert.Equal(t, allocation.ID("b"), wed.Items[0].ID)
	assert.Equal(t, allocation.ID("a"), wed.Items[1].ID)
	assert.True(t, decimal.RequireFromString("150.50").Equal(wed.Total()))

	assert.Equal(t, 1, board.Days[0].Count())
	assert.Equal(t, 0, board.Days[6].Count())
	assert.True(t, board.Days[6].Total().IsZero())
	assert.Equal(t, 3, board.Len())

	_, _, found := board.Find("outside")
	assert.False(t, found)
	got, day, found := board.Find("mon")
	require.True(t, found)
	assert.Equal(t, allocation.ID("mon"), got.ID)
	assert.Equal(t, allocation.MustDate("2024-06-03"), day)
}

// Every allocation starting within the week lands in exactly one bucket.
func TestBucketByDay_Completeness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	week := planner.ComputeWeek(allocation.MustDate("2024-06-05"))

	for round := 0; round < 200; round++ {
		var list []allocation.Allocation
		inWeek := 0
		n := rng.Intn(30)
		for i := 0; i < n; i++ {
			start := week.Start.AddDays(rng.Intn(11) - 2)
			if week.Contains(start) {
				inWeek++
			}
			list = append(list, card(fmt.Sprintf("%d-%d", round, i), start.String(), "1"))
		}

		board := planner.BucketByDay(list, week.Days)

		seen := map[allocation.ID]int{}
		for _, day := range board.Days {
			for _, a := range day.Items {
				require.True(t, a.Start.Equal(day.Date))
				seen[a.ID]++
			}
		}
		require.Len(t, seen, inWeek)
		for id, n := range seen {
			require.Equal(t, 1, n, string(id))
		}
	}
}
