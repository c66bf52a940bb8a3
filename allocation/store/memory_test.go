package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteiro/planner/allocation"
	"github.com/canteiro/planner/allocation/store"
)

func newMemory(t *testing.T) (*store.Memory, allocation.Allocation) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveWorkSite(ctx, allocation.WorkSite{ID: "S1", Name: "Residencial Aurora"}))
	require.NoError(t, mem.SaveEmployee(ctx, allocation.Employee{ID: "E1", Name: "João Pereira"}))

	a := allocation.Allocation{
		ID:         "a1",
		WorkSiteID: "S1",
		Resource:   allocation.EmployeeRef{EmployeeID: "E1"},
		Start:      allocation.MustDate("2024-06-05"),
		End:        allocation.DatePtr(allocation.MustDate("2024-06-10")),
		Payment:    allocation.Payment{Type: allocation.PaymentDailyRate, Amount: decimal.NewFromInt(180)},
		Status:     allocation.StatusActive,
	}
	require.NoError(t, mem.Create(ctx, a))
	return mem, a
}

// writeTwice truncates a and inserts a second allocation through tx.
func writeTwice(ctx context.Context, tx allocation.Store, a allocation.Allocation) error {
	truncated := a.Clone()
	truncated.End = allocation.DatePtr(allocation.MustDate("2024-06-06"))
	if err := tx.Update(ctx, truncated); err != nil {
		return err
	}
	next := a.OnDay(allocation.MustDate("2024-06-07"))
	next.ID = "a2"
	return tx.Create(ctx, next)
}

func TestMemory_WithTx_Commits(t *testing.T) {
	mem, a := newMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.WithTx(ctx, func(tx allocation.Store) error {
		return writeTwice(ctx, tx, a)
	}))

	assert.Equal(t, 2, mem.Len())
	got, err := mem.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, allocation.MustDate("2024-06-06"), *got.End)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	mem, a := newMemory(t)
	ctx := context.Background()
	boom := errors.New("disk full")

	err := mem.WithTx(ctx, func(tx allocation.Store) error {
		if err := writeTwice(ctx, tx, a); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mem.Len())
	got, err := mem.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, allocation.MustDate("2024-06-10"), *got.End)
}

func TestMemory_WithTx_RollsBackOnPanic(t *testing.T) {
	mem, a := newMemory(t)
	ctx := context.Background()

	// GIVEN: a transaction that panics after both writes
	assert.PanicsWithValue(t, "lost connection", func() {
		_ = mem.WithTx(ctx, func(tx allocation.Store) error {
			require.NoError(t, writeTwice(ctx, tx, a))
			panic("lost connection")
		})
	})

	// THEN: neither write survives and the store is still usable
	assert.Equal(t, 1, mem.Len())
	got, err := mem.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, allocation.MustDate("2024-06-10"), *got.End)
	_, err = mem.Get(ctx, "a2")
	assert.ErrorIs(t, err, allocation.ErrNotFound)
}
