package planner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteiro/planner/allocation"
	"github.com/canteiro/planner/planner"
)

// listerFunc adapts a function to planner.Lister.
type listerFunc func(ctx context.Context, q allocation.Query) ([]allocation.Allocation, error)

func (f listerFunc) List(ctx context.Context, q allocation.Query) ([]allocation.Allocation, error) {
	return f(ctx, q)
}

var week = planner.ComputeWeek(allocation.MustDate("2024-06-05"))

func TestFetcher_QueriesWholeWeek(t *testing.T) {
	var got allocation.Query
	f := planner.NewFetcher(listerFunc(func(_ context.Context, q allocation.Query) ([]allocation.Allocation, error) {
		got = q
		return []allocation.Allocation{{ID: "a1"}}, nil
	}))

	res, err := f.FetchWeek(context.Background(), week, planner.Filter{WorkSiteID: "S1", Category: allocation.CategoryLabor})

	require.NoError(t, err)
	assert.True(t, f.IsCurrent(res))
	assert.Len(t, res.Allocations, 1)
	assert.Equal(t, allocation.MustDate("2024-06-03"), got.From)
	assert.Equal(t, allocation.MustDate("2024-06-09"), got.To)
	assert.Equal(t, "S1", got.WorkSiteID)
	assert.Equal(t, allocation.CategoryLabor, got.Category)
}

func TestFetcher_FailureWrapsCause(t *testing.T) {
	boom := errors.New("connection reset")
	f := planner.NewFetcher(listerFunc(func(context.Context, allocation.Query) ([]allocation.Allocation, error) {
		return nil, boom
	}))

	_, err := f.FetchWeek(context.Background(), week, planner.Filter{})

	assert.ErrorIs(t, err, planner.ErrFetchFailed)
	assert.ErrorIs(t, err, boom)
}

func TestFetcher_InvalidatedResultIsStale(t *testing.T) {
	// GIVEN: a request blocked inside the API call
	entered := make(chan struct{})
	release := make(chan struct{})
	f := planner.NewFetcher(listerFunc(func(context.Context, allocation.Query) ([]allocation.Allocation, error) {
		close(entered)
		<-release
		return nil, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := f.FetchWeek(context.Background(), week, planner.Filter{})
		done <- err
	}()
	<-entered

	// WHEN: the fetch is invalidated while in flight
	f.Invalidate()
	close(release)

	// THEN: the late result is discarded
	assert.ErrorIs(t, <-done, planner.ErrStaleResult)
}

func TestFetcher_ClosedDiscardsEverything(t *testing.T) {
	f := planner.NewFetcher(listerFunc(func(context.Context, allocation.Query) ([]allocation.Allocation, error) {
		return nil, nil
	}))
	res, err := f.FetchWeek(context.Background(), week, planner.Filter{})
	require.NoError(t, err)

	f.Close()

	assert.False(t, f.IsCurrent(res))
	_, err = f.FetchWeek(context.Background(), week, planner.Filter{})
	assert.ErrorIs(t, err, planner.ErrStaleResult)
}

func TestFetcher_BeginSupersedesEarlierReservation(t *testing.T) {
	f := planner.NewFetcher(listerFunc(func(context.Context, allocation.Query) ([]allocation.Allocation, error) {
		return nil, nil
	}))

	// GIVEN: a reservation that has not been issued yet
	early := f.Begin(week, planner.Filter{})

	// WHEN: a later fetch completes first
	_, err := f.FetchWeek(context.Background(), planner.ComputeWeek(week.Next()), planner.Filter{})
	require.NoError(t, err)

	// THEN: the early reservation is stale before it is sent
	_, err = f.Fetch(context.Background(), early)
	assert.ErrorIs(t, err, planner.ErrStaleResult)
}
