package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/store"
)

func TestTracker_CountersAndComplete(t *testing.T) {
	st := newFakeStore()
	clock := testNow
	tr, err := StartTracker(context.Background(), st, "publicdata", func() time.Time { return clock })
	require.NoError(t, err)
	assert.Equal(t, int64(7), tr.RunID())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.IncNew()
			tr.IncUpdated()
		}()
	}
	wg.Wait()
	tr.IncDiscarded()
	tr.IncError()
	tr.IncPage()
	tr.IncPage()

	assert.True(t, tr.SetTotalFound(102))
	assert.False(t, tr.SetTotalFound(5), "total found is set once")

	clock = testNow.Add(90 * time.Second)
	run, err := tr.Complete(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, models.RunCounters{
		TotalFound:     102,
		NewItems:       50,
		UpdatedItems:   50,
		DiscardedItems: 1,
		ErrorCount:     1,
		PagesFetched:   2,
	}, tr.Counters())
	assert.Equal(t, 102, run.TotalFound)
	assert.Equal(t, 90*time.Second, run.ExecutionTime)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, clock, *run.FinishedAt)
	require.Len(t, st.finished, 1)
}

func TestTracker_CloseOnce(t *testing.T) {
	tests := []struct {
		name  string
		first func(*Tracker) (*models.IngestionRun, error)
	}{
		{name: "complete then fail", first: func(tr *Tracker) (*models.IngestionRun, error) { return tr.Complete(context.Background()) }},
		{name: "fail then complete", first: func(tr *Tracker) (*models.IngestionRun, error) {
			return tr.Fail(context.Background(), errors.New("boom"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			tr, err := StartTracker(context.Background(), st, "courtauction", func() time.Time { return testNow })
			require.NoError(t, err)

			_, err = tt.first(tr)
			require.NoError(t, err)

			_, err = tr.Fail(context.Background(), errors.New("again"))
			assert.True(t, errors.Is(err, ErrRunClosed))
			_, err = tr.Complete(context.Background())
			assert.True(t, errors.Is(err, ErrRunClosed))
			assert.Len(t, st.finished, 1)
		})
	}
}

func TestTracker_FailRecordsMessage(t *testing.T) {
	st := newFakeStore()
	tr, err := StartTracker(context.Background(), st, "courtauction", func() time.Time { return testNow })
	require.NoError(t, err)

	run, err := tr.Fail(context.Background(), errors.New("crawler: status 503"))
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "crawler: status 503", *run.ErrorMessage)
}

func TestStartTracker_StoreError(t *testing.T) {
	st := newFakeStore()
	st.startErr = errors.New("db down")
	_, err := StartTracker(context.Background(), st, "courtauction", nil)
	assert.EqualError(t, err, "db down")
}

func TestMemoryLeaser(t *testing.T) {
	clock := testNow
	leaser := NewMemoryLeaser(func() time.Time { return clock })
	ctx := context.Background()

	first, err := leaser.AcquireLease(ctx, "courtauction", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Owner)
	assert.Equal(t, testNow.Add(time.Minute), first.ExpiresAt)

	_, err = leaser.AcquireLease(ctx, "courtauction", time.Minute)
	assert.True(t, errors.Is(err, store.ErrLeaseHeld))

	_, err = leaser.AcquireLease(ctx, "publicdata", time.Minute)
	assert.NoError(t, err, "leases are per source")

	stranger := &store.Lease{SourceSite: "courtauction", Owner: "someone-else"}
	require.NoError(t, leaser.ReleaseLease(ctx, stranger))
	_, err = leaser.AcquireLease(ctx, "courtauction", time.Minute)
	assert.True(t, errors.Is(err, store.ErrLeaseHeld), "release by a non-owner is ignored")

	clock = testNow.Add(2 * time.Minute)
	second, err := leaser.AcquireLease(ctx, "courtauction", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")
	assert.NotEqual(t, first.Owner, second.Owner)

	require.NoError(t, leaser.ReleaseLease(ctx, first), "stale owner release is a no-op")
	_, err = leaser.AcquireLease(ctx, "courtauction", time.Minute)
	assert.True(t, errors.Is(err, store.ErrLeaseHeld))

	require.NoError(t, leaser.ReleaseLease(ctx, second))
	_, err = leaser.AcquireLease(ctx, "courtauction", time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, leaser.ReleaseLease(ctx, nil))
}

func TestMemoryLeaser_Renew(t *testing.T) {
	clock := testNow
	leaser := NewMemoryLeaser(func() time.Time { return clock })
	ctx := context.Background()

	lease, err := leaser.AcquireLease(ctx, "courtauction", time.Minute)
	require.NoError(t, err)

	clock = testNow.Add(50 * time.Second)
	renewed, err := leaser.RenewLease(ctx, lease, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, lease.Owner, renewed.Owner)
	assert.Equal(t, clock.Add(time.Minute), renewed.ExpiresAt)

	clock = testNow.Add(90 * time.Second)
	_, err = leaser.AcquireLease(ctx, "courtauction", time.Minute)
	assert.True(t, errors.Is(err, store.ErrLeaseHeld), "renewal keeps the lease past its first expiry")

	stranger := &store.Lease{SourceSite: "courtauction", Owner: "someone-else"}
	_, err = leaser.RenewLease(ctx, stranger, time.Minute)
	assert.True(t, errors.Is(err, store.ErrLeaseHeld))

	require.NoError(t, leaser.ReleaseLease(ctx, renewed))
	_, err = leaser.RenewLease(ctx, renewed, time.Minute)
	assert.True(t, errors.Is(err, store.ErrLeaseHeld), "released lease cannot be renewed")
}
