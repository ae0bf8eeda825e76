package localqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/sale"
)

var testBusiness = id.MustParse("0191e1a0-0000-7000-8000-0000000000cc")

func testSale() sale.Sale {
	return sale.Sale{
		BusinessID:   testBusiness,
		DocumentType: series.TypeBoleta,
		Customer:     sale.Customer{Name: "Cliente Varios", DocType: "dni", DocNumber: "45678912"},
		Items: []sale.Item{
			{Description: "Ceviche mixto", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromFloat(35.00), Affectation: sale.TaxGravado},
		},
		OpGravada:     decimal.NewFromFloat(29.66),
		IGV:           decimal.NewFromFloat(5.34),
		Total:         decimal.NewFromFloat(35.00),
		PaymentMethod: sale.PaymentYape,
	}
}

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline.db")
	q, err := Open(DefaultConfig(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, path
}

func TestEnqueueAndListPendingFIFO(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	var ids []id.ID
	for i := 0; i < 3; i++ {
		localID, err := q.Enqueue(ctx, testSale())
		require.NoError(t, err)
		ids = append(ids, localID)
		time.Sleep(2 * time.Millisecond) // distinct capture timestamps
	}

	pending, err := q.ListPending(ctx, testBusiness)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, queued := range pending {
		assert.Equal(t, ids[i], queued.LocalID)
		assert.Equal(t, sale.StatePending, queued.State)
		assert.Equal(t, testBusiness, queued.Payload.BusinessID)
		assert.True(t, queued.Payload.Total.Equal(decimal.NewFromFloat(35.00)))
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()

	q, err := Open(DefaultConfig(path), nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(ctx, testSale())
		require.NoError(t, err)
	}
	require.NoError(t, q.Close())

	// Process restart.
	q, err = Open(DefaultConfig(path), nil)
	require.NoError(t, err)
	defer q.Close()

	pending, err := q.ListPending(ctx, testBusiness)
	require.NoError(t, err)
	assert.Len(t, pending, 10)

	count, err := q.Count(ctx, testBusiness)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestMarkStateAndRemove(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	localID, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)

	require.NoError(t, q.MarkState(ctx, localID, sale.StateSyncing))
	pending, err := q.ListPending(ctx, testBusiness)
	require.NoError(t, err)
	assert.Empty(t, pending, "syncing sales are not pending")

	require.NoError(t, q.Remove(ctx, localID))
	all, err := q.ListAll(ctx, testBusiness)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMarkStateUnknownSale(t *testing.T) {
	q, _ := openTestQueue(t)
	err := q.MarkState(context.Background(), id.New(), sale.StateSyncing)
	assert.True(t, apperror.IsNotFound(err))
}

func TestMarkFailedRetryBudget(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	localID, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)

	// Two transient failures bounce back to pending.
	for i := 1; i <= 2; i++ {
		require.NoError(t, q.MarkFailed(ctx, localID, "allocation conflict", false))
		all, err := q.ListAll(ctx, testBusiness)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, sale.StatePending, all[0].State)
		assert.Equal(t, i, all[0].RetryCount)
		assert.Equal(t, "allocation conflict", all[0].LastError)
	}

	// Third failure exhausts the budget.
	require.NoError(t, q.MarkFailed(ctx, localID, "allocation conflict", false))
	all, err := q.ListAll(ctx, testBusiness)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, sale.StateFailed, all[0].State)
}

func TestMarkFailedPermanent(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	localID, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)

	require.NoError(t, q.MarkFailed(ctx, localID, "missing items", true))
	all, err := q.ListAll(ctx, testBusiness)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, sale.StateFailed, all[0].State)
}

func TestResetStale(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	localID, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)
	require.NoError(t, q.MarkState(ctx, localID, sale.StateSyncing))

	// Fresh syncing sales are left alone.
	n, err := q.ResetStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Anything older than the threshold goes back to pending.
	time.Sleep(5 * time.Millisecond)
	n, err = q.ResetStale(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.ListPending(ctx, testBusiness)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDiscardOnlyFailedSales(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	localID, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)

	// Pending sales cannot be discarded.
	err = q.Discard(ctx, localID)
	assert.True(t, apperror.IsNotFound(err))

	require.NoError(t, q.MarkFailed(ctx, localID, "bad payload", true))
	require.NoError(t, q.Discard(ctx, localID))

	count, err := q.Count(ctx, testBusiness)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPurgeSyncedLeavesBacklogAlone(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	synced, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)
	pending, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)
	failed, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)

	require.NoError(t, q.MarkState(ctx, synced, sale.StateSynced))
	require.NoError(t, q.MarkFailed(ctx, failed, "bad payload", true))

	n, err := q.PurgeSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := q.ListAll(ctx, testBusiness)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, queued := range all {
		assert.NotEqual(t, synced, queued.LocalID)
	}
	assert.Equal(t, pending, all[0].LocalID)

	// Nothing left to purge on a second pass.
	n, err = q.PurgeSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountIncludesFailed(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, testSale())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testSale())
	require.NoError(t, err)

	require.NoError(t, q.MarkFailed(ctx, a, "bad payload", true))

	count, err := q.Count(ctx, testBusiness)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
