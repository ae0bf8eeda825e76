package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
)

// openTestPool connects to the database named by TEST_DATABASE_URL and runs
// migrations. Tests using it are skipped when the variable is unset, so the
// suite stays runnable without a live Postgres.
func openTestPool(t *testing.T) *Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, DefaultPoolConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func testKey(t *testing.T) series.Key {
	t.Helper()
	return series.Key{
		BusinessID:   id.New(),
		DocumentType: series.TypeBoleta,
	}
}

func TestCompareAndSwapFirstAllocation(t *testing.T) {
	pool := openTestPool(t)
	store := NewSeriesStore(NewTxManager(pool))
	ctx := context.Background()
	key := testKey(t)

	won, err := store.CompareAndSwap(ctx, key, "B001", 0, 1)
	require.NoError(t, err)
	assert.True(t, won, "first allocation creates the row and wins")

	sr, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sr)
	assert.Equal(t, "B001", sr.Label)
	assert.Equal(t, int64(1), sr.LastNumber)
}

func TestCompareAndSwapZeroExpectedLosesAgainstAdvancedRow(t *testing.T) {
	pool := openTestPool(t)
	store := NewSeriesStore(NewTxManager(pool))
	ctx := context.Background()
	key := testKey(t)

	won, err := store.CompareAndSwap(ctx, key, "B001", 0, 1)
	require.NoError(t, err)
	require.True(t, won)

	// A terminal that read last_number before the row existed now races the
	// upsert path. The conflict arm's guard must reject it: the row is past
	// the baseline, so zero rows are affected.
	won, err = store.CompareAndSwap(ctx, key, "B001", 0, 1)
	require.NoError(t, err)
	assert.False(t, won, "upsert against an advanced row must not overwrite it")

	sr, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sr)
	assert.Equal(t, int64(1), sr.LastNumber, "counter untouched by the losing upsert")
}

func TestCompareAndSwapStaleExpectedLoses(t *testing.T) {
	pool := openTestPool(t)
	store := NewSeriesStore(NewTxManager(pool))
	ctx := context.Background()
	key := testKey(t)

	won, err := store.CompareAndSwap(ctx, key, "B001", 0, 1)
	require.NoError(t, err)
	require.True(t, won)
	won, err = store.CompareAndSwap(ctx, key, "B001", 1, 2)
	require.NoError(t, err)
	require.True(t, won)

	// Stale read: the counter already moved to 2.
	won, err = store.CompareAndSwap(ctx, key, "B001", 1, 2)
	require.NoError(t, err)
	assert.False(t, won)

	// A fresh read wins.
	won, err = store.CompareAndSwap(ctx, key, "B001", 2, 3)
	require.NoError(t, err)
	assert.True(t, won)

	sr, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sr)
	assert.Equal(t, int64(3), sr.LastNumber)
}

func TestCompareAndSwapBranchKeysAreIndependent(t *testing.T) {
	pool := openTestPool(t)
	store := NewSeriesStore(NewTxManager(pool))
	ctx := context.Background()

	businessID := id.New()
	branchA := id.New()
	branchB := id.New()
	keyA := series.Key{BusinessID: businessID, BranchID: &branchA, DocumentType: series.TypeFactura}
	keyB := series.Key{BusinessID: businessID, BranchID: &branchB, DocumentType: series.TypeFactura}

	won, err := store.CompareAndSwap(ctx, keyA, "F001", 0, 1)
	require.NoError(t, err)
	require.True(t, won)

	// The sibling branch starts its own counter; keyA's row is no conflict.
	won, err = store.CompareAndSwap(ctx, keyB, "F002", 0, 1)
	require.NoError(t, err)
	assert.True(t, won)

	sr, err := store.Get(ctx, keyB)
	require.NoError(t, err)
	require.NotNil(t, sr)
	assert.Equal(t, "F002", sr.Label)
}

func TestConfigureNeverRegressesCounter(t *testing.T) {
	pool := openTestPool(t)
	store := NewSeriesStore(NewTxManager(pool))
	ctx := context.Background()
	key := testKey(t)

	won, err := store.CompareAndSwap(ctx, key, "B001", 0, 1)
	require.NoError(t, err)
	require.True(t, won)
	won, err = store.CompareAndSwap(ctx, key, "B001", 1, 2)
	require.NoError(t, err)
	require.True(t, won)

	// Re-configuring with a lower baseline keeps the issued high-water mark.
	require.NoError(t, store.Configure(ctx, key, "B777", 0))

	sr, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sr)
	assert.Equal(t, "B777", sr.Label)
	assert.Equal(t, int64(2), sr.LastNumber)

	// A higher baseline does move it forward.
	require.NoError(t, store.Configure(ctx, key, "B777", 100))
	sr, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sr.LastNumber)
}

func TestCompareAndSwapContendedAllocations(t *testing.T) {
	pool := openTestPool(t)
	store := NewSeriesStore(NewTxManager(pool))
	ctx := context.Background()
	key := testKey(t)

	// Simulate two terminals interleaving reads and swaps: exactly one wins
	// each round, and the counter never repeats a value.
	const rounds = 20
	for i := 0; i < rounds; i++ {
		sr, err := store.Get(ctx, key)
		require.NoError(t, err)
		var expected int64
		if sr != nil {
			expected = sr.LastNumber
		}

		won, err := store.CompareAndSwap(ctx, key, "B001", expected, expected+1)
		require.NoError(t, err)
		require.True(t, won)

		// The loser replays the same expected value and must be rejected.
		won, err = store.CompareAndSwap(ctx, key, "B001", expected, expected+1)
		require.NoError(t, err)
		require.False(t, won, fmt.Sprintf("round %d: duplicate swap accepted", i))
	}

	sr, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sr)
	assert.Equal(t, int64(rounds), sr.LastNumber)
}
