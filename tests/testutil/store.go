package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/store"
)

// Receipts are read receipts saved into a test store before it is used.
type Receipts map[string][]int64

// NewTestStore opens an in-memory receipt store with migrations applied and
// every seed saved. The store is closed when the test finishes.
func NewTestStore(t *testing.T, seeds ...Receipts) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening receipt store")
	t.Cleanup(func() {
		require.NoError(t, s.Close(), "closing receipt store")
	})

	ctx := context.Background()
	for _, seed := range seeds {
		for account, ids := range seed {
			require.NoError(t, s.SaveReadReceipts(ctx, account, ids), "seeding receipts for %s", account)
		}
	}
	return s
}
