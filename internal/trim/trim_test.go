package trim

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedNumericGroup inserts distinct numeric values 0..n-1 with the given
// per-value counts (cold entries get count 0).
func seedNumericGroup(t *testing.T, s *store.Store, itemID int64, slug string, n int) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		count := int64(i % 7) // a spread of hot and cold entries
		require.NoError(t, tx.InsertModifier(ctx, itemID, slug, strconv.Itoa(i), count))
	}
	require.NoError(t, tx.Commit())
}

func distinctValues(t *testing.T, s *store.Store, itemID int64, slug string) map[string]struct{} {
	t.Helper()
	group, err := s.GroupForSlug(context.Background(), itemID, slug)
	require.NoError(t, err)
	out := make(map[string]struct{}, len(group))
	for _, m := range group {
		out[m.Value] = struct{}{}
	}
	return out
}

func TestTrimRemovesColdPreservesExtremes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	itemID, _, err := s.EnsureItem(ctx, "SWORD", "", api.CategorySword, api.TierRare)
	require.NoError(t, err)

	// 160 distinct numeric values, cap 150
	seedNumericGroup(t, s, itemID, "uses", 160)

	tr := New(s, NewQueue(8, zap.NewNop()), 150, 5, zap.NewNop())
	require.NoError(t, tr.TrimItem(ctx, itemID))

	values := distinctValues(t, s, itemID, "uses")
	assert.Equal(t, 155, len(values), "one pass removes the trim batch")
	_, hasMin := values["0"]
	_, hasMax := values["159"]
	assert.True(t, hasMin, "minimum survives")
	assert.True(t, hasMax, "maximum survives")
}

func TestTrimConvergesUnderCap(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	itemID, _, err := s.EnsureItem(ctx, "SWORD", "", api.CategorySword, api.TierRare)
	require.NoError(t, err)
	seedNumericGroup(t, s, itemID, "uses", 170)

	tr := New(s, NewQueue(8, zap.NewNop()), 150, 5, zap.NewNop())
	// external caller re-invokes passes until under cap
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.TrimItem(ctx, itemID))
	}

	values := distinctValues(t, s, itemID, "uses")
	assert.LessOrEqual(t, len(values), 150)
	_, hasMin := values["0"]
	_, hasMax := values["169"]
	assert.True(t, hasMin)
	assert.True(t, hasMax)
}

func TestTrimIdempotentUnderCap(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	itemID, _, err := s.EnsureItem(ctx, "SWORD", "", api.CategorySword, api.TierRare)
	require.NoError(t, err)
	seedNumericGroup(t, s, itemID, "uses", 20)

	tr := New(s, NewQueue(8, zap.NewNop()), 150, 5, zap.NewNop())
	require.NoError(t, tr.TrimItem(ctx, itemID))
	assert.Len(t, distinctValues(t, s, itemID, "uses"), 20, "under cap is a no-op")
}

func TestTrimLeavesTextGroupsAlone(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	itemID, _, err := s.EnsureItem(ctx, "BOOK", "", api.CategoryUnknown, api.TierCommon)
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		require.NoError(t, tx.InsertModifier(ctx, itemID, "title", "t"+strconv.Itoa(i), 0))
	}
	require.NoError(t, tx.Commit())

	tr := New(s, NewQueue(8, zap.NewNop()), 10, 5, zap.NewNop())
	require.NoError(t, tr.TrimItem(ctx, itemID))
	assert.Len(t, distinctValues(t, s, itemID, "title"), 12)
}

func TestTrimPurgesUUIDSlugs(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	itemID, _, err := s.EnsureItem(ctx, "SWORD", "", api.CategorySword, api.TierRare)
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		require.NoError(t, tx.InsertModifier(ctx, itemID, "owner_uuid", uuid.NewString(), 5))
	}
	require.NoError(t, tx.Commit())

	tr := New(s, NewQueue(8, zap.NewNop()), 150, 5, zap.NewNop())
	require.NoError(t, tr.TrimItem(ctx, itemID))

	assert.Empty(t, distinctValues(t, s, itemID, "owner_uuid"),
		"uuid slugs purged regardless of occurrence count")
}

func TestQueueConsumerProcessesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	itemID, _, err := s.EnsureItem(ctx, "SWORD", "", api.CategorySword, api.TierRare)
	require.NoError(t, err)
	seedNumericGroup(t, s, itemID, "uses", 20)

	q := NewQueue(8, zap.NewNop())
	tr := New(s, q, 10, 5, zap.NewNop())

	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	q.Enqueue("SWORD")
	q.Enqueue("SWORD") // duplicate is harmless

	require.Eventually(t, func() bool {
		group, err := s.GroupForSlug(context.Background(), itemID, "uses")
		return err == nil && len(group) <= 15
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestQueueEnqueueNeverBlocks(t *testing.T) {
	q := NewQueue(2, zap.NewNop())
	for i := 0; i < 100; i++ {
		q.Enqueue("TAG") // overflow is dropped, not blocking
	}
}
