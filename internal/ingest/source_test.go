package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
)

func writeBatchFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func collect(t *testing.T, src *FileSource, want int) []api.Auction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []api.Auction
	for batch := range src.Batches(ctx) {
		got = append(got, batch...)
		if len(got) >= want {
			cancel()
		}
	}
	require.Len(t, got, want)
	return got
}

func TestFileSourceEmitsBatchesAndMarksDone(t *testing.T) {
	dir := t.TempDir()
	path := writeBatchFile(t, dir, "a.jsonl",
		`{"tag":"HYPERION","itemName":"Hyperion","uid":1}`,
		`{"tag":"HYPERION","itemName":"Hyperion","uid":2}`,
		`{"tag":"TERMINATOR","itemName":"Terminator","uid":3}`,
	)

	src := NewFileSource(dir, 2, 10*time.Millisecond, zap.NewNop())
	got := collect(t, src, 3)

	assert.Equal(t, int64(1), got[0].UID)
	assert.Equal(t, "TERMINATOR", got[2].Tag)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "consumed file renamed away")
	_, err = os.Stat(path + ".done")
	assert.NoError(t, err)
}

func TestFileSourceSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "a.jsonl",
		`{"tag":"HYPERION","uid":1}`,
		`{not json`,
		`{"tag":"HYPERION","uid":2}`,
	)

	src := NewFileSource(dir, 100, 10*time.Millisecond, zap.NewNop())
	got := collect(t, src, 2)
	assert.Equal(t, int64(2), got[1].UID)
}

func TestFileSourceProcessesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, dir, "b.jsonl", `{"tag":"X","uid":2}`)
	writeBatchFile(t, dir, "a.jsonl", `{"tag":"X","uid":1}`)
	writeBatchFile(t, dir, "ignored.json", `{"tag":"X","uid":99}`)

	src := NewFileSource(dir, 100, 10*time.Millisecond, zap.NewNop())
	got := collect(t, src, 2)
	assert.Equal(t, int64(1), got[0].UID)
	assert.Equal(t, int64(2), got[1].UID)
}

func TestFileSourceClosesOnCancel(t *testing.T) {
	src := NewFileSource(t.TempDir(), 10, 10*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	ch := src.Batches(ctx)
	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
