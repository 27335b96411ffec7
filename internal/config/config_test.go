package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	assert.Equal(t, "itemtrack.db", cfg.DBPath)
	assert.Equal(t, int64(5), cfg.Tracking.SampleMod)
	assert.Equal(t, 150, cfg.Tracking.ValueCap)
	assert.Equal(t, 2*time.Hour, cfg.SnapshotTTL())
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itemtrack.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path   = "/var/lib/itemtrack/items.db"
http_addr = ":9090"

tracking {
  sample_mod = 1
  value_cap  = 80
}

snapshot {
  ttl_minutes = 30
}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/itemtrack/items.db", cfg.DBPath)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, int64(1), cfg.Tracking.SampleMod)
	assert.Equal(t, 80, cfg.Tracking.ValueCap)
	assert.Equal(t, 30*time.Minute, cfg.SnapshotTTL())

	// Fields the file does not mention keep their defaults.
	assert.Equal(t, 5, cfg.Tracking.TrimBatch)
	assert.Equal(t, 189, cfg.Snapshot.MaxValues)
	assert.Equal(t, "0 3 * * *", cfg.Refresh.Schedule)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`tracking { sample_mod = `), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	cfg := Default()
	min := time.Duration(cfg.Tracking.BackoffMinMS) * time.Millisecond
	max := time.Duration(cfg.Tracking.BackoffMaxMS) * time.Millisecond
	for attempt := 1; attempt <= cfg.Tracking.MaxAttempts; attempt++ {
		for i := 0; i < 50; i++ {
			d := cfg.Backoff(attempt)
			assert.GreaterOrEqual(t, d, min)
			assert.LessOrEqual(t, d, max)
		}
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	cfg := Default()
	// With the default bounds the attempt base offsets dwarf the random
	// span, so a later attempt always waits at least as long as the
	// floor of the next one.
	span := (time.Duration(cfg.Tracking.BackoffMaxMS-cfg.Tracking.BackoffMinMS) * time.Millisecond) /
		time.Duration(cfg.Tracking.MaxAttempts)
	first := cfg.Backoff(1)
	third := cfg.Backoff(3)
	assert.Less(t, first, time.Duration(cfg.Tracking.BackoffMinMS)*time.Millisecond+span+time.Millisecond)
	assert.GreaterOrEqual(t, third, time.Duration(cfg.Tracking.BackoffMinMS)*time.Millisecond+2*span)
}
