// Package config loads the itemtrack configuration from an HCL file and
// constructs the shared logger. All tunables have working defaults so the
// service runs with no config file at all.
package config

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"go.uber.org/zap"
)

// Config is the root configuration block.
type Config struct {
	DBPath   string `hcl:"db_path,optional"`
	HTTPAddr string `hcl:"http_addr,optional"`
	// WatchDir is where the file batch source looks for auction dumps.
	WatchDir string `hcl:"watch_dir,optional"`
	Debug    bool   `hcl:"debug,optional"`

	Tracking *Tracking `hcl:"tracking,block"`
	Snapshot *Snapshot `hcl:"snapshot,block"`
	Refresh  *Refresh  `hcl:"refresh,block"`
}

// Tracking tunes the extraction/reconciliation pipeline.
type Tracking struct {
	// SampleMod gates detail extraction: an auction is sampled when
	// uid % SampleMod == 1. The coarse item row is written regardless.
	SampleMod int64 `hcl:"sample_mod,optional"`
	// ValueCap bounds distinct values per (item, slug).
	ValueCap int `hcl:"value_cap,optional"`
	// TrimBatch is how many cold entries one trim pass removes.
	TrimBatch int `hcl:"trim_batch,optional"`
	// BatchSize is how many auctions one consumed batch holds.
	BatchSize   int `hcl:"batch_size,optional"`
	MaxAttempts int `hcl:"max_attempts,optional"`
	// BackoffMinMS/BackoffMaxMS bound the randomized retry backoff.
	BackoffMinMS int `hcl:"backoff_min_ms,optional"`
	BackoffMaxMS int `hcl:"backoff_max_ms,optional"`
	// Workers bounds parallel extraction within a batch.
	Workers int `hcl:"workers,optional"`
}

// Snapshot tunes the wildcard modifier snapshot.
type Snapshot struct {
	TTLMinutes int `hcl:"ttl_minutes,optional"`
	// MaxValues bounds how many values one slug exposes in the snapshot.
	MaxValues int `hcl:"max_values,optional"`
	// PathologicalCap triggers the heavy per-item reduction during a
	// forced rebuild for slugs with more distinct values than this.
	PathologicalCap int `hcl:"pathological_cap,optional"`
}

// Refresh configures the optional upstream catalog jobs.
type Refresh struct {
	ItemsURL  string `hcl:"items_url,optional"`
	BazaarURL string `hcl:"bazaar_url,optional"`
	// Schedule is a cron expression; applies to both jobs.
	Schedule string `hcl:"schedule,optional"`
	// SnapshotSchedule forces a snapshot rebuild on this cron expression.
	SnapshotSchedule string `hcl:"snapshot_schedule,optional"`
	IconBaseURL      string `hcl:"icon_base_url,optional"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DBPath:   "itemtrack.db",
		HTTPAddr: ":8080",
		WatchDir: "batches",
		Tracking: &Tracking{
			SampleMod:    5,
			ValueCap:     150,
			TrimBatch:    5,
			BatchSize:    100,
			MaxAttempts:  3,
			BackoffMinMS: 100,
			BackoffMaxMS: 10000,
			Workers:      8,
		},
		Snapshot: &Snapshot{
			TTLMinutes:      120,
			MaxValues:       189,
			PathologicalCap: 1250,
		},
		Refresh: &Refresh{
			Schedule:         "0 3 * * *",
			SnapshotSchedule: "30 */4 * * *",
			IconBaseURL:      "https://sky.coflnet.com/static/icon",
		},
	}
}

// Load reads path and overlays it on the defaults. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	var file Config
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	merge(cfg, &file)
	return cfg, nil
}

func merge(base, over *Config) {
	if over.DBPath != "" {
		base.DBPath = over.DBPath
	}
	if over.HTTPAddr != "" {
		base.HTTPAddr = over.HTTPAddr
	}
	if over.WatchDir != "" {
		base.WatchDir = over.WatchDir
	}
	if over.Debug {
		base.Debug = true
	}
	if t := over.Tracking; t != nil {
		b := base.Tracking
		if t.SampleMod > 0 {
			b.SampleMod = t.SampleMod
		}
		if t.ValueCap > 0 {
			b.ValueCap = t.ValueCap
		}
		if t.TrimBatch > 0 {
			b.TrimBatch = t.TrimBatch
		}
		if t.BatchSize > 0 {
			b.BatchSize = t.BatchSize
		}
		if t.MaxAttempts > 0 {
			b.MaxAttempts = t.MaxAttempts
		}
		if t.BackoffMinMS > 0 {
			b.BackoffMinMS = t.BackoffMinMS
		}
		if t.BackoffMaxMS > 0 {
			b.BackoffMaxMS = t.BackoffMaxMS
		}
		if t.Workers > 0 {
			b.Workers = t.Workers
		}
	}
	if s := over.Snapshot; s != nil {
		b := base.Snapshot
		if s.TTLMinutes > 0 {
			b.TTLMinutes = s.TTLMinutes
		}
		if s.MaxValues > 0 {
			b.MaxValues = s.MaxValues
		}
		if s.PathologicalCap > 0 {
			b.PathologicalCap = s.PathologicalCap
		}
	}
	if r := over.Refresh; r != nil {
		b := base.Refresh
		if r.ItemsURL != "" {
			b.ItemsURL = r.ItemsURL
		}
		if r.BazaarURL != "" {
			b.BazaarURL = r.BazaarURL
		}
		if r.Schedule != "" {
			b.Schedule = r.Schedule
		}
		if r.SnapshotSchedule != "" {
			b.SnapshotSchedule = r.SnapshotSchedule
		}
		if r.IconBaseURL != "" {
			b.IconBaseURL = r.IconBaseURL
		}
	}
}

// SnapshotTTL returns the snapshot time-to-live as a duration.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Snapshot.TTLMinutes) * time.Minute
}

// Backoff returns the retry backoff for the given attempt (1-based):
// a random duration within the configured bounds, biased upward with
// the attempt number. Pure modulo the rand source, so tests can swap
// the whole function for a zero-duration policy.
func (c *Config) Backoff(attempt int) time.Duration {
	min := time.Duration(c.Tracking.BackoffMinMS) * time.Millisecond
	max := time.Duration(c.Tracking.BackoffMaxMS) * time.Millisecond
	if max <= min {
		return min
	}
	span := int64(max-min) / int64(c.Tracking.MaxAttempts)
	base := min + time.Duration(span*int64(attempt-1))
	return base + time.Duration(rand.Int63n(int64(span)+1))
}

// Logger builds the process logger. Debug mode switches to the
// development encoder.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
