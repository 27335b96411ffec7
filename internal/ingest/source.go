// Package ingest is the boundary to the auction batch source. Delivery is
// at-least-once: a batch may be observed twice, which the tracker absorbs
// as approximate statistics (occurrence counts accumulate, they are not
// exact).
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
)

// Source delivers auction batches. Implementations own their transport;
// the tracker only folds what arrives.
type Source interface {
	// Batches emits batches until ctx is canceled; the channel closes
	// when the source is exhausted or stopped.
	Batches(ctx context.Context) <-chan []api.Auction
}

// FileSource watches a directory for .jsonl auction dumps (one auction
// per line) and emits them in fixed-size batches. A consumed file is
// renamed with a .done suffix, so a crash between read and rename
// re-delivers — the at-least-once contract.
type FileSource struct {
	dir       string
	batchSize int
	interval  time.Duration
	lg        *zap.Logger
}

func NewFileSource(dir string, batchSize int, interval time.Duration, lg *zap.Logger) *FileSource {
	if batchSize < 1 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FileSource{dir: dir, batchSize: batchSize, interval: interval, lg: lg}
}

// Batches implements Source.
func (f *FileSource) Batches(ctx context.Context) <-chan []api.Auction {
	out := make(chan []api.Auction)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			f.drainDir(ctx, out)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func (f *FileSource) drainDir(ctx context.Context, out chan<- []api.Auction) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			f.lg.Warn("reading watch dir", zap.Error(err))
		}
		return
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
			files = append(files, filepath.Join(f.dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, path := range files {
		if ctx.Err() != nil {
			return
		}
		if err := f.emitFile(ctx, path, out); err != nil {
			f.lg.Warn("processing batch file", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := os.Rename(path, path+".done"); err != nil {
			f.lg.Warn("marking batch file done", zap.String("file", path), zap.Error(err))
		}
	}
}

func (f *FileSource) emitFile(ctx context.Context, path string, out chan<- []api.Auction) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var batch []api.Auction
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		select {
		case out <- batch:
			batch = nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var a api.Auction
		if err := json.Unmarshal(raw, &a); err != nil {
			f.lg.Warn("skipping malformed auction line",
				zap.String("file", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		batch = append(batch, a)
		if len(batch) >= f.batchSize {
			if !flush() {
				return ctx.Err()
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	if !flush() {
		return ctx.Err()
	}
	return nil
}
