// Package snapshot maintains the denormalized cross-item view of all
// modifiers, cached with a staleness bound. The cache is single-writer
// many-reader: rebuilds swap the whole view in one step and a failed
// rebuild leaves the previous snapshot serving.
package snapshot

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/extract"
	"github.com/auctionlens/itemtrack/internal/store"
)

// excludedSlugs are low-value keys never exposed in the wildcard view.
var excludedSlugs = map[string]struct{}{
	"uid":        {},
	"exp":        {},
	"spawnedFor": {},
	"bossId":     {},
	"hideInfo":   {},
	"active":     {},
}

// Cache holds the wildcard modifier snapshot.
type Cache struct {
	store     *store.Store
	ttl       time.Duration
	maxValues int
	// patholCap triggers the heavy per-item reduction during forced
	// rebuilds for slugs with more distinct values than this.
	patholCap int
	lg        *zap.Logger

	sf    singleflight.Group
	mu    sync.RWMutex
	view  map[string][]string
	built time.Time
}

func New(s *store.Store, ttl time.Duration, maxValues, patholCap int, lg *zap.Logger) *Cache {
	if maxValues < 2 {
		maxValues = 2
	}
	return &Cache{
		store:     s,
		ttl:       ttl,
		maxValues: maxValues,
		patholCap: patholCap,
		lg:        lg,
	}
}

// Get returns the snapshot, rebuilding when stale, empty, or forced.
// Concurrent callers share one rebuild. A rebuild failure serves the last
// good snapshot; only a cold cache with no previous view surfaces the
// error. The returned map is shared and must not be mutated.
func (c *Cache) Get(ctx context.Context, force bool) (map[string][]string, error) {
	c.mu.RLock()
	fresh := !c.built.IsZero() && time.Since(c.built) < c.ttl
	view := c.view
	c.mu.RUnlock()

	if fresh && !force {
		return view, nil
	}

	// Forced rebuilds fly under their own key: joining a plain rebuild
	// would skip the pathological reduction the caller asked for.
	key := "rebuild"
	if force {
		key = "rebuild-force"
	}
	_, err, _ := c.sf.Do(key, func() (any, error) {
		// another flight may have finished while we queued
		c.mu.RLock()
		done := !c.built.IsZero() && time.Since(c.built) < c.ttl
		c.mu.RUnlock()
		if done && !force {
			return nil, nil
		}
		return nil, c.rebuild(ctx, force)
	})

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err != nil {
		if c.view != nil {
			c.lg.Warn("serving stale snapshot after rebuild failure", zap.Error(err))
			return c.view, nil
		}
		return nil, err
	}
	return c.view, nil
}

// Age reports how old the current snapshot is; zero when never built.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.built.IsZero() {
		return 0
	}
	return time.Since(c.built)
}

// valueStat folds one (slug, value) across all items.
type valueStat struct {
	value string
	count int64
	kind  api.ValueKind
}

// slugAgg accumulates one slug during the scan.
type slugAgg struct {
	values map[string]*valueStat
	// items tracks which item rows contribute to the slug, for the
	// forced-rebuild reduction of pathological slugs.
	items *roaring64.Bitmap
}

func (c *Cache) rebuild(ctx context.Context, force bool) error {
	start := time.Now()

	agg, err := c.scan(ctx)
	if err != nil {
		return err
	}

	if force {
		if err := c.reducePathological(ctx, agg); err != nil {
			// reduction is housekeeping; the view can still be built
			c.lg.Warn("pathological slug reduction failed", zap.Error(err))
		}
	}

	view := make(map[string][]string, len(agg))
	for slug, a := range agg {
		view[slug] = rankValues(a.values, c.maxValues)
	}

	c.mu.Lock()
	c.view = view
	c.built = time.Now()
	c.mu.Unlock()

	c.lg.Info("snapshot rebuilt",
		zap.Int("slugs", len(view)),
		zap.Bool("forced", force),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Cache) scan(ctx context.Context) (map[string]*slugAgg, error) {
	agg := make(map[string]*slugAgg)
	err := c.store.AllModifiers(ctx, func(m store.Modifier) error {
		if _, excluded := excludedSlugs[m.Slug]; excluded || extract.UUIDKey(m.Slug) {
			return nil
		}
		a := agg[m.Slug]
		if a == nil {
			a = &slugAgg{values: make(map[string]*valueStat), items: roaring64.New()}
			agg[m.Slug] = a
		}
		vs := a.values[m.Value]
		if vs == nil {
			vs = &valueStat{value: m.Value, kind: m.Kind}
			a.values[m.Value] = vs
		}
		vs.count += m.FoundCount
		a.items.Add(uint64(m.ItemID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// reducePathological collapses slugs with extreme cardinality: for each
// owning item, only the numeric minimum and maximum rows survive. Runs
// only on forced rebuilds, never on the hot read path.
func (c *Cache) reducePathological(ctx context.Context, agg map[string]*slugAgg) error {
	for slug, a := range agg {
		if len(a.values) <= c.patholCap {
			continue
		}
		c.lg.Info("reducing pathological slug",
			zap.String("slug", slug), zap.Int("distinct", len(a.values)),
			zap.Uint64("items", a.items.GetCardinality()))

		survivors := make(map[string]*valueStat)
		it := a.items.Iterator()
		for it.HasNext() {
			itemID := int64(it.Next())
			group, err := c.store.GroupForSlug(ctx, itemID, slug)
			if err != nil {
				return err
			}
			kept, victims := splitExtremes(group)
			if len(victims) > 0 {
				if err := c.store.DeleteModifiers(ctx, victims); err != nil {
					return err
				}
			}
			for _, m := range kept {
				vs := survivors[m.Value]
				if vs == nil {
					vs = &valueStat{value: m.Value, kind: m.Kind}
					survivors[m.Value] = vs
				}
				vs.count += m.FoundCount
			}
		}
		a.values = survivors
	}
	return nil
}

// splitExtremes keeps the numeric min and max rows of a group and marks
// everything else for deletion. Groups without numeric values keep the
// single hottest row instead so the slug does not vanish entirely.
func splitExtremes(group []store.Modifier) (kept []store.Modifier, victims []int64) {
	var minIdx, maxIdx = -1, -1
	var minVal, maxVal int64
	for i, m := range group {
		if m.Kind != api.KindInteger {
			continue
		}
		v, err := strconv.ParseInt(m.Value, 10, 64)
		if err != nil {
			continue
		}
		if minIdx == -1 || v < minVal {
			minIdx, minVal = i, v
		}
		if maxIdx == -1 || v > maxVal {
			maxIdx, maxVal = i, v
		}
	}
	if minIdx == -1 {
		hot := 0
		for i := range group {
			if group[i].FoundCount > group[hot].FoundCount {
				hot = i
			}
		}
		for i, m := range group {
			if i == hot {
				kept = append(kept, m)
			} else {
				victims = append(victims, m.ID)
			}
		}
		return kept, victims
	}
	for i, m := range group {
		if i == minIdx || i == maxIdx {
			kept = append(kept, m)
		} else {
			victims = append(victims, m.ID)
		}
	}
	return kept, victims
}

// rankValues orders a slug's values by the composite rank and truncates
// to maxValues, always appending the true tail element so the range end
// is visible even when cut off.
func rankValues(values map[string]*valueStat, maxValues int) []string {
	stats := make([]*valueStat, 0, len(values))
	for _, vs := range values {
		stats = append(stats, vs)
	}
	sort.Slice(stats, func(i, j int) bool {
		ri, rj := rankOf(stats[i]), rankOf(stats[j])
		if ri != rj {
			return ri < rj
		}
		return stats[i].value < stats[j].value
	})

	out := make([]string, 0, maxValues+1)
	if len(stats) <= maxValues {
		for _, vs := range stats {
			out = append(out, vs.value)
		}
		return out
	}
	for _, vs := range stats[:maxValues] {
		out = append(out, vs.value)
	}
	return append(out, stats[len(stats)-1].value)
}

// rankOf computes the composite ordering key. Small non-negative integers
// come first, negative numerics after all non-negative ones, and
// non-numeric values last, hot-and-short before cold-and-long.
func rankOf(vs *valueStat) float64 {
	if vs.kind == api.KindInteger {
		v, err := strconv.ParseInt(vs.value, 10, 64)
		if err == nil {
			if v >= 0 {
				return float64(v)
			}
			return 1e12 + float64(-v)
		}
	}
	return 2e12 + float64(len(vs.value))*16 - float64(vs.count)
}
