// Package trim enforces the per-(item, slug) cardinality bound. Trimming
// is asynchronous and best-effort: work items arrive on a multi-producer
// single-consumer queue, duplicates are harmless, and a failed pass is
// simply retried the next time the item is observed.
package trim

import (
	"context"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/internal/extract"
	"github.com/auctionlens/itemtrack/internal/store"
)

// uuidPurgeBatch caps how many uuid-slug rows one pass deletes.
const uuidPurgeBatch = 100

// Queue is the trim work queue: item tags pending cardinality enforcement.
// Enqueue never blocks; when the buffer is full the item is dropped — a
// later read or write observation will re-enqueue it.
type Queue struct {
	ch chan string
	lg *zap.Logger
}

func NewQueue(size int, lg *zap.Logger) *Queue {
	if size < 1 {
		size = 64
	}
	return &Queue{ch: make(chan string, size), lg: lg}
}

// Enqueue schedules a tag for trimming. Duplicate enqueues are fine: the
// consumer is idempotent per item.
func (q *Queue) Enqueue(tag string) {
	select {
	case q.ch <- tag:
	default:
		q.lg.Debug("trim queue full, dropping", zap.String("tag", tag))
	}
}

// Trimmer consumes the queue and prunes over-cap slug groups.
type Trimmer struct {
	store     *store.Store
	queue     *Queue
	valueCap  int
	trimBatch int
	lg        *zap.Logger
}

func New(s *store.Store, q *Queue, valueCap, trimBatch int, lg *zap.Logger) *Trimmer {
	if trimBatch < 1 {
		trimBatch = 5
	}
	return &Trimmer{store: s, queue: q, valueCap: valueCap, trimBatch: trimBatch, lg: lg}
}

// Run consumes trim work until the context is canceled. Errors are logged
// and the work item dropped; nothing here is worth crashing over.
func (t *Trimmer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tag := <-t.queue.ch:
			if err := t.TrimTag(ctx, tag); err != nil {
				t.lg.Warn("trim pass failed", zap.String("tag", tag), zap.Error(err))
			}
		}
	}
}

// TrimTag runs one trim pass over every over-cap slug of the item.
func (t *Trimmer) TrimTag(ctx context.Context, tag string) error {
	ids, err := t.store.ItemIDs(ctx, []string{tag})
	if err != nil {
		return err
	}
	id, ok := ids[tag]
	if !ok {
		return nil
	}
	return t.TrimItem(ctx, id)
}

// TrimItem inspects the item's slug cardinalities and prunes. One call is
// one pass: it removes at most trimBatch cold entries per over-cap slug;
// callers re-invoke (or re-enqueue) until the group is under cap.
func (t *Trimmer) TrimItem(ctx context.Context, itemID int64) error {
	cards, err := t.store.SlugCardinalities(ctx, itemID)
	if err != nil {
		return err
	}
	for slug, n := range cards {
		if extract.UUIDKey(slug) {
			if err := t.purgeUUIDSlug(ctx, itemID, slug); err != nil {
				return err
			}
			continue
		}
		if n <= t.valueCap {
			continue
		}
		if err := t.trimSlug(ctx, itemID, slug, n); err != nil {
			return err
		}
	}
	return nil
}

// trimSlug removes up to trimBatch of the coldest entries of one group,
// never touching the numeric minimum or maximum: range endpoints survive
// so consumers can still bound the attribute's domain.
func (t *Trimmer) trimSlug(ctx context.Context, itemID int64, slug string, distinct int) error {
	group, err := t.store.GroupForSlug(ctx, itemID, slug)
	if err != nil {
		return err
	}

	// The reduction only applies to groups whose values are numeric (or
	// the presence sentinel); free-text groups have no meaningful
	// extremes to preserve and are left to the snapshot-path reduction.
	var minRow, maxRow int64 = -1, -1
	var minVal, maxVal int64
	numeric := true
	for _, m := range group {
		if m.Value == extract.Sentinel {
			continue
		}
		v, err := strconv.ParseInt(m.Value, 10, 64)
		if err != nil {
			numeric = false
			break
		}
		if minRow == -1 || v < minVal {
			minRow, minVal = m.ID, v
		}
		if maxRow == -1 || v > maxVal {
			maxRow, maxVal = m.ID, v
		}
	}
	if !numeric {
		return nil
	}

	// coldest first
	sort.Slice(group, func(i, j int) bool {
		if group[i].FoundCount != group[j].FoundCount {
			return group[i].FoundCount < group[j].FoundCount
		}
		return group[i].ID < group[j].ID
	})

	var victims []int64
	for _, m := range group {
		if len(victims) >= t.trimBatch || distinct-len(victims) <= t.valueCap {
			break
		}
		if m.ID == minRow || m.ID == maxRow {
			continue
		}
		victims = append(victims, m.ID)
	}
	if len(victims) == 0 {
		return nil
	}

	t.lg.Info("trimming over-cap slug",
		zap.Int64("item", itemID), zap.String("slug", slug),
		zap.Int("distinct", distinct), zap.Int("removed", len(victims)))
	return t.store.DeleteModifiers(ctx, victims)
}

// purgeUUIDSlug removes every row of a uuid-suffixed slug, in capped
// batches. Such keys are never worth retaining individually.
func (t *Trimmer) purgeUUIDSlug(ctx context.Context, itemID int64, slug string) error {
	group, err := t.store.GroupForSlug(ctx, itemID, slug)
	if err != nil {
		return err
	}
	if len(group) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(group))
	for _, m := range group {
		ids = append(ids, m.ID)
		if len(ids) >= uuidPurgeBatch {
			break
		}
	}
	t.lg.Info("purging uuid slug",
		zap.Int64("item", itemID), zap.String("slug", slug), zap.Int("rows", len(ids)))
	return t.store.DeleteModifiers(ctx, ids)
}
