// Package reconcile merges in-memory batch frequency tables into the
// persisted store. It is the only writer of fine-grained modifier counts;
// correctness under concurrent reconcilers relies on the store's
// optimistic-concurrency commit plus the bounded retry loop here, at the
// cost of occasionally creating duplicate rows that the next pass merges.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/aggregate"
	"github.com/auctionlens/itemtrack/internal/extract"
	"github.com/auctionlens/itemtrack/internal/store"
)

// RetryPolicy bounds the conflict retry loop. Backoff is a pure function
// of the attempt number so tests can inject a zero-duration policy.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Classifier supplies the fallback category for a brand-new item row.
// Classification itself lives outside this package.
type Classifier func(a api.Auction) api.ItemCategory

// Reconciler folds batch counts into the store.
type Reconciler struct {
	store    *store.Store
	classify Classifier
	policy   RetryPolicy
	valueCap int
	// onOverCap is notified when a (tag, slug) group is at or over the
	// cardinality cap, so trim work can be enqueued. May be nil.
	onOverCap func(tag string)
	lg        *zap.Logger

	// beforeWrite runs between the read phase and the write transaction
	// of each attempt. Tests interleave a competing writer here.
	beforeWrite func()
}

func New(s *store.Store, classify Classifier, policy RetryPolicy, valueCap int, onOverCap func(string), lg *zap.Logger) *Reconciler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = func(int) time.Duration { return 0 }
	}
	return &Reconciler{
		store:     s,
		classify:  classify,
		policy:    policy,
		valueCap:  valueCap,
		onOverCap: onOverCap,
		lg:        lg,
	}
}

// groupKey identifies one (item, slug, value) group of loaded rows.
type groupKey struct {
	itemID int64
	slug   string
	value  string
}

// Reconcile merges one aggregated batch. The coarse item-existence pass
// always runs and commits first; the detail pass retries on conflict and
// is abandoned (logged, not escalated) after the retry budget — a
// recoverable loss of statistical precision.
func (r *Reconciler) Reconcile(ctx context.Context, res *aggregate.Result) (int, error) {
	if err := r.ensureItems(ctx, res); err != nil {
		return 0, err
	}

	counts := res.Modifiers.Snapshot()
	descs := res.Descs.Snapshot()
	if len(counts) == 0 && len(descs) == 0 {
		return 0, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		n, err := r.attempt(ctx, counts, descs)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
		lastErr = err
		wait := r.policy.Backoff(attempt)
		r.lg.Info("reconcile conflict, backing off",
			zap.Int("attempt", attempt), zap.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	r.lg.Error("abandoning batch detail update after retries",
		zap.Int("attempts", r.policy.MaxAttempts), zap.Error(lastErr))
	return 0, nil
}

// ensureItems is the fast preliminary pass: every tag seen in the batch
// gets at least a bare item row, with the fallback classification.
func (r *Reconciler) ensureItems(ctx context.Context, res *aggregate.Result) error {
	for tag, a := range res.Seen {
		category := api.CategoryUnknown
		if r.classify != nil {
			category = r.classify(a)
		}
		if _, _, err := r.store.EnsureItem(ctx, tag, a.ItemName, category, a.Tier); err != nil {
			return fmt.Errorf("ensure item %s: %w", tag, err)
		}
	}
	return nil
}

// attempt runs one load-dedup-merge-commit cycle.
func (r *Reconciler) attempt(ctx context.Context, counts map[aggregate.Key]int64, descs map[aggregate.DescKey]int64) (int, error) {
	tagSet := map[string]struct{}{}
	slugSet := map[string]struct{}{}
	for k := range counts {
		tagSet[k.Tag] = struct{}{}
		slugSet[k.Slug] = struct{}{}
	}
	for k := range descs {
		tagSet[k.Tag] = struct{}{}
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	slugs := make([]string, 0, len(slugSet))
	for s := range slugSet {
		slugs = append(slugs, s)
	}

	ids, err := r.store.ItemIDs(ctx, tags)
	if err != nil {
		return 0, err
	}

	var itemIDs []int64
	for _, id := range ids {
		itemIDs = append(itemIDs, id)
	}
	loaded, err := r.store.LoadModifiers(ctx, itemIDs, slugs)
	if err != nil {
		return 0, err
	}

	groups := make(map[groupKey][]store.Modifier)
	idToTag := make(map[int64]string, len(ids))
	for tag, id := range ids {
		idToTag[id] = tag
	}
	slugDistinct := make(map[[2]string]int) // (tag, slug) → distinct values loaded
	for _, m := range loaded {
		k := groupKey{itemID: m.ItemID, slug: m.Slug, value: m.Value}
		groups[k] = append(groups[k], m)
		if len(groups[k]) == 1 {
			slugDistinct[[2]string{idToTag[m.ItemID], m.Slug}]++
		}
	}

	// Every group keeps exactly one canonical row: the lowest id, so the
	// survivor is deterministic. Extras fold their counts into it.
	for k := range groups {
		sort.Slice(groups[k], func(i, j int) bool { return groups[k][i].ID < groups[k][j].ID })
	}

	// Preload description matches before the write transaction.
	type descOp struct {
		itemID int64
		text   string
		delta  int64
		rowID  int64 // 0 means insert
	}
	var descOps []descOp
	for k, n := range descs {
		id, ok := ids[k.Tag]
		if !ok {
			continue
		}
		op := descOp{itemID: id, text: k.Text, delta: n}
		if d, err := r.store.FindDescription(ctx, id, k.Text); err == nil {
			op.rowID = d.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			return 0, err
		}
		descOps = append(descOps, op)
	}

	if r.beforeWrite != nil {
		r.beforeWrite()
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	applied := 0
	merged := make(map[groupKey]bool)

	stage := func(k groupKey, batchCount int64) error {
		group := groups[k]
		if len(group) == 0 {
			if batchCount == 0 {
				return nil
			}
			tag := idToTag[k.itemID]
			if err := tx.InsertModifier(ctx, k.itemID, k.slug, k.value, batchCount); err != nil {
				return err
			}
			slugDistinct[[2]string{tag, k.slug}]++
			applied++
			return nil
		}
		survivor := group[0]
		delta := batchCount
		for _, extra := range group[1:] {
			delta += extra.FoundCount
			if err := tx.DeleteModifier(ctx, extra.ID); err != nil {
				return err
			}
		}
		if delta == 0 {
			return nil
		}
		if err := tx.BumpModifier(ctx, survivor.ID, delta, survivor.Version); err != nil {
			return err
		}
		applied++
		return nil
	}

	for k, n := range counts {
		if extract.UUIDKey(k.Slug) {
			continue
		}
		id, ok := ids[k.Tag]
		if !ok {
			continue
		}
		gk := groupKey{itemID: id, slug: k.Slug, value: k.Value}
		merged[gk] = true
		if err := stage(gk, n); err != nil {
			return 0, err
		}
	}

	// Dedup groups in the key-space that the batch itself did not touch.
	for gk, group := range groups {
		if merged[gk] || len(group) < 2 {
			continue
		}
		if err := stage(gk, 0); err != nil {
			return 0, err
		}
	}

	for _, op := range descOps {
		if op.rowID != 0 {
			if err := tx.BumpDescription(ctx, op.rowID, op.delta); err != nil {
				return 0, err
			}
		} else if err := tx.InsertDescription(ctx, op.itemID, op.text, op.delta); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if r.onOverCap != nil && r.valueCap > 0 {
		notified := map[string]bool{}
		for key, distinct := range slugDistinct {
			if distinct >= r.valueCap && !notified[key[0]] {
				notified[key[0]] = true
				r.lg.Info("slug at cardinality cap",
					zap.String("tag", key[0]), zap.String("slug", key[1]),
					zap.Int("distinct", distinct))
				r.onOverCap(key[0])
			}
		}
	}
	return applied, nil
}
