// Package aggregate folds a batch of auctions into in-memory frequency
// tables. The tables support concurrent increment-or-insert so extraction
// can run in parallel across the batch; final counts are order-independent.
package aggregate

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/extract"
)

// Key identifies one (item-type, attribute-key, attribute-value) triple.
type Key struct {
	Tag   string
	Slug  string
	Value string
}

// DescKey identifies one (item-type, description text) pair.
type DescKey struct {
	Tag  string
	Text string
}

const shardCount = 16

// Counts is a sharded concurrent frequency table. Sharding keeps increment
// contention low without the allocation churn of sync.Map for hot keys.
type Counts struct {
	shards [shardCount]countShard
}

type countShard struct {
	mu sync.Mutex
	m  map[Key]int64
}

func NewCounts() *Counts {
	c := &Counts{}
	for i := range c.shards {
		c.shards[i].m = make(map[Key]int64)
	}
	return c
}

func (c *Counts) shard(k Key) *countShard {
	h := fnv(k.Tag) ^ fnv(k.Slug) ^ fnv(k.Value)
	return &c.shards[h%shardCount]
}

// Inc adds n to the key's count, inserting it if absent.
func (c *Counts) Inc(k Key, n int64) {
	s := c.shard(k)
	s.mu.Lock()
	s.m[k] += n
	s.mu.Unlock()
}

// Snapshot copies the table into a plain map.
func (c *Counts) Snapshot() map[Key]int64 {
	out := make(map[Key]int64)
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			out[k] = v
		}
		s.mu.Unlock()
	}
	return out
}

// Len returns the number of distinct keys.
func (c *Counts) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

func fnv(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// DescCounts is the description frequency table. Descriptions are rare
// (one sampled lore per auction at most), a single mutex is enough.
type DescCounts struct {
	mu sync.Mutex
	m  map[DescKey]int64
}

func NewDescCounts() *DescCounts {
	return &DescCounts{m: make(map[DescKey]int64)}
}

func (d *DescCounts) Inc(k DescKey, n int64) {
	d.mu.Lock()
	d.m[k] += n
	d.mu.Unlock()
}

func (d *DescCounts) Snapshot() map[DescKey]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[DescKey]int64, len(d.m))
	for k, v := range d.m {
		out[k] = v
	}
	return out
}

// Result is the outcome of aggregating one batch.
type Result struct {
	Modifiers *Counts
	Descs     *DescCounts
	// Seen holds every item tag in the batch, sampled or not.
	Seen map[string]api.Auction
}

// Aggregator runs extraction over batches.
type Aggregator struct {
	ex        *extract.Extractor
	sampleMod int64
	workers   int
}

func New(ex *extract.Extractor, sampleMod int64, workers int) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	if sampleMod < 1 {
		sampleMod = 1
	}
	return &Aggregator{ex: ex, sampleMod: sampleMod, workers: workers}
}

// Aggregate extracts the batch in parallel and folds the results. Every
// auction contributes its tag to Seen; only sampled auctions (uid falling
// in the residue class) contribute detail pairs and lore. Reprocessing the
// same batch double-counts — accepted approximate-statistics behavior for
// an at-least-once source.
func (g *Aggregator) Aggregate(ctx context.Context, batch []api.Auction) (*Result, error) {
	res := &Result{
		Modifiers: NewCounts(),
		Descs:     NewDescCounts(),
		Seen:      make(map[string]api.Auction, len(batch)),
	}

	var seenMu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for _, a := range batch {
		a := a
		if a.Tag == "" {
			continue
		}
		seenMu.Lock()
		if _, ok := res.Seen[a.Tag]; !ok {
			res.Seen[a.Tag] = a
		}
		seenMu.Unlock()

		if g.sampleMod > 1 && a.UID%g.sampleMod != 1 {
			continue
		}
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pairs, lore, ok := g.ex.Extract(a)
			for _, p := range pairs {
				res.Modifiers.Inc(Key{Tag: a.Tag, Slug: p.Slug, Value: p.Value}, 1)
			}
			if ok {
				res.Descs.Inc(DescKey{Tag: a.Tag, Text: lore}, 1)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
