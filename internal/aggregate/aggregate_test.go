package aggregate

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/extract"
)

func testBatch() []api.Auction {
	var batch []api.Auction
	for i := 0; i < 50; i++ {
		reforge := "Sharp"
		if i%3 == 0 {
			reforge = "Heroic"
		}
		batch = append(batch, api.Auction{
			Tag:     "SWORD",
			UID:     int64(i),
			Reforge: reforge,
			FlatNBT: map[string]string{"rarity_upgrades": "1"},
			Context: map[string]string{"lore": "A sword."},
		})
	}
	return batch
}

func TestAggregateCommutativity(t *testing.T) {
	ag := New(extract.New(zap.NewNop()), 1, 4)

	batch := testBatch()
	res1, err := ag.Aggregate(context.Background(), batch)
	require.NoError(t, err)

	shuffled := make([]api.Auction, len(batch))
	copy(shuffled, batch)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	res2, err := ag.Aggregate(context.Background(), shuffled)
	require.NoError(t, err)

	assert.Equal(t, res1.Modifiers.Snapshot(), res2.Modifiers.Snapshot())
	assert.Equal(t, res1.Descs.Snapshot(), res2.Descs.Snapshot())
}

func TestAggregateSampling(t *testing.T) {
	ag := New(extract.New(zap.NewNop()), 5, 4)
	res, err := ag.Aggregate(context.Background(), testBatch())
	require.NoError(t, err)

	// all 50 auctions are seen, only uid%5==1 contribute details
	require.Contains(t, res.Seen, "SWORD")
	counts := res.Modifiers.Snapshot()
	total := int64(0)
	for k, v := range counts {
		if k.Slug == "rarity_upgrades" {
			total += v
		}
	}
	assert.Equal(t, int64(10), total)
}

func TestAggregateScenarioReforgeCounts(t *testing.T) {
	// 10 instances, 6 Sharp and 4 Heroic; no sampling
	var batch []api.Auction
	for i := 0; i < 10; i++ {
		r := "SHARP"
		if i >= 6 {
			r = "HEROIC"
		}
		batch = append(batch, api.Auction{Tag: "SWORD", UID: int64(i), Reforge: r})
	}
	ag := New(extract.New(zap.NewNop()), 1, 2)
	res, err := ag.Aggregate(context.Background(), batch)
	require.NoError(t, err)

	counts := res.Modifiers.Snapshot()
	assert.Equal(t, int64(6), counts[Key{Tag: "SWORD", Slug: "reforge", Value: "SHARP"}])
	assert.Equal(t, int64(4), counts[Key{Tag: "SWORD", Slug: "reforge", Value: "HEROIC"}])
}

func TestCountsConcurrentInc(t *testing.T) {
	c := NewCounts()
	done := make(chan struct{})
	k := Key{Tag: "A", Slug: "s", Value: "v"}
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				c.Inc(k, 1)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int64(8000), c.Snapshot()[k])
}
