// Package service assembles the tracking pipeline: extraction,
// aggregation, reconciliation, trimming, the snapshot cache and the
// scheduled catalog jobs, all sharing one store.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/aggregate"
	"github.com/auctionlens/itemtrack/internal/catalog"
	"github.com/auctionlens/itemtrack/internal/config"
	"github.com/auctionlens/itemtrack/internal/extract"
	"github.com/auctionlens/itemtrack/internal/ingest"
	"github.com/auctionlens/itemtrack/internal/items"
	"github.com/auctionlens/itemtrack/internal/reconcile"
	"github.com/auctionlens/itemtrack/internal/snapshot"
	"github.com/auctionlens/itemtrack/internal/store"
	"github.com/auctionlens/itemtrack/internal/trim"
)

const trimQueueSize = 1024

type Service struct {
	cfg   *config.Config
	lg    *zap.Logger
	store *store.Store

	agg       *aggregate.Aggregator
	rec       *reconcile.Reconciler
	queue     *trim.Queue
	trimmer   *trim.Trimmer
	cache     *snapshot.Cache
	refresher *catalog.Refresher
	cron      *cron.Cron

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, lg *zap.Logger) (*Service, error) {
	st, err := store.Open(cfg.DBPath, lg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	queue := trim.NewQueue(trimQueueSize, lg)
	policy := reconcile.RetryPolicy{
		MaxAttempts: cfg.Tracking.MaxAttempts,
		Backoff:     cfg.Backoff,
	}
	s := &Service{
		cfg:     cfg,
		lg:      lg,
		store:   st,
		agg:     aggregate.New(extract.New(lg), cfg.Tracking.SampleMod, cfg.Tracking.Workers),
		rec:     reconcile.New(st, items.FallbackCategory, policy, cfg.Tracking.ValueCap, queue.Enqueue, lg),
		queue:   queue,
		trimmer: trim.New(st, queue, cfg.Tracking.ValueCap, cfg.Tracking.TrimBatch, lg),
		cache:   snapshot.New(st, cfg.SnapshotTTL(), cfg.Snapshot.MaxValues, cfg.Snapshot.PathologicalCap, lg),
	}
	if cfg.Refresh.ItemsURL != "" || cfg.Refresh.BazaarURL != "" {
		s.refresher = catalog.NewRefresher(st,
			cfg.Refresh.ItemsURL, cfg.Refresh.BazaarURL, cfg.Refresh.IconBaseURL, lg)
	}
	return s, nil
}

// Run starts the trim consumer and the scheduled jobs. It returns
// immediately; Close stops everything.
func (s *Service) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.trimmer.Run(ctx)
	}()

	s.cron = cron.New()
	if s.refresher != nil {
		if _, err := s.cron.AddFunc(s.cfg.Refresh.Schedule, func() {
			if err := s.refresher.RefreshItems(ctx); err != nil {
				s.lg.Warn("catalog refresh", zap.Error(err))
			}
			if err := s.refresher.RefreshBazaar(ctx); err != nil {
				s.lg.Warn("bazaar refresh", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule catalog refresh: %w", err)
		}
	}
	if _, err := s.cron.AddFunc(s.cfg.Refresh.SnapshotSchedule, func() {
		if _, err := s.cache.Get(ctx, true); err != nil {
			s.lg.Warn("scheduled snapshot rebuild", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule snapshot rebuild: %w", err)
	}
	s.cron.Start()
	return nil
}

// Consume folds batches from the source until it closes or ctx ends.
func (s *Service) Consume(ctx context.Context, src ingest.Source) error {
	for batch := range src.Batches(ctx) {
		if _, err := s.AddItemDetails(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.lg.Error("folding batch", zap.Int("size", len(batch)), zap.Error(err))
		}
	}
	return ctx.Err()
}

// AddItemDetails folds one auction batch into the store and returns how
// many modifier rows were touched.
func (s *Service) AddItemDetails(ctx context.Context, batch []api.Auction) (int, error) {
	res, err := s.agg.Aggregate(ctx, batch)
	if err != nil {
		return 0, err
	}
	return s.rec.Reconcile(ctx, res)
}

// Modifiers returns slug -> values for one item tag.
func (s *Service) Modifiers(ctx context.Context, tag string) (map[string][]string, error) {
	return s.store.ModifiersForItem(ctx, tag)
}

// AllModifiers returns the wildcard snapshot, rebuilding when forced.
func (s *Service) AllModifiers(ctx context.Context, force bool) (map[string][]string, error) {
	return s.cache.Get(ctx, force)
}

func (s *Service) Store() *store.Store    { return s.store }
func (s *Service) Cache() *snapshot.Cache { return s.cache }

// Close stops the scheduler and the trim consumer, then closes the store.
func (s *Service) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.store.Close()
}
