// Package catalog refreshes item metadata from the upstream game API.
// Both jobs are best-effort: a failed fetch is logged and retried on the
// next schedule, never surfaced to callers.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/extract"
	"github.com/auctionlens/itemtrack/internal/items"
	"github.com/auctionlens/itemtrack/internal/store"
)

type Refresher struct {
	store     *store.Store
	client    *http.Client
	itemsURL  string
	bazaarURL string
	iconBase  string
	lg        *zap.Logger
}

func NewRefresher(st *store.Store, itemsURL, bazaarURL, iconBase string, lg *zap.Logger) *Refresher {
	return &Refresher{
		store:     st,
		client:    &http.Client{Timeout: 30 * time.Second},
		itemsURL:  itemsURL,
		bazaarURL: bazaarURL,
		iconBase:  iconBase,
		lg:        lg,
	}
}

// RefreshItems pulls the item catalog and upserts metadata rows. Each
// item also gets an "abr" modifier holding the name abbreviation, which
// makes abbreviation search work without a dedicated column.
func (r *Refresher) RefreshItems(ctx context.Context) error {
	if r.itemsURL == "" {
		return nil
	}
	doc, err := r.fetch(ctx, r.itemsURL)
	if err != nil {
		return err
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("items response: unexpected shape %T", doc)
	}
	list, ok := root["items"].([]any)
	if !ok {
		return fmt.Errorf("items response: missing items array")
	}

	updated := 0
	for _, raw := range list {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		tag := str(entry, "id")
		if tag == "" {
			continue
		}
		it := store.Item{
			Tag:           tag,
			Name:          str(entry, "name"),
			Tier:          api.ParseTier(str(entry, "tier")),
			IconURL:       items.IconURL(r.iconBase, tag),
			MinecraftType: str(entry, "material"),
			NpcSellPrice:  num(entry, "npc_sell_price"),
			Durability:    int(num(entry, "durability")),
		}
		if cat, ok := api.ParseCategory(str(entry, "category")); ok {
			it.Category = cat
		} else {
			it.Category = items.FallbackCategory(api.Auction{Tag: tag, ItemName: it.Name})
		}
		if b, _ := entry["glowing"].(bool); b {
			it.Flags |= api.FlagGlowing
		}
		if b, _ := entry["museum"].(bool); b {
			it.Flags |= api.FlagMuseum
		}
		id, err := r.store.UpsertCatalogItem(ctx, it)
		if err != nil {
			r.lg.Warn("upsert catalog item", zap.String("tag", tag), zap.Error(err))
			continue
		}
		if err := r.setAbbreviation(ctx, id, it.Name); err != nil {
			r.lg.Warn("set abbreviation", zap.String("tag", tag), zap.Error(err))
		}
		updated++
	}
	r.lg.Info("item catalog refreshed", zap.Int("items", updated))
	return nil
}

// RefreshBazaar marks every tag listed on the bazaar with the Bazaar flag.
func (r *Refresher) RefreshBazaar(ctx context.Context) error {
	if r.bazaarURL == "" {
		return nil
	}
	doc, err := r.fetch(ctx, r.bazaarURL)
	if err != nil {
		return err
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("bazaar response: unexpected shape %T", doc)
	}
	products, ok := root["products"].(map[string]any)
	if !ok {
		return fmt.Errorf("bazaar response: missing products map")
	}
	tags := make([]string, 0, len(products))
	for tag := range products {
		// Bazaar can list tags the item catalog has not delivered yet.
		if _, _, err := r.store.EnsureItem(ctx, tag, "", items.FallbackCategory(api.Auction{Tag: tag}), api.TierUnknown); err != nil {
			r.lg.Warn("ensure bazaar item", zap.String("tag", tag), zap.Error(err))
			continue
		}
		tags = append(tags, tag)
	}
	if err := r.store.AddFlags(ctx, tags, api.FlagBazaar); err != nil {
		return fmt.Errorf("flag bazaar items: %w", err)
	}
	r.lg.Info("bazaar flags refreshed", zap.Int("tags", len(tags)))
	return nil
}

// setAbbreviation maintains a single "abr" modifier row per item. The
// row count is bumped so repeated refreshes do not churn versions of a
// value that did not change.
func (r *Refresher) setAbbreviation(ctx context.Context, itemID int64, name string) error {
	abr := extract.Abbreviation(name)
	if abr == "" {
		return nil
	}
	existing, err := r.store.GroupForSlug(ctx, itemID, "abr")
	if err != nil {
		return err
	}
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, m := range existing {
		if m.Value == abr {
			found = true
			if err := tx.BumpModifier(ctx, m.ID, 1, m.Version); err != nil {
				tx.Rollback()
				return err
			}
			continue
		}
		if err := tx.DeleteModifier(ctx, m.ID); err != nil {
			tx.Rollback()
			return err
		}
	}
	if !found {
		if err := tx.InsertModifier(ctx, itemID, "abr", abr, 1); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Refresher) fetch(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	doc, err := oj.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
