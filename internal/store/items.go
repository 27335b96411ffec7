package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/auctionlens/itemtrack/api"
)

// Item is one tracked item type.
type Item struct {
	ID            int64
	Tag           string
	Name          string
	Category      api.ItemCategory
	Tier          api.Tier
	Flags         api.ItemFlags
	IconURL       string
	MinecraftType string
	NpcSellPrice  float64
	NpcBuyPrice   float64
	Durability    int
	FirstSeen     time.Time
}

const maxTagLen = 44

// EnsureItem guarantees a bare row exists for the tag, creating it with
// the given fallback category when unseen. Returns the row id and whether
// it was created. Race-safe: concurrent creators converge on one row via
// the tag uniqueness constraint.
func (s *Store) EnsureItem(ctx context.Context, tag, name string, category api.ItemCategory, tier api.Tier) (int64, bool, error) {
	if len(tag) > maxTagLen {
		tag = tag[:maxTagLen]
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM items WHERE tag = ?`, tag).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("lookup item %s: %w", tag, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items (tag, name, category, tier, flags, first_seen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tag, name, category, tier, api.FlagAuction, time.Now().Unix())
	if err != nil {
		return 0, false, fmt.Errorf("insert item %s: %w", tag, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		id, err = res.LastInsertId()
		return id, true, err
	}
	// lost the insert race, the row exists now
	err = s.db.QueryRowContext(ctx, `SELECT id FROM items WHERE tag = ?`, tag).Scan(&id)
	return id, false, err
}

// ItemIDs maps tags to row ids, skipping unknown tags.
func (s *Store) ItemIDs(ctx context.Context, tags []string) (map[string]int64, error) {
	out := make(map[string]int64, len(tags))
	for _, part := range chunk(tags, maxBind) {
		q := fmt.Sprintf(`SELECT tag, id FROM items WHERE tag IN (%s)`, placeholders(len(part)))
		rows, err := s.db.QueryContext(ctx, q, stringArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("item ids: %w", err)
		}
		for rows.Next() {
			var tag string
			var id int64
			if err := rows.Scan(&tag, &id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[tag] = id
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// AllIDs returns the full tag -> id mapping.
func (s *Store) AllIDs(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, id FROM items`)
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int64)
	for rows.Next() {
		var tag string
		var id int64
		if err := rows.Scan(&tag, &id); err != nil {
			return nil, err
		}
		out[tag] = id
	}
	return out, rows.Err()
}

// TagsWithFlag returns the tags of items carrying the flag.
func (s *Store) TagsWithFlag(ctx context.Context, flag api.ItemFlags) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM items WHERE (flags & ?) = ? ORDER BY tag`, flag, flag)
	if err != nil {
		return nil, fmt.Errorf("tags with flag: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// AddFlags sets flag bits on the given tags.
func (s *Store) AddFlags(ctx context.Context, tags []string, flag api.ItemFlags) error {
	for _, part := range chunk(tags, maxBind) {
		q := fmt.Sprintf(`UPDATE items SET flags = flags | ? WHERE tag IN (%s)`,
			placeholders(len(part)))
		args := append([]any{flag}, stringArgs(part)...)
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("add flags: %w", err)
		}
	}
	return nil
}

// UpsertCatalogItem applies catalog metadata to an item row, creating it
// if needed. Counters and flags already set are preserved (flags are OR-ed).
func (s *Store) UpsertCatalogItem(ctx context.Context, it Item) (int64, error) {
	id, _, err := s.EnsureItem(ctx, it.Tag, it.Name, it.Category, it.Tier)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE items SET name = ?, category = ?, tier = ?, flags = flags | ?,
		 icon_url = ?, minecraft_type = ?, npc_sell_price = ?, durability = ?
		 WHERE id = ?`,
		it.Name, it.Category, it.Tier, it.Flags,
		it.IconURL, it.MinecraftType, it.NpcSellPrice, it.Durability, id)
	if err != nil {
		return 0, fmt.Errorf("upsert catalog item %s: %w", it.Tag, err)
	}
	return id, nil
}

// Search finds items whose naming modifiers (name/alias/abr) or tag match
// the term. Ranking follows the tracker's historical heuristic: shorter
// names first, strong bonus for prefix and exact matches.
func (s *Store) Search(ctx context.Context, term string, count int) ([]api.SearchResult, error) {
	if count <= 0 {
		count = 20
	}
	tagified := strings.ToUpper(strings.ReplaceAll(term, " ", "_"))
	// Pet items are tagged PET_<NAME> while people search "<name> pet".
	if strings.HasSuffix(tagified, "_PET") {
		tagified = "PET_" + strings.TrimSuffix(tagified, "_PET")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT i.tag, i.flags,
		   COALESCE(NULLIF(i.name, ''),
		     (SELECT value FROM modifiers m2 WHERE m2.item_id = i.id AND m2.slug = 'name'
		      ORDER BY m2.found_count DESC LIMIT 1),
		     i.tag) AS display
		 FROM items i
		 WHERE i.tag LIKE ? OR i.id IN (
		   SELECT item_id FROM modifiers
		   WHERE slug IN ('name', 'alias', 'abr')
		     AND (value LIKE ? OR value LIKE ?)
		 )
		 LIMIT ?`,
		tagified+"%", term+"%", "%"+term+"%", count*3)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []api.SearchResult
	for rows.Next() {
		var r api.SearchResult
		if err := rows.Scan(&r.Tag, &r.Flags, &r.Text); err != nil {
			return nil, err
		}
		hits = append(hits, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return searchRank(hits[i].Text, term) < searchRank(hits[j].Text, term)
	})
	if len(hits) > count {
		hits = hits[:count]
	}
	return hits, nil
}

func searchRank(name, term string) int {
	rank := len(name) / 2
	if strings.HasPrefix(name, term) {
		rank -= 10000
	}
	if name == term {
		rank -= 10000000
	}
	return rank
}
