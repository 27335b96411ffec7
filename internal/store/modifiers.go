package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auctionlens/itemtrack/api"
)

// Modifier is one persisted (item, slug, value) row with its occurrence
// count and OCC version.
type Modifier struct {
	ID         int64
	ItemID     int64
	Slug       string
	Value      string
	Kind       api.ValueKind
	FoundCount int64
	Version    int64
}

// LoadModifiers returns every modifier row whose (item_id, slug) falls in
// the given key-space. Values are not filtered here: the reconciler needs
// the full slug group to dedup and to observe cardinality.
func (s *Store) LoadModifiers(ctx context.Context, itemIDs []int64, slugs []string) ([]Modifier, error) {
	if len(itemIDs) == 0 || len(slugs) == 0 {
		return nil, nil
	}
	var out []Modifier
	for _, idChunk := range chunk(itemIDs, maxBind/2) {
		for _, slugChunk := range chunk(slugs, maxBind/2) {
			q := fmt.Sprintf(
				`SELECT id, item_id, slug, value, kind, found_count, version
				 FROM modifiers WHERE item_id IN (%s) AND slug IN (%s)`,
				placeholders(len(idChunk)), placeholders(len(slugChunk)))
			args := append(int64Args(idChunk), stringArgs(slugChunk)...)
			rows, err := s.db.QueryContext(ctx, q, args...)
			if err != nil {
				return nil, fmt.Errorf("load modifiers: %w", err)
			}
			out, err = scanModifiers(rows, out)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// GroupForSlug returns all rows of one (item, slug) group.
func (s *Store) GroupForSlug(ctx context.Context, itemID int64, slug string) ([]Modifier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, slug, value, kind, found_count, version
		 FROM modifiers WHERE item_id = ? AND slug = ?`, itemID, slug)
	if err != nil {
		return nil, fmt.Errorf("group for slug %s: %w", slug, err)
	}
	return scanModifiers(rows, nil)
}

// SlugCardinalities returns the distinct-value count per slug for one
// item. Duplicate rows awaiting the next reconcile dedup count once.
func (s *Store) SlugCardinalities(ctx context.Context, itemID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, COUNT(DISTINCT value) FROM modifiers WHERE item_id = ? GROUP BY slug`, itemID)
	if err != nil {
		return nil, fmt.Errorf("slug cardinalities: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int)
	for rows.Next() {
		var slug string
		var n int
		if err := rows.Scan(&slug, &n); err != nil {
			return nil, err
		}
		out[slug] = n
	}
	return out, rows.Err()
}

// AllModifiers streams every modifier row to fn, for the snapshot rebuild.
// Exclusion of low-value slugs happens in the caller; this is a plain scan.
func (s *Store) AllModifiers(ctx context.Context, fn func(Modifier) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, slug, value, kind, found_count, version FROM modifiers`)
	if err != nil {
		return fmt.Errorf("all modifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m Modifier
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Slug, &m.Value, &m.Kind, &m.FoundCount, &m.Version); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ModifiersForItem returns slug -> values for one item tag.
func (s *Store) ModifiersForItem(ctx context.Context, tag string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.slug, m.value FROM modifiers m
		 JOIN items i ON i.id = m.item_id
		 WHERE i.tag = ? ORDER BY m.slug, m.found_count DESC`, tag)
	if err != nil {
		return nil, fmt.Errorf("modifiers for %s: %w", tag, err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string][]string)
	for rows.Next() {
		var slug, value string
		if err := rows.Scan(&slug, &value); err != nil {
			return nil, err
		}
		out[slug] = append(out[slug], value)
	}
	return out, rows.Err()
}

// DeleteModifiers removes rows by id outside any OCC transaction. Used by
// the trimmer, whose deletions are best-effort and idempotent.
func (s *Store) DeleteModifiers(ctx context.Context, ids []int64) error {
	for _, part := range chunk(ids, maxBind) {
		q := fmt.Sprintf(`DELETE FROM modifiers WHERE id IN (%s)`, placeholders(len(part)))
		if _, err := s.db.ExecContext(ctx, q, int64Args(part)...); err != nil {
			return fmt.Errorf("delete modifiers: %w", err)
		}
	}
	return nil
}

func scanModifiers(rows *sql.Rows, out []Modifier) ([]Modifier, error) {
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m Modifier
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Slug, &m.Value, &m.Kind, &m.FoundCount, &m.Version); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
