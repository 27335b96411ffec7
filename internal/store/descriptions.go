package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Description is one sampled item description with its occurrence count.
type Description struct {
	ID          int64
	ItemID      int64
	Text        string
	Occurrences int64
}

// FindDescription looks up a description row by exact text.
func (s *Store) FindDescription(ctx context.Context, itemID int64, text string) (Description, error) {
	var d Description
	err := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, text, occurrences FROM descriptions
		 WHERE item_id = ? AND text = ?`, itemID, text).
		Scan(&d.ID, &d.ItemID, &d.Text, &d.Occurrences)
	if errors.Is(err, sql.ErrNoRows) {
		return Description{}, ErrNotFound
	}
	if err != nil {
		return Description{}, fmt.Errorf("find description: %w", err)
	}
	return d, nil
}

// DescriptionsForItem returns the item's descriptions, most seen first.
func (s *Store) DescriptionsForItem(ctx context.Context, itemID int64) ([]Description, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, text, occurrences FROM descriptions
		 WHERE item_id = ? ORDER BY occurrences DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("descriptions for item %d: %w", itemID, err)
	}
	defer func() { _ = rows.Close() }()
	var out []Description
	for rows.Next() {
		var d Description
		if err := rows.Scan(&d.ID, &d.ItemID, &d.Text, &d.Occurrences); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
