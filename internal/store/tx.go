package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auctionlens/itemtrack/api"
)

// Tx is one reconciliation commit unit. Versioned updates inside it detect
// lost races; Commit either applies everything or nothing.
type Tx struct {
	tx       *sql.Tx
	conflict bool
}

// Begin starts a reconciliation transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// InsertModifier stages a new modifier row. The value kind is classified
// here, once, at insert time.
func (t *Tx) InsertModifier(ctx context.Context, itemID int64, slug, value string, count int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO modifiers (item_id, slug, value, kind, found_count, version)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		itemID, slug, value, api.ClassifyValue(value), count)
	if err != nil {
		return fmt.Errorf("insert modifier %s=%s: %w", slug, value, err)
	}
	return nil
}

// BumpModifier adds delta to a row's count iff its version is still the
// one the caller loaded. A zero-row match marks the transaction conflicted;
// the conflict surfaces at Commit so the full batch is retried as a unit.
func (t *Tx) BumpModifier(ctx context.Context, id, delta, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE modifiers SET found_count = found_count + ?, version = version + 1
		 WHERE id = ? AND version = ?`, delta, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("bump modifier %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		t.conflict = true
	}
	return nil
}

// DeleteModifier stages removal of a duplicate row found by the dedup pass.
func (t *Tx) DeleteModifier(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM modifiers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete modifier %d: %w", id, err)
	}
	return nil
}

// InsertDescription stages a new description row.
func (t *Tx) InsertDescription(ctx context.Context, itemID int64, text string, occurrences int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO descriptions (item_id, text, occurrences) VALUES (?, ?, ?)`,
		itemID, text, occurrences)
	if err != nil {
		return fmt.Errorf("insert description: %w", err)
	}
	return nil
}

// BumpDescription accumulates occurrences on an existing description.
func (t *Tx) BumpDescription(ctx context.Context, id, delta int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE descriptions SET occurrences = occurrences + ? WHERE id = ?`, delta, id); err != nil {
		return fmt.Errorf("bump description %d: %w", id, err)
	}
	return nil
}

// Commit applies the transaction. If any versioned update lost its race
// the whole unit rolls back and ErrConflict is returned.
func (t *Tx) Commit() error {
	if t.conflict {
		_ = t.tx.Rollback()
		return ErrConflict
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback abandons the transaction. Safe to call after Commit.
func (t *Tx) Rollback() {
	_ = t.tx.Rollback()
}
