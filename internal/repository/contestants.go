package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
)

const contestantColumns = "id, name, description, image_ref, is_active, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContestant(s rowScanner) (*model.Contestant, error) {
	var c model.Contestant
	if err := s.Scan(&c.ID, &c.Name, &c.Description, &c.ImageRef, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContestant inserts an active contestant and fills in its id.
func (r *SQLRepository) CreateContestant(ctx context.Context, c *model.Contestant) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = clock()
	}
	res, err := r.masterDB.ExecContext(ctx,
		`INSERT INTO contestants (name, description, image_ref, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)`,
		c.Name, c.Description, c.ImageRef, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contestant: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read contestant id: %w", err)
	}
	c.ID = id
	c.IsActive = true
	return nil
}

// GetContestant returns ErrNotFound for an unknown id.
func (r *SQLRepository) GetContestant(ctx context.Context, id int64) (*model.Contestant, error) {
	row := r.masterDB.QueryRowContext(ctx,
		"SELECT "+contestantColumns+" FROM contestants WHERE id = ?", id)
	c, err := scanContestant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contestant %d: %w", id, err)
	}
	return c, nil
}

// ListActiveContestants returns the contestants open for votes, by name.
func (r *SQLRepository) ListActiveContestants(ctx context.Context) ([]model.Contestant, error) {
	return r.listContestants(ctx,
		"SELECT "+contestantColumns+" FROM contestants WHERE is_active = 1 ORDER BY name, id")
}

// ListContestants returns every contestant including deactivated ones.
func (r *SQLRepository) ListContestants(ctx context.Context) ([]model.Contestant, error) {
	return r.listContestants(ctx,
		"SELECT "+contestantColumns+" FROM contestants ORDER BY id")
}

func (r *SQLRepository) listContestants(ctx context.Context, query string) ([]model.Contestant, error) {
	rows, err := r.replicaDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	defer rows.Close()

	contestants := make([]model.Contestant, 0)
	for rows.Next() {
		c, err := scanContestant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contestant: %w", err)
		}
		contestants = append(contestants, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	return contestants, nil
}

// SetContestantActive toggles the soft delete flag. Contestants are never
// removed, so their votes stay in the ledger.
func (r *SQLRepository) SetContestantActive(ctx context.Context, id int64, active bool) error {
	return r.writeTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM contestants WHERE id = ?", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load contestant %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE contestants SET is_active = ? WHERE id = ?", active, id); err != nil {
			return fmt.Errorf("failed to update contestant %d: %w", id, err)
		}
		return nil
	})
}

var clock = func() time.Time { return time.Now().UTC() }
