package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lvdashuaibi/contestvote/internal/model"
)

// Snapshot is one consistent read of tallies, ticket counts and the voting
// flag.
type Snapshot struct {
	Tallies     []model.ResultRow
	TicketCount int64
	UsedCount   int64
	VotingOpen  bool
}

func readTallies(ctx context.Context, tx *sql.Tx) ([]model.ResultRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.image_ref, COUNT(v.id)
		FROM contestants c
		LEFT JOIN votes v ON v.contestant_id = c.id
		WHERE c.is_active = 1
		GROUP BY c.id, c.name, c.description, c.image_ref
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to tally votes: %w", err)
	}
	defer rows.Close()

	tallies := make([]model.ResultRow, 0)
	for rows.Next() {
		var row model.ResultRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Description, &row.ImageRef, &row.VoteCount); err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		tallies = append(tallies, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to tally votes: %w", err)
	}
	return tallies, nil
}

func readTicketCounts(ctx context.Context, tx *sql.Tx) (total, used int64, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_used = 1 THEN 1 ELSE 0 END), 0)
		FROM tickets`,
	).Scan(&total, &used)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return total, used, nil
}

// ResultTallies returns the raw vote count of every active contestant,
// unsorted and without percentages.
func (r *SQLRepository) ResultTallies(ctx context.Context) ([]model.ResultRow, error) {
	var tallies []model.ResultRow
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		tallies, err = readTallies(ctx, tx)
		return err
	})
	return tallies, err
}

// TicketCounts returns the number of tickets and how many are used.
func (r *SQLRepository) TicketCounts(ctx context.Context) (total, used int64, err error) {
	err = r.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		total, used, err = readTicketCounts(ctx, tx)
		return err
	})
	return total, used, err
}

// ReadSnapshot reads tallies, ticket counts and the voting flag in one
// read-only transaction.
func (r *SQLRepository) ReadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		if snap.Tallies, err = readTallies(ctx, tx); err != nil {
			return err
		}
		if snap.TicketCount, snap.UsedCount, err = readTicketCounts(ctx, tx); err != nil {
			return err
		}
		snap.VotingOpen, err = readVotingOpen(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
