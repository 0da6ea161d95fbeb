package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const settingVotingOpen = "voting_open"

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// readVotingOpen treats a missing flag row as open.
func readVotingOpen(ctx context.Context, q rowQuerier) (bool, error) {
	var value string
	err := q.QueryRowContext(ctx,
		"SELECT value FROM app_settings WHERE name = ?", settingVotingOpen,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read voting flag: %w", err)
	}

	open, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("corrupt voting flag %q: %w", value, err)
	}
	return open, nil
}

// VotingOpen reads the voting flag from the master.
func (r *SQLRepository) VotingOpen(ctx context.Context) (bool, error) {
	return readVotingOpen(ctx, r.masterDB)
}

// SetVotingOpen persists the voting flag.
func (r *SQLRepository) SetVotingOpen(ctx context.Context, open bool, now time.Time) error {
	_, err := r.masterDB.ExecContext(ctx, r.dialect.upsertSetting,
		settingVotingOpen, strconv.FormatBool(open), now)
	if err != nil {
		return fmt.Errorf("failed to store voting flag: %w", err)
	}
	return nil
}
