package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
)

// ErrCodeSpaceExhausted is returned when generation keeps colliding with
// existing codes.
var ErrCodeSpaceExhausted = errors.New("ticket code generation kept colliding")

const ticketColumns = "id, ticket_code, is_used, created_at, used_at"

func scanTicket(s rowScanner) (*model.Ticket, error) {
	var (
		t      model.Ticket
		usedAt sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.TicketCode, &t.IsUsed, &t.CreatedAt, &usedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		ts := usedAt.Time
		t.UsedAt = &ts
	}
	return &t, nil
}

// GetTicketByCode returns ErrNotFound for an unknown code.
func (r *SQLRepository) GetTicketByCode(ctx context.Context, code string) (*model.Ticket, error) {
	row := r.masterDB.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE ticket_code = ?", code)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns every ticket ordered by id.
func (r *SQLRepository) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	tickets := make([]model.Ticket, 0)
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT "+ticketColumns+" FROM tickets ORDER BY id")
		if err != nil {
			return fmt.Errorf("failed to list tickets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTicket(rows)
			if err != nil {
				return fmt.Errorf("failed to scan ticket: %w", err)
			}
			tickets = append(tickets, *t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// InsertGeneratedTickets creates count tickets in one transaction. Each code
// comes from gen; a code that collides with an existing one is replaced by a
// fresh one, up to retries times per ticket.
func (r *SQLRepository) InsertGeneratedTickets(
	ctx context.Context,
	gen func() (string, error),
	count, retries int,
	now time.Time,
) ([]string, error) {
	codes := make([]string, 0, count)

	err := r.writeTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO tickets (ticket_code, is_used, created_at) VALUES (?, 0, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare ticket insert: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < count; i++ {
			inserted := false
			for attempt := 0; attempt <= retries; attempt++ {
				code, err := gen()
				if err != nil {
					return fmt.Errorf("failed to generate ticket code: %w", err)
				}

				_, err = stmt.ExecContext(ctx, code, now)
				if isDuplicateKey(err) {
					continue
				}
				if err != nil {
					return fmt.Errorf("failed to insert ticket: %w", err)
				}

				codes = append(codes, code)
				inserted = true
				break
			}
			if !inserted {
				return ErrCodeSpaceExhausted
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// ImportTickets inserts predefined codes in one transaction. Codes that
// already exist are skipped and counted.
func (r *SQLRepository) ImportTickets(ctx context.Context, codes []string, now time.Time) (model.ImportReport, error) {
	var report model.ImportReport

	err := r.writeTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO tickets (ticket_code, is_used, created_at) VALUES (?, 0, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare ticket insert: %w", err)
		}
		defer stmt.Close()

		for _, code := range codes {
			_, err := stmt.ExecContext(ctx, code, now)
			if isDuplicateKey(err) {
				report.Skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to import ticket: %w", err)
			}
			report.Inserted++
		}
		return nil
	})
	if err != nil {
		return model.ImportReport{}, err
	}
	return report, nil
}

// ResetAll deletes every vote and returns every ticket to unused. It is the
// only path that moves a ticket from used back to unused.
func (r *SQLRepository) ResetAll(ctx context.Context) (int64, error) {
	var reset int64

	err := r.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM votes"); err != nil {
			return fmt.Errorf("failed to delete votes: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE tickets SET is_used = 0, used_at = NULL WHERE is_used = 1")
		if err != nil {
			return fmt.Errorf("failed to reset tickets: %w", err)
		}
		reset, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// ClearTickets deletes every vote and every ticket.
func (r *SQLRepository) ClearTickets(ctx context.Context) (int64, error) {
	var cleared int64

	err := r.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM votes"); err != nil {
			return fmt.Errorf("failed to delete votes: %w", err)
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM tickets")
		if err != nil {
			return fmt.Errorf("failed to delete tickets: %w", err)
		}
		cleared, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}
