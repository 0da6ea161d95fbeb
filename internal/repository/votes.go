package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
)

// rejection aborts the vote transaction with a terminal outcome kind.
type rejection struct {
	kind model.OutcomeKind
}

func (r *rejection) Error() string {
	return string(r.kind)
}

func reject(kind model.OutcomeKind) error {
	return &rejection{kind: kind}
}

// SubmitVote runs the vote submission transaction: it checks the voting flag,
// locks the ticket row, checks the contestant, flips the ticket to used and
// appends the vote. Terminal validation failures come back as a failed
// outcome with a nil error and leave no durable change. Any other failure is
// returned as an error and the transaction is rolled back.
func (r *SQLRepository) SubmitVote(ctx context.Context, req model.VoteRequest, now time.Time) (*model.VoteOutcome, error) {
	var outcome *model.VoteOutcome

	err := r.writeTx(ctx, func(tx *sql.Tx) error {
		open, err := readVotingOpen(ctx, tx)
		if err != nil {
			return err
		}
		if !open {
			return reject(model.OutcomeVotingClosed)
		}

		var ticketID int64
		var isUsed bool
		err = tx.QueryRowContext(ctx,
			"SELECT id, is_used FROM tickets WHERE ticket_code = ?"+r.dialect.ticketLock,
			req.TicketCode,
		).Scan(&ticketID, &isUsed)
		if errors.Is(err, sql.ErrNoRows) {
			return reject(model.OutcomeInvalidTicket)
		}
		if err != nil {
			return fmt.Errorf("failed to load ticket: %w", err)
		}
		if isUsed {
			return reject(model.OutcomeTicketAlreadyUsed)
		}

		var contestantName string
		err = tx.QueryRowContext(ctx,
			"SELECT name FROM contestants WHERE id = ? AND is_active = 1",
			req.ContestantID,
		).Scan(&contestantName)
		if errors.Is(err, sql.ErrNoRows) {
			return reject(model.OutcomeInvalidContestant)
		}
		if err != nil {
			return fmt.Errorf("failed to load contestant: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE tickets SET is_used = 1, used_at = ? WHERE id = ? AND is_used = 0",
			now, ticketID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark ticket used: %w", err)
		}
		flipped, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark ticket used: %w", err)
		}
		if flipped != 1 {
			return reject(model.OutcomeTicketAlreadyUsed)
		}

		res, err = tx.ExecContext(ctx,
			`INSERT INTO votes (contestant_id, ticket_id, ip_address, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			req.ContestantID, ticketID, req.IPAddress, req.UserAgent, now,
		)
		if isDuplicateKey(err) {
			return reject(model.OutcomeTicketAlreadyUsed)
		}
		if err != nil {
			return fmt.Errorf("failed to insert vote: %w", err)
		}

		voteID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read vote id: %w", err)
		}

		outcome = &model.VoteOutcome{
			Success:        true,
			Kind:           model.OutcomeSuccess,
			Message:        model.OutcomeSuccess.Message(),
			ContestantName: contestantName,
			VoteID:         voteID,
			TicketCode:     req.TicketCode,
		}
		return nil
	})

	var rej *rejection
	if errors.As(err, &rej) {
		return model.Fail(rej.kind), nil
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// CountVotesForTicket returns how many ledger rows reference the ticket code.
func (r *SQLRepository) CountVotesForTicket(ctx context.Context, code string) (int64, error) {
	var n int64
	err := r.masterDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes v JOIN tickets t ON t.id = v.ticket_id WHERE t.ticket_code = ?`,
		code,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return n, nil
}

// CountVotes returns the size of the vote ledger.
func (r *SQLRepository) CountVotes(ctx context.Context) (int64, error) {
	var n int64
	if err := r.masterDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM votes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return n, nil
}
