package model

import (
	"time"
)

// Contestant is immutable after creation except for IsActive.
type Contestant struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageRef    string    `json:"image_url"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ticket is a single-use voting credential. UsedAt is set iff IsUsed.
type Ticket struct {
	ID         int64      `json:"id"`
	TicketCode string     `json:"ticket_code"`
	IsUsed     bool       `json:"is_used"`
	CreatedAt  time.Time  `json:"created_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
}

// Vote links exactly one ticket to one contestant.
type Vote struct {
	ID           int64     `json:"id"`
	ContestantID int64     `json:"contestant_id"`
	TicketID     int64     `json:"ticket_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
}

// VoteRequest is the input of a vote submission.
type VoteRequest struct {
	TicketCode   string `json:"ticket_code"`
	ContestantID int64  `json:"contestant_id"`
	IPAddress    string `json:"-"`
	UserAgent    string `json:"-"`
}

// VoteOutcome is the structured result of a vote submission attempt.
type VoteOutcome struct {
	Success        bool        `json:"success"`
	Kind           OutcomeKind `json:"kind"`
	Message        string      `json:"message"`
	ContestantName string      `json:"contestant_name,omitempty"`
	VoteID         int64       `json:"vote_id,omitempty"`
	TicketCode     string      `json:"ticket_code,omitempty"`
}

// ResultRow is one contestant line of the results table.
type ResultRow struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ImageRef    string  `json:"image_url"`
	VoteCount   int64   `json:"vote_count"`
	Percentage  float64 `json:"percentage"`
}

// Results is the output of the results aggregator.
type Results struct {
	Rows       []ResultRow `json:"results"`
	TotalVotes int64       `json:"total_votes"`
}

// TicketStats summarises ticket usage.
type TicketStats struct {
	TotalTickets    int64   `json:"total_tickets"`
	UsedTickets     int64   `json:"used_tickets"`
	UnusedTickets   int64   `json:"unused_tickets"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// Snapshot is a consistent read of results, ticket usage and the voting flag.
type Snapshot struct {
	Results     Results     `json:"results"`
	TicketStats TicketStats `json:"ticket_stats"`
	VotingOpen  bool        `json:"voting_open"`
	TakenAt     time.Time   `json:"current_time"`
}

// TicketValidation is the answer to a non-consuming ticket check.
type TicketValidation struct {
	Valid   bool        `json:"valid"`
	Kind    OutcomeKind `json:"kind,omitempty"`
	Message string      `json:"message"`
}

// ImportReport counts what an import of predefined codes did.
type ImportReport struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Session is an authenticated admin session.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
