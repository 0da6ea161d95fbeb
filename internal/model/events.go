package model

import "time"

// EventType names what happened in a VoteEvent.
type EventType string

const (
	EventVoteCast         EventType = "vote.cast"
	EventVotingOpened     EventType = "voting.opened"
	EventVotingClosed     EventType = "voting.closed"
	EventVotingReset      EventType = "voting.reset"
	EventTicketsGenerated EventType = "tickets.generated"
	EventTicketsCleared   EventType = "tickets.cleared"
)

// VoteEvent is published on the event stream after a state change commits.
type VoteEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	ContestantID int64     `json:"contestant_id,omitempty"`
	VoteID       int64     `json:"vote_id,omitempty"`
	Count        int       `json:"count,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
