package model

// OutcomeKind classifies a vote submission outcome.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeVotingClosed      OutcomeKind = "voting_closed"
	OutcomeInvalidTicket     OutcomeKind = "invalid_ticket"
	OutcomeTicketAlreadyUsed OutcomeKind = "ticket_already_used"
	OutcomeInvalidContestant OutcomeKind = "invalid_contestant"
	OutcomeStoreUnavailable  OutcomeKind = "store_unavailable"
	OutcomeUnexpectedFailure OutcomeKind = "unexpected_failure"
)

var outcomeMessages = map[OutcomeKind]string{
	OutcomeSuccess:           "Vote submitted successfully",
	OutcomeVotingClosed:      "Voting is closed",
	OutcomeInvalidTicket:     "Invalid ticket code",
	OutcomeTicketAlreadyUsed: "Ticket already used",
	OutcomeInvalidContestant: "Invalid contestant",
	OutcomeStoreUnavailable:  "Failed to submit vote, please try again",
	OutcomeUnexpectedFailure: "Failed to submit vote",
}

// Message returns the user-visible text for the kind. Infrastructure kinds
// only carry a generic text.
func (k OutcomeKind) Message() string {
	if msg, ok := outcomeMessages[k]; ok {
		return msg
	}
	return outcomeMessages[OutcomeUnexpectedFailure]
}

// Retryable is true only for transient store failures.
func (k OutcomeKind) Retryable() bool {
	return k == OutcomeStoreUnavailable
}

// IsValidation reports whether the kind is a client-side validation failure.
func (k OutcomeKind) IsValidation() bool {
	switch k {
	case OutcomeInvalidTicket, OutcomeTicketAlreadyUsed, OutcomeInvalidContestant:
		return true
	}
	return false
}

// Fail builds a failed outcome of the given kind.
func Fail(kind OutcomeKind) *VoteOutcome {
	return &VoteOutcome{
		Success: false,
		Kind:    kind,
		Message: kind.Message(),
	}
}
