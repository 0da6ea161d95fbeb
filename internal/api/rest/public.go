package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/contestvote/internal/model"
)

type voteBody struct {
	TicketCode   string `json:"ticket_code"`
	ContestantID int64  `json:"contestant_id"`
}

type ticketBody struct {
	TicketCode string `json:"ticket_code"`
}

func (s *Server) listContestants(c *gin.Context) {
	contestants, err := s.votes.ListActiveContestants(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contestants)
}

func (s *Server) submitVote(c *gin.Context) {
	var body voteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "No data provided")
		return
	}
	if body.TicketCode == "" || body.ContestantID == 0 {
		badRequest(c, "Missing ticket_code or contestant_id")
		return
	}

	outcome := s.votes.SubmitVote(c.Request.Context(), model.VoteRequest{
		TicketCode:   body.TicketCode,
		ContestantID: body.ContestantID,
		IPAddress:    GetClientIP(c.Request),
		UserAgent:    c.Request.UserAgent(),
	})

	if !outcome.Success {
		c.JSON(statusForOutcome(outcome.Kind), gin.H{
			"error":     outcome.Message,
			"kind":      outcome.Kind,
			"retryable": outcome.Kind.Retryable(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         outcome.Message,
		"contestant_name": outcome.ContestantName,
		"vote_id":         outcome.VoteID,
	})
}

func (s *Server) results(c *gin.Context) {
	ctx := c.Request.Context()

	results, err := s.votes.Results(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	open, err := s.votes.VotingOpen(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":      results.Rows,
		"total_votes":  results.TotalVotes,
		"voting_open":  open,
		"current_time": s.votes.Now(),
	})
}

func (s *Server) validateTicket(c *gin.Context) {
	var body ticketBody
	if err := c.ShouldBindJSON(&body); err != nil || body.TicketCode == "" {
		badRequest(c, "Missing ticket_code")
		return
	}

	v, err := s.votes.ValidateTicket(c.Request.Context(), body.TicketCode)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if !v.Valid {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": v.Message, "kind": v.Kind})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "message": v.Message})
}

func (s *Server) votingStatus(c *gin.Context) {
	open, err := s.votes.VotingOpen(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voting_open": open, "current_time": s.votes.Now()})
}
