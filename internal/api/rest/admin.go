package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/session"
)

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type votingBody struct {
	Open *bool `json:"open"`
}

type generateBody struct {
	Count int `json:"count"`
}

type importBody struct {
	Codes []string `json:"codes"`
}

type contestantBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, token, maxAge, "/", "", s.opts.SecureCookie, true)
}

func (s *Server) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" || body.Password == "" {
		badRequest(c, "Missing username or password")
		return
	}

	sess, err := s.sessions.Login(c.Request.Context(), body.Username, body.Password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		logger.Logger.Warn().Str("client_ip", GetClientIP(c.Request)).Msg("admin login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	s.setSessionCookie(c, sess.Token, int(s.opts.SessionTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
	})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.sessions.Logout(c.Request.Context(), s.sessionToken(c)); err != nil {
		abortWithError(c, err)
		return
	}
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) adminStatus(c *gin.Context) {
	sess, err := s.sessions.Lookup(c.Request.Context(), s.sessionToken(c))
	if errors.Is(err, session.ErrNoSession) {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"username":      sess.Username,
		"expires_at":    sess.ExpiresAt,
	})
}

func (s *Server) adminStats(c *gin.Context) {
	snap, err := s.votes.Snapshot(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticket_stats": snap.TicketStats,
		"results":      snap.Results.Rows,
		"total_votes":  snap.Results.TotalVotes,
		"voting_open":  snap.VotingOpen,
		"current_time": snap.TakenAt,
	})
}

func (s *Server) ticketStats(c *gin.Context) {
	stats, err := s.votes.TicketStats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) setVoting(c *gin.Context) {
	var body votingBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Open == nil {
		badRequest(c, "Missing open")
		return
	}

	if err := s.votes.SetVotingOpen(c.Request.Context(), *body.Open); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voting_open": *body.Open})
}

func (s *Server) resetVoting(c *gin.Context) {
	reset, err := s.tickets.ResetAll(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Voting reset",
		"tickets_reset": reset,
	})
}

func (s *Server) generateTickets(c *gin.Context) {
	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Missing count")
		return
	}

	codes, err := s.tickets.Generate(c.Request.Context(), body.Count)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Generated %d tickets", len(codes)),
		"codes":   codes,
	})
}

func (s *Server) importTickets(c *gin.Context) {
	var body importBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Missing codes")
		return
	}

	report, err := s.tickets.Import(c.Request.Context(), body.Codes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) clearTickets(c *gin.Context) {
	cleared, err := s.tickets.ClearAll(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "All tickets cleared",
		"tickets_deleted": cleared,
	})
}

func (s *Server) exportTickets(c *gin.Context) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="tickets.csv"`)
	c.Status(http.StatusOK)

	if err := s.tickets.ExportCSV(c.Request.Context(), c.Writer); err != nil {
		// headers are gone already; the truncated body is all we can do
		logger.Logger.Error().Err(err).Msg("ticket export failed")
	}
}

func (s *Server) listAllContestants(c *gin.Context) {
	contestants, err := s.votes.ListContestants(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contestants)
}

func (s *Server) createContestant(c *gin.Context) {
	var body contestantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "No data provided")
		return
	}

	contestant, err := s.votes.CreateContestant(c.Request.Context(), body.Name, body.Description, body.ImageURL)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contestant)
}

func contestantID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid contestant id")
		return 0, false
	}
	return id, true
}

func (s *Server) deactivateContestant(c *gin.Context) {
	s.toggleContestant(c, false)
}

func (s *Server) activateContestant(c *gin.Context) {
	s.toggleContestant(c, true)
}

func (s *Server) toggleContestant(c *gin.Context, active bool) {
	id, ok := contestantID(c)
	if !ok {
		return
	}

	if err := s.votes.SetContestantActive(c.Request.Context(), id, active); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": active})
}
