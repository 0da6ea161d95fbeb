// Package rest is the public and admin HTTP API.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/contestvote/internal/service"
	"github.com/lvdashuaibi/contestvote/internal/session"
	"github.com/lvdashuaibi/contestvote/internal/ticket"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	CookieName     string
	SecureCookie   bool
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	StaticDir      string
	GraphQLPath    string
}

type Deps struct {
	Votes    *service.VoteService
	Tickets  *ticket.TicketService
	Sessions *session.Manager
	Store    Pinger

	// optional
	GraphQL http.Handler
	Metrics http.Handler
}

type Server struct {
	votes    *service.VoteService
	tickets  *ticket.TicketService
	sessions *session.Manager
	store    Pinger
	opts     Options
}

// NewRouter wires every route onto a new gin engine.
func NewRouter(deps Deps, opts Options) *gin.Engine {
	s := &Server{
		votes:    deps.Votes,
		tickets:  deps.Tickets,
		sessions: deps.Sessions,
		store:    deps.Store,
		opts:     opts,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), requestTimeout(opts.RequestTimeout))

	r.GET("/health", s.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.GraphQL != nil && opts.GraphQLPath != "" {
		r.GET(opts.GraphQLPath, gin.WrapH(deps.GraphQL))
		r.POST(opts.GraphQLPath, gin.WrapH(deps.GraphQL))
	}

	api := r.Group("/api")
	{
		api.GET("/contestants", s.listContestants)
		api.POST("/vote", s.submitVote)
		api.GET("/results", s.results)
		api.POST("/ticket/validate", s.validateTicket)
		api.GET("/voting/status", s.votingStatus)

		api.POST("/admin/login", s.login)
		api.GET("/admin/status", s.adminStatus)
	}

	admin := r.Group("/api", s.requireAdmin())
	{
		admin.POST("/admin/logout", s.logout)
		admin.GET("/admin/stats", s.adminStats)
		admin.GET("/ticket/stats", s.ticketStats)
		admin.POST("/admin/voting", s.setVoting)
		admin.POST("/admin/reset-voting", s.resetVoting)
		admin.POST("/admin/generate-tickets", s.generateTickets)
		admin.POST("/admin/tickets/import", s.importTickets)
		admin.POST("/admin/clear-tickets", s.clearTickets)
		admin.GET("/admin/tickets/export", s.exportTickets)
		admin.GET("/admin/contestants", s.listAllContestants)
		admin.POST("/admin/contestants", s.createContestant)
		admin.DELETE("/admin/contestants/:id", s.deactivateContestant)
		admin.POST("/admin/contestants/:id/activate", s.activateContestant)
	}

	if opts.StaticDir != "" {
		fs := http.FileServer(http.Dir(opts.StaticDir))
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}
			fs.ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
