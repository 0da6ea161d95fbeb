package graph

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/service"
)

const schemaString = `
type Contestant {
  id: ID!
  name: String!
  description: String!
  imageUrl: String!
}

type ResultRow {
  id: ID!
  name: String!
  description: String!
  imageUrl: String!
  voteCount: Int!
  percentage: Float!
}

type Results {
  rows: [ResultRow!]!
  totalVotes: Int!
  votingOpen: Boolean!
  currentTime: String!
}

type TicketStats {
  totalTickets: Int!
  usedTickets: Int!
  unusedTickets: Int!
  usagePercentage: Float!
}

type VotingStatus {
  votingOpen: Boolean!
  currentTime: String!
}

type TicketValidation {
  valid: Boolean!
  kind: String
  message: String!
}

type VoteOutcome {
  success: Boolean!
  kind: String!
  message: String!
  retryable: Boolean!
  contestantName: String
  voteId: ID
}

type Query {
  # active contestants ordered by name
  contestants: [Contestant!]!
  results: Results!
  # requires an admin session
  ticketStats: TicketStats
  votingStatus: VotingStatus!
  validateTicket(code: String!): TicketValidation!
}

type Mutation {
  # consumes the ticket on success
  submitVote(ticketCode: String!, contestantId: ID!): VoteOutcome!
}

schema {
  query: Query
  mutation: Mutation
}
`

var ErrUnauthenticated = errors.New("authentication required")

type clientKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
	admin     bool
}

// ClientIPFunc extracts the caller address recorded with a vote.
type ClientIPFunc func(r *http.Request) string

// AuthorizeFunc reports whether the request carries an admin session.
type AuthorizeFunc func(r *http.Request) bool

// NewSchema parses the schema against a resolver backed by votes.
func NewSchema(votes *service.VoteService) *graphql.Schema {
	return graphql.MustParseSchema(schemaString, &Resolver{votes: votes},
		graphql.MaxDepth(8),
	)
}

// NewHandler serves queries on POST and the playground page on GET. endpoint
// is the path the playground posts to. A nil authorize treats every caller as
// anonymous.
func NewHandler(votes *service.VoteService, endpoint string, clientIP ClientIPFunc, authorize AuthorizeFunc) http.Handler {
	relayHandler := &relay.Handler{Schema: NewSchema(votes)}
	page := []byte(playgroundPage(endpoint))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(page)
			return
		}

		info := clientInfo{userAgent: r.UserAgent()}
		if clientIP != nil {
			info.ip = clientIP(r)
		}
		if authorize != nil {
			info.admin = authorize(r)
		}
		relayHandler.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, info)))
	})
}

type Resolver struct {
	votes *service.VoteService
}

func (r *Resolver) Contestants(ctx context.Context) ([]*contestantResolver, error) {
	contestants, err := r.votes.ListActiveContestants(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*contestantResolver, len(contestants))
	for i := range contestants {
		out[i] = &contestantResolver{c: contestants[i]}
	}
	return out, nil
}

func (r *Resolver) Results(ctx context.Context) (*resultsResolver, error) {
	results, err := r.votes.Results(ctx)
	if err != nil {
		return nil, err
	}
	open, err := r.votes.VotingOpen(ctx)
	if err != nil {
		return nil, err
	}
	return &resultsResolver{results: results, open: open, at: r.votes.Now()}, nil
}

func (r *Resolver) TicketStats(ctx context.Context) (*ticketStatsResolver, error) {
	if info, _ := ctx.Value(clientKey{}).(clientInfo); !info.admin {
		return nil, ErrUnauthenticated
	}
	stats, err := r.votes.TicketStats(ctx)
	if err != nil {
		return nil, err
	}
	return &ticketStatsResolver{stats: stats}, nil
}

func (r *Resolver) VotingStatus(ctx context.Context) (*votingStatusResolver, error) {
	open, err := r.votes.VotingOpen(ctx)
	if err != nil {
		return nil, err
	}
	return &votingStatusResolver{open: open, at: r.votes.Now()}, nil
}

func (r *Resolver) ValidateTicket(ctx context.Context, args struct{ Code string }) (*validationResolver, error) {
	v, err := r.votes.ValidateTicket(ctx, args.Code)
	if err != nil {
		return nil, err
	}
	return &validationResolver{v: v}, nil
}

func (r *Resolver) SubmitVote(ctx context.Context, args struct {
	TicketCode   string
	ContestantID graphql.ID
}) (*outcomeResolver, error) {
	id, err := strconv.ParseInt(string(args.ContestantID), 10, 64)
	if err != nil || id <= 0 {
		return &outcomeResolver{o: model.Fail(model.OutcomeInvalidContestant)}, nil
	}

	info, _ := ctx.Value(clientKey{}).(clientInfo)
	outcome := r.votes.SubmitVote(ctx, model.VoteRequest{
		TicketCode:   args.TicketCode,
		ContestantID: id,
		IPAddress:    info.ip,
		UserAgent:    info.userAgent,
	})
	return &outcomeResolver{o: outcome}, nil
}

func formatID(id int64) graphql.ID {
	return graphql.ID(strconv.FormatInt(id, 10))
}

// clampInt32 fits a count into the GraphQL Int range.
func clampInt32(n int64) int32 {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	}
	return int32(n)
}

type contestantResolver struct {
	c model.Contestant
}

func (r *contestantResolver) ID() graphql.ID      { return formatID(r.c.ID) }
func (r *contestantResolver) Name() string        { return r.c.Name }
func (r *contestantResolver) Description() string { return r.c.Description }
func (r *contestantResolver) ImageURL() string    { return r.c.ImageRef }

type resultRowResolver struct {
	row model.ResultRow
}

func (r *resultRowResolver) ID() graphql.ID      { return formatID(r.row.ID) }
func (r *resultRowResolver) Name() string        { return r.row.Name }
func (r *resultRowResolver) Description() string { return r.row.Description }
func (r *resultRowResolver) ImageURL() string    { return r.row.ImageRef }
func (r *resultRowResolver) VoteCount() int32    { return clampInt32(r.row.VoteCount) }
func (r *resultRowResolver) Percentage() float64 { return r.row.Percentage }

type resultsResolver struct {
	results *model.Results
	open    bool
	at      time.Time
}

func (r *resultsResolver) Rows() []*resultRowResolver {
	out := make([]*resultRowResolver, len(r.results.Rows))
	for i := range r.results.Rows {
		out[i] = &resultRowResolver{row: r.results.Rows[i]}
	}
	return out
}

func (r *resultsResolver) TotalVotes() int32   { return clampInt32(r.results.TotalVotes) }
func (r *resultsResolver) VotingOpen() bool    { return r.open }
func (r *resultsResolver) CurrentTime() string { return r.at.Format(time.RFC3339) }

type ticketStatsResolver struct {
	stats *model.TicketStats
}

func (r *ticketStatsResolver) TotalTickets() int32      { return clampInt32(r.stats.TotalTickets) }
func (r *ticketStatsResolver) UsedTickets() int32       { return clampInt32(r.stats.UsedTickets) }
func (r *ticketStatsResolver) UnusedTickets() int32     { return clampInt32(r.stats.UnusedTickets) }
func (r *ticketStatsResolver) UsagePercentage() float64 { return r.stats.UsagePercentage }

type votingStatusResolver struct {
	open bool
	at   time.Time
}

func (r *votingStatusResolver) VotingOpen() bool    { return r.open }
func (r *votingStatusResolver) CurrentTime() string { return r.at.Format(time.RFC3339) }

type validationResolver struct {
	v *model.TicketValidation
}

func (r *validationResolver) Valid() bool     { return r.v.Valid }
func (r *validationResolver) Message() string { return r.v.Message }

func (r *validationResolver) Kind() *string {
	if r.v.Kind == "" {
		return nil
	}
	kind := string(r.v.Kind)
	return &kind
}

type outcomeResolver struct {
	o *model.VoteOutcome
}

func (r *outcomeResolver) Success() bool   { return r.o.Success }
func (r *outcomeResolver) Kind() string    { return string(r.o.Kind) }
func (r *outcomeResolver) Message() string { return r.o.Message }
func (r *outcomeResolver) Retryable() bool { return r.o.Kind.Retryable() }

func (r *outcomeResolver) ContestantName() *string {
	if r.o.ContestantName == "" {
		return nil
	}
	return &r.o.ContestantName
}

func (r *outcomeResolver) VoteID() *graphql.ID {
	if r.o.VoteID == 0 {
		return nil
	}
	id := formatID(r.o.VoteID)
	return &id
}

func playgroundPage(endpoint string) string {
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <title>Contest Vote GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function () {
      GraphQLPlayground.init(document.getElementById('root'), { endpoint: ` + strconv.Quote(endpoint) + ` })
    })</script>
</body>
</html>
`
}
