package graph

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/repository"
	"github.com/lvdashuaibi/contestvote/internal/service"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*repository.SQLRepository, *sql.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
		filepath.Join(t.TempDir(), "graph.db"))
	db, err := sql.Open(config.DriverSQLite, dsn)
	require.NoError(t, err)
	repo, err := repository.NewSQLRepositoryFromDB(db, config.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo, db
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func post(t *testing.T, h http.Handler, query string, vars map[string]interface{}) gqlResponse {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{"query": query, "variables": vars})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "graph-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp gqlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func allowAll(*http.Request) bool { return true }

func TestSubmitVoteAndResults(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	c := &model.Contestant{Name: "Nova"}
	require.NoError(t, repo.CreateContestant(ctx, c))
	_, err := repo.ImportTickets(ctx, []string{"GRAPH001"}, time.Now().UTC())
	require.NoError(t, err)

	votes := service.NewVoteService(repo, nil, nil, nil, service.Options{})
	h := NewHandler(votes, "/graphql", func(*http.Request) string { return "192.0.2.44" }, allowAll)

	const mutation = `mutation($code: String!, $id: ID!) {
		submitVote(ticketCode: $code, contestantId: $id) {
			success kind message retryable contestantName voteId
		}
	}`
	vars := map[string]interface{}{"code": "GRAPH001", "id": fmt.Sprint(c.ID)}

	resp := post(t, h, mutation, vars)
	require.Empty(t, resp.Errors)

	var first struct {
		SubmitVote struct {
			Success        bool    `json:"success"`
			Kind           string  `json:"kind"`
			Retryable      bool    `json:"retryable"`
			ContestantName *string `json:"contestantName"`
			VoteID         *string `json:"voteId"`
		} `json:"submitVote"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	require.True(t, first.SubmitVote.Success)
	require.Equal(t, string(model.OutcomeSuccess), first.SubmitVote.Kind)
	require.NotNil(t, first.SubmitVote.ContestantName)
	require.Equal(t, "Nova", *first.SubmitVote.ContestantName)
	require.NotNil(t, first.SubmitVote.VoteID)

	var ip, ua string
	require.NoError(t, db.QueryRow("SELECT ip_address, user_agent FROM votes").Scan(&ip, &ua))
	require.Equal(t, "192.0.2.44", ip)
	require.Equal(t, "graph-test", ua)

	resp = post(t, h, mutation, vars)
	require.Empty(t, resp.Errors)
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	require.False(t, first.SubmitVote.Success)
	require.Equal(t, string(model.OutcomeTicketAlreadyUsed), first.SubmitVote.Kind)
	require.Nil(t, first.SubmitVote.VoteID)

	resp = post(t, h, `{ results { totalVotes votingOpen rows { name voteCount percentage } } ticketStats { usedTickets unusedTickets } }`, nil)
	require.Empty(t, resp.Errors)

	var out struct {
		Results struct {
			TotalVotes int  `json:"totalVotes"`
			VotingOpen bool `json:"votingOpen"`
			Rows       []struct {
				Name       string  `json:"name"`
				VoteCount  int     `json:"voteCount"`
				Percentage float64 `json:"percentage"`
			} `json:"rows"`
		} `json:"results"`
		TicketStats struct {
			UsedTickets   int `json:"usedTickets"`
			UnusedTickets int `json:"unusedTickets"`
		} `json:"ticketStats"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Equal(t, 1, out.Results.TotalVotes)
	require.True(t, out.Results.VotingOpen)
	require.Len(t, out.Results.Rows, 1)
	require.Equal(t, 100.0, out.Results.Rows[0].Percentage)
	require.Equal(t, 1, out.TicketStats.UsedTickets)
	require.Zero(t, out.TicketStats.UnusedTickets)
}

func TestSubmitVote_BadContestantID(t *testing.T) {
	repo, _ := newTestRepo(t)
	h := NewHandler(service.NewVoteService(repo, nil, nil, nil, service.Options{}), "/graphql", nil, nil)

	resp := post(t, h, `mutation { submitVote(ticketCode: "GRAPH001", contestantId: "x") { success kind } }`, nil)
	require.Empty(t, resp.Errors)

	var out struct {
		SubmitVote struct {
			Success bool   `json:"success"`
			Kind    string `json:"kind"`
		} `json:"submitVote"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.False(t, out.SubmitVote.Success)
	require.Equal(t, string(model.OutcomeInvalidContestant), out.SubmitVote.Kind)
}

func TestQueries(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateContestant(ctx, &model.Contestant{Name: "Zed"}))
	require.NoError(t, repo.CreateContestant(ctx, &model.Contestant{Name: "Amy", ImageRef: "amy.png"}))

	h := NewHandler(service.NewVoteService(repo, nil, nil, nil, service.Options{}), "/graphql", nil, nil)
	resp := post(t, h, `{
		contestants { id name imageUrl }
		votingStatus { votingOpen currentTime }
		validateTicket(code: "MISSING1") { valid kind message }
	}`, nil)
	require.Empty(t, resp.Errors)

	var out struct {
		Contestants []struct {
			Name     string `json:"name"`
			ImageURL string `json:"imageUrl"`
		} `json:"contestants"`
		VotingStatus struct {
			VotingOpen  bool   `json:"votingOpen"`
			CurrentTime string `json:"currentTime"`
		} `json:"votingStatus"`
		ValidateTicket struct {
			Valid   bool    `json:"valid"`
			Kind    *string `json:"kind"`
			Message string  `json:"message"`
		} `json:"validateTicket"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Len(t, out.Contestants, 2)
	require.Equal(t, "Amy", out.Contestants[0].Name)
	require.Equal(t, "amy.png", out.Contestants[0].ImageURL)
	require.True(t, out.VotingStatus.VotingOpen)
	_, err := time.Parse(time.RFC3339, out.VotingStatus.CurrentTime)
	require.NoError(t, err)
	require.False(t, out.ValidateTicket.Valid)
	require.NotNil(t, out.ValidateTicket.Kind)
	require.Equal(t, string(model.OutcomeInvalidTicket), *out.ValidateTicket.Kind)
}

func TestTicketStatsRequiresAdmin(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.ImportTickets(context.Background(), []string{"STAT0001"}, time.Now().UTC())
	require.NoError(t, err)
	votes := service.NewVoteService(repo, nil, nil, nil, service.Options{})

	const query = `{ votingStatus { votingOpen } ticketStats { totalTickets } }`

	for name, h := range map[string]http.Handler{
		"no authorizer": NewHandler(votes, "/graphql", nil, nil),
		"anonymous":     NewHandler(votes, "/graphql", nil, func(*http.Request) bool { return false }),
	} {
		resp := post(t, h, query, nil)
		require.Len(t, resp.Errors, 1, name)
		require.Contains(t, resp.Errors[0].Message, ErrUnauthenticated.Error(), name)

		var out struct {
			VotingStatus *struct{ VotingOpen bool } `json:"votingStatus"`
			TicketStats  *struct{ TotalTickets int } `json:"ticketStats"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out), name)
		require.NotNil(t, out.VotingStatus, name)
		require.Nil(t, out.TicketStats, name)
	}

	resp := post(t, NewHandler(votes, "/graphql", nil, allowAll), query, nil)
	require.Empty(t, resp.Errors)
	require.Contains(t, string(resp.Data), `"totalTickets":1`)
}

func TestClampInt32(t *testing.T) {
	require.Equal(t, int32(42), clampInt32(42))
	require.Equal(t, int32(math.MaxInt32), clampInt32(math.MaxInt32+1))
	require.Equal(t, int32(math.MaxInt32), clampInt32(math.MaxInt64))
	require.Equal(t, int32(math.MinInt32), clampInt32(math.MinInt64))
}

func TestPlaygroundPage(t *testing.T) {
	repo, _ := newTestRepo(t)
	h := NewHandler(service.NewVoteService(repo, nil, nil, nil, service.Options{}), "/graphql", nil, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `endpoint: "/graphql"`)
}

func TestSchemaRejectsUnknownField(t *testing.T) {
	repo, _ := newTestRepo(t)
	schema := NewSchema(service.NewVoteService(repo, nil, nil, nil, service.Options{}))

	res := schema.Exec(context.Background(), `{ tickets { code } }`, "", nil)
	require.NotEmpty(t, res.Errors)
}
