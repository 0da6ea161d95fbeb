package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
		filepath.Join(t.TempDir(), "vote.db"))
	db, err := sql.Open(config.DriverSQLite, dsn)
	require.NoError(t, err)

	repo, err := NewSQLRepositoryFromDB(db, config.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func seedContestant(t *testing.T, repo *SQLRepository, name string) *model.Contestant {
	t.Helper()

	c := &model.Contestant{Name: name, Description: name + " bio"}
	require.NoError(t, repo.CreateContestant(context.Background(), c))
	return c
}

func seedTickets(t *testing.T, repo *SQLRepository, codes ...string) {
	t.Helper()

	report, err := repo.ImportTickets(context.Background(), codes, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, len(codes), report.Inserted)
}

func voteFor(code string, contestantID int64) model.VoteRequest {
	return model.VoteRequest{
		TicketCode:   code,
		ContestantID: contestantID,
		IPAddress:    "10.0.0.1",
		UserAgent:    "test",
	}
}

func TestSubmitVote_EndToEnd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c1 := seedContestant(t, repo, "C1")
	seedTickets(t, repo, "ABC12345")

	outcome, err := repo.SubmitVote(ctx, voteFor("ABC12345", c1.ID), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	require.Equal(t, "C1", outcome.ContestantName)
	require.NotZero(t, outcome.VoteID)

	tallies, err := repo.ResultTallies(ctx)
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	require.Equal(t, int64(1), tallies[0].VoteCount)

	outcome, err = repo.SubmitVote(ctx, voteFor("ABC12345", c1.ID), time.Now().UTC())
	require.NoError(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, model.OutcomeTicketAlreadyUsed, outcome.Kind)

	tallies, err = repo.ResultTallies(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), tallies[0].VoteCount)

	ticket, err := repo.GetTicketByCode(ctx, "ABC12345")
	require.NoError(t, err)
	require.True(t, ticket.IsUsed)
	require.NotNil(t, ticket.UsedAt)
}

// raceSameTicket submits n votes for one ticket, spread across repos, and
// checks that exactly one of them wins.
func raceSameTicket(t *testing.T, repos []*SQLRepository, code string, contestantID int64) {
	t.Helper()
	ctx := context.Background()

	const n = 50
	outcomes := make([]*model.VoteOutcome, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = repos[i%len(repos)].SubmitVote(ctx, voteFor(code, contestantID), time.Now().UTC())
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, alreadyUsed := 0, 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		switch outcomes[i].Kind {
		case model.OutcomeSuccess:
			succeeded++
		case model.OutcomeTicketAlreadyUsed:
			alreadyUsed++
		default:
			t.Fatalf("unexpected outcome %s", outcomes[i].Kind)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, n-1, alreadyUsed)

	votes, err := repos[0].CountVotesForTicket(ctx, code)
	require.NoError(t, err)
	require.Equal(t, int64(1), votes)
}

func TestSubmitVote_ConcurrentSameTicket(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
		filepath.Join(t.TempDir(), "race.db"))

	// separate handles race on the database file, not on one pooled connection
	repos := make([]*SQLRepository, 5)
	for i := range repos {
		db, err := sql.Open(config.DriverSQLite, dsn)
		require.NoError(t, err)
		repos[i], err = NewSQLRepositoryFromDB(db, config.DriverSQLite)
		require.NoError(t, err)
		t.Cleanup(repos[i].Close)
	}
	require.NoError(t, repos[0].Migrate(context.Background()))

	c := seedContestant(t, repos[0], "Racer")
	seedTickets(t, repos[0], "RACE0001")

	raceSameTicket(t, repos, "RACE0001", c.ID)
}

// TestSubmitVote_ConcurrentSameTicketMySQL runs the race against a real
// MySQL server, where the ticket row lock is taken with FOR UPDATE.
// Set VOTE_TEST_MYSQL_DSN to run it.
func TestSubmitVote_ConcurrentSameTicketMySQL(t *testing.T) {
	raw := os.Getenv("VOTE_TEST_MYSQL_DSN")
	if raw == "" {
		t.Skip("VOTE_TEST_MYSQL_DSN not set")
	}

	mcfg, err := mysql.ParseDSN(raw)
	require.NoError(t, err)
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC

	repo, err := NewSQLRepository(config.DatabaseConfig{
		Driver:       config.DriverMySQL,
		Master:       mcfg.FormatDSN(),
		MaxOpenConns: 20,
		MaxIdleConns: 10,
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.Migrate(context.Background()))
	require.Equal(t, " FOR UPDATE", repo.dialect.ticketLock)

	code := "RACE" + strings.ToUpper(uuid.NewString()[:8])
	c := seedContestant(t, repo, "Racer "+code)
	seedTickets(t, repo, code)

	raceSameTicket(t, []*SQLRepository{repo}, code, c.ID)
}

func TestSubmitVote_UnknownTicket(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := seedContestant(t, repo, "C1")

	outcome, err := repo.SubmitVote(ctx, voteFor("NOPE1234", c.ID), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.OutcomeInvalidTicket, outcome.Kind)

	votes, err := repo.CountVotes(ctx)
	require.NoError(t, err)
	require.Zero(t, votes)

	total, _, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestSubmitVote_TicketCodeIsCaseSensitive(t *testing.T) {
	repo := newTestRepo(t)

	c := seedContestant(t, repo, "C1")
	seedTickets(t, repo, "ABC12345")

	outcome, err := repo.SubmitVote(context.Background(), voteFor("abc12345", c.ID), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.OutcomeInvalidTicket, outcome.Kind)
}

func TestSubmitVote_VotingClosed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := seedContestant(t, repo, "C1")
	seedTickets(t, repo, "CLOSED01")
	require.NoError(t, repo.SetVotingOpen(ctx, false, time.Now().UTC()))

	outcome, err := repo.SubmitVote(ctx, voteFor("CLOSED01", c.ID), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.OutcomeVotingClosed, outcome.Kind)

	ticket, err := repo.GetTicketByCode(ctx, "CLOSED01")
	require.NoError(t, err)
	require.False(t, ticket.IsUsed)
	require.Nil(t, ticket.UsedAt)

	votes, err := repo.CountVotes(ctx)
	require.NoError(t, err)
	require.Zero(t, votes)

	require.NoError(t, repo.SetVotingOpen(ctx, true, time.Now().UTC()))
	outcome, err = repo.SubmitVote(ctx, voteFor("CLOSED01", c.ID), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, outcome.Success)
}

func TestSubmitVote_InactiveContestant(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := seedContestant(t, repo, "Gone")
	seedTickets(t, repo, "GONE0001")
	require.NoError(t, repo.SetContestantActive(ctx, c.ID, false))

	outcome, err := repo.SubmitVote(ctx, voteFor("GONE0001", c.ID), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.OutcomeInvalidContestant, outcome.Kind)

	outcome, err = repo.SubmitVote(ctx, voteFor("GONE0001", 9999), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.OutcomeInvalidContestant, outcome.Kind)

	ticket, err := repo.GetTicketByCode(ctx, "GONE0001")
	require.NoError(t, err)
	require.False(t, ticket.IsUsed)
}

func TestResetAll(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := seedContestant(t, repo, "C1")
	seedTickets(t, repo, "RESET001", "RESET002", "RESET003")

	for _, code := range []string{"RESET001", "RESET002"} {
		outcome, err := repo.SubmitVote(ctx, voteFor(code, c.ID), time.Now().UTC())
		require.NoError(t, err)
		require.True(t, outcome.Success)
	}

	reset, err := repo.ResetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), reset)

	total, used, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Zero(t, used)

	votes, err := repo.CountVotes(ctx)
	require.NoError(t, err)
	require.Zero(t, votes)

	ticket, err := repo.GetTicketByCode(ctx, "RESET001")
	require.NoError(t, err)
	require.False(t, ticket.IsUsed)
	require.Nil(t, ticket.UsedAt)
}

func TestClearTickets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := seedContestant(t, repo, "C1")
	seedTickets(t, repo, "CLEAR001", "CLEAR002")
	_, err := repo.SubmitVote(ctx, voteFor("CLEAR001", c.ID), time.Now().UTC())
	require.NoError(t, err)

	cleared, err := repo.ClearTickets(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), cleared)

	total, _, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	_, err = repo.GetTicketByCode(ctx, "CLEAR001")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInsertGeneratedTickets_RetriesCollisions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedTickets(t, repo, "TAKEN001")

	queue := []string{"TAKEN001", "FRESH001", "FRESH001", "FRESH002"}
	gen := func() (string, error) {
		code := queue[0]
		queue = queue[1:]
		return code, nil
	}

	codes, err := repo.InsertGeneratedTickets(ctx, gen, 2, 3, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, []string{"FRESH001", "FRESH002"}, codes)

	total, _, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
}

func TestInsertGeneratedTickets_ExhaustedRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedTickets(t, repo, "SAME0001")

	calls := 0
	gen := func() (string, error) {
		calls++
		if calls == 1 {
			return "FIRST001", nil
		}
		return "SAME0001", nil
	}

	_, err := repo.InsertGeneratedTickets(ctx, gen, 2, 2, time.Now().UTC())
	require.ErrorIs(t, err, ErrCodeSpaceExhausted)

	_, err = repo.GetTicketByCode(ctx, "FIRST001")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportTickets_SkipsExisting(t *testing.T) {
	repo := newTestRepo(t)

	seedTickets(t, repo, "IMPORT01")

	report, err := repo.ImportTickets(context.Background(),
		[]string{"IMPORT01", "IMPORT02", "IMPORT03"}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.ImportReport{Inserted: 2, Skipped: 1}, report)

	tickets, err := repo.ListTickets(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	require.Equal(t, "IMPORT01", tickets[0].TicketCode)
}

func TestContestants(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	zed := seedContestant(t, repo, "Zed")
	amy := seedContestant(t, repo, "Amy")

	active, err := repo.ListActiveContestants(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "Amy", active[0].Name)
	require.Equal(t, "Zed", active[1].Name)

	require.NoError(t, repo.SetContestantActive(ctx, zed.ID, false))

	active, err = repo.ListActiveContestants(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, amy.ID, active[0].ID)

	all, err := repo.ListContestants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := repo.GetContestant(ctx, zed.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, "Zed bio", got.Description)

	require.ErrorIs(t, repo.SetContestantActive(ctx, 4242, true), ErrNotFound)

	_, err = repo.GetContestant(ctx, 4242)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := seedContestant(t, repo, "A")
	seedContestant(t, repo, "B")
	seedTickets(t, repo, "SNAP0001", "SNAP0002", "SNAP0003", "SNAP0004")

	for _, code := range []string{"SNAP0001", "SNAP0002"} {
		_, err := repo.SubmitVote(ctx, voteFor(code, a.ID), time.Now().UTC())
		require.NoError(t, err)
	}

	snap, err := repo.ReadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, snap.VotingOpen)
	require.Equal(t, int64(4), snap.TicketCount)
	require.Equal(t, int64(2), snap.UsedCount)
	require.Len(t, snap.Tallies, 2)

	var sum int64
	for _, row := range snap.Tallies {
		sum += row.VoteCount
	}
	require.Equal(t, snap.UsedCount, sum)
}

func TestVotingFlag(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	open, err := repo.VotingOpen(ctx)
	require.NoError(t, err)
	require.True(t, open)

	require.NoError(t, repo.SetVotingOpen(ctx, false, time.Now().UTC()))
	open, err = repo.VotingOpen(ctx)
	require.NoError(t, err)
	require.False(t, open)

	// Migrate again must not reopen voting.
	require.NoError(t, repo.Migrate(ctx))
	open, err = repo.VotingOpen(ctx)
	require.NoError(t, err)
	require.False(t, open)
}

func TestErrorClassification(t *testing.T) {
	require.True(t, isDuplicateKey(&mysql.MySQLError{Number: 1062}))
	require.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1213}))
	require.False(t, isDuplicateKey(nil))

	require.True(t, IsTransient(&mysql.MySQLError{Number: 1213}))
	require.True(t, IsTransient(&mysql.MySQLError{Number: 1205}))
	require.False(t, IsTransient(&mysql.MySQLError{Number: 1062}))
	require.True(t, IsTransient(fmt.Errorf("begin: %w", context.DeadlineExceeded)))
	require.True(t, IsTransient(sql.ErrConnDone))
	require.False(t, IsTransient(ErrNotFound))
	require.False(t, IsTransient(nil))
}

func TestDuplicateKeyFromSQLite(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.masterDB.Exec(
		"INSERT INTO tickets (ticket_code, is_used, created_at) VALUES (?, 0, ?)", "DUPE0001", time.Now().UTC())
	require.NoError(t, err)

	_, err = repo.masterDB.Exec(
		"INSERT INTO tickets (ticket_code, is_used, created_at) VALUES (?, 0, ?)", "DUPE0001", time.Now().UTC())
	require.Error(t, err)
	require.True(t, isDuplicateKey(err))
}
