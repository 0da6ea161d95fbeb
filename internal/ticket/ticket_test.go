package ticket

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/lock"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/repository"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*model.VoteEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event *model.VoteEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []model.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T) (*TicketService, *repository.SQLRepository, *lock.LocalLock, *recordingNotifier) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
		filepath.Join(t.TempDir(), "tickets.db"))
	db, err := sql.Open(config.DriverSQLite, dsn)
	require.NoError(t, err)

	repo, err := repository.NewSQLRepositoryFromDB(db, config.DriverSQLite)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.Migrate(context.Background()))

	gen, err := NewGenerator(8)
	require.NoError(t, err)

	l := lock.NewLocalLock()
	n := &recordingNotifier{}
	svc := NewTicketService(repo, gen, l, n, Options{
		MaxGenerate:      100,
		CollisionRetries: 5,
		LockTTL:          time.Minute,
	})
	return svc, repo, l, n
}

func TestValidateCode(t *testing.T) {
	valid := []string{"ABCD", "abc12345", "A.B-C", "12345678901234567890"}
	for _, code := range valid {
		require.NoError(t, ValidateCode(code), code)
	}

	invalid := []string{"", "ABC", "123456789012345678901", "ABC 1234", "ABC_1234", "ÄBCD1234", "AB/CD"}
	for _, code := range invalid {
		require.ErrorIs(t, ValidateCode(code), ErrInvalidCode, code)
	}
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "ABC12345", NormalizeCode("  ABC12345\n"))
	require.Equal(t, "abc12345", NormalizeCode("abc12345"))
}

func TestGenerator(t *testing.T) {
	_, err := NewGenerator(3)
	require.Error(t, err)

	gen, err := NewGenerator(8)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, code, 8)
		require.NoError(t, ValidateCode(code))
		for _, ch := range code {
			require.True(t, strings.ContainsRune(generatedAlphabet, ch), "unexpected %q", ch)
		}
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 190)
}

func TestGenerate(t *testing.T) {
	svc, repo, _, n := newTestService(t)
	ctx := context.Background()

	codes, err := svc.Generate(ctx, 25)
	require.NoError(t, err)
	require.Len(t, codes, 25)

	total, used, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(25), total)
	require.Zero(t, used)

	require.Equal(t, []model.EventType{model.EventTicketsGenerated}, n.types())
	require.Equal(t, 25, n.events[0].Count)

	_, err = svc.Generate(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidCount)
	_, err = svc.Generate(ctx, 101)
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestGenerate_BusyLock(t *testing.T) {
	svc, repo, l, n := newTestService(t)
	ctx := context.Background()

	ok, err := l.AcquireLock(ctx, BulkLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Generate(ctx, 5)
	require.ErrorIs(t, err, lock.ErrLockBusy)

	total, _, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, n.types())
}

func TestImport(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.Import(ctx, []string{" ABC12345 ", "ABC12345", "XYZ98765", ""})
	require.NoError(t, err)
	require.Equal(t, model.ImportReport{Inserted: 2, Skipped: 1}, report)

	report, err = svc.Import(ctx, []string{"ABC12345", "NEW00001"})
	require.NoError(t, err)
	require.Equal(t, model.ImportReport{Inserted: 1, Skipped: 1}, report)

	_, err = svc.Import(ctx, []string{"GOOD0001", "bad code"})
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = repo.GetTicketByCode(ctx, "GOOD0001")
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.Import(ctx, []string{" ", ""})
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestResetAndClear(t *testing.T) {
	svc, repo, _, n := newTestService(t)
	ctx := context.Background()

	c := &model.Contestant{Name: "C1"}
	require.NoError(t, repo.CreateContestant(ctx, c))

	_, err := svc.Import(ctx, []string{"RESET001", "RESET002"})
	require.NoError(t, err)

	outcome, err := repo.SubmitVote(ctx, model.VoteRequest{TicketCode: "RESET001", ContestantID: c.ID}, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, outcome.Success)

	reset, err := svc.ResetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), reset)

	total, used, err := repo.TicketCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Zero(t, used)

	cleared, err := svc.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), cleared)

	require.Equal(t, []model.EventType{
		model.EventTicketsGenerated,
		model.EventVotingReset,
		model.EventTicketsCleared,
	}, n.types())
}

func TestExportCSV(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	c := &model.Contestant{Name: "C1"}
	require.NoError(t, repo.CreateContestant(ctx, c))
	_, err := svc.Import(ctx, []string{"EXPORT01", "EXPORT02"})
	require.NoError(t, err)
	_, err = repo.SubmitVote(ctx, model.VoteRequest{TicketCode: "EXPORT02", ContestantID: c.ID}, time.Now().UTC())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(ctx, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"Ticket Code", "Status", "Created At", "Used At"}, records[0])
	require.Equal(t, "EXPORT01", records[1][0])
	require.Equal(t, "Unused", records[1][1])
	require.Empty(t, records[1][3])
	require.Equal(t, "EXPORT02", records[2][0])
	require.Equal(t, "Used", records[2][1])
	require.NotEmpty(t, records[2][3])
}

func TestWriteCSV_Format(t *testing.T) {
	created := time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC)
	used := created.Add(time.Hour)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []model.Ticket{
		{TicketCode: "AAAA1111", CreatedAt: created},
		{TicketCode: "BBBB2222", IsUsed: true, CreatedAt: created, UsedAt: &used},
	}))

	require.Equal(t,
		"Ticket Code,Status,Created At,Used At\n"+
			"AAAA1111,Unused,2024-03-09 08:07:06,\n"+
			"BBBB2222,Used,2024-03-09 08:07:06,2024-03-09 09:07:06\n",
		buf.String())
}
