package ticket

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/kafka"
	"github.com/lvdashuaibi/contestvote/internal/lock"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/model"
)

const (
	BulkLockName = "tickets:bulk"

	csvTimeLayout = "2006-01-02 15:04:05"
)

var ErrInvalidCount = errors.New("invalid ticket count")

// Store is the part of the durable store that bulk ticket operations use.
type Store interface {
	InsertGeneratedTickets(ctx context.Context, gen func() (string, error), count, retries int, now time.Time) ([]string, error)
	ImportTickets(ctx context.Context, codes []string, now time.Time) (model.ImportReport, error)
	ResetAll(ctx context.Context) (int64, error)
	ClearTickets(ctx context.Context) (int64, error)
	ListTickets(ctx context.Context) ([]model.Ticket, error)
}

// Notifier is told about every committed bulk change.
type Notifier interface {
	Notify(ctx context.Context, event *model.VoteEvent)
}

type Options struct {
	MaxGenerate      int
	CollisionRetries int
	LockTTL          time.Duration
}

// TicketService runs the bulk ticket operations. Each one takes the bulk
// lock, so two instances never generate, import, reset or clear at once.
type TicketService struct {
	store     Store
	generator *Generator
	lock      lock.Lock
	notifier  Notifier
	opts      Options
	now       func() time.Time
}

func NewTicketService(store Store, generator *Generator, distributedLock lock.Lock, notifier Notifier, opts Options) *TicketService {
	return &TicketService{
		store:     store,
		generator: generator,
		lock:      distributedLock,
		notifier:  notifier,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *TicketService) notify(ctx context.Context, eventType model.EventType, count int) {
	if s.notifier == nil {
		return
	}
	event := kafka.NewEvent(eventType, s.now())
	event.Count = count
	s.notifier.Notify(ctx, event)
}

// Generate creates count new tickets and returns their codes.
func (s *TicketService) Generate(ctx context.Context, count int) ([]string, error) {
	if count < 1 || count > s.opts.MaxGenerate {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidCount, s.opts.MaxGenerate)
	}

	var codes []string
	err := lock.WithLock(ctx, s.lock, BulkLockName, s.opts.LockTTL, func() error {
		var err error
		codes, err = s.store.InsertGeneratedTickets(ctx, s.generator.Generate, count, s.opts.CollisionRetries, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().Int("count", len(codes)).Msg("tickets generated")
	s.notify(ctx, model.EventTicketsGenerated, len(codes))
	return codes, nil
}

// Import provisions tickets from a fixed list. Every code must be valid;
// repeated and already existing codes are counted as skipped.
func (s *TicketService) Import(ctx context.Context, raw []string) (model.ImportReport, error) {
	seen := make(map[string]struct{}, len(raw))
	codes := make([]string, 0, len(raw))
	duplicates := 0

	for _, r := range raw {
		code := NormalizeCode(r)
		if code == "" {
			continue
		}
		if err := ValidateCode(code); err != nil {
			return model.ImportReport{}, fmt.Errorf("code %q: %w", code, err)
		}
		if _, ok := seen[code]; ok {
			duplicates++
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if len(codes) == 0 {
		return model.ImportReport{}, fmt.Errorf("%w: no codes to import", ErrInvalidCount)
	}

	var report model.ImportReport
	err := lock.WithLock(ctx, s.lock, BulkLockName, s.opts.LockTTL, func() error {
		var err error
		report, err = s.store.ImportTickets(ctx, codes, s.now())
		return err
	})
	if err != nil {
		return model.ImportReport{}, err
	}
	report.Skipped += duplicates

	logger.Logger.Info().Int("inserted", report.Inserted).Int("skipped", report.Skipped).Msg("tickets imported")
	if report.Inserted > 0 {
		s.notify(ctx, model.EventTicketsGenerated, report.Inserted)
	}
	return report, nil
}

// ResetAll deletes every vote and marks every ticket unused.
func (s *TicketService) ResetAll(ctx context.Context) (int64, error) {
	var reset int64
	err := lock.WithLock(ctx, s.lock, BulkLockName, s.opts.LockTTL, func() error {
		var err error
		reset, err = s.store.ResetAll(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	logger.Logger.Info().Int64("tickets", reset).Msg("voting reset")
	s.notify(ctx, model.EventVotingReset, int(reset))
	return reset, nil
}

// ClearAll deletes every vote and every ticket.
func (s *TicketService) ClearAll(ctx context.Context) (int64, error) {
	var cleared int64
	err := lock.WithLock(ctx, s.lock, BulkLockName, s.opts.LockTTL, func() error {
		var err error
		cleared, err = s.store.ClearTickets(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	logger.Logger.Info().Int64("tickets", cleared).Msg("tickets cleared")
	s.notify(ctx, model.EventTicketsCleared, int(cleared))
	return cleared, nil
}

// ExportCSV writes every ticket as CSV. Export only reads, so it does not take
// the bulk lock.
func (s *TicketService) ExportCSV(ctx context.Context, w io.Writer) error {
	tickets, err := s.store.ListTickets(ctx)
	if err != nil {
		return err
	}
	return WriteCSV(w, tickets)
}

// WriteCSV renders tickets with the header Ticket Code,Status,Created At,Used At.
func WriteCSV(w io.Writer, tickets []model.Ticket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Ticket Code", "Status", "Created At", "Used At"}); err != nil {
		return err
	}

	for _, t := range tickets {
		status := "Unused"
		usedAt := ""
		if t.IsUsed {
			status = "Used"
		}
		if t.UsedAt != nil {
			usedAt = t.UsedAt.UTC().Format(csvTimeLayout)
		}

		record := []string{t.TicketCode, status, t.CreatedAt.UTC().Format(csvTimeLayout), usedAt}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
