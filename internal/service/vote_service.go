package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lvdashuaibi/contestvote/internal/kafka"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/repository"
	"github.com/lvdashuaibi/contestvote/internal/ticket"
	"github.com/rs/zerolog"
)

const (
	maxUserAgentBytes = 512
	maxIPBytes        = 64
	maxNameLength     = 255

	// publishTimeout bounds a publish that no longer follows the request.
	publishTimeout = 5 * time.Second
)

var ErrInvalidContestant = errors.New("invalid contestant")

// Store is the durable store as seen by the vote service.
type Store interface {
	SubmitVote(ctx context.Context, req model.VoteRequest, now time.Time) (*model.VoteOutcome, error)
	GetTicketByCode(ctx context.Context, code string) (*model.Ticket, error)
	ResultTallies(ctx context.Context) ([]model.ResultRow, error)
	TicketCounts(ctx context.Context) (total, used int64, err error)
	ReadSnapshot(ctx context.Context) (*repository.Snapshot, error)
	VotingOpen(ctx context.Context) (bool, error)
	SetVotingOpen(ctx context.Context, open bool, now time.Time) error
	CreateContestant(ctx context.Context, c *model.Contestant) error
	GetContestant(ctx context.Context, id int64) (*model.Contestant, error)
	ListActiveContestants(ctx context.Context) ([]model.Contestant, error)
	ListContestants(ctx context.Context) ([]model.Contestant, error)
	SetContestantActive(ctx context.Context, id int64, active bool) error
}

// ResultsCache holds the last computed results for a short while.
type ResultsCache interface {
	GetResults(ctx context.Context) (*model.Results, bool, error)
	SetResults(ctx context.Context, results *model.Results, ttl time.Duration) error
	DeleteResults(ctx context.Context) error
}

// Recorder receives the service metrics.
type Recorder interface {
	ObserveVote(kind model.OutcomeKind, elapsed time.Duration)
	AddTicketsGenerated(n int)
	SetVotingOpen(open bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveVote(model.OutcomeKind, time.Duration) {}
func (noopRecorder) AddTicketsGenerated(int)                      {}
func (noopRecorder) SetVotingOpen(bool)                           {}

type Options struct {
	CacheTTL time.Duration
}

type VoteService struct {
	store     Store
	cache     ResultsCache // nil disables caching
	publisher kafka.Publisher
	recorder  Recorder
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
}

func NewVoteService(store Store, cache ResultsCache, publisher kafka.Publisher, recorder Recorder, opts Options) *VoteService {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &VoteService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		recorder:  recorder,
		opts:      opts,
		log:       logger.Named("vote-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Now is the service clock.
func (s *VoteService) Now() time.Time {
	return s.now()
}

// maskCode keeps failed ticket codes out of the logs.
func maskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:2] + strings.Repeat("*", len(code)-4) + code[len(code)-2:]
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// SubmitVote casts one vote. It never fails with an error: every failure is
// folded into the outcome kind.
func (s *VoteService) SubmitVote(ctx context.Context, req model.VoteRequest) *model.VoteOutcome {
	start := time.Now()

	req.TicketCode = ticket.NormalizeCode(req.TicketCode)
	req.UserAgent = truncate(req.UserAgent, maxUserAgentBytes)
	req.IPAddress = truncate(req.IPAddress, maxIPBytes)

	outcome := s.submit(ctx, req)
	s.recorder.ObserveVote(outcome.Kind, time.Since(start))

	if outcome.Success {
		s.log.Info().
			Int64("vote_id", outcome.VoteID).
			Int64("contestant_id", req.ContestantID).
			Msg("vote recorded")

		event := kafka.NewEvent(model.EventVoteCast, s.now())
		event.ContestantID = req.ContestantID
		event.VoteID = outcome.VoteID
		s.Notify(ctx, event)
	}
	return outcome
}

func (s *VoteService) submit(ctx context.Context, req model.VoteRequest) *model.VoteOutcome {
	if err := ticket.ValidateCode(req.TicketCode); err != nil {
		// a closed vote still wins over a malformed code
		open, err := s.store.VotingOpen(ctx)
		if err != nil {
			return s.storeFailure(err, req)
		}
		if !open {
			return model.Fail(model.OutcomeVotingClosed)
		}
		return model.Fail(model.OutcomeInvalidTicket)
	}

	outcome, err := s.store.SubmitVote(ctx, req, s.now())
	if err != nil {
		return s.storeFailure(err, req)
	}

	if !outcome.Success {
		s.log.Debug().
			Str("kind", string(outcome.Kind)).
			Str("ticket_code", maskCode(req.TicketCode)).
			Int64("contestant_id", req.ContestantID).
			Msg("vote rejected")
	}
	return outcome
}

func (s *VoteService) storeFailure(err error, req model.VoteRequest) *model.VoteOutcome {
	kind := model.OutcomeUnexpectedFailure
	if repository.IsTransient(err) {
		kind = model.OutcomeStoreUnavailable
	}
	s.log.Error().Err(err).
		Str("kind", string(kind)).
		Str("ticket_code", maskCode(req.TicketCode)).
		Int64("contestant_id", req.ContestantID).
		Msg("vote transaction failed")
	return model.Fail(kind)
}

// Notify reacts to a committed change: it drops the cached results, updates
// the metrics and publishes the event. A failed publish is only logged.
func (s *VoteService) Notify(ctx context.Context, event *model.VoteEvent) {
	switch event.Type {
	case model.EventTicketsGenerated:
		s.recorder.AddTicketsGenerated(event.Count)
	case model.EventVotingOpened:
		s.recorder.SetVotingOpen(true)
	case model.EventVotingClosed:
		s.recorder.SetVotingOpen(false)
	}

	if event.Type != model.EventTicketsGenerated {
		s.invalidateResults(ctx)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("failed to publish event")
	}
}

func (s *VoteService) invalidateResults(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteResults(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate results cache")
	}
}

// ComputeResults reads the tallies from the store, bypassing the cache.
func (s *VoteService) ComputeResults(ctx context.Context) (*model.Results, error) {
	tallies, err := s.store.ResultTallies(ctx)
	if err != nil {
		return nil, err
	}
	results := BuildResults(tallies)
	return &results, nil
}

// Results serves the results from the cache when it holds them.
func (s *VoteService) Results(ctx context.Context) (*model.Results, error) {
	if s.cache != nil {
		cached, found, err := s.cache.GetResults(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("results cache read failed")
		}
		if found {
			return cached, nil
		}
	}

	results, err := s.ComputeResults(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.opts.CacheTTL > 0 {
		if err := s.cache.SetResults(ctx, results, s.opts.CacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("results cache write failed")
		}
	}
	return results, nil
}

// ProcessVoteEvent refreshes the cached results. The event consumer calls it.
func (s *VoteService) ProcessVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return nil
	}

	results, err := s.ComputeResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to recompute results for event %s: %w", event.ID, err)
	}
	return s.cache.SetResults(ctx, results, s.opts.CacheTTL)
}

func (s *VoteService) TicketStats(ctx context.Context) (*model.TicketStats, error) {
	total, used, err := s.store.TicketCounts(ctx)
	if err != nil {
		return nil, err
	}
	stats := BuildTicketStats(total, used)
	return &stats, nil
}

// Snapshot returns results, ticket usage and the voting flag from one
// consistent read.
func (s *VoteService) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.store.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &model.Snapshot{
		Results:     BuildResults(snap.Tallies),
		TicketStats: BuildTicketStats(snap.TicketCount, snap.UsedCount),
		VotingOpen:  snap.VotingOpen,
		TakenAt:     s.now(),
	}, nil
}

// ValidateTicket reports whether a code could vote right now without
// consuming it.
func (s *VoteService) ValidateTicket(ctx context.Context, code string) (*model.TicketValidation, error) {
	code = ticket.NormalizeCode(code)
	invalid := func(kind model.OutcomeKind) *model.TicketValidation {
		return &model.TicketValidation{Valid: false, Kind: kind, Message: kind.Message()}
	}

	if err := ticket.ValidateCode(code); err != nil {
		return invalid(model.OutcomeInvalidTicket), nil
	}

	t, err := s.store.GetTicketByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return invalid(model.OutcomeInvalidTicket), nil
	}
	if err != nil {
		return nil, err
	}
	if t.IsUsed {
		return invalid(model.OutcomeTicketAlreadyUsed), nil
	}
	return &model.TicketValidation{Valid: true, Message: "Ticket is valid"}, nil
}

func (s *VoteService) VotingOpen(ctx context.Context) (bool, error) {
	return s.store.VotingOpen(ctx)
}

func (s *VoteService) SetVotingOpen(ctx context.Context, open bool) error {
	if err := s.store.SetVotingOpen(ctx, open, s.now()); err != nil {
		return err
	}

	s.log.Info().Bool("voting_open", open).Msg("voting flag changed")
	eventType := model.EventVotingClosed
	if open {
		eventType = model.EventVotingOpened
	}
	s.Notify(ctx, kafka.NewEvent(eventType, s.now()))
	return nil
}

// SyncVotingGauge loads the flag into the metrics at startup.
func (s *VoteService) SyncVotingGauge(ctx context.Context) error {
	open, err := s.store.VotingOpen(ctx)
	if err != nil {
		return err
	}
	s.recorder.SetVotingOpen(open)
	return nil
}

func (s *VoteService) ListActiveContestants(ctx context.Context) ([]model.Contestant, error) {
	return s.store.ListActiveContestants(ctx)
}

func (s *VoteService) ListContestants(ctx context.Context) ([]model.Contestant, error) {
	return s.store.ListContestants(ctx)
}

func (s *VoteService) CreateContestant(ctx context.Context, name, description, imageRef string) (*model.Contestant, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name must be 1 to %d characters", ErrInvalidContestant, maxNameLength)
	}

	c := &model.Contestant{
		Name:        name,
		Description: strings.TrimSpace(description),
		ImageRef:    strings.TrimSpace(imageRef),
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateContestant(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info().Int64("contestant_id", c.ID).Str("name", c.Name).Msg("contestant created")
	s.invalidateResults(ctx)
	return c, nil
}

// SetContestantActive soft deletes or restores a contestant. Unknown ids
// return repository.ErrNotFound.
func (s *VoteService) SetContestantActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.SetContestantActive(ctx, id, active); err != nil {
		return err
	}

	s.log.Info().Int64("contestant_id", id).Bool("active", active).Msg("contestant updated")
	s.invalidateResults(ctx)
	return nil
}
