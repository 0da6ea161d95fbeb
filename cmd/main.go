package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/api/graph"
	"github.com/lvdashuaibi/contestvote/internal/api/rest"
	"github.com/lvdashuaibi/contestvote/internal/kafka"
	"github.com/lvdashuaibi/contestvote/internal/lock"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const (
	startupLockName    = "contestvote:startup"
	startupLockRetries = 30
	shutdownTimeout    = 10 * time.Second
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		logger.Logger.Fatal().Err(err).Msg("contestvote failed")
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "contestvote",
		Usage: "contestant voting backend with single-use tickets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "path to the YAML config file",
				EnvVars: []string{"VOTE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			ticketsCommand(),
			contestantsCommand(),
			votingCommand(),
			resultsCommand(),
			adminCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Console)
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP and GraphQL server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "instance",
				Value: 1,
				Usage: "instance number; the listen port is server.port + instance - 1",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Admin.PasswordHash == "" {
		return cli.Exit("admin.password_hash is required; see `contestvote admin hash-password`", 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	instance := c.Int("instance")
	log := logger.Logger.With().Int("instance", instance).Logger()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := migrateOnStartup(ctx, app); err != nil {
		return err
	}
	if err := app.votes.SyncVotingGauge(ctx); err != nil {
		return fmt.Errorf("failed to read voting flag: %w", err)
	}

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(ctx, cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		consumer.StartConsuming(app.votes.ProcessVoteEvent)
		defer consumer.Stop()
	}

	gin.SetMode(cfg.Server.Mode)
	app.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	sessions := session.NewManager(app.sessions, cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.SessionTTL)
	router := rest.NewRouter(rest.Deps{
		Votes:    app.votes,
		Tickets:  app.tickets,
		Sessions: sessions,
		Store:    app.repo,
		GraphQL: graph.NewHandler(app.votes, cfg.GraphQL.Path, rest.GetClientIP,
			rest.AdminAuthorizer(sessions, cfg.Admin.CookieName)),
		Metrics:  promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
	}, rest.Options{
		CookieName:     cfg.Admin.CookieName,
		SecureCookie:   cfg.Admin.SecureCookie,
		SessionTTL:     cfg.Admin.SessionTTL,
		RequestTimeout: cfg.Server.RequestTimeout,
		StaticDir:      cfg.Server.StaticDir,
		GraphQLPath:    cfg.GraphQL.Path,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port+instance-1),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("graphql", cfg.GraphQL.Path).Msg("contestvote server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// migrateOnStartup lets one instance at a time apply the schema. An instance
// that loses the race waits for the holder and then runs the idempotent
// migration itself.
func migrateOnStartup(ctx context.Context, app *application) error {
	for attempt := 0; attempt < startupLockRetries; attempt++ {
		err := lock.WithLock(ctx, app.lock, startupLockName, app.cfg.Lock.TTL, func() error {
			return app.repo.Migrate(ctx)
		})
		if !errors.Is(err, lock.ErrLockBusy) {
			if err != nil {
				return fmt.Errorf("failed to migrate schema: %w", err)
			}
			logger.Logger.Info().Msg("schema is up to date")
			return nil
		}

		logger.Logger.Info().Msg("another instance holds the startup lock, waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return errors.New("timed out waiting for the startup lock")
}
