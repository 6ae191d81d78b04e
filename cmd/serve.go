package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/urfave/cli/v2"

	"github.com/boardroom/internal/agents"
	"github.com/boardroom/internal/api"
	"github.com/boardroom/internal/checkpoint"
	"github.com/boardroom/internal/config"
	"github.com/boardroom/internal/deliberation"
	"github.com/boardroom/internal/intake"
	"github.com/boardroom/internal/jobqueue"
	"github.com/boardroom/internal/metrics"
	"github.com/boardroom/internal/msglog"
	"github.com/boardroom/internal/retry"
	"github.com/boardroom/internal/roomlock"
	"github.com/boardroom/internal/rooms"
)

// ServeCommand returns the CLI command for starting the boardroom service
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the boardroom deliberation service",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	logger := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	roomLog := msglog.NewPostgresLog(pool)
	registry := rooms.NewPostgresStore(db)
	cpStore := checkpoint.NewPostgresStore(pool)
	locks := roomlock.NewPostgresCoordinator(pool)
	if err := roomLog.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate message log: %w", err)
	}
	if err := registry.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate room registry: %w", err)
	}
	if err := cpStore.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate checkpoint store: %w", err)
	}
	if err := locks.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate lease coordinator: %w", err)
	}

	sink := metrics.Noop{}
	manager := checkpoint.NewManager(cpStore, sink, cfg.Checkpoint.MaxSnapshotBytes, cfg.Checkpoint.MaxRationaleChars, logger)

	model, err := buildModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize agent model: %w", err)
	}
	members := make([]agents.Agent, 0, len(cfg.Agents.Roster))
	for _, role := range cfg.Agents.Roster {
		members = append(members, agents.NewLLMAgent(role, model, logger))
	}
	agentPool, err := agents.NewPool(members...)
	if err != nil {
		return fmt.Errorf("failed to assemble agent pool: %w", err)
	}

	orch := deliberation.New(agentPool, manager, sink, deliberation.Config{
		Resolution: deliberation.ResolutionConfig{
			SupportThreshold: cfg.Deliberation.SupportThreshold,
			VetoThreshold:    cfg.Deliberation.VetoThreshold,
			TieEpsilon:       cfg.Deliberation.TieEpsilon,
		},
		MaxTurns:     cfg.Deliberation.MaxTurns,
		AgentTimeout: cfg.AgentTimeout(),
		CommitRetry:  retry.PersistenceConfig(),
	}, logger)

	queueCfg := jobqueue.DefaultQueueConfig()
	queueCfg.RetentionKeep = cfg.Checkpoint.Retention
	jobs, err := jobqueue.NewJobQueue(pool, manager, queueCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := jobs.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate job queue: %w", err)
	}
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "boardroom"
	}
	newConsumer := func(roomID string) *intake.Consumer {
		return intake.NewConsumer(roomID, roomLog, locks, orch, manager, registry, jobs, intake.Config{
			GroupPrefix:    cfg.Intake.GroupPrefix,
			ConsumerName:   hostname,
			BatchSize:      cfg.Intake.BatchSize,
			ReclaimIdle:    cfg.ReclaimIdle(),
			MaxAttempts:    cfg.Intake.MaxAttempts,
			LeaseTTL:       cfg.LeaseTTL(),
			PollsPerSecond: cfg.Intake.PollsPerSecond,
			DefaultRoster:  cfg.Agents.Roster,
			AckRetry:       retry.PersistenceConfig(),
		}, logger)
	}
	runner := intake.NewRunner(roomLog, newConsumer, cfg.PollInterval(), logger)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	server := api.NewServer(cfg.Server.Port, roomLog, registry, manager, cfg.Server.JWTSecret, logger)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Start() }()
	logger.Info().Int("port", cfg.Server.Port).Msg("boardroom service started")

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil {
			stop()
			return fmt.Errorf("api server failed: %w", err)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("job queue shutdown failed")
	}
	<-runnerDone
	return nil
}

func buildModel(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	apiKey := cfg.Agents.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("BOARDROOM_AGENTS_API_KEY")
	}

	switch cfg.Agents.Provider {
	case "openai":
		return openai.New(
			openai.WithModel(cfg.Agents.Model),
			openai.WithToken(apiKey),
		)
	case "googleai":
		return googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.Agents.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported agent provider: %s", cfg.Agents.Provider)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(os.Getenv("BOARDROOM_LOG_LEVEL")); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
