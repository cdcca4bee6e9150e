package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-session-service/internal/app"
	"classroom-session-service/internal/auth"
	"classroom-session-service/internal/config"
	"classroom-session-service/internal/domain"
	"classroom-session-service/internal/infra/memory"
	"classroom-session-service/internal/infra/postgres"
	infraredis "classroom-session-service/internal/infra/redis"
	transport "classroom-session-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func cmdOutput() io.Writer { return os.Stdout }

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmdOutput())

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("postgres connected")
	}

	banks := newBankRepository(cfg, redisClient, pool)
	gate := newGate(cfg, redisClient, logger)

	tokens, err := auth.NewTokenManager(cfg.Security.TokenSecret, config.TTLDuration(cfg.Security.TokenTTL, 12*time.Hour))
	if err != nil {
		return err
	}

	hub := transport.NewHub(logger)
	engine := app.NewEngine(hub, gate, banks, app.Options{
		SessionTimeout:  config.TTLDuration(cfg.Session.Timeout, 24*time.Hour),
		SweepInterval:   config.TTLDuration(cfg.Session.SweepInterval, 5*time.Minute),
		MinSecretLength: cfg.Session.MinSecretLength,
		NewCode:         app.RandomCodes(cfg.Session.CodeLength),
		Logger:          logger,
	})
	wsHandler := transport.NewWSHandler(engine, hub, tokens, transport.WSOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	exportHandler := transport.NewExportHandler(engine, tokens, logger)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(wsHandler, exportHandler, logger),
		ReadTimeout: config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		// Websocket writes carry their own deadlines.
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting session service", "port", finalPort,
			"hashing", cfg.Security.HashPasswords, "rate_limit", cfg.RateLimit.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newBankRepository(cfg config.Config, client *redis.Client, pool *pgxpool.Pool) app.BankRepository {
	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	if pool != nil {
		loader = postgres.NewBankLoader(pool)
	}
	ttl := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	if client != nil {
		return infraredis.NewBankRepository(client, loader, ttl)
	}
	return memory.NewBankRepository(loader, ttl)
}

func newGate(cfg config.Config, client *redis.Client, logger *slog.Logger) *app.Gate {
	window := config.TTLDuration(cfg.RateLimit.Window, time.Minute)
	var rates app.RateStore = memory.NewRateStore(window)
	if cfg.RateLimit.Backend == "redis" && client != nil {
		rates = infraredis.NewRateStore(client, window)
	}
	return app.NewGate(app.GateOptions{
		HashNew:     cfg.Security.HashPasswords,
		Hashed:      app.BcryptHasher{Cost: cfg.Security.BcryptCost},
		RateLimit:   cfg.RateLimit.Enabled,
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		Rates:       rates,
		Logger:      logger,
	})
}

// sampleBanks is served when no database is configured.
func sampleBanks() map[string]domain.QuestionBank {
	return map[string]domain.QuestionBank{
		"sample": {
			ID:    "sample",
			Title: "Warm-up",
			Questions: []domain.QuestionDraft{
				{
					Text: "What is 2 + 2?",
					Type: domain.QuestionSingleSelect,
					Options: []domain.Option{
						{ID: "a", Text: "3"},
						{ID: "b", Text: "4"},
						{ID: "c", Text: "5"},
					},
					CorrectAnswer: []string{"b"},
				},
				{
					Text:          "Is the earth round?",
					Type:          domain.QuestionYesNo,
					CorrectAnswer: []string{"yes"},
				},
				{
					Text:          "Name the largest planet.",
					Type:          domain.QuestionShortText,
					CorrectAnswer: []string{"Jupiter"},
					Skip:          &domain.SkipPolicy{AllowSkipAfter: 2},
				},
			},
		},
	}
}
