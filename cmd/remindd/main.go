package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/inkwell-app/remindd/internal/api"
	"github.com/inkwell-app/remindd/internal/config"
	"github.com/inkwell-app/remindd/internal/database"
	"github.com/inkwell-app/remindd/internal/dispatch"
	"github.com/inkwell-app/remindd/internal/logging"
	"github.com/inkwell-app/remindd/internal/models"
	"github.com/inkwell-app/remindd/internal/processor"
	"github.com/inkwell-app/remindd/internal/recurrence"
	"github.com/inkwell-app/remindd/internal/repository"
	"github.com/inkwell-app/remindd/internal/scheduler"
	"github.com/inkwell-app/remindd/internal/sentlog"
)

func main() {
	root := &cli.Command{
		Name:   "remindd",
		Usage:  "Reminder scheduling service for Inkwell journal entries",
		Action: runDaemon,
		Commands: []*cli.Command{
			{
				Name:   "daemon",
				Usage:  "Run the scheduler loop and the admin API (default)",
				Action: runDaemon,
			},
			{
				Name:  "run-once",
				Usage: "Execute a single processing cycle and print the report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "now",
						Usage: "Process as if the current time were this RFC 3339 instant",
					},
				},
				Action: runOnce,
			},
			{
				Name:  "list",
				Usage: "Print reminders from the store",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "entry-ref",
						Usage: "Only reminders attached to this journal entry",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of rows",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "upcoming",
						Usage: "Only active reminders, soonest first",
					},
				},
				Action: runList,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: runMigrate,
			},
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		logger := logging.New("info", "console")
		logger.Fatal().Err(err).Msg("remindd exited with error")
	}
}

func runDaemon(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	disp, err := buildDispatcher(cfg, logger)
	if err != nil {
		return err
	}

	var sent *sentlog.Log
	if cfg.SentLogPath != "" {
		sent, err = sentlog.Open(cfg.SentLogPath)
		if err != nil {
			return fmt.Errorf("failed to open sent log: %w", err)
		}
		defer sent.Close()
		go pruneSentLog(ctx, sent, cfg.SentLogRetention, logger)
	}

	proc := processor.New(store, disp, logger.With().Str("component", "processor").Logger(), processor.Options{
		SentLog:         sent,
		Workers:         cfg.Workers,
		DispatchTimeout: cfg.DispatchTimeout,
	})

	clk := clock.New()
	sched, err := scheduler.New(proc, cfg.TriggerSpec, clk, logger.With().Str("component", "scheduler").Logger())
	if err != nil {
		return err
	}
	go sched.Start(ctx)

	handler := api.NewHandler(store, proc, sched, clk, logger.With().Str("component", "api").Logger())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewRouter(handler, cfg.APIToken, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown error")
		}
	}()

	logger.Info().
		Str("store", cfg.Store).
		Str("dispatcher", disp.Name()).
		Str("trigger", cfg.TriggerSpec).
		Int("port", cfg.HTTPPort).
		Msg("remindd starting")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	logger.Info().Msg("remindd stopped")
	return nil
}

func runOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	now := time.Now()
	if raw := cmd.String("now"); raw != "" {
		now, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --now value %q: %w", raw, err)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	disp, err := buildDispatcher(cfg, logger)
	if err != nil {
		return err
	}

	var sent *sentlog.Log
	if cfg.SentLogPath != "" {
		sent, err = sentlog.Open(cfg.SentLogPath)
		if err != nil {
			return fmt.Errorf("failed to open sent log: %w", err)
		}
		defer sent.Close()
	}

	proc := processor.New(store, disp, logger.With().Str("component", "processor").Logger(), processor.Options{
		SentLog:         sent,
		Workers:         cfg.Workers,
		DispatchTimeout: cfg.DispatchTimeout,
	})

	report, err := proc.RunOnce(ctx, now)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runList(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	limit := int(cmd.Int("limit"))
	var items []*models.Reminder
	if cmd.Bool("upcoming") {
		items, err = store.ListUpcoming(ctx, limit)
	} else {
		items, err = store.List(ctx, cmd.String("entry-ref"), limit)
	}
	if err != nil {
		return err
	}

	now := time.Now()
	for _, r := range items {
		next := "-"
		if r.NextRunAt != nil {
			next = r.NextRunAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%s  %-17s  next=%-22s  %-32s  %s\n",
			r.ID, r.State(now), next, recurrence.HumanReadable(r), r.EntryRef)
	}
	fmt.Printf("%d reminder(s)\n", len(items))
	return nil
}

func runMigrate(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.Store == "sqlite" {
		// The SQLite store bootstraps its schema on open.
		store, err := repository.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("sqlite schema ready")
		return store.Close()
	}

	db, err := database.New(ctx, cfg.DatabaseURI, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info().Msg("migrations applied")
	return nil
}

// openStore connects to the configured backend. For postgres, pending
// migrations are applied before the store is handed out.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.Store, func(), error) {
	switch cfg.Store {
	case "postgres":
		db, err := database.New(ctx, cfg.DatabaseURI, logger.With().Str("component", "database").Logger())
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repository.NewReminderRepository(db), db.Close, nil
	default:
		store, err := repository.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func buildDispatcher(cfg *config.Config, logger zerolog.Logger) (dispatch.Dispatcher, error) {
	var d dispatch.Dispatcher
	switch cfg.Dispatcher {
	case "telegram":
		t, err := dispatch.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram dispatcher: %w", err)
		}
		d = t
	case "webhook":
		d = dispatch.NewWebhook(cfg.WebhookURL)
	default:
		d = dispatch.NewLog(logger.With().Str("component", "dispatch").Logger())
	}
	if cfg.DispatchRate > 0 {
		d = dispatch.NewRateLimited(d, cfg.DispatchRate)
	}
	return d, nil
}

func pruneSentLog(ctx context.Context, sent *sentlog.Log, retention time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		removed, err := sent.Prune(time.Now().Add(-retention))
		if err != nil {
			logger.Warn().Err(err).Msg("sent log prune failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Msg("pruned sent log")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
