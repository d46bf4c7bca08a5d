package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/odvcencio/taskhub/internal/api"
	"github.com/odvcencio/taskhub/internal/auth"
	"github.com/odvcencio/taskhub/internal/config"
	"github.com/odvcencio/taskhub/internal/database"
	"github.com/odvcencio/taskhub/internal/github"
	"github.com/odvcencio/taskhub/internal/jobs"
	"github.com/odvcencio/taskhub/internal/models"
	"github.com/odvcencio/taskhub/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: taskhub <command>\n\nCommands:\n  serve    Start the server\n  migrate  Run database migrations\n  useradd  Create a user\n  sweep    Enqueue repository refreshes\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "useradd":
		cmdUserAdd(os.Args[2:])
	case "sweep":
		cmdSweep(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdServe(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	traceShutdown, err := initTracing(context.Background())
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Auto-migrate on startup
	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(cfg.Auth.JWTSecret, config.Duration(cfg.Auth.TokenDuration, 24*time.Hour))
	ghClient := github.NewClient(github.Options{
		BaseURL: cfg.GitHub.BaseURL,
		Timeout: config.Duration(cfg.GitHub.FetchTimeout, 10*time.Second),
	})
	queue := jobs.NewQueue(db, jobs.RetryPolicy{
		MaxAttempts: cfg.Sync.MaxAttempts,
		Backoff:     jobs.ExponentialBackoff(config.Duration(cfg.Sync.BackoffBase, 30*time.Second)),
		Retryable:   service.Retryable,
	})
	syncSvc := service.NewSyncService(db, ghClient, queue, service.SyncOptions{
		CacheTTL:      config.Duration(cfg.Sync.CacheTTL, 24*time.Hour),
		FetchTimeout:  config.Duration(cfg.GitHub.FetchTimeout, 10*time.Second),
		SweepInterval: config.Duration(cfg.Sync.SweepInterval, time.Hour),
	})
	server := api.NewServer(db, authSvc, syncSvc)

	workers := jobs.NewWorkerPool(queue, syncSvc.ProcessJob, jobs.WorkerPoolOptions{
		Workers:      cfg.Sync.Workers,
		PollInterval: config.Duration(cfg.Sync.PollInterval, 250*time.Millisecond),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := workers.Start(ctx); err != nil {
		slog.Error("start sync workers", "error", err)
		os.Exit(1)
	}
	syncSvc.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)

	go func() {
		slog.Info("taskhub listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	syncSvc.Stop()
	if err := workers.Stop(shutdownCtx); err != nil {
		slog.Warn("stop sync workers", "error", err)
	}
}

func cmdMigrate(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations complete")
}

// There is no self-registration endpoint: accounts are provisioned
// operationally, matching how roles are assigned.
func cmdUserAdd(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	role := fs.String("role", "", "role: admin, project_manager or developer")
	githubToken := fs.String("github-token", "", "GitHub access token (optional)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}

	user := &models.User{
		Name:        *name,
		Email:       *email,
		Role:        *role,
		GitHubToken: *githubToken,
	}
	if err := user.Validate(); err != nil {
		slog.Error("invalid user", "error", err)
		os.Exit(1)
	}
	if err := models.ValidatePassword(*password); err != nil {
		slog.Error("invalid password", "error", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(cfg.Auth.JWTSecret, 24*time.Hour)
	hash, err := authSvc.HashPassword(*password)
	if err != nil {
		slog.Error("hash password", "error", err)
		os.Exit(1)
	}
	user.PasswordHash = hash

	if err := db.CreateUser(context.Background(), user); err != nil {
		slog.Error("create user", "error", err)
		os.Exit(1)
	}
	slog.Info("user created", "id", user.ID, "email", user.Email, "role", user.Role)
}

func cmdSweep(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	all := fs.Bool("all", false, "enqueue every linked repository, not just stale ones")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	queue := jobs.NewQueue(db, jobs.RetryPolicy{
		MaxAttempts: cfg.Sync.MaxAttempts,
		Retryable:   service.Retryable,
	})
	syncSvc := service.NewSyncService(db, github.NewClient(github.Options{BaseURL: cfg.GitHub.BaseURL}), queue, service.SyncOptions{
		CacheTTL: config.Duration(cfg.Sync.CacheTTL, 24*time.Hour),
	})

	var queued int
	if *all {
		queued, err = syncSvc.SweepAll(context.Background())
	} else {
		queued, err = syncSvc.SweepStale(context.Background())
	}
	if err != nil {
		slog.Error("sweep", "error", err)
		os.Exit(1)
	}
	slog.Info("sweep complete", "queued", queued)
}

func openDB(cfg *config.Config) (database.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return database.OpenSQLite(cfg.Database.DSN)
	case "postgres":
		return database.OpenPostgres(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
