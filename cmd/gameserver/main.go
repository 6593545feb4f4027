package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goalduel/server/internal/auth"
	"github.com/goalduel/server/internal/config"
	"github.com/goalduel/server/internal/db"
	"github.com/goalduel/server/internal/game"
	"github.com/goalduel/server/internal/server"
)

const DefaultConfigPath = "config/gameserver.yaml"

func main() {
	var (
		mintUser   = flag.String("mint", "", "dev helper: print a token for the given user id and exit")
		mintWallet = flag.String("wallet", "", "wallet address for -mint")
		mintTTL    = flag.Duration("ttl", 24*time.Hour, "token lifetime for -mint")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if *mintUser != "" {
		if err := mint(*mintUser, *mintWallet, *mintTTL); err != nil {
			slog.Error("fatal", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// mint prints a signed dev token to stdout.
func mint(userID, wallet string, ttl time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !auth.ValidWallet(wallet) {
		return fmt.Errorf("invalid wallet address %q", wallet)
	}
	token, err := auth.MintToken(cfg.TokenSecret, userID, wallet, ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func loadConfig() (config.Server, error) {
	path := DefaultConfigPath
	if p := os.Getenv("GOALDUEL_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.LoadServer(path)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	// Load config FIRST to determine log level
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("goalduel server starting",
		"log_level", cfg.LogLevel,
		"bind", cfg.BindAddress,
		"port", cfg.Port,
		"match_duration", cfg.Game.MatchDuration,
		"db_disabled", cfg.Database.Disabled)

	var coord *game.Coordinator
	var users *db.PostgresUserRepository

	if cfg.Database.Disabled {
		slog.Warn("persistence disabled, matches will not be recorded")
		coord = game.NewCoordinator(nil, nil)
	} else {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		users = db.NewPostgresUserRepository(database.Pool())
		matches := db.NewPostgresMatchRepository(database.Pool())
		coord = game.NewCoordinator(users, matches)
	}

	orch := game.NewOrchestrator(ctx, cfg.Game, coord, nil)
	verifier := auth.NewJWTVerifier(cfg.TokenSecret)

	var resolver server.UserResolver
	if users != nil {
		resolver = users
	}
	srv := server.New(cfg, verifier, resolver, orch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
