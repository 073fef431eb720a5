package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-duochat/internal/api"
	"github.com/npezzotti/go-duochat/internal/config"
	"github.com/npezzotti/go-duochat/internal/conversation"
	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/identity"
	"github.com/npezzotti/go-duochat/internal/live"
	"github.com/npezzotti/go-duochat/internal/prefs"
	"github.com/npezzotti/go-duochat/internal/server"
	"github.com/npezzotti/go-duochat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	store          string
	dsn            string
	signingKey     string
	redisAddr      string
	dwell          time.Duration
	migrate        bool
	allowedOrigins stringSliceFlag
)

func envOr(key, def string) string {
	if v, ok := os.LookupEnv("DUOCHAT_" + key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envOr(key, "")); err == nil {
		return d
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(envOr(key, "")); err == nil {
		return b
	}
	return def
}

func main() {
	logger := log.New(os.Stderr, "[go-duochat] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Fatal("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("ADDR", "localhost:8000"), "server address")
	flag.StringVar(&store, "store", envOr("STORE", config.StorePostgres), "document store: postgres or memory")
	flag.StringVar(&dsn, "dsn", envOr("DSN", "host=localhost user=postgres password=postgres dbname=duochat sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", envOr("REDIS_ADDR", ""), "redis address for user preferences; empty keeps them in memory")
	flag.DurationVar(&dwell, "dwell", envDuration("DWELL", conversation.DefaultDwell), "how long unread messages stay on screen before they are marked read")
	flag.BoolVar(&migrate, "migrate", envBool("MIGRATE", false), "apply database migrations on start")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := envOr("ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, store, dsn, signingKey, allowedOrigins, dwell)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.RedisAddr = redisAddr
	cfg.Migrate = migrate

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	hub := live.NewHub(logger, statsUpdater)

	var repo database.ChatRepository
	switch cfg.Store {
	case config.StorePostgres:
		if cfg.Migrate {
			logger.Println("applying migrations")
			if err := database.Migrate(cfg.DatabaseDSN); err != nil {
				logger.Fatal("migrate:", err)
			}
		}

		pg, err := database.NewPgChatRepository(cfg.DatabaseDSN, logger, hub)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()
		repo = pg
	case config.StoreMemory:
		logger.Println("using in-memory store")
		repo = database.NewMemChatRepository(hub)
	}

	var ps prefs.Store
	if cfg.RedisAddr != "" {
		rs, err := prefs.NewRedisStore(cfg.RedisAddr, 10)
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer rs.Close()
		ps = rs
	} else {
		ps = prefs.NewMemStore()
	}

	chatServer, err := server.NewChatServer(logger, repo, ps, statsUpdater, cfg.Dwell)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, repo, identity.NewAccountProvider(repo), ps, statsUpdater, cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
