package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/config"
	"github.com/enoki-chat/backend/internal/handler"
	"github.com/enoki-chat/backend/internal/service/ai"
	"github.com/enoki-chat/backend/internal/store"
	"github.com/enoki-chat/backend/internal/tabs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var redisClient *redis.Client
	driverType := store.DriverTypeMemory
	if cfg.Store.Driver == "redis" {
		driverType = store.DriverTypeRedis
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis at %s: %v", cfg.Store.RedisAddr, err)
		}
		defer redisClient.Close()
		log.Printf("anonymous session store backed by redis at %s", cfg.Store.RedisAddr)
	} else {
		log.Println("anonymous session store backed by process memory")
	}

	// Reply backend selection. Without the in-process model every chat
	// request goes to the HTTP collaborator.
	var replyBackend collab.ChatAPI
	if cfg.ReplyBackend == "ark" {
		if !cfg.AI.Enabled() {
			log.Fatal("REPLY_BACKEND=ark but Ark credentials or model are missing")
		}
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Fatalf("failed to initialize AI reply backend: %v", err)
		}
		replyBackend = aiService
		log.Println("in-process AI reply backend initialized")
	}

	registry := tabs.NewRegistry(tabs.Config{
		CollabBaseURL: cfg.Collab.BaseURL,
		CSRFToken:     cfg.Collab.CSRFToken,
		StoreDriver:   driverType,
		RedisClient:   redisClient,
		TabTTL:        cfg.Store.TabTTL,
		Cooldown:      cfg.Rate.Cooldown,
		ReplyBackend:  replyBackend,
	})
	go registry.Run(ctx)

	router := handler.NewRouter(registry, cfg.Rate.Cooldown)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Enoki chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
