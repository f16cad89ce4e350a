package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/loqui/social-core/internal/config"
	"github.com/loqui/social-core/internal/crypto"
	"github.com/loqui/social-core/internal/directory"
	"github.com/loqui/social-core/internal/gateway"
	"github.com/loqui/social-core/internal/message"
	"github.com/loqui/social-core/internal/messaging"
	"github.com/loqui/social-core/internal/presence"
	"github.com/loqui/social-core/internal/ratelimit"
	"github.com/loqui/social-core/internal/rooms"
	"github.com/loqui/social-core/internal/thread"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("failed to reach postgres: %v", err)
	}
	pingCancel()
	if err := message.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(redisCtx).Err(); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}
	redisCancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.InstanceName
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Stores and collaborators ---
	codec, err := crypto.NewCodec(cfg.MessageKey)
	if err != nil {
		log.Fatalf("failed to build message codec: %v", err)
	}

	dir := directory.NewNATSDirectory(natsClient.Conn())
	profiles := directory.NewCachedProfiles(rdb, dir, 0)
	msgStore := message.NewStore(db, codec, dir)
	resolver := thread.NewResolver(db, msgStore, cfg.PageSize)
	roomRegistry := rooms.NewRegistry()
	limiter := ratelimit.NewLimiter(rdb)
	auth := directory.NewJWTAuthenticator(cfg.JWTSecret)

	gw := gateway.New(cfg.InstanceName, gateway.Deps{
		Messages:   msgStore,
		Threads:    resolver,
		Rooms:      roomRegistry,
		Bus:        natsClient,
		Membership: dir,
		Profiles:   profiles,
		Limiter:    limiter,
	})

	tracker := presence.NewTracker(presence.NewRedisStore(rdb), gw, presence.Config{
		IdleTimeout: cfg.IdleTimeout,
		TTL:         cfg.PresenceTTL,
	})
	gw.SetTracker(tracker)

	dispatcher := gateway.NewDispatcher()
	server := gateway.NewServer(gateway.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, auth, dispatcher.Dispatch)

	server.SetConnectGuard(func(ip string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		return allowed
	})

	if err := gw.Bind(server, dispatcher); err != nil {
		log.Fatalf("failed to bind gateway: %v", err)
	}

	log.Printf("Loqui realtime gateway starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  instance:        %s", cfg.InstanceName)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  postgres_dsn:    %s", cfg.PostgresDSN)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		tracker.Shutdown()
		natsClient.Close()
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
