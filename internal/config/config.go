// Package config loads gateway configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqui/social-core/internal/crypto"
)

// Config holds all tunable settings for the gateway process.
type Config struct {
	ListenAddr     string        // address the gateway listens on
	InstanceName   string        // identifier for this gateway instance
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // WebSocket read timeout
	WriteTimeout   time.Duration // WebSocket write timeout

	PostgresDSN string // message/thread storage
	RedisAddr   string // presence records, rate limits, profile cache
	NATSURL     string // cross-instance event fan-out

	MessageKey []byte // 32-byte AES-256 key for message bodies
	JWTSecret  []byte // HS256 secret for connection credentials

	IdleTimeout time.Duration // online -> inactive after this much silence
	PresenceTTL time.Duration // inactive -> offline after this much silence

	PageSize int // thread listing / history page size
}

// Load reads configuration from the environment. A .env file is applied
// first if present; real environment variables win in production.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file, using environment")
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		InstanceName:   getEnv("INSTANCE_NAME", hostname),
		WorkerPoolSize: getInt("WORKER_POOL_SIZE", 256),
		MaxConnections: getInt("MAX_CONNECTIONS", 100000),
		ReadTimeout:    getDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 10*time.Second),
		PostgresDSN:    getEnv("POSTGRES_DSN", "postgres://localhost:5432/loqui?sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		IdleTimeout:    getDuration("PRESENCE_IDLE_TIMEOUT", 60*time.Second),
		PresenceTTL:    getDuration("PRESENCE_TTL", 300*time.Second),
		PageSize:       getInt("PAGE_SIZE", 50),
	}
	if cfg.InstanceName == "" {
		cfg.InstanceName = "gateway-1"
	}

	keyHex := os.Getenv("MESSAGE_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("config: MESSAGE_KEY is required")
	}
	key, err := crypto.DeriveKey(keyHex)
	if err != nil {
		return nil, fmt.Errorf("config: MESSAGE_KEY: %w", err)
	}
	cfg.MessageKey = key

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	cfg.JWTSecret = []byte(secret)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
