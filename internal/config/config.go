// Package config loads engine configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the process needs to start.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// MongoURI enables the MongoDB document store when set. Empty means
	// the in-memory store, which is suitable for development only.
	MongoURI      string
	MongoDatabase string

	// OpenAccess disables the grant check so every participant may join
	// every project. Development only.
	OpenAccess bool

	// IdleThreshold is how long a room may sit without activity before
	// the registry sweep evicts it.
	IdleThreshold time.Duration

	// SweepInterval is how often the registry looks for idle rooms.
	SweepInterval time.Duration

	// HeartbeatInterval is the WebSocket ping cadence.
	HeartbeatInterval time.Duration

	// HistoryWindow is how many applied operations a room retains for
	// transforming stale submissions.
	HistoryWindow int

	// RetryBudget is how many consecutive storage failures a room
	// tolerates before degrading.
	RetryBudget int

	// SendQueueSize bounds each client's outbound message queue.
	SendQueueSize int

	// WriteTimeout bounds each document persistence call.
	WriteTimeout time.Duration
}

// Load reads .env if present, then the process environment, applying
// defaults for everything unset.
func Load() (Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:    envString("LISTEN_ADDR", ":8080"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: envString("MONGO_DATABASE", "collab"),
	}

	var err error

	if cfg.OpenAccess, err = envBool("OPEN_ACCESS", false); err != nil {
		return Config{}, err
	}

	if cfg.IdleThreshold, err = envDuration("IDLE_THRESHOLD", 30*time.Minute); err != nil {
		return Config{}, err
	}

	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}

	if cfg.HeartbeatInterval, err = envDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.HistoryWindow, err = envInt("HISTORY_WINDOW", 256); err != nil {
		return Config{}, err
	}

	if cfg.RetryBudget, err = envInt("RETRY_BUDGET", 3); err != nil {
		return Config{}, err
	}

	if cfg.SendQueueSize, err = envInt("SEND_QUEUE_SIZE", 64); err != nil {
		return Config{}, err
	}

	if cfg.WriteTimeout, err = envDuration("WRITE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}

	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return d, nil
}
