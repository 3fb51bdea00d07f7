package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type App struct {
	Env     string
	Name    string
	Version string
}

type HTTP struct {
	Port string
}

type DB struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type NATS struct {
	URL           string
	Stream        string
	StreamMaxAge  time.Duration
	StreamMaxMsgs int64
	Subjects      []string
	Consumer      string
	MaxDeliver    int
	AckWait       time.Duration
	FetchTimeout  time.Duration
	FetchBackoff  time.Duration
	ReconnectWait time.Duration
	DLQSubject    string
}

type Audit struct {
	BaseURL string
	Timeout time.Duration
}

type Notify struct {
	Backend string
	Channel string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	App    App
	HTTP   HTTP
	DB     DB
	NATS   NATS
	Audit  Audit
	Notify Notify
	Redis  Redis
}

func Load() Config {
	return Config{
		App: App{
			Env:     getenv("APP_ENV", "dev"),
			Name:    getenv("SERVICE_NAME", "customer-sync-service"),
			Version: getenv("SERVICE_VERSION", "dev"),
		},
		HTTP: HTTP{
			Port: getenv("PORT", "8080"),
		},
		DB: DB{
			Host:     getenv("DB_HOST", "127.0.0.1"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "staging_db"),
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", "postgres"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		NATS: NATS{
			URL:           getenv("NATS_URL", "nats://localhost:4222"),
			Stream:        getenv("NATS_STREAM", "CUSTOMERS"),
			StreamMaxAge:  parseDuration(getenv("NATS_STREAM_MAX_AGE", "24h")),
			StreamMaxMsgs: int64(atoi(getenv("NATS_STREAM_MAX_MSGS", "100000"))),
			Subjects:      splitCSV(getenv("NATS_SUBJECTS", "customer.created,customer.updated,customer.deleted")),
			Consumer:      getenv("NATS_CONSUMER", "customer-sync-worker"),
			MaxDeliver:    atoi(getenv("NATS_MAX_DELIVER", "3")),
			AckWait:       parseDuration(getenv("NATS_ACK_WAIT", "30s")),
			FetchTimeout:  parseDuration(getenv("NATS_FETCH_TIMEOUT", "5s")),
			FetchBackoff:  parseDuration(getenv("NATS_FETCH_BACKOFF", "1s")),
			ReconnectWait: parseDuration(getenv("NATS_RECONNECT_WAIT", "2s")),
			DLQSubject:    getenv("NATS_DLQ_SUBJECT", "customer.dead-letter"),
		},
		Audit: Audit{
			BaseURL: getenv("AUDIT_BASE_URL", ""),
			Timeout: parseDuration(getenv("AUDIT_TIMEOUT", "5s")),
		},
		Notify: Notify{
			Backend: getenv("NOTIFY_BACKEND", "log"),
			Channel: getenv("NOTIFY_CHANNEL", "customer-sync-events"),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       atoi(getenv("REDIS_DB", "0")),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
