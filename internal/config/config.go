// Package config holds the kong flag groups shared by the taskgraph commands.
// Every flag can also be set through its TASKGRAPH_* environment variable.
package config

import (
	"io"
	"log/slog"
	"time"

	"go-taskgraph/internal/core/retry"
)

type Logging struct {
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"TASKGRAPH_LOG_LEVEL"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text" env:"TASKGRAPH_LOG_FORMAT"`
}

// NewLogger builds the process logger. It does not touch slog.Default.
func (l Logging) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Store struct {
	Backend           string `name:"store" help:"Backend: postgres with redis, or an in-process memory backend." enum:"postgres,memory" default:"postgres" env:"TASKGRAPH_STORE"`
	DatabaseDSN       string `help:"Postgres DSN." default:"host=localhost user=postgres password=postgres dbname=taskgraph port=5432 sslmode=disable" env:"TASKGRAPH_DATABASE_DSN"`
	MaxModifyAttempts int    `help:"Optimistic update attempts before giving up." default:"10" env:"TASKGRAPH_MODIFY_ATTEMPTS"`
}

// RetryPolicy is the optimistic update policy. onConflict may be nil.
func (s Store) RetryPolicy(onConflict func()) retry.Policy {
	p := retry.DefaultPolicy()
	if s.MaxModifyAttempts > 0 {
		p.MaxAttempts = s.MaxModifyAttempts
	}
	p.OnConflict = onConflict
	return p
}

type Redis struct {
	RedisAddr string `help:"Redis address." default:"localhost:6379" env:"TASKGRAPH_REDIS_ADDR"`
}

type Server struct {
	Listen          string        `help:"HTTP listen address." default:":8080" env:"TASKGRAPH_LISTEN"`
	SchedulerID     string        `help:"Scheduler identity prefixed to routing keys." default:"taskgraph" env:"TASKGRAPH_SCHEDULER_ID"`
	Consumer        string        `help:"Consumer name in the coordinator group. Must be stable across restarts." default:"coordinator-1" env:"TASKGRAPH_CONSUMER"`
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests." default:"10s" env:"TASKGRAPH_SHUTDOWN_TIMEOUT"`
}
