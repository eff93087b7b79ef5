// Package config loads isoctl run configuration from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/isogather/internal/collector"
	"github.com/danmuck/isogather/internal/dispatch"
	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/protocol/session"
	"github.com/danmuck/isogather/internal/worker"
	"github.com/google/uuid"
)

// Config is the file form of a run. Durations are Go duration strings.
type Config struct {
	Strategy    string        `toml:"strategy"`
	Transfer    string        `toml:"transfer"`
	Gather      string        `toml:"gather"`
	Ranks       int           `toml:"ranks"`
	Threads     int           `toml:"threads"`
	Prefix      string        `toml:"prefix"`
	Ext         string        `toml:"ext"`
	Output      string        `toml:"output"`
	ResultsLog  string        `toml:"results_log"`
	TempDir     string        `toml:"temp_dir"`
	TmpPrefix   string        `toml:"tmp_prefix"`
	Field       string        `toml:"field"`
	Levels      int           `toml:"levels"`
	RunID       string        `toml:"run_id"`
	MetricsFile string        `toml:"metrics_file"`
	StatusAddr  string        `toml:"status_addr"`
	Session     SessionConfig `toml:"session"`
}

type SessionConfig struct {
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	ReceiveTimeout     string `toml:"receive_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	MaxMessageBytes    uint64 `toml:"max_message_bytes"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
}

func Default() Config {
	s := session.DefaultConfig()
	return Config{
		Strategy:   partition.ProcessOnly.String(),
		Transfer:   dispatch.TransferAuto.String(),
		Gather:     collector.Ordered.String(),
		Ext:        partition.DefaultExt,
		ResultsLog: dispatch.DefaultResultsLog,
		TempDir:    ".",
		TmpPrefix:  dispatch.DefaultTmpPrefix,
		Field:      worker.FieldName,
		Levels:     worker.IsoLevels,
		Session: SessionConfig{
			ConnectTimeout:     s.ConnectTimeout.String(),
			HandshakeTimeout:   s.HandshakeTimeout.String(),
			ReceiveTimeout:     s.ReceiveTimeout.String(),
			WriteTimeout:       s.WriteTimeout.String(),
			MaxConnectAttempts: s.MaxConnectAttempts,
			MaxMessageBytes:    s.MaxMessageBytes,
			BackoffInitial:     s.Backoff.InitialDelay.String(),
			BackoffMax:         s.Backoff.MaxDelay.String(),
		},
	}
}

// Load reads path and overlays the keys it defines onto Default. Unknown
// keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: load config %s: %v", failure.ErrConfiguration, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: config %s: unknown keys %s", failure.ErrConfiguration, path, strings.Join(keys, ", "))
	}

	overlayString(meta, &cfg.Strategy, raw.Strategy, "strategy")
	overlayString(meta, &cfg.Transfer, raw.Transfer, "transfer")
	overlayString(meta, &cfg.Gather, raw.Gather, "gather")
	overlay(meta, &cfg.Ranks, raw.Ranks, "ranks")
	overlay(meta, &cfg.Threads, raw.Threads, "threads")
	overlayString(meta, &cfg.Prefix, raw.Prefix, "prefix")
	overlayString(meta, &cfg.Ext, raw.Ext, "ext")
	overlayString(meta, &cfg.Output, raw.Output, "output")
	overlayString(meta, &cfg.ResultsLog, raw.ResultsLog, "results_log")
	overlayString(meta, &cfg.TempDir, raw.TempDir, "temp_dir")
	overlayString(meta, &cfg.TmpPrefix, raw.TmpPrefix, "tmp_prefix")
	overlayString(meta, &cfg.Field, raw.Field, "field")
	overlay(meta, &cfg.Levels, raw.Levels, "levels")
	overlayString(meta, &cfg.RunID, raw.RunID, "run_id")
	overlayString(meta, &cfg.MetricsFile, raw.MetricsFile, "metrics_file")
	overlayString(meta, &cfg.StatusAddr, raw.StatusAddr, "status_addr")

	s, rs := &cfg.Session, raw.Session
	overlayString(meta, &s.ConnectTimeout, rs.ConnectTimeout, "session", "connect_timeout")
	overlayString(meta, &s.HandshakeTimeout, rs.HandshakeTimeout, "session", "handshake_timeout")
	overlayString(meta, &s.ReceiveTimeout, rs.ReceiveTimeout, "session", "receive_timeout")
	overlayString(meta, &s.WriteTimeout, rs.WriteTimeout, "session", "write_timeout")
	overlay(meta, &s.MaxConnectAttempts, rs.MaxConnectAttempts, "session", "max_connect_attempts")
	overlay(meta, &s.MaxMessageBytes, rs.MaxMessageBytes, "session", "max_message_bytes")
	overlayString(meta, &s.BackoffInitial, rs.BackoffInitial, "session", "backoff_initial")
	overlayString(meta, &s.BackoffMax, rs.BackoffMax, "session", "backoff_max")

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func overlay[T any](meta toml.MetaData, dst *T, src T, key ...string) {
	if meta.IsDefined(key...) {
		*dst = src
	}
}

func overlayString(meta toml.MetaData, dst *string, src string, key ...string) {
	if meta.IsDefined(key...) {
		*dst = strings.TrimSpace(src)
	}
}

// Validate checks what the file alone can decide. Prefix and output
// usually arrive as CLI arguments and are checked once merged.
func (c Config) Validate() error {
	if _, err := c.ToOptions(); err != nil {
		return err
	}
	if c.Ranks < 0 {
		return fmt.Errorf("%w: ranks must not be negative, got %d", failure.ErrConfiguration, c.Ranks)
	}
	if c.Threads < 0 {
		return fmt.Errorf("%w: threads must not be negative, got %d", failure.ErrConfiguration, c.Threads)
	}
	if c.Levels < 0 {
		return fmt.Errorf("%w: levels must not be negative, got %d", failure.ErrConfiguration, c.Levels)
	}
	if c.RunID != "" {
		if _, err := uuid.Parse(c.RunID); err != nil {
			return fmt.Errorf("%w: run_id %q: %v", failure.ErrConfiguration, c.RunID, err)
		}
	}
	if c.Session.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: session.max_connect_attempts must not be negative", failure.ErrConfiguration)
	}
	return nil
}

// ToOptions converts the file form into dispatch options.
func (c Config) ToOptions() (dispatch.Options, error) {
	strategy, err := partition.ParseStrategy(c.Strategy)
	if err != nil {
		return dispatch.Options{}, err
	}
	transfer, err := dispatch.ParseTransfer(c.Transfer)
	if err != nil {
		return dispatch.Options{}, err
	}
	gather, err := collector.ParseMode(c.Gather)
	if err != nil {
		return dispatch.Options{}, err
	}
	sess, err := c.Session.toSession()
	if err != nil {
		return dispatch.Options{}, err
	}
	return dispatch.Options{
		Strategy:    strategy,
		Transfer:    transfer,
		Gather:      gather,
		Ranks:       c.Ranks,
		Threads:     c.Threads,
		Prefix:      c.Prefix,
		Ext:         c.Ext,
		Output:      c.Output,
		ResultsLog:  c.ResultsLog,
		TempDir:     c.TempDir,
		TmpPrefix:   c.TmpPrefix,
		Field:       c.Field,
		Levels:      c.Levels,
		RunID:       c.RunID,
		MetricsFile: c.MetricsFile,
		Session:     sess,
	}, nil
}

func (s SessionConfig) toSession() (session.Config, error) {
	out := session.DefaultConfig()
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", s.ConnectTimeout, &out.ConnectTimeout},
		{"handshake_timeout", s.HandshakeTimeout, &out.HandshakeTimeout},
		{"receive_timeout", s.ReceiveTimeout, &out.ReceiveTimeout},
		{"write_timeout", s.WriteTimeout, &out.WriteTimeout},
		{"backoff_initial", s.BackoffInitial, &out.Backoff.InitialDelay},
		{"backoff_max", s.BackoffMax, &out.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return session.Config{}, fmt.Errorf("%w: parse session.%s: %v", failure.ErrConfiguration, d.key, err)
		}
		if v <= 0 {
			return session.Config{}, fmt.Errorf("%w: session.%s must be positive, got %s", failure.ErrConfiguration, d.key, v)
		}
		*d.dst = v
	}
	if s.MaxConnectAttempts > 0 {
		out.MaxConnectAttempts = s.MaxConnectAttempts
	}
	if s.MaxMessageBytes > 0 {
		out.MaxMessageBytes = s.MaxMessageBytes
	}
	return out, nil
}
