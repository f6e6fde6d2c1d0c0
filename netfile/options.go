package netfile

import (
	"errors"
	"log/slog"
)

// -----------------------------------------------------------------------------
// Open options
// -----------------------------------------------------------------------------

// fileConfig holds the resolved configuration for a file.
type fileConfig struct {
	mode    Mode
	async   bool
	cache   Cache
	monitor Monitor
	metrics *Metrics
	log     *slog.Logger
}

// Option configures Open.
type Option func(*fileConfig) error

// WithMode sets the access mode. The default is ModeRead.
func WithMode(m Mode) Option {
	return func(cfg *fileConfig) error {
		if m < ModeRead || m > ModeRecreate {
			return ErrInvalidMode
		}
		cfg.mode = m
		return nil
	}
}

// WithModeString sets the access mode from its string spelling
// (READ, UPDATE, NEW/CREATE, RECREATE).
func WithModeString(s string) Option {
	return func(cfg *fileConfig) error {
		m, err := ParseMode(s)
		if err != nil {
			return err
		}
		cfg.mode = m
		return nil
	}
}

// WithAsyncOpen makes Open return immediately with the session open
// still in flight. The first operation that needs the file blocks
// until the open resolves.
func WithAsyncOpen() Option {
	return func(cfg *fileConfig) error {
		cfg.async = true
		return nil
	}
}

// WithCache installs a local cache tier consulted before network I/O
// on single-buffer reads and writes.
func WithCache(c Cache) Option {
	return func(cfg *fileConfig) error {
		if c == nil {
			return errors.New("netfile: cache must not be nil")
		}
		cfg.cache = c
		return nil
	}
}

// WithMonitor installs a sink notified at open and read milestones.
func WithMonitor(m Monitor) Option {
	return func(cfg *fileConfig) error {
		if m == nil {
			return errors.New("netfile: monitor must not be nil")
		}
		cfg.monitor = m
		return nil
	}
}

// WithMetrics shares an aggregator with the file; counters are bumped
// atomically on every read and write.
func WithMetrics(m *Metrics) Option {
	return func(cfg *fileConfig) error {
		if m == nil {
			return errors.New("netfile: metrics must not be nil")
		}
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(log *slog.Logger) Option {
	return func(cfg *fileConfig) error {
		if log == nil {
			return errors.New("netfile: logger must not be nil")
		}
		cfg.log = log
		return nil
	}
}
