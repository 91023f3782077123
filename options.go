package texstream

import (
	"log/slog"
	"time"

	"github.com/gogpu/texstream/device"
)

// Defaults used by New.
const (
	// DefaultSlots is the default number of staging slots.
	DefaultSlots = 8

	// DefaultSlotCapacity is the default staging size per slot: one
	// 512x512 page of ASTC 8x8 blocks.
	DefaultSlotCapacity = 64 * 1024
)

// Option configures a Streamer during creation.
//
// Example:
//
//	s, err := texstream.New(dev,
//	    texstream.WithSlots(4),
//	    texstream.WithWorkers(2),
//	)
type Option func(*options)

// options holds optional configuration for Streamer creation.
type options struct {
	slots        int
	workers      int
	capacity     int
	logger       *slog.Logger
	pollInterval time.Duration
}

// defaultOptions returns the default streamer options.
func defaultOptions() options {
	return options{
		slots:        DefaultSlots,
		workers:      0, // GOMAXPROCS
		capacity:     DefaultSlotCapacity,
		pollInterval: device.DefaultPollInterval,
	}
}

// WithSlots sets the number of staging slots N. Values below 1 keep the
// default.
func WithSlots(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.slots = n
		}
	}
}

// WithWorkers sets the number of decode workers M.
// If n <= 0, GOMAXPROCS is used.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithSlotCapacity sets the staging size of every slot in bytes. It bounds
// the largest tile a single transfer can carry. Values below 1 keep the
// default.
func WithSlotCapacity(bytes int) Option {
	return func(o *options) {
		if bytes >= 1 {
			o.capacity = bytes
		}
	}
}

// WithLogger sets the streamer's logger. Without it the streamer logs
// through the package logger (see SetLogger).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPollInterval sets how often Flush polls for completion while no
// slot made progress. Values <= 0 keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
