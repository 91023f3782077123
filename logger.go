package texstream

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler drops every record. Enabled reports false, so call sites
// skip building attributes for per-slot Debug records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr holds the logger that New falls back to.
var loggerPtr atomic.Pointer[slog.Logger]

// streamerSeq numbers streamers in log records.
var streamerSeq atomic.Uint64

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger sets the logger that streamers created without WithLogger
// write to. The logger is captured by New: streamers already running keep
// the one they started with. texstream is silent until SetLogger or
// WithLogger is used; pass nil to silence it again.
//
// Records carry a "streamer" attribute numbering the streamer in creation
// order, plus "slot", "stage", "worker" and "err" where they apply.
//
// Levels:
//   - [slog.LevelDebug]: slot stage transitions, decoded tiles, rejected
//     transfers
//   - [slog.LevelInfo]: streamer start and close, with pool statistics
//   - [slog.LevelWarn]: device failures and the frames that reported them
//   - [slog.LevelError]: block copy failures and queue overflows, which
//     point at a bug rather than at the device
//
// SetLogger is safe for concurrent use.
//
// Example:
//
//	texstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the logger set by SetLogger. cmd/texstream passes the
// same logger to device/haldevice.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// streamerLogger returns the logger of a new streamer: l if set, else the
// package logger, tagged with the next streamer number.
func streamerLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = Logger()
	}
	return l.With("streamer", streamerSeq.Add(1))
}
