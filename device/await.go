package device

import (
	"context"
	"time"
)

// DefaultPollInterval is used by Await when interval is zero or negative.
const DefaultPollInterval = time.Millisecond

// TokenPoller is the part of Device that Await uses.
type TokenPoller interface {
	PollToken(t Token) (TokenStatus, error)
}

// Await polls t every interval until it leaves the Pending state or ctx is
// done. It returns the final status. On cancellation it returns Pending and
// the context error.
//
// Await must run on the goroutine that owns the device. It is meant for
// callers that need one specific transfer to finish; the per-frame reaper
// never blocks.
func Await(ctx context.Context, p TokenPoller, t Token, interval time.Duration) (TokenStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	status, err := p.PollToken(t)
	if err != nil || status != Pending {
		return status, err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Pending, ctx.Err()
		case <-ticker.C:
		}
		status, err = p.PollToken(t)
		if err != nil || status != Pending {
			return status, err
		}
	}
}
