package screening

import (
	"context"
	"time"
)

// Pacer imposes the fixed UX delays around a turn (composing window,
// pre/post answer pauses). Correctness never depends on them.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration)
}

// SleepPacer waits for real, returning early if ctx ends.
type SleepPacer struct{}

func (SleepPacer) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// NoPacer skips every delay.
type NoPacer struct{}

func (NoPacer) Pause(context.Context, time.Duration) {}
