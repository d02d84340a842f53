package authority

import (
	"context"
	"time"
)

// Sweep deactivates every session whose start time is older than the fixed
// duration. It is the safety net for identities with no further activity to
// trigger the lazy per-call expiry check.
func (a *Authority) Sweep(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.cfg.SessionDuration)
	swept, err := a.sessions.DeactivateOlderThan(ctx, cutoff)
	if err != nil {
		a.logger.Error("session sweep failed", "error", err)
		return 0, internalError("session sweep failed", err)
	}
	if swept > 0 {
		a.logger.Info("expired sessions swept", "count", swept)
	}
	return swept, nil
}

// RunReaper sweeps on the configured interval until ctx is done.
func (a *Authority) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
