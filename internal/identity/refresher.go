package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/kinber/kinber/internal/logging"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunRefresher refreshes the stored session on the given cron schedule until
// ctx is cancelled. Long-running processes use it so requests never carry an
// expired token.
func (a *Adapter) RunRefresher(ctx context.Context, schedule string) error {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("identity: refresh schedule %q: %w", schedule, err)
	}
	log := logging.For("identity")
	for ctx.Err() == nil {
		now := a.now()
		wait := sched.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s, err := a.Refresh(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("scheduled refresh failed")
		case s == nil:
			log.Debug().Msg("scheduled refresh skipped, not signed in")
		}
	}
	return nil
}
