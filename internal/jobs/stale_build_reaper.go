package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"agentforge/internal/models"
	"agentforge/internal/services"
)

// StaleBuildSchedule runs the reaper every five minutes
const StaleBuildSchedule = "*/5 * * * *"

// StaleBuildReaper moves sessions stuck in building (the process died mid-build) to error
type StaleBuildReaper struct {
	sessions services.SessionStore
	maxAge   time.Duration
	now      func() time.Time
}

// NewStaleBuildReaper creates a reaper for builds older than maxAge, normally the build budget plus a grace period
func NewStaleBuildReaper(sessions services.SessionStore, maxAge time.Duration) *StaleBuildReaper {
	return &StaleBuildReaper{
		sessions: sessions,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Schedule implements Job
func (j *StaleBuildReaper) Schedule() string {
	return StaleBuildSchedule
}

// Run marks every stale building session as failed
func (j *StaleBuildReaper) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.maxAge)

	stale, err := j.sessions.FindStale(ctx, models.SessionStatusBuilding, cutoff)
	if err != nil {
		log.Printf("❌ [REAPER] Failed to query stale builds: %v", err)
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	reaped := 0
	for _, session := range stale {
		err := j.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusError)
		switch {
		case err == nil:
			reaped++
			log.Printf("⚠️  [REAPER] Session %s stuck in building since %s, marked as error",
				session.ID, session.UpdatedAt.Format(time.RFC3339))
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrSessionNotFound):
			// Finished or deleted between the query and the update
		default:
			log.Printf("❌ [REAPER] Failed to mark session %s as error: %v", session.ID, err)
		}
	}

	log.Printf("✅ [REAPER] Marked %d of %d stale builds as error", reaped, len(stale))
	return nil
}
