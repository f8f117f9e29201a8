package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"agentforge/internal/models"
	"agentforge/internal/services"
)

// orphanGrace keeps a build directory without metadata alive while it may still be written
const orphanGrace = time.Hour

// ArtifactRetentionJob deletes build directories that are too old or whose session is gone
type ArtifactRetentionJob struct {
	artifacts *services.ArtifactService
	sessions  services.SessionStore
	retention time.Duration
	schedule  string
	now       func() time.Time
}

// NewArtifactRetentionJob creates a new retention job. A zero retention keeps builds forever
// and only removes orphans.
func NewArtifactRetentionJob(artifacts *services.ArtifactService, sessions services.SessionStore, retention time.Duration, schedule string) *ArtifactRetentionJob {
	return &ArtifactRetentionJob{
		artifacts: artifacts,
		sessions:  sessions,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
	}
}

// Schedule implements Job
func (j *ArtifactRetentionJob) Schedule() string {
	return j.schedule
}

// Run executes the retention cleanup
func (j *ArtifactRetentionJob) Run(ctx context.Context) error {
	log.Println("[RETENTION] Starting artifact retention cleanup...")
	startTime := j.now()

	builds, err := j.artifacts.List()
	if err != nil {
		log.Printf("[RETENTION] Failed to list builds: %v", err)
		return err
	}

	deleted := 0
	for _, build := range builds {
		if err := ctx.Err(); err != nil {
			return err
		}

		reason := j.expiryReason(ctx, build, startTime)
		if reason == "" {
			continue
		}

		if err := j.artifacts.Delete(build.BuildID); err != nil {
			log.Printf("[RETENTION] Failed to delete build %s: %v", build.BuildID, err)
			continue
		}
		deleted++
		log.Printf("[RETENTION] Deleted build %s (%s)", build.BuildID, reason)
	}

	log.Printf("[RETENTION] Cleanup complete: deleted %d of %d builds in %v", deleted, len(builds), time.Since(startTime))
	return nil
}

// expiryReason returns why a build should go, or "" to keep it
func (j *ArtifactRetentionJob) expiryReason(ctx context.Context, build services.BuildDirInfo, now time.Time) string {
	age := now.Sub(build.ModTime)

	if j.retention > 0 && age > j.retention {
		return "older than retention window"
	}

	if build.SessionID == "" {
		if age > orphanGrace {
			return "missing metadata"
		}
		return ""
	}

	_, err := j.sessions.FindByID(ctx, build.SessionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return "session deleted"
	}
	if err != nil {
		log.Printf("[RETENTION] Failed to look up session %s: %v", build.SessionID, err)
	}
	return ""
}
