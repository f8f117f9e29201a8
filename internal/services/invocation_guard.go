package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvocationInProgress means another plan, build or chat call holds the session
var ErrInvocationInProgress = errors.New("another invocation is already running for this session")

// InvocationGuard keeps plan, build and chat calls single-flight per session.
// With Redis the lock spans every instance; without it the lock is per process.
type InvocationGuard struct {
	redis *RedisService
	ttl   time.Duration

	mu    sync.Mutex
	local map[string]time.Time
}

// NewInvocationGuard creates a guard; redis may be nil
func NewInvocationGuard(redis *RedisService, ttl time.Duration) *InvocationGuard {
	return &InvocationGuard{
		redis: redis,
		ttl:   ttl,
		local: make(map[string]time.Time),
	}
}

func lockKey(sessionID string) string {
	return "agentforge:session-lock:" + sessionID
}

// Acquire takes the session lock. The returned release func must be called once the invocation ends.
func (g *InvocationGuard) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if g.redis != nil {
		token := uuid.New().String()
		acquired, err := g.redis.AcquireLock(ctx, lockKey(sessionID), token, g.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if !acquired {
			return nil, ErrInvocationInProgress
		}
		return func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if _, err := g.redis.ReleaseLock(releaseCtx, lockKey(sessionID), token); err != nil {
				log.Printf("⚠️  [SESSION-LOCK] Failed to release lock for session %s: %v", sessionID, err)
			}
		}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if expires, held := g.local[sessionID]; held && now.Before(expires) {
		return nil, ErrInvocationInProgress
	}
	expires := now.Add(g.ttl)
	g.local[sessionID] = expires

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		// A lock that expired and was taken again belongs to someone else
		if g.local[sessionID] == expires {
			delete(g.local, sessionID)
		}
	}, nil
}
