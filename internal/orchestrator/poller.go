package orchestrator

import (
	"context"
	"errors"
	"time"

	"agentforge/internal/agent"

	"github.com/sirupsen/logrus"
)

// waitForCompletion polls the agent until it reports a terminal status or the budget runs out.
// The wait between polls is a timer raced against ctx, so a cancelled caller returns at once.
// Poll transport failures are retried by the next tick only, up to MaxPollFailures in a row;
// an unrecognized poll body ends the loop immediately.
func (o *Orchestrator) waitForCompletion(ctx context.Context, inv *invocation, agentID string, budget time.Duration) (*agent.Snapshot, error) {
	started := time.Now()
	deadline := started.Add(budget)
	consecutiveFailures := 0

	defer func() {
		o.metrics.ObservePolls(string(inv.mode), inv.attempts)
	}()

	inv.log.WithFields(logrus.Fields{
		"agent_id":      agentID,
		"budget_ms":     budget.Milliseconds(),
		"poll_interval": o.cfg.PollInterval.String(),
	}).Info("Waiting for remote agent to finish")

	for {
		if err := ctx.Err(); err != nil {
			return nil, &CancellationError{Elapsed: time.Since(started), Attempts: inv.attempts, Err: err}
		}

		inv.attempts++
		snapshot, err := o.agent.PollStatus(ctx, agentID)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil, &CancellationError{Elapsed: time.Since(started), Attempts: inv.attempts, Err: ctx.Err()}

		case err != nil:
			var transportErr *agent.TransportError
			if !errors.As(err, &transportErr) {
				return nil, err
			}
			consecutiveFailures++
			if o.cfg.MaxPollFailures > 0 && consecutiveFailures >= o.cfg.MaxPollFailures {
				return nil, err
			}
			inv.log.WithFields(logrus.Fields{
				"agent_id":             agentID,
				"poll_attempts":        inv.attempts,
				"consecutive_failures": consecutiveFailures,
				"error":                err.Error(),
			}).Warn("Poll failed, retrying on next tick")

		default:
			consecutiveFailures = 0
			inv.log.WithFields(logrus.Fields{
				"agent_id":      agentID,
				"status":        snapshot.Status,
				"poll_attempts": inv.attempts,
				"elapsed_ms":    time.Since(started).Milliseconds(),
			}).Debug("Remote agent status")

			switch snapshot.Status {
			case agent.StatusFinished:
				return snapshot, nil
			case agent.StatusFailed, agent.StatusCancelled:
				return nil, &AgentFailureError{AgentID: agentID, Status: snapshot.Status, Summary: snapshot.Summary}
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{AgentID: agentID, Budget: budget, Elapsed: time.Since(started), Attempts: inv.attempts}
		}

		timer := time.NewTimer(min(o.cfg.PollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &CancellationError{Elapsed: time.Since(started), Attempts: inv.attempts, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}
