package orchestrator

import (
	"context"
	"time"

	"agentforge/internal/models"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of a remote attempt: a value or the error that prevented one
type Result[T any] struct {
	Value T
	Err   error
}

func ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func failed[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// invocation carries the diagnostic context of one plan, build or chat call
type invocation struct {
	mode      Mode
	sessionID string
	agentID   string
	started   time.Time
	attempts  int
	log       *logrus.Entry
}

func (inv *invocation) elapsed() time.Duration {
	return time.Since(inv.started)
}

func (inv *invocation) fields(err error) logrus.Fields {
	fields := logrus.Fields{
		"elapsed_ms":    inv.elapsed().Milliseconds(),
		"poll_attempts": inv.attempts,
	}
	if inv.agentID != "" {
		fields["agent_id"] = inv.agentID
	}
	if err != nil {
		fields["error_kind"] = ClassifyError(err).String()
		fields["error"] = err.Error()
	}
	return fields
}

// withFallback resolves a remote Result into the value handed to the caller.
// Recoverable failures are logged once and replaced by produce(); cancellation and
// contract violations are returned as errors.
func withFallback[T any](ctx context.Context, o *Orchestrator, inv *invocation, res Result[T], produce func() T) (T, models.ResultSource, error) {
	if res.Err == nil {
		o.metrics.ObserveInvocation(string(inv.mode), string(models.SourceRemote), inv.elapsed())
		inv.log.WithFields(inv.fields(nil)).Info("Remote agent result accepted")
		return res.Value, models.SourceRemote, nil
	}

	var zero T
	kind := ClassifyError(res.Err)
	if kind != ErrorKindCancelled && ctx.Err() != nil {
		kind = ErrorKindCancelled
	}

	switch {
	case kind == ErrorKindCancelled:
		err := res.Err
		if !IsCancellation(err) {
			err = &CancellationError{Elapsed: inv.elapsed(), Attempts: inv.attempts, Err: err}
		}
		inv.log.WithFields(inv.fields(err)).Warn("Invocation cancelled by caller")
		o.metrics.IncFailure(string(inv.mode), kind.String())
		return zero, "", err

	case !kind.Recoverable():
		inv.log.WithFields(inv.fields(res.Err)).Error("Invocation failed")
		o.metrics.IncFailure(string(inv.mode), kind.String())
		return zero, "", res.Err

	case kind == ErrorKindUnconfigured:
		inv.log.WithFields(inv.fields(res.Err)).Warn("Remote agent not configured, using fallback result")

	case kind == ErrorKindNoAgent:
		inv.log.WithFields(inv.fields(res.Err)).Info("No remote agent linked, answering locally")

	default:
		inv.log.WithFields(inv.fields(res.Err)).Error("Remote agent failed, using fallback result")
	}

	o.metrics.IncFallback(string(inv.mode), kind.String())
	o.metrics.ObserveInvocation(string(inv.mode), string(models.SourceFallback), inv.elapsed())
	return produce(), models.SourceFallback, nil
}
