package gojob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-oauth-provider/core"

	glog "github.com/goliatone/go-logger/glog"
)

// SessionPurger is the slice of the session server the maintenance runner
// needs. *core.SessionServer satisfies it.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// MaintenanceRunner executes the provider's recurring cleanup jobs. It holds
// no schedule of its own; something upstream enqueues NoncePurgeMessage and
// SessionPurgeMessage on whatever cadence the deployment wants.
type MaintenanceRunner struct {
	nonces   core.NonceLedger
	sessions SessionPurger
	logger   core.Logger
	policy   RetryPolicy
}

func NewMaintenanceRunner(nonces core.NonceLedger, sessions SessionPurger, logger core.Logger) *MaintenanceRunner {
	return &MaintenanceRunner{
		nonces:   nonces,
		sessions: sessions,
		logger:   glog.Ensure(logger),
		policy:   RetryPolicy{MaxAttempts: 5, MaxDelay: 5 * time.Minute, DeadLetterOnMax: true},
	}
}

// Run drains the dequeuer until the context is canceled.
func (r *MaintenanceRunner) Run(ctx context.Context, dequeuer core.JobDequeuer) error {
	if r == nil {
		return fmt.Errorf("gojob: maintenance runner is not configured")
	}
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		r.handle(ctx, delivery, 0)
	}
}

// Handle executes one delivery. Exposed so deployments that run their own
// worker loop can plug the runner in as a handler.
func (r *MaintenanceRunner) Handle(ctx context.Context, delivery core.JobDelivery) {
	r.handle(ctx, delivery, 0)
}

func (r *MaintenanceRunner) handle(ctx context.Context, delivery core.JobDelivery, attempt int) {
	if r == nil || delivery == nil {
		return
	}
	msg := delivery.Message()
	if msg == nil {
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
		return
	}
	if err := r.execute(ctx, msg); err != nil {
		r.logger.Error("maintenance job failed", "job_id", msg.JobID, "error", err)
		opts := r.policy.NormalizeAttempt(core.JobNackOptions{Requeue: true, Delay: 30 * time.Second, Reason: err.Error()}, attempt)
		_ = delivery.Nack(ctx, opts)
		return
	}
	if err := delivery.Ack(ctx); err != nil {
		r.logger.Error("maintenance job ack failed", "job_id", msg.JobID, "error", err)
	}
}

func (r *MaintenanceRunner) execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	switch msg.JobID {
	case JobIDNoncePurge:
		if r.nonces == nil {
			return fmt.Errorf("gojob: nonce ledger is not configured")
		}
		cutoff, err := parameterTime(msg.Parameters, "cutoff")
		if err != nil {
			return err
		}
		purged, err := r.nonces.PurgeBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		r.logger.Info("nonce purge complete", "cutoff", cutoff, "purged", purged)
		return nil
	case JobIDSessionPurge:
		if r.sessions == nil {
			return fmt.Errorf("gojob: session purger is not configured")
		}
		purged, err := r.sessions.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		r.logger.Info("session purge complete", "purged", purged)
		return nil
	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
}

func parameterTime(params map[string]any, key string) (time.Time, error) {
	raw, ok := params[key]
	if !ok {
		return time.Time{}, fmt.Errorf("gojob: parameter %q is required", key)
	}
	value, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("gojob: parameter %q must be an RFC3339 string", key)
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("gojob: parameter %q is not a valid timestamp: %w", key, err)
	}
	return parsed, nil
}
