package adapters_test

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-oauth-provider/adapters/gojob"
	"github.com/goliatone/go-oauth-provider/adapters/gologger"
	"github.com/goliatone/go-oauth-provider/core"
)

// Drives a maintenance message across the full runtime chain: build with the
// provider contract, map into go-job through the enqueuer adapter, wrap the
// queued message back up as a delivery, and hand it to the runner with logging
// bridged through the shared glog channel.
func TestRuntimeCompatibility_GoJobGoLoggerMaintenance(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, resolvedLogger, jobProvider, jobLogger := gologger.ResolveForJob("oauth-provider", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	ledger := core.NewMemoryNonceLedger()
	for _, nonce := range []string{"app-key\x00nonce-1", "app-key\x00nonce-2"} {
		won, err := ledger.Claim(ctx, nonce)
		if err != nil || !won {
			t.Fatalf("seed nonce %q: won=%v err=%v", nonce, won, err)
		}
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	cutoff := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	if err := enqueueAdapter.Enqueue(ctx, gojob.NoncePurgeMessage(cutoff)); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDNoncePurge {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	sessions := &compatSessionPurger{}
	runner := gojob.NewMaintenanceRunner(ledger, sessions, resolvedLogger)

	queued := &compatQueueDelivery{msg: enqueueProbe.last}
	runner.Handle(ctx, gojob.NewDeliveryAdapter(queued, gojob.RetryPolicy{}))
	if !queued.acked {
		t.Fatalf("expected nonce purge delivery acked")
	}

	won, err := ledger.Claim(ctx, "app-key\x00nonce-1")
	if err != nil {
		t.Fatalf("reclaim after purge: %v", err)
	}
	if !won {
		t.Fatalf("expected purge to release claimed nonces")
	}

	if err := enqueueAdapter.Enqueue(ctx, gojob.SessionPurgeMessage(time.Now())); err != nil {
		t.Fatalf("enqueue session purge: %v", err)
	}
	queued = &compatQueueDelivery{msg: enqueueProbe.last}
	runner.Handle(ctx, gojob.NewDeliveryAdapter(queued, gojob.RetryPolicy{}))
	if !queued.acked {
		t.Fatalf("expected session purge delivery acked")
	}
	if sessions.calls != 1 {
		t.Fatalf("expected one session purge, got %d", sessions.calls)
	}
	if !logger.sawInfo {
		t.Fatalf("expected runner to log through the resolved channel")
	}
}

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatQueueDelivery struct {
	msg   *job.ExecutionMessage
	acked bool
}

func (d *compatQueueDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *compatQueueDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *compatQueueDelivery) Nack(context.Context, queue.NackOptions) error {
	return nil
}

type compatSessionPurger struct {
	calls int
}

func (s *compatSessionPurger) PurgeExpired(context.Context) (int, error) {
	s.calls++
	return 1, nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct {
	sawInfo bool
}

func (l *compatLogger) Trace(string, ...any) {}
func (l *compatLogger) Debug(string, ...any) {}
func (l *compatLogger) Info(string, ...any) {
	l.sawInfo = true
}
func (l *compatLogger) Warn(string, ...any)                     {}
func (l *compatLogger) Error(string, ...any)                    {}
func (l *compatLogger) Fatal(string, ...any)                    {}
func (l *compatLogger) WithContext(context.Context) glog.Logger { return l }
