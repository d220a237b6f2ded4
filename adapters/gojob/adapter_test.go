package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-oauth-provider/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestPurgeMessageBuilders(t *testing.T) {
	cutoff := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	msg := NoncePurgeMessage(cutoff)
	if msg.JobID != JobIDNoncePurge {
		t.Fatalf("expected job id %q, got %q", JobIDNoncePurge, msg.JobID)
	}
	if msg.Parameters["cutoff"] != cutoff.Format(time.RFC3339) {
		t.Fatalf("expected RFC3339 cutoff parameter, got %v", msg.Parameters["cutoff"])
	}
	if msg.IdempotencyKey == "" || msg.DedupPolicy != "drop" {
		t.Fatalf("expected dedup by idempotency key, got %q / %q", msg.IdempotencyKey, msg.DedupPolicy)
	}

	sessionMsg := SessionPurgeMessage(cutoff)
	if sessionMsg.JobID != JobIDSessionPurge {
		t.Fatalf("expected job id %q, got %q", JobIDSessionPurge, sessionMsg.JobID)
	}
	if sessionMsg.IdempotencyKey == msg.IdempotencyKey {
		t.Fatalf("expected distinct idempotency keys per job")
	}
}

func TestMessageMappingRoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          JobIDNoncePurge,
		ScriptPath:     "oauthprovider.maintenance",
		Parameters:     map[string]any{"cutoff": "2026-08-30T12:00:00Z"},
		IdempotencyKey: "idem-1",
		DedupPolicy:    "drop",
	}

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != original.JobID {
		t.Fatalf("expected job id %q, got %q", original.JobID, roundTrip.JobID)
	}
	if roundTrip.ScriptPath != original.ScriptPath {
		t.Fatalf("expected script path %q, got %q", original.ScriptPath, roundTrip.ScriptPath)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.DedupPolicy != original.DedupPolicy {
		t.Fatalf("expected dedup policy %q, got %q", original.DedupPolicy, roundTrip.DedupPolicy)
	}
	if roundTrip.Parameters["cutoff"] != "2026-08-30T12:00:00Z" {
		t.Fatalf("expected parameters to survive mapping")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	if err := enqueueAdapter.Enqueue(ctx, NoncePurgeMessage(time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDNoncePurge {
		t.Fatalf("expected mapped go-job message")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got := delivery.Message()
	if got == nil || got.JobID != JobIDNoncePurge {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{JobID: JobIDSessionPurge},
	}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	evt := worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          JobIDNoncePurge,
			IdempotencyKey: "idem-nonce",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	}

	adapter.OnRetry(context.Background(), evt)
	if coreHook.last.Message == nil {
		t.Fatalf("expected worker message mapping")
	}
	if coreHook.last.Message.JobID != JobIDNoncePurge {
		t.Fatalf("expected job id mapping, got %q", coreHook.last.Message.JobID)
	}
	if coreHook.last.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", coreHook.last.Attempt)
	}
	if coreHook.last.Delay != 5*time.Second {
		t.Fatalf("expected delay 5s, got %s", coreHook.last.Delay)
	}
	if coreHook.last.Duration != 250*time.Millisecond {
		t.Fatalf("expected duration mapping")
	}
	if coreHook.last.StartedAt.IsZero() {
		t.Fatalf("expected started_at mapping")
	}
	if coreHook.last.Err == nil || coreHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

func TestMaintenanceRunner_NoncePurge(t *testing.T) {
	ledger := &stubNonceLedger{purged: 3}
	runner := NewMaintenanceRunner(ledger, &stubSessionPurger{}, nil)

	cutoff := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	delivery := &stubCoreDelivery{msg: NoncePurgeMessage(cutoff)}
	runner.Handle(context.Background(), delivery)

	if !delivery.acked {
		t.Fatalf("expected ack after successful purge, nack opts %+v", delivery.nackOpts)
	}
	if !ledger.cutoff.Equal(cutoff) {
		t.Fatalf("expected cutoff %s to reach the ledger, got %s", cutoff, ledger.cutoff)
	}
}

func TestMaintenanceRunner_SessionPurge(t *testing.T) {
	purger := &stubSessionPurger{purged: 2}
	runner := NewMaintenanceRunner(&stubNonceLedger{}, purger, nil)

	delivery := &stubCoreDelivery{msg: SessionPurgeMessage(time.Now())}
	runner.Handle(context.Background(), delivery)

	if !delivery.acked {
		t.Fatalf("expected ack after successful purge")
	}
	if purger.calls != 1 {
		t.Fatalf("expected one purge call, got %d", purger.calls)
	}
}

func TestMaintenanceRunner_UnknownJobNacked(t *testing.T) {
	runner := NewMaintenanceRunner(&stubNonceLedger{}, &stubSessionPurger{}, nil)

	delivery := &stubCoreDelivery{msg: &core.JobExecutionMessage{JobID: "oauthprovider.unknown"}}
	runner.Handle(context.Background(), delivery)

	if delivery.acked {
		t.Fatalf("expected no ack for unknown job")
	}
	if !delivery.nacked || delivery.nackOpts.Reason == "" {
		t.Fatalf("expected nack with a reason, got %+v", delivery.nackOpts)
	}
}

func TestMaintenanceRunner_MissingCutoffNacked(t *testing.T) {
	ledger := &stubNonceLedger{}
	runner := NewMaintenanceRunner(ledger, &stubSessionPurger{}, nil)

	delivery := &stubCoreDelivery{msg: &core.JobExecutionMessage{
		JobID:      JobIDNoncePurge,
		Parameters: map[string]any{},
	}}
	runner.Handle(context.Background(), delivery)

	if delivery.acked || !delivery.nacked {
		t.Fatalf("expected nack when the cutoff parameter is missing")
	}
	if !ledger.cutoff.IsZero() {
		t.Fatalf("expected no purge without a cutoff")
	}
}

func TestMaintenanceRunner_RunStopsOnCanceledContext(t *testing.T) {
	purger := &stubSessionPurger{}
	runner := NewMaintenanceRunner(&stubNonceLedger{}, purger, nil)

	delivery := &stubCoreDelivery{msg: SessionPurgeMessage(time.Now())}
	dequeuer := &stubCoreDequeuer{deliveries: []core.JobDelivery{delivery}}

	if err := runner.Run(context.Background(), dequeuer); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected delivery handled before shutdown")
	}
	if purger.calls != 1 {
		t.Fatalf("expected one purge call, got %d", purger.calls)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}

type stubNonceLedger struct {
	cutoff time.Time
	purged int
}

func (s *stubNonceLedger) Claim(context.Context, string) (bool, error) {
	return true, nil
}

func (s *stubNonceLedger) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.cutoff = cutoff
	return s.purged, nil
}

type stubSessionPurger struct {
	calls  int
	purged int
}

func (s *stubSessionPurger) PurgeExpired(context.Context) (int, error) {
	s.calls++
	return s.purged, nil
}

type stubCoreDelivery struct {
	msg      *core.JobExecutionMessage
	acked    bool
	nacked   bool
	nackOpts core.JobNackOptions
}

func (d *stubCoreDelivery) Message() *core.JobExecutionMessage {
	return d.msg
}

func (d *stubCoreDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *stubCoreDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacked = true
	d.nackOpts = opts
	return nil
}

type stubCoreDequeuer struct {
	deliveries []core.JobDelivery
}

func (s *stubCoreDequeuer) Dequeue(context.Context) (core.JobDelivery, error) {
	if len(s.deliveries) == 0 {
		return nil, context.Canceled
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}
