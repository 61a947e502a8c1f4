package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/registry"
)

// fakePublisher накапливает отчёты вместо публикации в RabbitMQ.
type fakePublisher struct {
	mu      sync.Mutex
	reports []mq.TaskCompletedPayload
}

func (f *fakePublisher) PublishTaskCompleted(_ context.Context, payload mq.TaskCompletedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, payload)
	return nil
}

func (f *fakePublisher) all() []mq.TaskCompletedPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mq.TaskCompletedPayload, len(f.reports))
	copy(out, f.reports)
	return out
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.New(client, queue.Config{KeyPrefix: "test"}, slog.Default())
}

func makeTask(capability string) *domain.Task {
	return &domain.Task{
		ID:          uuid.New(),
		InstanceID:  uuid.New(),
		CaseID:      uuid.New(),
		StepID:      "step1",
		Capability:  capability,
		Priority:    domain.PriorityNormal,
		MaxAttempts: 2,
		Retry:       domain.RetryPolicy{MaxAttempts: 2, BaseDelayMs: 1, MaxDelayMs: 5},
		Payload:     map[string]any{"signal": "spam"},
	}
}

func newTestPool(t *testing.T, q *queue.Queue, reg *registry.Registry, pub CompletionPublisher) *Pool {
	t.Helper()
	return New(Config{
		Queue:     q,
		Registry:  reg,
		Publisher: pub,
		Lease:     time.Minute,
	})
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{})

	if p.concurrency != defaultConcurrency {
		t.Errorf("expected default concurrency, got %d", p.concurrency)
	}
	if p.lease != defaultLease {
		t.Errorf("expected default lease, got %v", p.lease)
	}
	if p.defaultTimeout != defaultTimeout {
		t.Errorf("expected default timeout, got %v", p.defaultTimeout)
	}
	if p.workerID == "" {
		t.Error("worker id should be generated")
	}
}

func TestProcessTask_Success(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	pub := &fakePublisher{}

	reg := registry.NewRegistry()
	reg.Register(registry.NewFuncCapability("spam-classify", func(_ context.Context, req *registry.Request) (*registry.Result, error) {
		if req.Payload["signal"] != "spam" {
			t.Errorf("payload not passed to capability: %v", req.Payload)
		}
		return registry.NewResult(map[string]any{"verdict": "spam"}), nil
	}))

	task := makeTask("spam-classify")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := newTestPool(t, q, reg, pub)

	leased, err := q.Dequeue(ctx, time.Minute)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	p.processTask(ctx, leased)

	reports := pub.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].Status != string(domain.StepStatusSucceeded) {
		t.Errorf("expected SUCCEEDED, got %s", reports[0].Status)
	}
	if reports[0].Outputs["verdict"] != "spam" {
		t.Errorf("outputs not propagated: %v", reports[0].Outputs)
	}

	// Задача подтверждена, очередь пуста
	if _, err := q.Dequeue(ctx, time.Minute); !errors.Is(err, queue.ErrNoTask) {
		t.Errorf("queue should be empty, got %v", err)
	}
}

func TestProcessTask_TransientErrorRetries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	pub := &fakePublisher{}

	reg := registry.NewRegistry()
	reg.Register(registry.NewFuncCapability("flaky", func(_ context.Context, _ *registry.Request) (*registry.Result, error) {
		return nil, errors.New("upstream 503")
	}))

	task := makeTask("flaky")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := newTestPool(t, q, reg, pub)

	leased, err := q.Dequeue(ctx, time.Minute)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	p.processTask(ctx, leased)

	// Первая попытка из двух: retry, отчёта ещё нет
	if len(pub.all()) != 0 {
		t.Fatalf("no report expected while retries remain, got %v", pub.all())
	}

	// Ждём окончания backoff и забираем повтор
	time.Sleep(20 * time.Millisecond)
	leased, err = q.Dequeue(ctx, time.Minute)
	if err != nil {
		t.Fatalf("dequeue retry: %v", err)
	}
	if leased.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", leased.Attempt)
	}
	p.processTask(ctx, leased)

	reports := pub.all()
	if len(reports) != 1 {
		t.Fatalf("expected final failure report, got %d", len(reports))
	}
	if reports[0].Status != string(domain.StepStatusFailed) {
		t.Errorf("expected FAILED, got %s", reports[0].Status)
	}

	// Задача в dead-letter
	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-lettered task, got %d", len(dead))
	}
}

func TestProcessTask_PermanentErrorGoesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	pub := &fakePublisher{}

	reg := registry.NewRegistry()
	reg.Register(registry.NewFuncCapability("strict", func(_ context.Context, _ *registry.Request) (*registry.Result, error) {
		return nil, registry.Permanent(errors.New("payload rejected: 400"))
	}))

	task := makeTask("strict")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := newTestPool(t, q, reg, pub)

	leased, err := q.Dequeue(ctx, time.Minute)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	p.processTask(ctx, leased)

	// Постоянная ошибка: сразу dead-letter, без второй попытки
	reports := pub.all()
	if len(reports) != 1 || reports[0].Status != string(domain.StepStatusFailed) {
		t.Fatalf("expected immediate failure report, got %v", reports)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-lettered task, got %d", len(dead))
	}
	if dead[0].Attempt != 1 {
		t.Errorf("permanent failure should not consume retries, attempt=%d", dead[0].Attempt)
	}
}

func TestProcessTask_UnknownCapability(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	pub := &fakePublisher{}

	task := makeTask("nonexistent")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := newTestPool(t, q, registry.NewRegistry(), pub)

	leased, err := q.Dequeue(ctx, time.Minute)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	p.processTask(ctx, leased)

	reports := pub.all()
	if len(reports) != 1 || reports[0].Status != string(domain.StepStatusFailed) {
		t.Fatalf("expected failure report for unknown capability, got %v", reports)
	}
}

func TestPool_StartStop(t *testing.T) {
	q := newTestQueue(t)
	pub := &fakePublisher{}

	reg := registry.NewRegistry()
	done := make(chan struct{})
	var once sync.Once
	reg.Register(registry.NewFuncCapability("echo", func(_ context.Context, req *registry.Request) (*registry.Result, error) {
		once.Do(func() { close(done) })
		return registry.NewResult(req.Payload), nil
	}))

	task := makeTask("echo")
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := New(Config{
		Queue:       q,
		Registry:    reg,
		Publisher:   pub,
		Concurrency: 2,
		IdleSleep:   10 * time.Millisecond,
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not processed")
	}

	p.Stop()

	if !p.IsStopped() {
		t.Error("pool should report stopped")
	}
	if len(pub.all()) != 1 {
		t.Errorf("expected 1 report, got %d", len(pub.all()))
	}
}
