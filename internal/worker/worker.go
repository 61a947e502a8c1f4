package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/registry"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

// Default configuration values.
const (
	defaultConcurrency = 4
	defaultLease       = 60 * time.Second
	defaultIdleSleep   = 500 * time.Millisecond
	defaultTimeout     = 30 * time.Second
)

// CompletionPublisher публикует отчёты о завершении задач.
// Реализуется mq.Publisher.
type CompletionPublisher interface {
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
}

// Pool — пул воркеров, разбирающих очередь задач.
type Pool struct {
	queue     *queue.Queue
	registry  *registry.Registry
	publisher CompletionPublisher

	// Configuration
	concurrency    int
	lease          time.Duration
	idleSleep      time.Duration
	defaultTimeout time.Duration
	workerID       string

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Pool.
type Config struct {
	// Queue — очередь задач.
	Queue *queue.Queue

	// Registry — реестр capabilities.
	Registry *registry.Registry

	// Publisher — публикация отчётов в tasks.completed.
	Publisher CompletionPublisher

	// Concurrency — количество горутин-воркеров (default: 4).
	Concurrency int

	// Lease — длительность lease при dequeue (default: 60s).
	Lease time.Duration

	// IdleSleep — пауза при пустой очереди (default: 500ms).
	IdleSleep time.Duration

	// DefaultTimeout — таймаут вызова capability, когда шаг
	// не задаёт свой (default: 30s).
	DefaultTimeout time.Duration

	// WorkerID — идентификатор экземпляра для логов и аудита.
	WorkerID string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Pool.
func New(cfg Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	lease := cfg.Lease
	if lease <= 0 {
		lease = defaultLease
	}

	idleSleep := cfg.IdleSleep
	if idleSleep <= 0 {
		idleSleep = defaultIdleSleep
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		queue:          cfg.Queue,
		registry:       cfg.Registry,
		publisher:      cfg.Publisher,
		concurrency:    concurrency,
		lease:          lease,
		idleSleep:      idleSleep,
		defaultTimeout: timeout,
		workerID:       workerID,
		logger:         logger.With("component", "worker", "worker_id", workerID),
	}
}

// Start запускает горутины пула.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	p.logger.Info("starting worker pool",
		"concurrency", p.concurrency,
		"lease", p.lease,
		"capabilities", p.registry.Names(),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.run(ctx, n)
		}(i)
	}

	return nil
}

// Stop останавливает пул и дожидается завершения текущих задач.
func (p *Pool) Stop() {
	p.stoppedMu.Lock()
	p.stopped = true
	p.stoppedMu.Unlock()

	p.logger.Info("stopping worker pool...")

	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	p.wg.Wait()

	p.logger.Info("worker pool stopped")
}

// IsStopped проверяет, остановлен ли пул.
func (p *Pool) IsStopped() bool {
	p.stoppedMu.RLock()
	defer p.stoppedMu.RUnlock()
	return p.stopped
}

// run — цикл одной горутины-воркера.
func (p *Pool) run(ctx context.Context, n int) {
	logger := p.logger.With("goroutine", n)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.Dequeue(ctx, p.lease)
		if err != nil {
			if errors.Is(err, queue.ErrNoTask) {
				p.sleep(ctx, p.idleSleep)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("dequeue failed", "error", err)
			p.sleep(ctx, p.idleSleep)
			continue
		}

		p.processTask(ctx, task)
	}
}

// sleep ждёт d или отмену контекста.
func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processTask выполняет одну задачу и отчитывается о результате.
func (p *Pool) processTask(ctx context.Context, task *domain.Task) {
	logger := telemetry.WithTaskID(p.logger, task.ID.String())
	logger = telemetry.WithCaseID(logger, task.CaseID.String())

	logger.Info("task started",
		"step_id", task.StepID,
		"capability", task.Capability,
		"attempt", task.Attempt,
		"max_attempts", task.MaxAttempts,
	)

	start := time.Now()
	outputs, err := p.invoke(ctx, task)
	elapsed := time.Since(start)

	telemetry.TaskDuration.WithLabelValues(task.Capability).Observe(elapsed.Seconds())

	if err == nil {
		p.completeTask(ctx, task, outputs, logger, elapsed)
		return
	}

	if registry.IsPermanent(err) {
		p.buryTask(ctx, task, err, logger)
		return
	}

	p.retryTask(ctx, task, err, logger)
}

// invoke находит capability и вызывает её с таймаутом задачи.
func (p *Pool) invoke(ctx context.Context, task *domain.Task) (map[string]any, error) {
	capability, err := p.registry.Get(task.Capability)
	if err != nil {
		// Неизвестная capability — retry бессмысленен
		return nil, registry.Permanent(err)
	}

	timeout := p.defaultTimeout
	if task.TimeoutSec > 0 {
		timeout = time.Duration(task.TimeoutSec) * time.Second
	}

	req := &registry.Request{
		StepID:        task.StepID,
		Payload:       task.Payload,
		CorrelationID: task.CorrelationID,
		Timeout:       timeout,
	}

	result, err := capability.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Outputs, nil
}

// completeTask подтверждает успешную задачу и отчитывается оркестратору.
func (p *Pool) completeTask(ctx context.Context, task *domain.Task, outputs map[string]any, logger *slog.Logger, elapsed time.Duration) {
	if err := p.queue.Ack(ctx, task.ID); err != nil {
		// Lease могла истечь и задача уйти другому воркеру — отчёт
		// всё равно шлём, оркестратор отбросит дубликат
		logger.Warn("failed to ack task", "error", err)
	}

	telemetry.TasksProcessed.WithLabelValues(task.Capability, "succeeded").Inc()

	logger.Info("task succeeded",
		"step_id", task.StepID,
		"attempt", task.Attempt,
		"duration", elapsed,
	)

	p.publishCompletion(ctx, task, domain.StepStatusSucceeded, outputs, "")
}

// buryTask отправляет задачу с постоянной ошибкой в dead-letter.
func (p *Pool) buryTask(ctx context.Context, task *domain.Task, cause error, logger *slog.Logger) {
	if err := p.queue.Bury(ctx, task.ID, cause.Error()); err != nil {
		logger.Error("failed to bury task", "error", err)
	}

	telemetry.TasksProcessed.WithLabelValues(task.Capability, "failed").Inc()

	logger.Error("task failed permanently",
		"step_id", task.StepID,
		"attempt", task.Attempt,
		"error", cause,
	)

	p.publishCompletion(ctx, task, domain.StepStatusFailed, nil, cause.Error())
}

// retryTask возвращает задачу в очередь через nack.
// Если попытки исчерпаны, задача уходит в dead-letter и оркестратор
// получает финальный отчёт об ошибке.
func (p *Pool) retryTask(ctx context.Context, task *domain.Task, cause error, logger *slog.Logger) {
	dead, err := p.queue.Nack(ctx, task.ID, cause.Error())
	if err != nil {
		logger.Error("failed to nack task", "error", err)
		return
	}

	if !dead {
		telemetry.TasksProcessed.WithLabelValues(task.Capability, "retried").Inc()
		logger.Warn("task failed, will retry",
			"step_id", task.StepID,
			"attempt", task.Attempt,
			"max_attempts", task.MaxAttempts,
			"error", cause,
		)
		return
	}

	telemetry.TasksProcessed.WithLabelValues(task.Capability, "failed").Inc()

	logger.Error("task failed, retries exhausted",
		"step_id", task.StepID,
		"attempt", task.Attempt,
		"error", cause,
	)

	p.publishCompletion(ctx, task, domain.StepStatusFailed, nil, cause.Error())
}

// publishCompletion отправляет отчёт в tasks.completed.
func (p *Pool) publishCompletion(ctx context.Context, task *domain.Task, status domain.StepStatus, outputs map[string]any, errMsg string) {
	if p.publisher == nil {
		p.logger.Warn("publisher not available, skipping completion report",
			"task_id", task.ID,
		)
		return
	}

	payload := mq.TaskCompletedPayload{
		TaskID:     task.ID,
		InstanceID: task.InstanceID,
		CaseID:     task.CaseID,
		StepID:     task.StepID,
		Status:     string(status),
		Outputs:    outputs,
		Error:      errMsg,
		Attempt:    task.Attempt,
	}

	// Без pub-ctx: отчёт должен уйти и при остановке пула
	if err := p.publisher.PublishTaskCompleted(context.WithoutCancel(ctx), payload); err != nil {
		p.logger.Error("failed to publish completion report",
			"task_id", task.ID,
			"error", err,
		)
	}
}
