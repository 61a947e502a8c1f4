package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

// Config — настройки очереди задач.
type Config struct {
	// RedisURL — адрес Redis (по умолчанию "redis://localhost:6379").
	RedisURL string

	// KeyPrefix — префикс всех ключей (по умолчанию "tribunal").
	KeyPrefix string

	// MaxDepth — предел суммарной глубины очереди. При достижении
	// Enqueue возвращает ErrQueueSaturated. По умолчанию 10000.
	MaxDepth int64

	// MaxTaskBytes — предел размера сериализованной задачи.
	// По умолчанию 256 KiB.
	MaxTaskBytes int

	// LeaseTTL — срок владения задачей после Dequeue.
	// По умолчанию 60 секунд.
	LeaseTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "tribunal"
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10000
	}
	if c.MaxTaskBytes <= 0 {
		c.MaxTaskBytes = 256 << 10
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 60 * time.Second
	}
}

// Queue — приоритетная очередь задач поверх Redis.
// Безопасна для конкурентного использования из многих горутин
// и процессов.
type Queue struct {
	client  *redis.Client
	cfg     Config
	logger  *slog.Logger
	dequeue *redis.Script
}

// New создаёт очередь поверх готового Redis-клиента.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "queue"),
		dequeue: redis.NewScript(dequeueScript),
	}
}

// Connect подключается к Redis по cfg.RedisURL и создаёт очередь.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Queue, error) {
	cfg.applyDefaults()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return New(client, cfg, logger), nil
}

// Close закрывает соединение с Redis.
func (q *Queue) Close() error {
	return q.client.Close()
}

// IsSaturated возвращает true, когда суммарная глубина очереди
// достигла MaxDepth. Используется API для backpressure при submit.
func (q *Queue) IsSaturated(ctx context.Context) (bool, error) {
	depth, err := q.totalDepth(ctx)
	if err != nil {
		return false, err
	}
	return depth >= q.cfg.MaxDepth, nil
}

// Ключи Redis.

func (q *Queue) tierKey(p domain.Priority) string {
	return fmt.Sprintf("%s:queue:%s", q.cfg.KeyPrefix, p)
}

func (q *Queue) leasedKey() string {
	return q.cfg.KeyPrefix + ":leased"
}

func (q *Queue) tasksKey() string {
	return q.cfg.KeyPrefix + ":tasks"
}

func (q *Queue) deadKey() string {
	return q.cfg.KeyPrefix + ":queue:dead"
}

// Enqueue ставит задачу в очередь своего уровня приоритета.
//
// Возвращает ErrQueueSaturated при достижении предела глубины
// и ErrTaskTooLarge при превышении предела размера.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if !task.Priority.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidPriority, task.Priority)
	}

	now := time.Now().UTC()
	task.SchemaVersion = domain.TaskSchemaVersion
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = now
	}
	if task.VisibleAfter.IsZero() {
		task.VisibleAfter = task.EnqueuedAt
	}
	task.Status = domain.TaskStatusQueued

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if len(data) > q.cfg.MaxTaskBytes {
		return fmt.Errorf("%w: %d bytes", ErrTaskTooLarge, len(data))
	}

	depth, err := q.totalDepth(ctx)
	if err != nil {
		return err
	}
	if depth >= q.cfg.MaxDepth {
		return fmt.Errorf("%w: depth %d", ErrQueueSaturated, depth)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.tasksKey(), task.ID.String(), data)
	pipe.ZAdd(ctx, q.tierKey(task.Priority), redis.Z{
		Score:  float64(task.VisibleAfter.UnixMilli()),
		Member: task.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	telemetry.TasksEnqueued.WithLabelValues(string(task.Priority)).Inc()

	q.logger.Debug("task enqueued",
		"task_id", task.ID,
		"step_id", task.StepID,
		"priority", task.Priority,
		"attempt", task.Attempt,
	)
	return nil
}

// Dequeue атомарно забирает самую срочную видимую задачу под lease.
//
// Уровни приоритета обходятся строго по убыванию срочности: задача
// с уровня low выдаётся только когда выше ничего нет. Возвращает
// ErrNoTask, если видимых задач нет ни на одном уровне.
func (q *Queue) Dequeue(ctx context.Context, lease time.Duration) (*domain.Task, error) {
	if lease <= 0 {
		lease = q.cfg.LeaseTTL
	}

	now := time.Now().UTC()
	deadline := now.Add(lease)

	for _, tier := range domain.Priorities {
		keys := []string{q.tierKey(tier), q.leasedKey(), q.tasksKey()}
		res, err := q.dequeue.Run(ctx, q.client, keys,
			now.UnixMilli(), deadline.UnixMilli()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue from %s: %w", tier, err)
		}

		raw, ok := res.(string)
		if !ok {
			continue
		}

		var task domain.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}

		// Попытка считается начатой в момент выдачи
		task.Attempt++
		task.Status = domain.TaskStatusLeased
		if err := q.storeTask(ctx, &task); err != nil {
			return nil, err
		}

		q.logger.Debug("task leased",
			"task_id", task.ID,
			"priority", tier,
			"attempt", task.Attempt,
			"lease_until", deadline,
		)
		return &task, nil
	}

	return nil, ErrNoTask
}

// Ack подтверждает успешную обработку: задача удаляется насовсем.
func (q *Queue) Ack(ctx context.Context, taskID uuid.UUID) error {
	id := taskID.String()

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.leasedKey(), id)
	for _, tier := range domain.Priorities {
		pipe.ZRem(ctx, q.tierKey(tier), id)
	}
	del := pipe.HDel(ctx, q.tasksKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}

	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// Nack сообщает о неудачной попытке.
//
// Если попытки остались — задача возвращается в очередь с exponential
// backoff. Иначе перемещается в dead-letter. Возвращает true, если
// задача ушла в dead-letter.
func (q *Queue) Nack(ctx context.Context, taskID uuid.UUID, reason string) (bool, error) {
	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	task.Error = reason

	if !task.CanRetry() {
		if err := q.moveToDead(ctx, task); err != nil {
			return false, err
		}
		return true, nil
	}

	delay := calculateBackoff(task.Attempt, task.Retry)
	task.Status = domain.TaskStatusQueued
	task.VisibleAfter = time.Now().UTC().Add(delay)

	data, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.leasedKey(), task.ID.String())
	pipe.ZAdd(ctx, q.tierKey(task.Priority), redis.Z{
		Score:  float64(task.VisibleAfter.UnixMilli()),
		Member: task.ID.String(),
	})
	pipe.HSet(ctx, q.tasksKey(), task.ID.String(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("requeue task: %w", err)
	}

	q.logger.Info("task requeued after failure",
		"task_id", task.ID,
		"attempt", task.Attempt,
		"max_attempts", task.MaxAttempts,
		"delay", delay,
		"error", reason,
	)
	return false, nil
}

// Bury перемещает задачу сразу в dead-letter, минуя retry.
// Используется для постоянных ошибок, которые повтор не исправит
// (неизвестная capability, ответ 4xx, невалидный payload).
func (q *Queue) Bury(ctx context.Context, taskID uuid.UUID, reason string) error {
	task, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Error = reason
	return q.moveToDead(ctx, task)
}

// Remove удаляет задачу из очереди без обработки (отмена кейса).
// Задачу под lease Remove не трогает — воркер её дообработает,
// а результат отбросит оркестратор.
func (q *Queue) Remove(ctx context.Context, taskID uuid.UUID) error {
	id := taskID.String()

	leased, err := q.client.ZScore(ctx, q.leasedKey(), id).Result()
	if err == nil && leased > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check lease: %w", err)
	}

	pipe := q.client.TxPipeline()
	for _, tier := range domain.Priorities {
		pipe.ZRem(ctx, q.tierKey(tier), id)
	}
	pipe.HDel(ctx, q.tasksKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	return nil
}

// ReapExpired возвращает задачи протухших lease обратно в очередь.
//
// Попытка уже была посчитана при Dequeue, поэтому задача с исчерпанными
// попытками уходит в dead-letter. Возвращает количество обработанных
// lease.
func (q *Queue) ReapExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	ids, err := q.client.ZRangeByScore(ctx, q.leasedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired leases: %w", err)
	}

	reaped := 0
	for _, id := range ids {
		taskID, err := uuid.Parse(id)
		if err != nil {
			q.client.ZRem(ctx, q.leasedKey(), id)
			continue
		}

		task, err := q.loadTask(ctx, taskID)
		if errors.Is(err, ErrTaskNotFound) {
			// Хвост от ack-гонки, просто чистим
			q.client.ZRem(ctx, q.leasedKey(), id)
			continue
		}
		if err != nil {
			return reaped, err
		}

		task.Error = "lease expired"

		if !task.CanRetry() {
			if err := q.moveToDead(ctx, task); err != nil {
				return reaped, err
			}
			reaped++
			continue
		}

		// Немедленный возврат в очередь: воркер упал, ждать нечего
		task.Status = domain.TaskStatusQueued
		task.VisibleAfter = now

		data, err := json.Marshal(task)
		if err != nil {
			return reaped, fmt.Errorf("marshal task: %w", err)
		}

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.leasedKey(), id)
		pipe.ZAdd(ctx, q.tierKey(task.Priority), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		})
		pipe.HSet(ctx, q.tasksKey(), id, data)
		if _, err := pipe.Exec(ctx); err != nil {
			return reaped, fmt.Errorf("requeue expired lease: %w", err)
		}

		telemetry.LeasesReaped.Inc()
		reaped++

		q.logger.Warn("lease expired, task requeued",
			"task_id", task.ID,
			"attempt", task.Attempt,
		)
	}

	return reaped, nil
}

// PromoteAged поднимает на уровень выше видимые задачи, ждущие
// дольше olderThan. Защита от starvation низких приоритетов под
// постоянным потоком срочных задач. Critical не поднимается.
func (q *Queue) PromoteAged(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	promoted := 0

	for _, tier := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		ids, err := q.client.ZRangeByScore(ctx, q.tierKey(tier), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%d", now.UnixMilli()),
			Count: 100,
		}).Result()
		if err != nil {
			return promoted, fmt.Errorf("scan tier %s: %w", tier, err)
		}

		for _, id := range ids {
			taskID, err := uuid.Parse(id)
			if err != nil {
				continue
			}
			task, err := q.loadTask(ctx, taskID)
			if errors.Is(err, ErrTaskNotFound) {
				q.client.ZRem(ctx, q.tierKey(tier), id)
				continue
			}
			if err != nil {
				return promoted, err
			}

			if now.Sub(task.EnqueuedAt) < olderThan {
				continue
			}

			task.Priority = tier.Boost()

			data, err := json.Marshal(task)
			if err != nil {
				return promoted, fmt.Errorf("marshal task: %w", err)
			}

			pipe := q.client.TxPipeline()
			pipe.ZRem(ctx, q.tierKey(tier), id)
			pipe.ZAdd(ctx, q.tierKey(task.Priority), redis.Z{
				Score:  float64(task.VisibleAfter.UnixMilli()),
				Member: id,
			})
			pipe.HSet(ctx, q.tasksKey(), id, data)
			if _, err := pipe.Exec(ctx); err != nil {
				return promoted, fmt.Errorf("promote task: %w", err)
			}

			promoted++
			q.logger.Info("aged task promoted",
				"task_id", task.ID,
				"from", tier,
				"to", task.Priority,
				"waited", now.Sub(task.EnqueuedAt),
			)
		}
	}

	return promoted, nil
}

// loadTask читает задачу из hash по ID.
func (q *Queue) loadTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	raw, err := q.client.HGet(ctx, q.tasksKey(), taskID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// storeTask перезаписывает задачу в hash.
func (q *Queue) storeTask(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.HSet(ctx, q.tasksKey(), task.ID.String(), data).Err(); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	return nil
}

// moveToDead перемещает задачу в dead-letter.
func (q *Queue) moveToDead(ctx context.Context, task *domain.Task) error {
	task.Status = domain.TaskStatusDead

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.leasedKey(), task.ID.String())
	pipe.HDel(ctx, q.tasksKey(), task.ID.String())
	pipe.RPush(ctx, q.deadKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter task: %w", err)
	}

	telemetry.TasksDeadLettered.WithLabelValues(task.Capability).Inc()

	q.logger.Error("task moved to dead-letter",
		"task_id", task.ID,
		"step_id", task.StepID,
		"attempts", task.Attempt,
		"error", task.Error,
	)
	return nil
}

// totalDepth возвращает суммарную глубину всех уровней.
func (q *Queue) totalDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cards := make([]*redis.IntCmd, 0, len(domain.Priorities))
	for _, tier := range domain.Priorities {
		cards = append(cards, pipe.ZCard(ctx, q.tierKey(tier)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}

	var total int64
	for _, card := range cards {
		total += card.Val()
	}
	return total, nil
}
