package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

// Stats — снимок состояния очереди.
type Stats struct {
	// Depth — количество задач по уровням приоритета.
	Depth map[domain.Priority]int64 `json:"depth"`

	// Leased — количество задач под lease.
	Leased int64 `json:"leased"`

	// Dead — количество задач в dead-letter.
	Dead int64 `json:"dead"`
}

// Total возвращает суммарную глубину очереди (без leased и dead).
func (s *Stats) Total() int64 {
	var total int64
	for _, n := range s.Depth {
		total += n
	}
	return total
}

// Stats возвращает снимок глубин очереди и обновляет gauge-метрики.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	cards := make(map[domain.Priority]*redis.IntCmd, len(domain.Priorities))
	for _, tier := range domain.Priorities {
		cards[tier] = pipe.ZCard(ctx, q.tierKey(tier))
	}
	leased := pipe.ZCard(ctx, q.leasedKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	stats := &Stats{
		Depth:  make(map[domain.Priority]int64, len(domain.Priorities)),
		Leased: leased.Val(),
		Dead:   dead.Val(),
	}
	for tier, card := range cards {
		stats.Depth[tier] = card.Val()
		telemetry.QueueDepth.WithLabelValues(string(tier)).Set(float64(card.Val()))
	}

	return stats, nil
}

// DeadLetters возвращает до limit задач из dead-letter (старые первыми).
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	raws, err := q.client.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead-letters: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(raws))
	for _, raw := range raws {
		var task domain.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, fmt.Errorf("unmarshal dead task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// ReplayDeadLetter возвращает задачу из dead-letter обратно в очередь
// со сброшенным счётчиком попыток.
func (q *Queue) ReplayDeadLetter(ctx context.Context, taskID uuid.UUID) error {
	raws, err := q.client.LRange(ctx, q.deadKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan dead-letters: %w", err)
	}

	for _, raw := range raws {
		var task domain.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		if task.ID != taskID {
			continue
		}

		if err := q.client.LRem(ctx, q.deadKey(), 1, raw).Err(); err != nil {
			return fmt.Errorf("remove dead task: %w", err)
		}

		task.Attempt = 0
		task.Error = ""
		task.VisibleAfter = task.EnqueuedAt
		return q.Enqueue(ctx, &task)
	}

	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}
