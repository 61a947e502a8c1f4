package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskSchemaVersion — версия формата Task в очереди.
// Увеличивается при несовместимых изменениях envelope.
const TaskSchemaVersion = 1

// Task — одна поставленная в очередь попытка выполнения шага.
//
// Task создаётся оркестратором когда шаг становится READY и живёт
// в очереди до ack (успех) или перемещения в dead-letter (исчерпаны
// попытки). TaskID используется для идемпотентной дедупликации:
// повторная доставка того же task_id после обработки — no-op.
type Task struct {
	// SchemaVersion — версия формата envelope.
	SchemaVersion int `json:"schema_version"`

	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"task_id"`

	// InstanceID — экземпляр workflow, которому принадлежит задача.
	InstanceID uuid.UUID `json:"instance_id"`

	// CaseID — кейс экземпляра (для локов и логирования).
	CaseID uuid.UUID `json:"case_id"`

	// StepID — шаг, который выполняет задача.
	StepID string `json:"step_id"`

	// Capability — имя capability для ServiceRegistry.
	Capability string `json:"capability"`

	// Priority — приоритет задачи (наследуется от кейса).
	Priority Priority `json:"priority"`

	// Attempt — номер текущей попытки (начиная с 1 после первого dequeue).
	Attempt int `json:"attempt"`

	// MaxAttempts — предел попыток из RetryPolicy шага.
	MaxAttempts int `json:"max_attempts"`

	// Retry — политика backoff для nack-requeue.
	Retry RetryPolicy `json:"retry"`

	// TimeoutSec — таймаут вызова capability. 0 — default воркера.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Payload — входные данные шага (payload кейса + outputs зависимостей).
	Payload map[string]any `json:"payload,omitempty"`

	// CorrelationID — сквозной идентификатор кейса.
	CorrelationID string `json:"correlation_id,omitempty"`

	// EnqueuedAt — время постановки в очередь.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// VisibleAfter — задача невидима для dequeue до этого момента
	// (используется для backoff-задержек).
	VisibleAfter time.Time `json:"visible_after,omitempty"`

	// Status — статус задачи в очереди.
	Status TaskStatus `json:"status"`

	// Error — последняя ошибка выполнения (заполняется при nack).
	Error string `json:"error,omitempty"`
}

// CanRetry возвращает true, если остались попытки.
func (t *Task) CanRetry() bool {
	max := t.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return t.Attempt < max
}
