package queue

import "errors"

// Ошибки очереди задач.
var (
	// ErrQueueSaturated — суммарная глубина очереди достигла предела.
	// Новые задачи отклоняются до разгрузки (backpressure).
	ErrQueueSaturated = errors.New("queue is saturated")

	// ErrTaskTooLarge — сериализованная задача превышает предел размера.
	ErrTaskTooLarge = errors.New("task payload too large")

	// ErrNoTask — нет видимых задач ни на одном уровне приоритета.
	ErrNoTask = errors.New("no task available")

	// ErrTaskNotFound — задача не найдена (уже ack-нута или удалена).
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidPriority — неизвестный уровень приоритета.
	ErrInvalidPriority = errors.New("invalid priority")
)
