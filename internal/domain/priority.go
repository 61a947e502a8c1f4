package domain

// Priority — приоритет обработки кейса и его задач.
//
// Очередь строго упорядочена по приоритету: меньший Rank — раньше.
// Внутри одного уровня задачи упорядочены по времени готовности.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Priorities — все уровни в порядке убывания срочности.
// Порядок существенен: dequeue обходит уровни именно так.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Rank возвращает числовой ранг приоритета (1 — самый срочный).
// Неизвестный приоритет трактуется как normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// IsValid возвращает true для известного уровня приоритета.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Boost возвращает приоритет на один уровень срочнее.
// Используется aging-механизмом очереди против starvation.
func (p Priority) Boost() Priority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal:
		return PriorityHigh
	case PriorityHigh:
		return PriorityCritical
	default:
		return p
	}
}
