package domain

// CaseState — состояние жизненного цикла кейса.
//
// Жизненный цикл:
//
//	PENDING → INVESTIGATING → VALIDATING → REMEDIATING → RESOLVED
//	   └──────────┴───────────────┴──────────────┴─────→ FAILED / CANCELLED
//
// Таблица допустимых переходов принадлежит statemachine — здесь
// только сами состояния.
type CaseState string

const (
	// CaseStatePending — кейс создан, ожидает начала обработки.
	CaseStatePending CaseState = "PENDING"

	// CaseStateInvestigating — идёт сбор контекста и признаков.
	CaseStateInvestigating CaseState = "INVESTIGATING"

	// CaseStateValidating — проверка против политик и правил.
	CaseStateValidating CaseState = "VALIDATING"

	// CaseStateRemediating — выполняются корректирующие действия.
	CaseStateRemediating CaseState = "REMEDIATING"

	// CaseStateResolved — кейс успешно закрыт (терминальное).
	CaseStateResolved CaseState = "RESOLVED"

	// CaseStateFailed — кейс не удалось закрыть (терминальное).
	CaseStateFailed CaseState = "FAILED"

	// CaseStateCancelled — кейс отменён оператором (терминальное).
	CaseStateCancelled CaseState = "CANCELLED"
)

// IsTerminal возвращает true, если состояние финальное.
func (s CaseState) IsTerminal() bool {
	switch s {
	case CaseStateResolved, CaseStateFailed, CaseStateCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — статус шага внутри WorkflowInstance.
//
// Жизненный цикл:
//
//	PENDING → READY → SUCCEEDED
//	                ↘ FAILED
//	PENDING/READY ──→ SKIPPED (отмена или optional-failure)
//
// Взятие задачи воркером экземпляр не видит (воркер отчитывается
// только о результате), поэтому между READY и терминальным статусом
// промежуточных состояний нет.
type StepStatus string

const (
	// StepStatusPending — шаг ждёт выполнения зависимостей.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusReady — все зависимости выполнены, задача поставлена в очередь.
	StepStatusReady StepStatus = "READY"

	// StepStatusSucceeded — шаг успешно завершён.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — шаг завершился ошибкой (после всех retry).
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг пропущен: кейс отменён, упала required-зависимость
	// или упал сам шаг, помеченный как optional.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус шага финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// InstanceStatus — статус WorkflowInstance целиком.
type InstanceStatus string

const (
	// InstanceStatusRunning — экземпляр выполняется.
	InstanceStatusRunning InstanceStatus = "RUNNING"

	// InstanceStatusSucceeded — все required-шаги успешны.
	InstanceStatusSucceeded InstanceStatus = "SUCCEEDED"

	// InstanceStatusFailed — упал required-шаг.
	InstanceStatusFailed InstanceStatus = "FAILED"

	// InstanceStatusCancelled — кейс отменён до завершения.
	InstanceStatusCancelled InstanceStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус экземпляра финальный.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusSucceeded, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус задачи в очереди.
//
// Жизненный цикл:
//
//	QUEUED → LEASED → (ack: задача удаляется из очереди)
//	       ↘ (nack) → QUEUED (retry с backoff)
//	                ↘ DEAD (retry исчерпаны)
type TaskStatus string

const (
	// TaskStatusQueued — задача в очереди, видима для dequeue.
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusLeased — задача взята воркером, невидима до истечения lease.
	TaskStatusLeased TaskStatus = "LEASED"

	// TaskStatusDead — задача исчерпала попытки и перемещена в dead-letter.
	TaskStatusDead TaskStatus = "DEAD"
)
