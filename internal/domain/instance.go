package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowInstance — живая привязка WorkflowDefinition к одному кейсу.
//
// Создаётся оркестратором при submit (ровно один на кейс) и хранит
// статус каждого шага. Инвариант: шаг переходит в READY только когда
// все его depends_on в SUCCEEDED; экземпляр завершается, когда все
// шаги терминальны либо упал required-шаг.
type WorkflowInstance struct {
	// ID — уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// CaseID — кейс, к которому привязан экземпляр.
	CaseID uuid.UUID `json:"case_id"`

	// DefinitionID — definition, по которому выполняется экземпляр.
	DefinitionID uuid.UUID `json:"definition_id"`

	// DefinitionVersion — версия definition на момент submit.
	DefinitionVersion int `json:"definition_version"`

	// Status — статус экземпляра целиком.
	Status InstanceStatus `json:"status"`

	// StepStatuses — статус каждого шага (stepID → StepStatus).
	StepStatuses map[string]StepStatus `json:"step_statuses"`

	// StepTasks — task ID шагов, стоящих в очереди (stepID → taskID).
	// Запись появляется при постановке задачи и удаляется вместе с
	// результатом шага. Хранится в БД: отмена кейса отзывает задачи
	// и из другого процесса, не только из того, который их ставил.
	StepTasks map[string]uuid.UUID `json:"step_tasks,omitempty"`

	// StepOutputs — выходы успешно завершённых шагов (stepID → outputs).
	StepOutputs map[string]map[string]any `json:"step_outputs,omitempty"`

	// StepErrors — ошибки упавших шагов (stepID → текст).
	StepErrors map[string]string `json:"step_errors,omitempty"`

	// StartedAt — время создания экземпляра.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время достижения терминального статуса.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewWorkflowInstance создаёт экземпляр со всеми шагами в PENDING.
func NewWorkflowInstance(caseID uuid.UUID, def *WorkflowDefinition) *WorkflowInstance {
	statuses := make(map[string]StepStatus, len(def.Spec.Steps))
	for i := range def.Spec.Steps {
		statuses[def.Spec.Steps[i].ID] = StepStatusPending
	}
	return &WorkflowInstance{
		ID:                uuid.New(),
		CaseID:            caseID,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            InstanceStatusRunning,
		StepStatuses:      statuses,
		StepTasks:         make(map[string]uuid.UUID),
		StepOutputs:       make(map[string]map[string]any),
		StepErrors:        make(map[string]string),
		StartedAt:         time.Now(),
	}
}

// IsFinished возвращает true, если экземпляр в терминальном статусе.
func (w *WorkflowInstance) IsFinished() bool {
	return w.Status.IsTerminal()
}

// AllStepsTerminal возвращает true, когда каждый шаг в терминальном статусе.
func (w *WorkflowInstance) AllStepsTerminal() bool {
	for _, st := range w.StepStatuses {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}

// MarkSucceeded переводит экземпляр в SUCCEEDED.
func (w *WorkflowInstance) MarkSucceeded() {
	now := time.Now()
	w.Status = InstanceStatusSucceeded
	w.CompletedAt = &now
}

// MarkFailed переводит экземпляр в FAILED.
func (w *WorkflowInstance) MarkFailed() {
	now := time.Now()
	w.Status = InstanceStatusFailed
	w.CompletedAt = &now
}

// MarkCancelled переводит экземпляр в CANCELLED.
func (w *WorkflowInstance) MarkCancelled() {
	now := time.Now()
	w.Status = InstanceStatusCancelled
	w.CompletedAt = &now
}
