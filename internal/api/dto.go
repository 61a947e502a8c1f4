package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
)

// Case DTOs

// SubmitCaseRequest — запрос на создание кейса.
type SubmitCaseRequest struct {
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// CaseResponse — ответ с кейсом.
type CaseResponse struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      string         `json:"priority"`
	State         string         `json:"state"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Version       int            `json:"version"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// CaseFromDomain конвертирует domain.Case в CaseResponse.
func CaseFromDomain(c domain.Case) CaseResponse {
	return CaseResponse{
		ID:            c.ID,
		Type:          string(c.Type),
		Payload:       c.Payload,
		Priority:      string(c.Priority),
		State:         string(c.State),
		CorrelationID: c.CorrelationID,
		Version:       c.Version,
		Error:         c.Error,
		CreatedAt:     c.CreatedAt,
		FinishedAt:    c.FinishedAt,
	}
}

// SubmitCaseResponse — ответ на создание кейса.
type SubmitCaseResponse struct {
	CaseResponse
	InstanceID uuid.UUID `json:"instance_id"`
}

// CaseDetailResponse — кейс вместе с состоянием workflow.
type CaseDetailResponse struct {
	CaseResponse
	Workflow *InstanceResponse `json:"workflow,omitempty"`
}

// InstanceResponse — состояние workflow-экземпляра кейса.
type InstanceResponse struct {
	ID                uuid.UUID                 `json:"id"`
	DefinitionID      uuid.UUID                 `json:"definition_id"`
	DefinitionVersion int                       `json:"definition_version"`
	Status            string                    `json:"status"`
	StepStatuses      map[string]string         `json:"step_statuses"`
	StepOutputs       map[string]map[string]any `json:"step_outputs,omitempty"`
	StepErrors        map[string]string         `json:"step_errors,omitempty"`
	StartedAt         time.Time                 `json:"started_at"`
	CompletedAt       *time.Time                `json:"completed_at,omitempty"`
}

// InstanceFromDomain конвертирует domain.WorkflowInstance в InstanceResponse.
func InstanceFromDomain(inst *domain.WorkflowInstance) *InstanceResponse {
	statuses := make(map[string]string, len(inst.StepStatuses))
	for id, st := range inst.StepStatuses {
		statuses[id] = string(st)
	}
	return &InstanceResponse{
		ID:                inst.ID,
		DefinitionID:      inst.DefinitionID,
		DefinitionVersion: inst.DefinitionVersion,
		Status:            string(inst.Status),
		StepStatuses:      statuses,
		StepOutputs:       inst.StepOutputs,
		StepErrors:        inst.StepErrors,
		StartedAt:         inst.StartedAt,
		CompletedAt:       inst.CompletedAt,
	}
}

// TransitionResponse — запись аудита перехода состояния.
// HeldMs — сколько миллисекунд кейс провёл в состоянии From.
type TransitionResponse struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Trigger string    `json:"trigger"`
	Actor   string    `json:"actor"`
	At      time.Time `json:"at"`
	HeldMs  int64     `json:"held_ms"`
}

// TransitionFromDomain конвертирует domain.StateTransition.
func TransitionFromDomain(tr domain.StateTransition) TransitionResponse {
	return TransitionResponse{
		From:    string(tr.From),
		To:      string(tr.To),
		Trigger: tr.Trigger,
		Actor:   tr.Actor,
		At:      tr.At,
	}
}

// Definition DTOs

// RegisterDefinitionRequest — запрос на регистрацию definition.
type RegisterDefinitionRequest struct {
	CaseType string              `json:"case_type"`
	Spec     domain.WorkflowSpec `json:"spec"`
}

// DefinitionResponse — ответ с definition.
type DefinitionResponse struct {
	ID        uuid.UUID           `json:"id"`
	CaseType  string              `json:"case_type"`
	Version   int                 `json:"version"`
	Spec      domain.WorkflowSpec `json:"spec"`
	CreatedAt time.Time           `json:"created_at"`
}

// DefinitionFromDomain конвертирует domain.WorkflowDefinition.
func DefinitionFromDomain(def domain.WorkflowDefinition) DefinitionResponse {
	return DefinitionResponse{
		ID:        def.ID,
		CaseType:  string(def.CaseType),
		Version:   def.Version,
		Spec:      def.Spec,
		CreatedAt: def.CreatedAt,
	}
}

// Queue DTOs

// QueueStatsResponse — статистика очереди.
type QueueStatsResponse struct {
	Depth  map[string]int64 `json:"depth"`
	Leased int64            `json:"leased"`
	Dead   int64            `json:"dead"`
	Total  int64            `json:"total"`
}

// DeadLetterResponse — задача из dead-letter списка.
type DeadLetterResponse struct {
	TaskID     uuid.UUID `json:"task_id"`
	CaseID     uuid.UUID `json:"case_id"`
	StepID     string    `json:"step_id"`
	Capability string    `json:"capability"`
	Priority   string    `json:"priority"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetterFromDomain конвертирует domain.Task из dead-letter.
func DeadLetterFromDomain(t *domain.Task) DeadLetterResponse {
	return DeadLetterResponse{
		TaskID:     t.ID,
		CaseID:     t.CaseID,
		StepID:     t.StepID,
		Capability: t.Capability,
		Priority:   string(t.Priority),
		Attempt:    t.Attempt,
		Error:      t.Error,
		EnqueuedAt: t.EnqueuedAt,
	}
}
