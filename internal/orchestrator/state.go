package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/engine"
)

// CaseState — состояние обработки одного кейса в памяти.
//
// CaseState создаётся когда Orchestrator начинает обработку кейса
// и удаляется когда кейс достигает терминального состояния.
//
// Содержит:
//   - Кэш данных из БД (Case, WorkflowDefinition, WorkflowInstance)
//   - Построенный DAG
//
// TaskID поставленных в очередь шагов живут в Instance.StepTasks
// и переживают рестарт вместе с экземпляром.
type CaseState struct {
	// Case — данные кейса из БД.
	Case *domain.Case

	// Definition — definition, по которому выполняется кейс.
	Definition *domain.WorkflowDefinition

	// Instance — экземпляр workflow со статусами шагов.
	Instance *domain.WorkflowInstance

	// DAG — граф зависимостей шагов.
	DAG *engine.DAG

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewCaseState создаёт новый CaseState.
func NewCaseState(c *domain.Case, def *domain.WorkflowDefinition) *CaseState {
	return &CaseState{
		Case:       c,
		Definition: def,
	}
}

// Initialize валидирует spec и строит DAG.
func (s *CaseState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := &s.Definition.Spec

	if err := engine.Validate(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	dag, err := engine.Build(spec)
	if err != nil {
		return fmt.Errorf("build DAG: %w", err)
	}
	s.DAG = dag

	return nil
}

// AttachInstance привязывает экземпляр workflow.
func (s *CaseState) AttachInstance(inst *domain.WorkflowInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instance = inst
}

// ReadySteps возвращает шаги, готовые к постановке в очередь.
func (s *CaseState) ReadySteps() []*engine.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.DAG.ReadySteps(s.Instance.StepStatuses)
}

// MarkStepQueued помечает шаг как поставленный в очередь.
func (s *CaseState) MarkStepQueued(stepID string, taskID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Instance.StepStatuses[stepID] = domain.StepStatusReady
	s.Instance.StepTasks[stepID] = taskID
}

// ApplyStepResult записывает результат выполнения шага.
//
// Возвращает false, если шаг уже в терминальном статусе — повторная
// доставка того же отчёта игнорируется (идемпотентность).
//
// Упавший required-шаг помечается FAILED, упавший optional — SKIPPED.
func (s *CaseState) ApplyStepResult(stepID string, succeeded bool, outputs map[string]any, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, known := s.Instance.StepStatuses[stepID]
	if !known || current.IsTerminal() {
		return false
	}

	delete(s.Instance.StepTasks, stepID)

	if succeeded {
		s.Instance.StepStatuses[stepID] = domain.StepStatusSucceeded
		if outputs != nil {
			s.Instance.StepOutputs[stepID] = outputs
		}
		return true
	}

	s.Instance.StepErrors[stepID] = errMsg

	step := s.Definition.Spec.FindStep(stepID)
	if step != nil && !step.Required() {
		s.Instance.StepStatuses[stepID] = domain.StepStatusSkipped
		return true
	}

	s.Instance.StepStatuses[stepID] = domain.StepStatusFailed

	// Каскад: всё, что транзитивно зависит от упавшего шага,
	// уже никогда не станет готовым — помечаем SKIPPED
	for _, node := range s.DAG.Downstream(stepID) {
		if !s.Instance.StepStatuses[node.ID].IsTerminal() {
			s.Instance.StepStatuses[node.ID] = domain.StepStatusSkipped
		}
	}

	return true
}

// SkipRemaining помечает все нетерминальные шаги SKIPPED (отмена кейса).
// Возвращает task ID шагов, которые были в очереди — их надо отозвать.
func (s *CaseState) SkipRemaining() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []uuid.UUID
	for stepID, status := range s.Instance.StepStatuses {
		if status.IsTerminal() {
			continue
		}
		if taskID, ok := s.Instance.StepTasks[stepID]; ok {
			queued = append(queued, taskID)
			delete(s.Instance.StepTasks, stepID)
		}
		s.Instance.StepStatuses[stepID] = domain.StepStatusSkipped
	}
	return queued
}

// QueuedTaskIDs возвращает task ID шагов, стоящих в очереди.
func (s *CaseState) QueuedTaskIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.Instance.StepTasks))
	for _, id := range s.Instance.StepTasks {
		ids = append(ids, id)
	}
	return ids
}

// HasFailed возвращает true, если упал required-шаг.
func (s *CaseState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, status := range s.Instance.StepStatuses {
		if status == domain.StepStatusFailed {
			return true
		}
	}
	return false
}

// FailedSteps возвращает ID упавших шагов.
func (s *CaseState) FailedSteps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []string
	for stepID, status := range s.Instance.StepStatuses {
		if status == domain.StepStatusFailed {
			steps = append(steps, stepID)
		}
	}
	return steps
}

// IsComplete возвращает true, когда все шаги терминальны.
func (s *CaseState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.Instance.AllStepsTerminal()
}

// StepOutputsFor собирает outputs зависимостей шага для payload задачи.
func (s *CaseState) StepOutputsFor(node *engine.Node) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deps := make(map[string]any, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		if out, ok := s.Instance.StepOutputs[dep.ID]; ok {
			deps[dep.ID] = out
		}
	}
	return deps
}

// CaseID возвращает ID кейса.
func (s *CaseState) CaseID() uuid.UUID {
	return s.Case.ID
}

// Stats возвращает статистику выполнения.
func (s *CaseState) Stats() CaseStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := CaseStats{TotalSteps: s.DAG.Size()}
	for _, status := range s.Instance.StepStatuses {
		switch status {
		case domain.StepStatusSucceeded:
			stats.SucceededSteps++
		case domain.StepStatusFailed:
			stats.FailedSteps++
		case domain.StepStatusSkipped:
			stats.SkippedSteps++
		case domain.StepStatusReady:
			stats.InFlightSteps++
		default:
			stats.PendingSteps++
		}
	}
	return stats
}

// CaseStats — статистика выполнения кейса.
type CaseStats struct {
	TotalSteps     int
	SucceededSteps int
	FailedSteps    int
	SkippedSteps   int
	InFlightSteps  int
	PendingSteps   int
}
