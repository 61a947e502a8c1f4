package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/engine"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/repo"
	"github.com/shaiso/Tribunal/internal/statemachine"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

// handleCasePending обрабатывает сообщение о новом кейсе из cases.pending.
func (o *Orchestrator) handleCasePending(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CasePendingPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("failed to parse case pending payload: %w", err)
	}

	o.logger.Info("received pending case", "case_id", payload.CaseID)

	if err := o.adoptCase(ctx, payload.CaseID); err != nil {
		return fmt.Errorf("failed to process case %s: %w", payload.CaseID, err)
	}

	return nil
}

// handleTaskCompleted обрабатывает отчёт воркера из tasks.completed.
func (o *Orchestrator) handleTaskCompleted(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("failed to parse task completed payload: %w", err)
	}

	o.logger.Info("received task result",
		"task_id", payload.TaskID,
		"case_id", payload.CaseID,
		"step_id", payload.StepID,
		"status", payload.Status,
	)

	if err := o.processTaskCompleted(ctx, &payload); err != nil {
		return fmt.Errorf("failed to process task result %s: %w", payload.TaskID, err)
	}

	return nil
}

// adoptCase берёт кейс в обработку под распределённым локом.
//
// Для PENDING-кейса запускает workflow с нуля; для незавершённого
// кейса, потерянного при рестарте, восстанавливает состояние из БД
// и продолжает с места остановки.
func (o *Orchestrator) adoptCase(ctx context.Context, caseID uuid.UUID) error {
	lk, err := o.locker.Acquire(ctx, caseID, o.lockWait)
	if err != nil {
		// Кейс обрабатывает другой инстанс оркестратора
		o.logger.Debug("case is locked by another instance", "case_id", caseID)
		return nil
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("failed to release case lock", "case_id", caseID, "error", err)
		}
	}()

	c, err := o.caseRepo.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("pending case not found", "case_id", caseID)
			return nil
		}
		return fmt.Errorf("failed to load case: %w", err)
	}

	if c.IsFinished() {
		return nil
	}

	if c.State == domain.CaseStatePending {
		return o.startCase(ctx, c)
	}

	// Кейс уже в работе: если состояния нет в памяти — восстанавливаем
	if o.isCaseActive(caseID) {
		return nil
	}

	state, err := o.restoreCaseState(ctx, c)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	o.logger.Info("restored in-flight case",
		"case_id", caseID,
		"case_state", c.State,
	)

	return o.continueCase(ctx, state)
}

// startCase запускает workflow для PENDING-кейса.
func (o *Orchestrator) startCase(ctx context.Context, c *domain.Case) error {
	logger := telemetry.WithCorrelationID(
		telemetry.WithCaseID(o.logger, c.ID.String()), c.CorrelationID)

	// API создаёт экземпляр при приёме кейса; его definition-версия
	// фиксирует исполняемый workflow. Кейсы без экземпляра (создан
	// напрямую в БД, сбой API после записи кейса) получают свежую версию.
	inst, err := o.instRepo.GetByCaseID(ctx, c.ID)
	var def *domain.WorkflowDefinition
	switch {
	case err == nil:
		def, err = o.defRepo.GetVersion(ctx, c.Type, inst.DefinitionVersion)
		if err != nil {
			return fmt.Errorf("failed to load definition version %d: %w", inst.DefinitionVersion, err)
		}
	case errors.Is(err, repo.ErrNotFound):
		def, err = o.defRepo.GetLatest(ctx, c.Type)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Без definition кейс обработать невозможно
				logger.Error("no workflow definition for case type", "case_type", c.Type)
				_, terr := o.machine.Transition(ctx, c.ID, domain.CaseStateCancelled,
					"definition.missing", "system",
					fmt.Sprintf("no workflow definition registered for case type %q", c.Type))
				return terr
			}
			return fmt.Errorf("failed to load definition: %w", err)
		}
		inst = nil
	default:
		return fmt.Errorf("failed to load instance: %w", err)
	}

	state := NewCaseState(c, def)
	if err := state.Initialize(); err != nil {
		logger.Error("definition is not executable", "definition_id", def.ID, "error", err)
		_, terr := o.machine.Transition(ctx, c.ID, domain.CaseStateCancelled,
			"definition.invalid", "system", err.Error())
		return terr
	}

	if inst == nil {
		inst = domain.NewWorkflowInstance(c.ID, def)
		if err := o.instRepo.Create(ctx, inst); err != nil {
			return fmt.Errorf("failed to create workflow instance: %w", err)
		}
	}
	state.AttachInstance(inst)

	if err := o.addActiveCase(state); err != nil {
		return err
	}

	updated, err := o.machine.Transition(ctx, c.ID, domain.CaseStateInvestigating,
		"workflow.started", "system", "")
	if err != nil {
		o.removeActiveCase(c.ID)
		return fmt.Errorf("failed to start case: %w", err)
	}
	state.Case = updated

	logger.Info("case started",
		"definition_id", def.ID,
		"definition_version", def.Version,
		"steps", state.DAG.Size(),
	)

	return o.continueCase(ctx, state)
}

// restoreCaseState восстанавливает CaseState из БД после рестарта.
//
// Возвращает (nil, nil), если восстановление невозможно и кейс
// закрыт как FAILED.
func (o *Orchestrator) restoreCaseState(ctx context.Context, c *domain.Case) (*CaseState, error) {
	inst, err := o.instRepo.GetByCaseID(ctx, c.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// INVESTIGATING без экземпляра — неконсистентность, закрываем кейс
			o.logger.Error("in-flight case has no workflow instance", "case_id", c.ID)
			_, terr := o.machine.Transition(ctx, c.ID, domain.CaseStateFailed,
				"instance.missing", "system", "workflow instance not found")
			return nil, terr
		}
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	if inst.IsFinished() {
		return nil, nil
	}

	// Кейс выполняется по той версии definition, с которой стартовал
	def, err := o.defRepo.GetVersion(ctx, c.Type, inst.DefinitionVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition version %d: %w", inst.DefinitionVersion, err)
	}

	state := NewCaseState(c, def)
	if err := state.Initialize(); err != nil {
		return nil, err
	}
	state.AttachInstance(inst)

	if err := o.addActiveCase(state); err != nil {
		if errors.Is(err, ErrCaseAlreadyActive) {
			return nil, nil
		}
		return nil, err
	}

	return state, nil
}

// processTaskCompleted применяет результат задачи к состоянию кейса.
//
// Выполняется под распределённым локом кейса: два отчёта по одному
// кейсу никогда не применяются параллельно. Кейс и экземпляр всегда
// перечитываются из БД под локом — кэш в activeCases мог устареть,
// пока кейс менял другой процесс (отмена через API-бинарь, вторая
// реплика оркестратора на tasks.completed).
func (o *Orchestrator) processTaskCompleted(ctx context.Context, p *mq.TaskCompletedPayload) error {
	lk, err := o.locker.Acquire(ctx, p.CaseID, o.lockWait)
	if err != nil {
		return fmt.Errorf("failed to lock case %s: %w", p.CaseID, err)
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("failed to release case lock", "case_id", p.CaseID, "error", err)
		}
	}()

	c, err := o.caseRepo.GetByID(ctx, p.CaseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("task result for unknown case", "case_id", p.CaseID, "task_id", p.TaskID)
			return nil
		}
		return err
	}
	if c.IsFinished() {
		// Поздний отчёт по завершённому кейсу — отбрасываем, не применяя
		o.logger.Info("task result for finished case discarded",
			"case_id", p.CaseID,
			"task_id", p.TaskID,
			"step_id", p.StepID,
			"case_state", c.State,
		)
		o.removeActiveCase(p.CaseID)
		return nil
	}

	state := o.getActiveCase(p.CaseID)
	if state != nil {
		inst, err := o.instRepo.GetByCaseID(ctx, p.CaseID)
		if err != nil {
			return fmt.Errorf("failed to load instance: %w", err)
		}
		if inst.IsFinished() {
			o.removeActiveCase(p.CaseID)
			return nil
		}
		state.Case = c
		state.AttachInstance(inst)
	} else {
		state, err = o.restoreCaseState(ctx, c)
		if err != nil {
			return err
		}
		if state == nil {
			return nil
		}
	}

	succeeded := p.Status == string(domain.StepStatusSucceeded)

	applied := state.ApplyStepResult(p.StepID, succeeded, p.Outputs, p.Error)
	if !applied {
		// Повторная доставка отчёта — шаг уже учтён
		o.logger.Debug("duplicate task result ignored",
			"case_id", p.CaseID,
			"step_id", p.StepID,
			"task_id", p.TaskID,
		)
		return nil
	}

	if err := o.instRepo.Update(ctx, state.Instance); err != nil {
		return fmt.Errorf("failed to persist instance: %w", err)
	}

	return o.continueCase(ctx, state)
}

// continueCase продвигает кейс: ставит в очередь готовые шаги
// и финализирует кейс, когда все шаги терминальны.
func (o *Orchestrator) continueCase(ctx context.Context, state *CaseState) error {
	if state.IsComplete() {
		return o.finalizeCase(ctx, state)
	}

	if err := o.dispatchReadySteps(ctx, state); err != nil {
		return err
	}

	// Каскадный skip мог сделать все шаги терминальными без единого dispatch
	if state.IsComplete() {
		return o.finalizeCase(ctx, state)
	}

	return nil
}

// dispatchReadySteps ставит в очередь все готовые шаги кейса.
func (o *Orchestrator) dispatchReadySteps(ctx context.Context, state *CaseState) error {
	ready := state.ReadySteps()
	if len(ready) == 0 {
		return nil
	}

	// Самая поздняя фаза среди готовых шагов двигает состояние кейса
	var target domain.CaseState
	for _, node := range ready {
		phaseState := node.Step.Phase.CaseState()
		if target == "" || len(statemachine.PathTo(target, phaseState)) > 0 {
			target = phaseState
		}
	}

	if target != "" && statemachine.PathTo(state.Case.State, target) != nil {
		updated, err := o.machine.AdvanceTo(ctx, state.Case.ID, target, "phase.entered", "system")
		if err != nil {
			return fmt.Errorf("failed to advance case phase: %w", err)
		}
		state.Case = updated
	}

	dispatched := 0
	for _, node := range ready {
		if err := o.dispatchStep(ctx, state, node); err != nil {
			if errors.Is(err, queue.ErrQueueSaturated) {
				// Шаг остаётся PENDING, следующий poll повторит попытку
				o.logger.Warn("task queue saturated, step deferred",
					"case_id", state.Case.ID,
					"step_id", node.ID,
				)
				continue
			}
			return err
		}
		dispatched++
	}

	if dispatched > 0 {
		if err := o.instRepo.Update(ctx, state.Instance); err != nil {
			return fmt.Errorf("failed to persist instance: %w", err)
		}
	}

	return nil
}

// dispatchStep ставит задачу одного шага в очередь.
func (o *Orchestrator) dispatchStep(ctx context.Context, state *CaseState, node *engine.Node) error {
	spec := &state.Definition.Spec

	// Payload задачи: входные данные кейса плюс outputs зависимостей
	payload := make(map[string]any, len(state.Case.Payload)+1)
	for k, v := range state.Case.Payload {
		payload[k] = v
	}
	if deps := state.StepOutputsFor(node); len(deps) > 0 {
		payload["deps"] = deps
	}

	retry := spec.RetryFor(node.Step)

	task := &domain.Task{
		ID:            uuid.New(),
		InstanceID:    state.Instance.ID,
		CaseID:        state.Case.ID,
		StepID:        node.ID,
		Capability:    node.Step.Capability,
		Priority:      state.Case.Priority,
		MaxAttempts:   retry.MaxAttempts,
		Retry:         *retry,
		TimeoutSec:    spec.TimeoutFor(node.Step),
		Payload:       payload,
		CorrelationID: state.Case.CorrelationID,
		EnqueuedAt:    time.Now(),
	}

	if err := o.queue.Enqueue(ctx, task); err != nil {
		return err
	}

	state.MarkStepQueued(node.ID, task.ID)

	o.logger.Info("step dispatched",
		"case_id", state.Case.ID,
		"step_id", node.ID,
		"task_id", task.ID,
		"capability", node.Step.Capability,
		"priority", task.Priority,
	)

	return nil
}

// finalizeCase завершает кейс: все шаги терминальны.
func (o *Orchestrator) finalizeCase(ctx context.Context, state *CaseState) error {
	caseID := state.Case.ID
	logger := telemetry.WithCaseID(o.logger, caseID.String())

	var final *domain.Case
	var err error

	if state.HasFailed() {
		state.Instance.MarkFailed()
		errMsg := fmt.Sprintf("steps failed: %s", strings.Join(state.FailedSteps(), ", "))
		final, err = o.machine.Transition(ctx, caseID, domain.CaseStateFailed,
			"step.failed", "system", errMsg)
	} else {
		state.Instance.MarkSucceeded()
		final, err = o.machine.AdvanceTo(ctx, caseID, domain.CaseStateResolved,
			"workflow.completed", "system")
	}
	if err != nil {
		return fmt.Errorf("failed to finalize case: %w", err)
	}
	state.Case = final

	if err := o.instRepo.Update(ctx, state.Instance); err != nil {
		return fmt.Errorf("failed to persist instance: %w", err)
	}

	// Отзываем задачи, которые ещё стоят в очереди (required-шаг упал,
	// пока его соседи ждали воркера)
	for _, taskID := range state.QueuedTaskIDs() {
		if err := o.queue.Remove(ctx, taskID); err != nil {
			logger.Warn("failed to remove queued task", "task_id", taskID, "error", err)
		}
	}

	o.removeActiveCase(caseID)

	logger.Info("case finalized",
		"case_state", final.State,
		"instance_status", state.Instance.Status,
		"duration", final.Duration(),
	)

	if o.notifier != nil {
		o.notifier.NotifyAsync(state.Definition.Spec.WebhookURL, final)
	}

	return nil
}
