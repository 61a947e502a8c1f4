package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/repo"
	"github.com/shaiso/Tribunal/internal/statemachine"
)

// CancelCase отменяет кейс по запросу оператора.
//
// Под локом кейса: переводит кейс в CANCELLED, помечает все
// нетерминальные шаги SKIPPED и отзывает их задачи из очереди.
// Задачи, уже взятые воркером, доработают — их поздние отчёты
// отбросит processTaskCompleted, увидев терминальный кейс.
func (o *Orchestrator) CancelCase(ctx context.Context, caseID uuid.UUID, actor string) error {
	lk, err := o.locker.Acquire(ctx, caseID, o.lockWait)
	if err != nil {
		return fmt.Errorf("failed to lock case %s: %w", caseID, err)
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("failed to release case lock", "case_id", caseID, "error", err)
		}
	}()

	c, err := o.caseRepo.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCaseNotFound
		}
		return err
	}

	if c.IsFinished() {
		return ErrCaseFinished
	}

	if actor == "" {
		actor = "operator"
	}

	final, err := o.machine.Transition(ctx, caseID, domain.CaseStateCancelled,
		"case.cancelled", actor, "")
	if err != nil {
		if errors.Is(err, statemachine.ErrCaseFinished) {
			return ErrCaseFinished
		}
		return fmt.Errorf("failed to cancel case: %w", err)
	}

	// Состояние собирается из БД, а не из кэша: отменять может процесс,
	// который не ставил задачи этого кейса, а кэш успел устареть
	state, err := o.restoreCancelledState(ctx, final)
	if err != nil {
		return err
	}

	if state != nil {
		for _, taskID := range state.SkipRemaining() {
			if err := o.queue.Remove(ctx, taskID); err != nil {
				o.logger.Warn("failed to remove queued task",
					"case_id", caseID,
					"task_id", taskID,
					"error", err,
				)
			}
		}

		state.Instance.MarkCancelled()
		if err := o.instRepo.Update(ctx, state.Instance); err != nil {
			return fmt.Errorf("failed to persist instance: %w", err)
		}

		if o.notifier != nil {
			o.notifier.NotifyAsync(state.Definition.Spec.WebhookURL, final)
		}
	}

	o.removeActiveCase(caseID)

	o.logger.Info("case cancelled", "case_id", caseID, "actor", actor)
	return nil
}

// restoreCancelledState собирает CaseState отменяемого кейса из БД.
// Instance.StepTasks из БД даёт task ID для отзыва даже когда задачи
// ставил другой процесс. Возвращает (nil, nil), когда у кейса ещё нет
// workflow-экземпляра.
func (o *Orchestrator) restoreCancelledState(ctx context.Context, c *domain.Case) (*CaseState, error) {
	inst, err := o.instRepo.GetByCaseID(ctx, c.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst.IsFinished() {
		return nil, nil
	}

	def, err := o.defRepo.GetVersion(ctx, c.Type, inst.DefinitionVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition version %d: %w", inst.DefinitionVersion, err)
	}

	state := NewCaseState(c, def)
	if err := state.Initialize(); err != nil {
		return nil, err
	}
	state.AttachInstance(inst)
	return state, nil
}
