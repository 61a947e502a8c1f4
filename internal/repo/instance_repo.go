package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Tribunal/internal/domain"
)

// InstanceRepo — репозиторий для WorkflowInstance.
type InstanceRepo struct {
	pool *pgxpool.Pool
}

// NewInstanceRepo создаёт новый InstanceRepo.
func NewInstanceRepo(pool *pgxpool.Pool) *InstanceRepo {
	return &InstanceRepo{pool: pool}
}

// Create создаёт новый экземпляр workflow.
func (r *InstanceRepo) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	statusesJSON, tasksJSON, outputsJSON, errorsJSON, err := marshalInstanceState(inst)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances
		       (id, case_id, definition_id, definition_version, status,
		        step_statuses, step_tasks, step_outputs, step_errors, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		inst.ID,
		inst.CaseID,
		inst.DefinitionID,
		inst.DefinitionVersion,
		inst.Status,
		statusesJSON,
		tasksJSON,
		outputsJSON,
		errorsJSON,
		inst.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetByID возвращает экземпляр по ID.
func (r *InstanceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	query := instanceSelect + ` WHERE id = $1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// GetByCaseID возвращает экземпляр кейса (ровно один на кейс).
func (r *InstanceRepo) GetByCaseID(ctx context.Context, caseID uuid.UUID) (*domain.WorkflowInstance, error) {
	query := instanceSelect + ` WHERE case_id = $1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, caseID))
}

// Update перезаписывает изменяемые поля экземпляра.
// Вызывается только под локом кейса, поэтому без version-guard.
func (r *InstanceRepo) Update(ctx context.Context, inst *domain.WorkflowInstance) error {
	statusesJSON, tasksJSON, outputsJSON, errorsJSON, err := marshalInstanceState(inst)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instances
		SET status = $2, step_statuses = $3, step_tasks = $4,
		    step_outputs = $5, step_errors = $6, completed_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		inst.ID,
		inst.Status,
		statusesJSON,
		tasksJSON,
		outputsJSON,
		errorsJSON,
		inst.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRunning возвращает незавершённые экземпляры.
// Используется при рестарте оркестратора.
func (r *InstanceRepo) ListRunning(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	query := instanceSelect + `
		WHERE status = 'RUNNING'
		ORDER BY started_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list running instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

const instanceSelect = `
	SELECT id, case_id, definition_id, definition_version, status,
	       step_statuses, step_tasks, step_outputs, step_errors, started_at, completed_at
	FROM workflow_instances
`

// marshalInstanceState сериализует JSONB-поля экземпляра.
func marshalInstanceState(inst *domain.WorkflowInstance) (statuses, tasks, outputs, errs []byte, err error) {
	statuses, err = json.Marshal(inst.StepStatuses)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal step statuses: %w", err)
	}
	tasks, err = json.Marshal(inst.StepTasks)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal step tasks: %w", err)
	}
	outputs, err = json.Marshal(inst.StepOutputs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal step outputs: %w", err)
	}
	errs, err = json.Marshal(inst.StepErrors)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal step errors: %w", err)
	}
	return statuses, tasks, outputs, errs, nil
}

// scanInstance сканирует одну строку в WorkflowInstance.
func (r *InstanceRepo) scanInstance(row pgx.Row) (*domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	var statusesJSON, tasksJSON, outputsJSON, errorsJSON []byte

	err := row.Scan(
		&inst.ID,
		&inst.CaseID,
		&inst.DefinitionID,
		&inst.DefinitionVersion,
		&inst.Status,
		&statusesJSON,
		&tasksJSON,
		&outputsJSON,
		&errorsJSON,
		&inst.StartedAt,
		&inst.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if err := json.Unmarshal(statusesJSON, &inst.StepStatuses); err != nil {
		return nil, fmt.Errorf("unmarshal step statuses: %w", err)
	}
	if tasksJSON != nil {
		if err := json.Unmarshal(tasksJSON, &inst.StepTasks); err != nil {
			return nil, fmt.Errorf("unmarshal step tasks: %w", err)
		}
	}
	if inst.StepTasks == nil {
		inst.StepTasks = make(map[string]uuid.UUID)
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &inst.StepOutputs); err != nil {
			return nil, fmt.Errorf("unmarshal step outputs: %w", err)
		}
	}
	if errorsJSON != nil {
		if err := json.Unmarshal(errorsJSON, &inst.StepErrors); err != nil {
			return nil, fmt.Errorf("unmarshal step errors: %w", err)
		}
	}

	return &inst, nil
}
