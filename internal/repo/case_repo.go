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

// CaseRepo — репозиторий для работы с кейсами и историей переходов.
type CaseRepo struct {
	pool *pgxpool.Pool
}

// NewCaseRepo создаёт новый CaseRepo.
func NewCaseRepo(pool *pgxpool.Pool) *CaseRepo {
	return &CaseRepo{pool: pool}
}

// Create создаёт новый кейс.
func (r *CaseRepo) Create(ctx context.Context, c *domain.Case) error {
	payloadJSON, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO cases (id, type, payload, priority, state, correlation_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.Type,
		payloadJSON,
		c.Priority,
		c.State,
		nullString(c.CorrelationID),
		c.Version,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// GetByID возвращает кейс по ID.
func (r *CaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	query := `
		SELECT id, type, payload, priority, state, correlation_id, version,
		       error, created_at, finished_at
		FROM cases
		WHERE id = $1
	`
	return r.scanCase(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список кейсов с фильтрацией.
func (r *CaseRepo) List(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	query := `
		SELECT id, type, payload, priority, state, correlation_id, version,
		       error, created_at, finished_at
		FROM cases
		WHERE ($1::text IS NULL OR type = $1)
		  AND ($2::text IS NULL OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Type)),
		nullString(string(filter.State)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

// UpdateState записывает новое состояние кейса с проверкой версии.
//
// Обновление проходит только если version в БД равен expectedVersion;
// version при этом увеличивается на единицу. Несовпадение означает,
// что кейс успел измениться — возвращается ErrVersionConflict,
// вызывающий обязан перечитать кейс и повторить переход.
func (r *CaseRepo) UpdateState(ctx context.Context, c *domain.Case, expectedVersion int) error {
	query := `
		UPDATE cases
		SET state = $2, version = version + 1, error = $3, finished_at = $4
		WHERE id = $1 AND version = $5
	`
	result, err := r.pool.Exec(ctx, query,
		c.ID,
		c.State,
		nullString(c.Error),
		c.FinishedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update case state: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Либо кейса нет, либо версия устарела
		if _, err := r.GetByID(ctx, c.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: case %s version %d", ErrVersionConflict, c.ID, expectedVersion)
	}

	c.Version = expectedVersion + 1
	return nil
}

// AppendTransition добавляет запись аудита о переходе состояния.
// Записи append-only: никогда не изменяются и не удаляются.
func (r *CaseRepo) AppendTransition(ctx context.Context, caseID uuid.UUID, tr *domain.StateTransition) error {
	query := `
		INSERT INTO case_transitions (case_id, from_state, to_state, trigger, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		caseID,
		tr.From,
		tr.To,
		tr.Trigger,
		tr.Actor,
		tr.At,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions возвращает историю переходов кейса в порядке времени.
func (r *CaseRepo) ListTransitions(ctx context.Context, caseID uuid.UUID) ([]domain.StateTransition, error) {
	query := `
		SELECT from_state, to_state, trigger, actor, at
		FROM case_transitions
		WHERE case_id = $1
		ORDER BY at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []domain.StateTransition
	for rows.Next() {
		var tr domain.StateTransition
		if err := rows.Scan(&tr.From, &tr.To, &tr.Trigger, &tr.Actor, &tr.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// ListUnfinished возвращает кейсы вне терминальных состояний.
// Используется оркестратором при старте для восстановления работы.
func (r *CaseRepo) ListUnfinished(ctx context.Context, limit int) ([]domain.Case, error) {
	query := `
		SELECT id, type, payload, priority, state, correlation_id, version,
		       error, created_at, finished_at
		FROM cases
		WHERE state NOT IN ('RESOLVED', 'FAILED', 'CANCELLED')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished cases: %w", err)
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

// --- Helpers ---

// CaseFilter — параметры фильтрации кейсов.
type CaseFilter struct {
	Type   domain.CaseType
	State  domain.CaseState
	Limit  int
	Offset int
}

// scanCase сканирует одну строку в Case.
func (r *CaseRepo) scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	var payloadJSON []byte
	var correlationID *string
	var caseError *string

	err := row.Scan(
		&c.ID,
		&c.Type,
		&payloadJSON,
		&c.Priority,
		&c.State,
		&correlationID,
		&c.Version,
		&caseError,
		&c.CreatedAt,
		&c.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &c.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if correlationID != nil {
		c.CorrelationID = *correlationID
	}
	if caseError != nil {
		c.Error = *caseError
	}

	return &c, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
