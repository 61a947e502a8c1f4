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

// DefinitionRepo — репозиторий для версионированных WorkflowDefinition.
type DefinitionRepo struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepo создаёт новый DefinitionRepo.
func NewDefinitionRepo(pool *pgxpool.Pool) *DefinitionRepo {
	return &DefinitionRepo{pool: pool}
}

// Create регистрирует новую версию definition для типа кейса.
// Версия выдаётся автоматически: max(version)+1 в рамках типа.
func (r *DefinitionRepo) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	specJSON, err := json.Marshal(def.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, case_type, version, spec, created_at)
		VALUES ($1, $2,
		        (SELECT COALESCE(MAX(version), 0) + 1 FROM workflow_definitions WHERE case_type = $2),
		        $3, $4)
		RETURNING version
	`
	err = r.pool.QueryRow(ctx, query,
		def.ID,
		def.CaseType,
		specJSON,
		def.CreatedAt,
	).Scan(&def.Version)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

// GetByID возвращает definition по ID.
func (r *DefinitionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT id, case_type, version, spec, created_at
		FROM workflow_definitions
		WHERE id = $1
	`
	return r.scanDefinition(r.pool.QueryRow(ctx, query, id))
}

// GetLatest возвращает последнюю версию definition для типа кейса.
func (r *DefinitionRepo) GetLatest(ctx context.Context, caseType domain.CaseType) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT id, case_type, version, spec, created_at
		FROM workflow_definitions
		WHERE case_type = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanDefinition(r.pool.QueryRow(ctx, query, caseType))
}

// GetVersion возвращает конкретную версию definition для типа кейса.
func (r *DefinitionRepo) GetVersion(ctx context.Context, caseType domain.CaseType, version int) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT id, case_type, version, spec, created_at
		FROM workflow_definitions
		WHERE case_type = $1 AND version = $2
	`
	return r.scanDefinition(r.pool.QueryRow(ctx, query, caseType, version))
}

// List возвращает последние версии definitions всех типов.
func (r *DefinitionRepo) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	query := `
		SELECT DISTINCT ON (case_type) id, case_type, version, spec, created_at
		FROM workflow_definitions
		ORDER BY case_type, version DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.WorkflowDefinition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// scanDefinition сканирует одну строку в WorkflowDefinition.
func (r *DefinitionRepo) scanDefinition(row pgx.Row) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	var specJSON []byte

	err := row.Scan(
		&def.ID,
		&def.CaseType,
		&def.Version,
		&specJSON,
		&def.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan definition: %w", err)
	}

	if err := json.Unmarshal(specJSON, &def.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}

	return &def, nil
}
