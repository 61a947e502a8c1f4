package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/repo"
)

// CaseCanceller отменяет кейс. Реализуется orchestrator.Orchestrator.
type CaseCanceller interface {
	CancelCase(ctx context.Context, caseID uuid.UUID, actor string) error
}

// CaseStore — необходимый API срез репозитория кейсов.
// Реализуется repo.CaseRepo.
type CaseStore interface {
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error)
	List(ctx context.Context, filter repo.CaseFilter) ([]domain.Case, error)
	ListTransitions(ctx context.Context, caseID uuid.UUID) ([]domain.StateTransition, error)
}

// DefinitionStore — срез репозитория workflow definitions.
// Реализуется repo.DefinitionRepo.
type DefinitionStore interface {
	Create(ctx context.Context, def *domain.WorkflowDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)
	GetLatest(ctx context.Context, caseType domain.CaseType) (*domain.WorkflowDefinition, error)
	List(ctx context.Context) ([]domain.WorkflowDefinition, error)
}

// InstanceStore — срез репозитория workflow-экземпляров.
// Реализуется repo.InstanceRepo.
type InstanceStore interface {
	Create(ctx context.Context, inst *domain.WorkflowInstance) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)
	GetByCaseID(ctx context.Context, caseID uuid.UUID) (*domain.WorkflowInstance, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	caseRepo  CaseStore
	defRepo   DefinitionStore
	instRepo  InstanceStore
	queue     *queue.Queue
	publisher *mq.Publisher
	canceller CaseCanceller
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	CaseRepo  CaseStore
	DefRepo   DefinitionStore
	InstRepo  InstanceStore
	Queue     *queue.Queue
	Publisher *mq.Publisher
	Canceller CaseCanceller
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		caseRepo:  cfg.CaseRepo,
		defRepo:   cfg.DefRepo,
		instRepo:  cfg.InstRepo,
		queue:     cfg.Queue,
		publisher: cfg.Publisher,
		canceller: cfg.Canceller,
		logger:    logger,
	}
}
