package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/lock"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/statemachine"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
	defaultLockWait     = 5 * time.Second
)

// CaseStore — необходимый оркестратору срез репозитория кейсов.
// Реализуется repo.CaseRepo.
type CaseStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error)
	ListUnfinished(ctx context.Context, limit int) ([]domain.Case, error)
}

// DefinitionStore — срез репозитория workflow definitions.
// Реализуется repo.DefinitionRepo.
type DefinitionStore interface {
	GetLatest(ctx context.Context, caseType domain.CaseType) (*domain.WorkflowDefinition, error)
	GetVersion(ctx context.Context, caseType domain.CaseType, version int) (*domain.WorkflowDefinition, error)
}

// InstanceStore — срез репозитория workflow-экземпляров.
// Реализуется repo.InstanceRepo.
type InstanceStore interface {
	Create(ctx context.Context, inst *domain.WorkflowInstance) error
	GetByCaseID(ctx context.Context, caseID uuid.UUID) (*domain.WorkflowInstance, error)
	Update(ctx context.Context, inst *domain.WorkflowInstance) error
}

// Orchestrator управляет обработкой кейсов.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые кейсы из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending кейсы в БД (polling fallback)
//   - Строит DAG для каждого кейса
//   - Ставит задачи готовых шагов в Redis-очередь
//   - Обрабатывает отчёты воркеров о завершении задач
//   - Финализирует кейсы (RESOLVED/FAILED/CANCELLED)
type Orchestrator struct {
	// Repositories
	caseRepo CaseStore
	defRepo  DefinitionStore
	instRepo InstanceStore

	// Lifecycle of cases
	machine *statemachine.Machine

	// Task queue + distributed lock
	queue  *queue.Queue
	locker *lock.Locker

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Webhook notifier
	notifier *Notifier

	// Active cases — кейсы в процессе обработки (caseID → state)
	activeCases map[uuid.UUID]*CaseState
	mu          sync.RWMutex

	// Consumers
	caseConsumer *mq.Consumer
	taskConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int
	lockWait     time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	CaseRepo CaseStore
	DefRepo  DefinitionStore
	InstRepo InstanceStore

	// State machine
	Machine *statemachine.Machine

	// Queue + lock
	Queue  *queue.Queue
	Locker *lock.Locker

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Webhook notifier (nil — уведомления выключены)
	Notifier *Notifier

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество кейсов за один poll (default: 100)
	LockWait     time.Duration // максимум ожидания лока кейса (default: 5s)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		caseRepo:     cfg.CaseRepo,
		defRepo:      cfg.DefRepo,
		instRepo:     cfg.InstRepo,
		machine:      cfg.Machine,
		queue:        cfg.Queue,
		locker:       cfg.Locker,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		notifier:     cfg.Notifier,
		activeCases:  make(map[uuid.UUID]*CaseState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		lockWait:     lockWait,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для cases.pending
//   - Consumer для tasks.completed
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	// Consumers создаются только при живом брокере;
	// без него остаётся polling
	if o.conn != nil {
		o.caseConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueCasesPending),
			Handler:  o.handleCasePending,
			Prefetch: 10,
		})

		o.taskConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksCompleted),
			Handler:  o.handleTaskCompleted,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.caseConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("case consumer error", "error", err)
			}
		}()

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.taskConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("task consumer error", "error", err)
			}
		}()
	}

	// Запускаем polling
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// Останавливаем consumers
	if o.caseConsumer != nil {
		o.caseConsumer.Stop()
	}
	if o.taskConsumer != nil {
		o.taskConsumer.Stop()
	}

	// Ждём завершения горутин
	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_cases", len(o.activeCases),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем кейсы, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	cases, err := o.caseRepo.ListUnfinished(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list unfinished cases", "error", err)
		return
	}

	unfinished := make(map[uuid.UUID]struct{}, len(cases))
	for i := range cases {
		c := &cases[i]
		unfinished[c.ID] = struct{}{}

		if o.isCaseActive(c.ID) {
			continue
		}

		if err := o.adoptCase(ctx, c.ID); err != nil {
			o.logger.Error("failed to adopt case from poll",
				"case_id", c.ID,
				"error", err,
			)
		}
	}

	o.pruneActiveCases(unfinished)
}

// pruneActiveCases выгоняет из кэша кейсы, не попавшие в выборку
// незавершённых: их завершил другой процесс, отчётов больше не будет.
// Преждевременная выгрузка безопасна — состояние восстанавливается
// из БД при следующем отчёте или poll.
func (o *Orchestrator) pruneActiveCases(unfinished map[uuid.UUID]struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id := range o.activeCases {
		if _, ok := unfinished[id]; !ok {
			delete(o.activeCases, id)
		}
	}
}

// isCaseActive проверяет, находится ли кейс в обработке.
func (o *Orchestrator) isCaseActive(caseID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeCases[caseID]
	return exists
}

// getActiveCase возвращает активный CaseState.
func (o *Orchestrator) getActiveCase(caseID uuid.UUID) *CaseState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeCases[caseID]
}

// addActiveCase добавляет кейс в активные.
func (o *Orchestrator) addActiveCase(state *CaseState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeCases[state.CaseID()]; exists {
		return ErrCaseAlreadyActive
	}

	o.activeCases[state.CaseID()] = state
	return nil
}

// removeActiveCase удаляет кейс из активных.
func (o *Orchestrator) removeActiveCase(caseID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeCases, caseID)
}

// ActiveCasesCount возвращает количество активных кейсов.
func (o *Orchestrator) ActiveCasesCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeCases)
}

// GetActiveCaseStats возвращает статистику по активному кейсу.
func (o *Orchestrator) GetActiveCaseStats(caseID uuid.UUID) (CaseStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.activeCases[caseID]
	if !exists {
		return CaseStats{}, false
	}

	return state.Stats(), true
}
