// Package statemachine управляет жизненным циклом кейсов.
//
// Состояние кейса меняется только здесь: Machine проверяет переход
// по таблице, записывает новое состояние с optimistic concurrency
// (version-guard в БД), добавляет запись аудита и уведомляет
// подписчиков. Прямые записи state в обход Machine запрещены.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/repo"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

// Ошибки state machine.
var (
	// ErrInvalidTransition — переход запрещён таблицей.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCaseFinished — кейс уже в терминальном состоянии.
	ErrCaseFinished = errors.New("case already finished")
)

// maxConflictRetries — количество повторов при version conflict.
const maxConflictRetries = 3

// CaseStore — необходимый Machine срез репозитория кейсов.
type CaseStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error)
	UpdateState(ctx context.Context, c *domain.Case, expectedVersion int) error
	AppendTransition(ctx context.Context, caseID uuid.UUID, tr *domain.StateTransition) error
}

// Listener вызывается после успешного перехода.
// Вызов синхронный: тяжёлую работу подписчик уносит в свою горутину.
type Listener func(c *domain.Case, tr domain.StateTransition)

// Machine — конечный автомат жизненного цикла кейсов.
type Machine struct {
	store  CaseStore
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// New создаёт Machine поверх хранилища кейсов.
func New(store CaseStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:  store,
		logger: logger.With("component", "statemachine"),
	}
}

// Subscribe регистрирует подписчика на переходы.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Transition выполняет переход кейса в состояние to.
//
// errMsg записывается в Case.Error (актуально для FAILED, для
// остальных переходов передаётся ""). При version conflict переход
// перечитывает кейс и повторяет до maxConflictRetries раз: конфликт
// означает, что между чтением и записью кейс успел измениться,
// и допустимость перехода надо проверять заново.
func (m *Machine) Transition(ctx context.Context, caseID uuid.UUID, to domain.CaseState, trigger, actor, errMsg string) (*domain.Case, error) {
	var lastErr error

	for i := 0; i < maxConflictRetries; i++ {
		c, err := m.store.GetByID(ctx, caseID)
		if err != nil {
			return nil, err
		}

		c, err = m.apply(ctx, c, to, trigger, actor, errMsg)
		if errors.Is(err, repo.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return c, err
	}

	return nil, lastErr
}

// apply выполняет одну попытку перехода.
func (m *Machine) apply(ctx context.Context, c *domain.Case, to domain.CaseState, trigger, actor, errMsg string) (*domain.Case, error) {
	from := c.State

	if from.IsTerminal() {
		return nil, fmt.Errorf("%w: case %s in %s", ErrCaseFinished, c.ID, from)
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	c.State = to
	if errMsg != "" {
		c.Error = errMsg
	}
	if to.IsTerminal() {
		c.FinishedAt = &now
	}

	if err := m.store.UpdateState(ctx, c, c.Version); err != nil {
		return nil, err
	}

	tr := domain.StateTransition{
		From:    from,
		To:      to,
		Trigger: trigger,
		Actor:   actor,
		At:      now,
	}
	if err := m.store.AppendTransition(ctx, c.ID, &tr); err != nil {
		// Переход уже записан; история неполная — логируем и живём
		m.logger.Error("failed to record transition",
			"case_id", c.ID, "from", from, "to", to, "error", err)
	}

	m.logger.Info("case state changed",
		"case_id", c.ID,
		"from", from,
		"to", to,
		"trigger", trigger,
		"actor", actor,
	)

	if to.IsTerminal() {
		telemetry.CasesFinished.WithLabelValues(string(c.Type), string(to)).Inc()
		telemetry.CaseDuration.WithLabelValues(string(c.Type)).Observe(c.Duration().Seconds())
	}

	m.notify(c, tr)
	return c, nil
}

// AdvanceTo проводит кейс через цепочку промежуточных состояний
// до target. Нужен при завершении workflow: все шаги могут кончиться
// в ранней фазе, а RESOLVED достижим только из REMEDIATING.
func (m *Machine) AdvanceTo(ctx context.Context, caseID uuid.UUID, target domain.CaseState, trigger, actor string) (*domain.Case, error) {
	c, err := m.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	path := PathTo(c.State, target)
	if path == nil {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.State, target)
	}

	for _, next := range path {
		c, err = m.Transition(ctx, caseID, next, trigger, actor, "")
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// GetCase возвращает кейс по ID.
func (m *Machine) GetCase(ctx context.Context, caseID uuid.UUID) (*domain.Case, error) {
	return m.store.GetByID(ctx, caseID)
}

func (m *Machine) notify(c *domain.Case, tr domain.StateTransition) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		l(c, tr)
	}
}
