package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Tribunal/internal/queue"
)

// maintenanceParser — парсер cron-выражений с секундным полем:
// обслуживание очереди гоняется чаще раза в минуту.
var maintenanceParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Расписания обслуживания по умолчанию.
const (
	defaultReapSchedule    = "*/15 * * * * *" // каждые 15 секунд
	defaultPromoteSchedule = "0 * * * * *"    // раз в минуту
	defaultStatsSchedule   = "*/30 * * * * *" // каждые 30 секунд
	defaultAgingThreshold  = 5 * time.Minute
)

// Maintenance — фоновое обслуживание очереди задач.
//
// Выполняет три периодические работы:
//   - reap: возврат задач с истёкшим lease (упавшие воркеры)
//   - promote: повышение приоритета залежавшихся задач (anti-starvation)
//   - stats: обновление метрик глубины очереди
type Maintenance struct {
	queue  *queue.Queue
	logger *slog.Logger

	reapSchedule    cron.Schedule
	promoteSchedule cron.Schedule
	statsSchedule   cron.Schedule
	agingThreshold  time.Duration

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// MaintenanceConfig — конфигурация Maintenance.
type MaintenanceConfig struct {
	// Queue — обслуживаемая очередь.
	Queue *queue.Queue

	// ReapSchedule — cron-выражение для возврата протухших lease
	// (default: каждые 15 секунд).
	ReapSchedule string

	// PromoteSchedule — cron-выражение для aging-повышения
	// (default: раз в минуту).
	PromoteSchedule string

	// StatsSchedule — cron-выражение для обновления метрик
	// (default: каждые 30 секунд).
	StatsSchedule string

	// AgingThreshold — возраст задачи, после которого её приоритет
	// повышается на один уровень (default: 5m).
	AgingThreshold time.Duration

	// Logger
	Logger *slog.Logger
}

// NewMaintenance создаёт Maintenance.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := cfg.AgingThreshold
	if threshold <= 0 {
		threshold = defaultAgingThreshold
	}

	reap, err := parseSchedule(cfg.ReapSchedule, defaultReapSchedule)
	if err != nil {
		return nil, fmt.Errorf("reap schedule: %w", err)
	}
	promote, err := parseSchedule(cfg.PromoteSchedule, defaultPromoteSchedule)
	if err != nil {
		return nil, fmt.Errorf("promote schedule: %w", err)
	}
	stats, err := parseSchedule(cfg.StatsSchedule, defaultStatsSchedule)
	if err != nil {
		return nil, fmt.Errorf("stats schedule: %w", err)
	}

	return &Maintenance{
		queue:           cfg.Queue,
		logger:          logger.With("component", "maintenance"),
		reapSchedule:    reap,
		promoteSchedule: promote,
		statsSchedule:   stats,
		agingThreshold:  threshold,
	}, nil
}

// parseSchedule парсит cron-выражение, подставляя default при пустом.
func parseSchedule(expr, fallback string) (cron.Schedule, error) {
	if expr == "" {
		expr = fallback
	}
	sched, err := maintenanceParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Start запускает фоновые работы.
func (m *Maintenance) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancelFunc = cancel

	m.runOnSchedule(ctx, "reap", m.reapSchedule, m.reap)
	m.runOnSchedule(ctx, "promote", m.promoteSchedule, m.promote)
	m.runOnSchedule(ctx, "stats", m.statsSchedule, m.refreshStats)

	m.logger.Info("maintenance started", "aging_threshold", m.agingThreshold)
}

// Stop останавливает фоновые работы.
func (m *Maintenance) Stop() {
	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.wg.Wait()
	m.logger.Info("maintenance stopped")
}

// runOnSchedule запускает горутину, выполняющую job по расписанию.
func (m *Maintenance) runOnSchedule(ctx context.Context, name string, sched cron.Schedule, job func(context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			next := sched.Next(time.Now())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				job(ctx)
			}
		}
	}()

	m.logger.Debug("maintenance job scheduled", "job", name)
}

// reap возвращает в очередь задачи с истёкшим lease.
func (m *Maintenance) reap(ctx context.Context) {
	reaped, err := m.queue.ReapExpired(ctx)
	if err != nil {
		m.logger.Error("failed to reap expired leases", "error", err)
		return
	}
	if reaped > 0 {
		m.logger.Info("reaped expired leases", "count", reaped)
	}
}

// promote повышает приоритет залежавшихся задач.
func (m *Maintenance) promote(ctx context.Context) {
	promoted, err := m.queue.PromoteAged(ctx, m.agingThreshold)
	if err != nil {
		m.logger.Error("failed to promote aged tasks", "error", err)
		return
	}
	if promoted > 0 {
		m.logger.Info("promoted aged tasks", "count", promoted)
	}
}

// refreshStats обновляет метрики глубины очереди.
func (m *Maintenance) refreshStats(ctx context.Context) {
	if _, err := m.queue.Stats(ctx); err != nil {
		m.logger.Error("failed to refresh queue stats", "error", err)
	}
}
