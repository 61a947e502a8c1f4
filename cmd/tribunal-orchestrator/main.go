// Tribunal Orchestrator — управляет обработкой кейсов.
//
// Orchestrator:
//   - Получает новые кейсы из RabbitMQ (плюс polling fallback)
//   - Строит DAG по workflow definition и двигает кейс по фазам
//   - Ставит задачи готовых шагов в Redis-очередь
//   - Применяет отчёты воркеров и финализирует кейсы
//   - Обслуживает очередь: reap протухших lease, aging приоритетов
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/lock"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/orchestrator"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/repo"
	"github.com/shaiso/Tribunal/internal/statemachine"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting tribunal-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	caseRepo := repo.NewCaseRepo(pool)
	defRepo := repo.NewDefinitionRepo(pool)
	instRepo := repo.NewInstanceRepo(pool)

	// Redis
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	taskQueue := queue.New(redisClient, queue.Config{}, logger)
	locker := lock.NewLocker(redisClient, "tribunal", 0)

	// RabbitMQ — без него оркестратор живёт на одном polling
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// State machine + аудит переходов в лог
	machine := statemachine.New(caseRepo, logger)
	machine.Subscribe(func(c *domain.Case, tr domain.StateTransition) {
		logger.Info("case transition",
			"case_id", c.ID,
			"from", tr.From,
			"to", tr.To,
			"trigger", tr.Trigger,
			"correlation_id", c.CorrelationID)
	})

	// Создаём orchestrator
	orch := orchestrator.New(orchestrator.Config{
		CaseRepo:  caseRepo,
		DefRepo:   defRepo,
		InstRepo:  instRepo,
		Machine:   machine,
		Queue:     taskQueue,
		Locker:    locker,
		Publisher: publisher,
		Conn:      mqConn,
		Notifier:  orchestrator.NewNotifier(logger),
		Logger:    logger,
	})

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Обслуживание очереди
	maintenance, err := orchestrator.NewMaintenance(orchestrator.MaintenanceConfig{
		Queue:           taskQueue,
		ReapSchedule:    os.Getenv("REAP_SCHEDULE"),
		PromoteSchedule: os.Getenv("PROMOTE_SCHEDULE"),
		StatsSchedule:   os.Getenv("STATS_SCHEDULE"),
		Logger:          logger,
	})
	if err != nil {
		logger.Error("invalid maintenance schedule", "error", err)
		os.Exit(1)
	}
	maintenance.Start(ctx)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if mqConn != nil && !mqConn.IsConnected() {
			w.Write([]byte("ok (broker disconnected, polling only)"))
			return
		}
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	maintenance.Stop()
	orch.Stop()
	logger.Info("tribunal-orchestrator stopped")
}
