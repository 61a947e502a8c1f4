// Tribunal API — HTTP API для управления кейсами.
//
// API:
//   - Принимает кейсы (submit) и валидирует payload против схемы
//   - Отдаёт состояние кейсов, workflow-экземпляров и аудит переходов
//   - Регистрирует workflow definitions
//   - Показывает очередь задач и dead-letter список
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tribunal/internal/api"
	"github.com/shaiso/Tribunal/internal/lock"
	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/orchestrator"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/repo"
	"github.com/shaiso/Tribunal/internal/statemachine"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting tribunal-api")

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

	// Redis: очередь задач + локи кейсов
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

	// RabbitMQ
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, orchestrator will rely on polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// State machine + canceller: API отменяет кейсы напрямую,
	// под тем же распределённым локом, что и оркестратор
	machine := statemachine.New(caseRepo, logger)
	canceller := orchestrator.New(orchestrator.Config{
		CaseRepo: caseRepo,
		DefRepo:  defRepo,
		InstRepo: instRepo,
		Machine:  machine,
		Queue:    taskQueue,
		Locker:   locker,
		Logger:   logger,
	})

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		CaseRepo:  caseRepo,
		DefRepo:   defRepo,
		InstRepo:  instRepo,
		Queue:     taskQueue,
		Publisher: publisher,
		Canceller: canceller,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
