// Tribunal Worker — выполняет отдельные задачи шагов.
//
// Worker:
//   - Забирает задачи из Redis-очереди с учётом приоритета
//   - Вызывает зарегистрированную capability по имени шага
//   - Различает переходящие и постоянные ошибки (retry vs dead letter)
//   - Публикует отчёт о выполнении в tasks.completed
//
// Workers масштабируются горизонтально: очередь выдаёт задачу
// ровно одному экземпляру через lease.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tribunal/internal/mq"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/registry"
	"github.com/shaiso/Tribunal/internal/telemetry"
	"github.com/shaiso/Tribunal/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting tribunal-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	// RabbitMQ — без publisher отчёты не доходят до оркестратора,
	// кейсы зависнут в ожидании. Предупреждаем, но не падаем:
	// polling-сторона оркестратора подберёт задачи заново после lease.
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, completion reports disabled", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Регистрируем capabilities из окружения:
	// CAPABILITIES="fetch-records=http://svc:9000/fetch,score=http://svc:9000/score"
	reg := registry.NewRegistry()
	for _, entry := range strings.Split(os.Getenv("CAPABILITIES"), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(entry, "=")
		if !ok {
			logger.Warn("skipping malformed capability entry", "entry", entry)
			continue
		}
		reg.Register(registry.NewHTTPCapability(name, endpoint, nil))
		logger.Info("capability registered", "name", name, "endpoint", endpoint)
	}

	// Создаём worker pool
	var pub worker.CompletionPublisher
	if publisher != nil {
		pub = publisher
	}
	pool := worker.New(worker.Config{
		Queue:     taskQueue,
		Registry:  reg,
		Publisher: pub,
		WorkerID:  os.Getenv("WORKER_ID"),
		Logger:    logger,
	})

	// Запускаем worker
	if err := pool.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
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

	// Останавливаем worker
	pool.Stop()
	logger.Info("tribunal-worker stopped")
}
