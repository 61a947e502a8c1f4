// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// RabbitMQ используется как шина событий между сервисами; сами
// задачи воркеров живут в Redis-очереди (пакет queue).
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - case.pending    — новый кейс ожидает обработки
//   - task.completed  — воркер завершил задачу (успех или провал)
//
// Exchanges:
//   - tribunal.cases  — события кейсов
//   - tribunal.tasks  — события задач
package mq
