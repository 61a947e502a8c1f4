// Package api реализует HTTP API для управления кейсами,
// workflow definitions и очередью задач.
//
// Структура:
//   - handler.go            — Handler с зависимостями
//   - routes.go             — регистрация маршрутов
//   - case_handler.go       — endpoints кейсов (submit, get, cancel, list)
//   - definition_handler.go — endpoints definitions (register, list, get)
//   - queue_handler.go      — endpoints очереди (stats, dead-letter)
//   - dto.go                — request/response структуры
//   - response.go           — helpers для JSON ответов
//   - middleware.go         — logging, recovery, correlation id
package api
