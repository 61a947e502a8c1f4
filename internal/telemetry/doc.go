// Package telemetry — наблюдаемость: structured logging и метрики.
//
// SetupLogger настраивает slog по переменным LOG_LEVEL и LOG_FORMAT;
// все бинарники вызывают его первым делом. Хелперы WithCaseID /
// WithTaskID / WithCorrelationID привязывают сквозные идентификаторы
// к записям, чтобы путь кейса было видно в логах всех сервисов.
//
// Метрики регистрируются через promauto в default registry и
// отдаются promhttp.Handler() на /metrics каждого бинарника:
// принятые и завершённые кейсы, глубина очереди по приоритетам,
// обработанные задачи, dead letters, возвращённые lease.
package telemetry
