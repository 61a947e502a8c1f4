// Package orchestrator управляет обработкой кейсов.
//
// Orchestrator отвечает за:
//   - Получение новых кейсов из очереди RabbitMQ (и polling fallback)
//   - Выбор WorkflowDefinition по типу кейса и создание экземпляра
//   - Постановку задач готовых шагов в Redis-очередь
//   - Обработку отчётов воркеров и advancement DAG
//   - Переходы жизненного цикла кейса через state machine
//   - Финализацию (RESOLVED/FAILED/CANCELLED) и webhook-уведомления
//
// Работа с одним кейсом сериализуется распределённым локом:
// конкурирующие отчёты и отмена одного кейса не пересекаются.
package orchestrator
