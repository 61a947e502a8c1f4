// Package queue реализует приоритетную очередь задач на Redis.
//
// Очередь обеспечивает at-least-once доставку:
//   - Dequeue выдаёт задачу под lease — задача невидима другим
//     воркерам до ack или истечения lease
//   - Nack возвращает задачу в очередь с exponential backoff,
//     либо перемещает в dead-letter после исчерпания попыток
//   - ReapExpired возвращает задачи протухших lease обратно в очередь
//
// Структура ключей в Redis (prefix по умолчанию "tribunal"):
//
//	{prefix}:queue:{tier}  — ZSET, member=taskID, score=visible_after (unix ms)
//	{prefix}:leased        — ZSET, member=taskID, score=дедлайн lease (unix ms)
//	{prefix}:tasks         — HASH, taskID → JSON задачи
//	{prefix}:queue:dead    — LIST, JSON задач dead-letter
//
// Выбор задачи атомарен (Lua): обход уровней строго по убыванию
// срочности, внутри уровня — по score. Два конкурирующих воркера
// никогда не получат одну задачу.
package queue
