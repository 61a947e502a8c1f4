// Package worker реализует пул воркеров, выполняющих задачи шагов.
//
// Worker — stateless компонент системы, который:
//   - Забирает задачи из Redis-очереди (строгий порядок приоритетов)
//   - Находит capability в ServiceRegistry и вызывает её с таймаутом
//   - Различает transient и permanent ошибки: первые уходят в retry
//     через nack, вторые — сразу в dead-letter
//   - Отчитывается оркестратору через tasks.completed
//
// Воркеры масштабируются горизонтально: несколько экземпляров могут
// потреблять из одной очереди, atomic dequeue гарантирует, что задача
// достанется ровно одному.
package worker
