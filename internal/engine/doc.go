// Package engine строит и валидирует DAG шагов workflow.
//
// Engine отвечает за:
//   - Валидацию WorkflowSpec при регистрации definition
//   - Построение графа зависимостей шагов
//   - Обнаружение циклов (топологическая сортировка, алгоритм Кана)
//   - Вычисление готовых к выполнению шагов по текущим статусам
//
// Engine не имеет состояния и ничего не знает про очередь и БД.
package engine
