package engine

import (
	"sort"

	"github.com/shaiso/Tribunal/internal/domain"
)

// Node — узел DAG: один шаг definition плюс связи с соседями.
type Node struct {
	// Step — определение шага из WorkflowSpec.
	Step *domain.StepSpec

	// ID — идентификатор узла (равен Step.ID).
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф шагов workflow.
//
// Строится один раз из валидированного WorkflowSpec и дальше
// используется только на чтение — общий для всех горутин.
type DAG struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// Roots — узлы без зависимостей (точки входа).
	Roots []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// Build строит DAG из WorkflowSpec.
//
// Предполагает, что spec уже прошёл Validate: здесь проверяются
// только ссылочная целостность depends_on и отсутствие циклов.
func Build(spec *domain.WorkflowSpec) (*DAG, error) {
	dag := &DAG{
		Nodes: make(map[string]*Node, len(spec.Steps)),
	}

	// Первый проход: создаём узлы
	for i := range spec.Steps {
		step := &spec.Steps[i]
		dag.Nodes[step.ID] = &Node{
			Step:       step,
			ID:         step.ID,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем рёбра
	for i := range spec.Steps {
		step := &spec.Steps[i]
		node := dag.Nodes[step.ID]

		for _, depID := range step.DependsOn {
			depNode, exists := dag.Nodes[depID]
			if !exists {
				return nil, NewValidationError(step.ID, "depends_on",
					"depends on unknown step: "+depID, ErrMissingDependency)
			}
			dag.addEdge(depNode, node)
		}
	}

	dag.findRoots()

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро from → to.
// Дубликаты рёбер игнорируются, чтобы не задваивать InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRoots находит узлы без входящих рёбер.
func (d *DAG) findRoots() {
	d.Roots = make([]*Node, 0)
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.Roots = append(d.Roots, node)
		}
	}
	// Детерминированный порядок для предсказуемого dispatch
	sort.Slice(d.Roots, func(i, j int) bool { return d.Roots[i].ID < d.Roots[j].ID })
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ErrCyclicDependency, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.Roots))
	copy(queue, d.Roots)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Не все узлы достигнуты — в графе есть цикл
	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// ReadySteps возвращает узлы, готовые к выполнению при данных статусах:
// шаг в PENDING, все его зависимости удовлетворены.
func (d *DAG) ReadySteps(statuses map[string]domain.StepStatus) []*Node {
	ready := make([]*Node, 0)

	for _, node := range d.Order {
		if statuses[node.ID] != domain.StepStatusPending {
			continue
		}
		if d.DepsSatisfied(node, statuses) {
			ready = append(ready, node)
		}
	}

	return ready
}

// DepsSatisfied возвращает true, если все зависимости узла
// удовлетворены: SUCCEEDED, либо SKIPPED (упавший optional-шаг
// не блокирует зависимых).
func (d *DAG) DepsSatisfied(node *Node, statuses map[string]domain.StepStatus) bool {
	for _, dep := range node.DependsOn {
		switch statuses[dep.ID] {
		case domain.StepStatusSucceeded, domain.StepStatusSkipped:
		default:
			return false
		}
	}
	return true
}

// Downstream возвращает все узлы, транзитивно зависящие от данного.
func (d *DAG) Downstream(id string) []*Node {
	start, exists := d.Nodes[id]
	if !exists {
		return nil
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(n *Node)
	visit = func(n *Node) {
		for _, dep := range n.Dependents {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true
			result = append(result, dep)
			visit(dep)
		}
	}
	visit(start)

	return result
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов.
func (d *DAG) Size() int {
	return len(d.Nodes)
}
