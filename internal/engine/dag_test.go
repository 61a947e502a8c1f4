package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Tribunal/internal/domain"
)

func TestBuild_SimpleChain(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "fetch-context"},
			{ID: "B", Capability: "classify", DependsOn: []string{"A"}},
			{ID: "C", Capability: "apply-action", DependsOn: []string{"B"}},
		},
	}

	dag, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Проверяем количество узлов
	if dag.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", dag.Size())
	}

	// Проверяем корневые узлы
	if len(dag.Roots) != 1 {
		t.Errorf("expected 1 root node, got %d", len(dag.Roots))
	}
	if dag.Roots[0].ID != "A" {
		t.Errorf("expected root node A, got %s", dag.Roots[0].ID)
	}

	// Проверяем зависимости
	nodeB := dag.GetNode("B")
	if len(nodeB.DependsOn) != 1 || nodeB.DependsOn[0].ID != "A" {
		t.Error("node B should depend on A")
	}

	nodeC := dag.GetNode("C")
	if len(nodeC.DependsOn) != 1 || nodeC.DependsOn[0].ID != "B" {
		t.Error("node C should depend on B")
	}
}

func TestBuild_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "fetch-context"},
			{ID: "B", Capability: "classify", DependsOn: []string{"A"}},
			{ID: "C", Capability: "score", DependsOn: []string{"A"}},
			{ID: "D", Capability: "apply-action", DependsOn: []string{"B", "C"}},
		},
	}

	dag, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dag.Size() != 4 {
		t.Errorf("expected 4 nodes, got %d", dag.Size())
	}

	nodeD := dag.GetNode("D")
	if nodeD.InDegree != 2 {
		t.Errorf("expected InDegree 2 for D, got %d", nodeD.InDegree)
	}

	nodeA := dag.GetNode("A")
	if len(nodeA.Dependents) != 2 {
		t.Errorf("expected 2 dependents for A, got %d", len(nodeA.Dependents))
	}

	// Топологический порядок: A первым, D последним
	if dag.Order[0].ID != "A" {
		t.Errorf("expected A first in order, got %s", dag.Order[0].ID)
	}
	if dag.Order[len(dag.Order)-1].ID != "D" {
		t.Errorf("expected D last in order, got %s", dag.Order[len(dag.Order)-1].ID)
	}
}

func TestBuild_Cycle(t *testing.T) {
	// A → B → C → A
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "fetch-context", DependsOn: []string{"C"}},
			{ID: "B", Capability: "classify", DependsOn: []string{"A"}},
			{ID: "C", Capability: "apply-action", DependsOn: []string{"B"}},
		},
	}

	_, err := Build(spec)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuild_MissingDependency(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "classify", DependsOn: []string{"ghost"}},
		},
	}

	_, err := Build(spec)
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}

func TestBuild_MultipleRoots(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "B", Capability: "fetch-logs"},
			{ID: "A", Capability: "fetch-context"},
			{ID: "C", Capability: "merge", DependsOn: []string{"A", "B"}},
		},
	}

	dag, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dag.Roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(dag.Roots))
	}
	// Корни отсортированы по ID
	if dag.Roots[0].ID != "A" || dag.Roots[1].ID != "B" {
		t.Errorf("expected roots [A B], got [%s %s]", dag.Roots[0].ID, dag.Roots[1].ID)
	}
}

func TestReadySteps(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "fetch-context"},
			{ID: "B", Capability: "classify", DependsOn: []string{"A"}},
			{ID: "C", Capability: "score", DependsOn: []string{"A"}},
			{ID: "D", Capability: "apply-action", DependsOn: []string{"B", "C"}},
		},
	}

	dag, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Все PENDING — готов только корень
	statuses := map[string]domain.StepStatus{
		"A": domain.StepStatusPending,
		"B": domain.StepStatusPending,
		"C": domain.StepStatusPending,
		"D": domain.StepStatusPending,
	}
	ready := dag.ReadySteps(statuses)
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Errorf("expected ready [A], got %v", readyIDs(ready))
	}

	// A выполнен — готовы B и C
	statuses["A"] = domain.StepStatusSucceeded
	ready = dag.ReadySteps(statuses)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready steps, got %v", readyIDs(ready))
	}

	// B выполнен, C ещё в очереди — D не готов
	statuses["B"] = domain.StepStatusSucceeded
	statuses["C"] = domain.StepStatusReady
	ready = dag.ReadySteps(statuses)
	if len(ready) != 0 {
		t.Errorf("expected no ready steps, got %v", readyIDs(ready))
	}

	// Оба выполнены — готов D
	statuses["C"] = domain.StepStatusSucceeded
	ready = dag.ReadySteps(statuses)
	if len(ready) != 1 || ready[0].ID != "D" {
		t.Errorf("expected ready [D], got %v", readyIDs(ready))
	}
}

func TestDownstream(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "fetch-context"},
			{ID: "B", Capability: "classify", DependsOn: []string{"A"}},
			{ID: "C", Capability: "score", DependsOn: []string{"B"}},
			{ID: "X", Capability: "notify"},
		},
	}

	dag, err := Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	down := dag.Downstream("A")
	if len(down) != 2 {
		t.Fatalf("expected 2 downstream of A, got %v", readyIDs(down))
	}

	if got := dag.Downstream("X"); len(got) != 0 {
		t.Errorf("expected no downstream of X, got %v", readyIDs(got))
	}

	if got := dag.Downstream("nope"); got != nil {
		t.Errorf("expected nil for unknown node, got %v", readyIDs(got))
	}
}

func readyIDs(nodes []*Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
