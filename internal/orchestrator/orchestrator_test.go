package orchestrator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
)

// --- CaseState Tests ---

func testDefinition(steps ...domain.StepSpec) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:       uuid.New(),
		CaseType: domain.CaseTypeCIFailure,
		Version:  1,
		Spec:     domain.WorkflowSpec{Steps: steps},
	}
}

func testCaseState(t *testing.T, steps ...domain.StepSpec) *CaseState {
	t.Helper()

	c := &domain.Case{
		ID:       uuid.New(),
		Type:     domain.CaseTypeCIFailure,
		Priority: domain.PriorityNormal,
		State:    domain.CaseStateInvestigating,
	}
	def := testDefinition(steps...)

	state := NewCaseState(c, def)
	if err := state.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state.AttachInstance(domain.NewWorkflowInstance(c.ID, def))
	return state
}

func TestNewCaseState(t *testing.T) {
	c := &domain.Case{ID: uuid.New()}
	def := testDefinition(domain.StepSpec{ID: "a", Capability: "classify"})

	state := NewCaseState(c, def)

	if state.Case != c {
		t.Error("Case should be set")
	}
	if state.Definition != def {
		t.Error("Definition should be set")
	}
}

func TestCaseState_QueuedTasksLiveOnInstance(t *testing.T) {
	state := testCaseState(t, domain.StepSpec{ID: "a", Capability: "classify"})
	taskID := uuid.New()

	state.MarkStepQueued("a", taskID)

	// Привязка шаг → задача хранится на экземпляре и попадает в БД
	// вместе с ним: отозвать задачу может и другой процесс
	if state.Instance.StepTasks["a"] != taskID {
		t.Fatalf("expected task id on instance, got %v", state.Instance.StepTasks)
	}

	state.ApplyStepResult("a", true, nil, "")
	if _, ok := state.Instance.StepTasks["a"]; ok {
		t.Error("task id should be dropped with the step result")
	}
}

func TestCaseState_Initialize_EmptySpec(t *testing.T) {
	c := &domain.Case{ID: uuid.New()}
	def := testDefinition()

	state := NewCaseState(c, def)
	if err := state.Initialize(); err == nil {
		t.Error("expected error for empty spec")
	}
}

func TestCaseState_Initialize_ValidSpec(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "fetch", Capability: "ci-log-fetch"},
		domain.StepSpec{ID: "parse", Capability: "ci-log-parse", DependsOn: []string{"fetch"}},
	)

	if state.DAG == nil {
		t.Fatal("DAG should be built")
	}
	if state.DAG.Size() != 2 {
		t.Errorf("expected 2 nodes, got %d", state.DAG.Size())
	}
}

func TestCaseState_ReadySteps(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "fetch", Capability: "ci-log-fetch"},
		domain.StepSpec{ID: "parse", Capability: "ci-log-parse", DependsOn: []string{"fetch"}},
	)

	ready := state.ReadySteps()
	if len(ready) != 1 || ready[0].ID != "fetch" {
		t.Fatalf("expected only fetch ready, got %v", ready)
	}

	state.MarkStepQueued("fetch", uuid.New())
	if len(state.ReadySteps()) != 0 {
		t.Error("queued step should not be ready again")
	}

	state.ApplyStepResult("fetch", true, map[string]any{"log": "..."}, "")
	ready = state.ReadySteps()
	if len(ready) != 1 || ready[0].ID != "parse" {
		t.Fatalf("expected parse ready after fetch succeeded, got %v", ready)
	}
}

func TestCaseState_ApplyStepResult_Success(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
	)
	state.MarkStepQueued("a", uuid.New())

	applied := state.ApplyStepResult("a", true, map[string]any{"score": 0.9}, "")
	if !applied {
		t.Fatal("first result should be applied")
	}
	if state.Instance.StepStatuses["a"] != domain.StepStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", state.Instance.StepStatuses["a"])
	}
	if state.Instance.StepOutputs["a"]["score"] != 0.9 {
		t.Error("outputs should be recorded")
	}
}

func TestCaseState_ApplyStepResult_Duplicate(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
	)
	state.MarkStepQueued("a", uuid.New())

	if !state.ApplyStepResult("a", true, nil, "") {
		t.Fatal("first result should be applied")
	}
	if state.ApplyStepResult("a", false, nil, "late failure") {
		t.Error("duplicate result should be ignored")
	}
	if state.Instance.StepStatuses["a"] != domain.StepStatusSucceeded {
		t.Error("duplicate must not overwrite terminal status")
	}
}

func TestCaseState_ApplyStepResult_UnknownStep(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
	)

	if state.ApplyStepResult("ghost", true, nil, "") {
		t.Error("unknown step should be ignored")
	}
}

func TestCaseState_ApplyStepResult_RequiredFailureCascades(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
		domain.StepSpec{ID: "b", Capability: "verify", DependsOn: []string{"a"}},
		domain.StepSpec{ID: "c", Capability: "notify", DependsOn: []string{"b"}},
		domain.StepSpec{ID: "x", Capability: "audit"},
	)
	state.MarkStepQueued("a", uuid.New())

	state.ApplyStepResult("a", false, nil, "capability exploded")

	if state.Instance.StepStatuses["a"] != domain.StepStatusFailed {
		t.Errorf("expected a FAILED, got %s", state.Instance.StepStatuses["a"])
	}
	if state.Instance.StepStatuses["b"] != domain.StepStatusSkipped {
		t.Errorf("expected b SKIPPED, got %s", state.Instance.StepStatuses["b"])
	}
	if state.Instance.StepStatuses["c"] != domain.StepStatusSkipped {
		t.Errorf("expected c SKIPPED, got %s", state.Instance.StepStatuses["c"])
	}
	// Независимая ветка продолжает выполняться
	if state.Instance.StepStatuses["x"] != domain.StepStatusPending {
		t.Errorf("independent step should stay PENDING, got %s", state.Instance.StepStatuses["x"])
	}
	if state.Instance.StepErrors["a"] != "capability exploded" {
		t.Error("step error should be recorded")
	}
	if !state.HasFailed() {
		t.Error("HasFailed should report true")
	}
}

func TestCaseState_ApplyStepResult_OptionalFailureSkips(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "enrich", Capability: "enrich", Optional: true},
		domain.StepSpec{ID: "decide", Capability: "decide", DependsOn: []string{"enrich"}},
	)
	state.MarkStepQueued("enrich", uuid.New())

	state.ApplyStepResult("enrich", false, nil, "enrichment down")

	if state.Instance.StepStatuses["enrich"] != domain.StepStatusSkipped {
		t.Errorf("optional failure should be SKIPPED, got %s", state.Instance.StepStatuses["enrich"])
	}
	if state.HasFailed() {
		t.Error("optional failure must not fail the case")
	}

	// Зависимый шаг готов несмотря на skip
	ready := state.ReadySteps()
	if len(ready) != 1 || ready[0].ID != "decide" {
		t.Fatalf("expected decide ready, got %v", ready)
	}
}

func TestCaseState_SkipRemaining(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
		domain.StepSpec{ID: "b", Capability: "verify", DependsOn: []string{"a"}},
	)
	taskID := uuid.New()
	state.MarkStepQueued("a", taskID)

	queued := state.SkipRemaining()

	if len(queued) != 1 || queued[0] != taskID {
		t.Fatalf("expected queued task %s returned, got %v", taskID, queued)
	}
	if state.Instance.StepStatuses["a"] != domain.StepStatusSkipped {
		t.Error("queued step should be SKIPPED")
	}
	if state.Instance.StepStatuses["b"] != domain.StepStatusSkipped {
		t.Error("pending step should be SKIPPED")
	}
	if !state.IsComplete() {
		t.Error("all steps terminal after SkipRemaining")
	}
}

func TestCaseState_IsComplete(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
		domain.StepSpec{ID: "b", Capability: "verify"},
	)

	if state.IsComplete() {
		t.Error("fresh case should not be complete")
	}

	state.MarkStepQueued("a", uuid.New())
	state.ApplyStepResult("a", true, nil, "")
	if state.IsComplete() {
		t.Error("case with pending steps should not be complete")
	}

	state.MarkStepQueued("b", uuid.New())
	state.ApplyStepResult("b", true, nil, "")
	if !state.IsComplete() {
		t.Error("case should be complete when all steps terminal")
	}
}

func TestCaseState_StepOutputsFor(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "fetch", Capability: "ci-log-fetch"},
		domain.StepSpec{ID: "parse", Capability: "ci-log-parse", DependsOn: []string{"fetch"}},
	)
	state.MarkStepQueued("fetch", uuid.New())
	state.ApplyStepResult("fetch", true, map[string]any{"log_url": "s3://logs/1"}, "")

	node := state.DAG.GetNode("parse")
	deps := state.StepOutputsFor(node)

	out, ok := deps["fetch"].(map[string]any)
	if !ok {
		t.Fatalf("expected fetch outputs in deps, got %v", deps)
	}
	if out["log_url"] != "s3://logs/1" {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestCaseState_Stats(t *testing.T) {
	state := testCaseState(t,
		domain.StepSpec{ID: "a", Capability: "classify"},
		domain.StepSpec{ID: "b", Capability: "verify", DependsOn: []string{"a"}},
		domain.StepSpec{ID: "c", Capability: "notify", DependsOn: []string{"a"}},
	)
	state.MarkStepQueued("a", uuid.New())
	state.ApplyStepResult("a", true, nil, "")
	state.MarkStepQueued("b", uuid.New())

	stats := state.Stats()

	if stats.TotalSteps != 3 {
		t.Errorf("expected 3 total, got %d", stats.TotalSteps)
	}
	if stats.SucceededSteps != 1 {
		t.Errorf("expected 1 succeeded, got %d", stats.SucceededSteps)
	}
	if stats.InFlightSteps != 1 {
		t.Errorf("expected 1 in flight, got %d", stats.InFlightSteps)
	}
	if stats.PendingSteps != 1 {
		t.Errorf("expected 1 pending, got %d", stats.PendingSteps)
	}
}

// --- Orchestrator Tests ---

func TestNew(t *testing.T) {
	o := New(Config{})

	if o.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval, got %v", o.pollInterval)
	}
	if o.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size, got %d", o.batchSize)
	}
	if o.lockWait != defaultLockWait {
		t.Errorf("expected default lock wait, got %v", o.lockWait)
	}
	if o.activeCases == nil {
		t.Error("activeCases map should be initialized")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	o := New(Config{
		PollInterval: 3 * time.Second,
		BatchSize:    25,
		LockWait:     time.Second,
	})

	if o.pollInterval != 3*time.Second {
		t.Errorf("expected 3s poll interval, got %v", o.pollInterval)
	}
	if o.batchSize != 25 {
		t.Errorf("expected batch size 25, got %d", o.batchSize)
	}
	if o.lockWait != time.Second {
		t.Errorf("expected 1s lock wait, got %v", o.lockWait)
	}
}

func TestOrchestrator_ActiveCases(t *testing.T) {
	o := New(Config{})
	state := testCaseState(t, domain.StepSpec{ID: "a", Capability: "classify"})

	if o.isCaseActive(state.CaseID()) {
		t.Error("case should not be active yet")
	}
	if o.ActiveCasesCount() != 0 {
		t.Error("expected 0 active cases")
	}

	if err := o.addActiveCase(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.isCaseActive(state.CaseID()) {
		t.Error("case should be active")
	}
	if o.ActiveCasesCount() != 1 {
		t.Error("expected 1 active case")
	}
	if o.getActiveCase(state.CaseID()) != state {
		t.Error("getActiveCase should return the same state")
	}

	if err := o.addActiveCase(state); err != ErrCaseAlreadyActive {
		t.Errorf("expected ErrCaseAlreadyActive, got %v", err)
	}

	o.removeActiveCase(state.CaseID())
	if o.isCaseActive(state.CaseID()) {
		t.Error("case should be removed")
	}
}

func TestOrchestrator_GetActiveCaseStats(t *testing.T) {
	o := New(Config{})
	state := testCaseState(t, domain.StepSpec{ID: "a", Capability: "classify"})

	if _, ok := o.GetActiveCaseStats(state.CaseID()); ok {
		t.Error("stats for inactive case should report false")
	}

	if err := o.addActiveCase(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, ok := o.GetActiveCaseStats(state.CaseID())
	if !ok {
		t.Fatal("expected stats for active case")
	}
	if stats.TotalSteps != 1 {
		t.Errorf("expected 1 total step, got %d", stats.TotalSteps)
	}
}

func TestOrchestrator_IsStopped(t *testing.T) {
	o := New(Config{})

	if o.IsStopped() {
		t.Error("fresh orchestrator should not be stopped")
	}
}

// --- Maintenance Tests ---

func TestNewMaintenance_Defaults(t *testing.T) {
	m, err := NewMaintenance(MaintenanceConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.agingThreshold != defaultAgingThreshold {
		t.Errorf("expected default aging threshold, got %v", m.agingThreshold)
	}
}

func TestNewMaintenance_InvalidSchedule(t *testing.T) {
	_, err := NewMaintenance(MaintenanceConfig{ReapSchedule: "not a cron"})
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
