package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Tribunal/internal/domain"
)

func TestValidate_OK(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "fetch", Capability: "ci-log-fetch", Phase: domain.PhaseInvestigate},
			{ID: "check", Capability: "policy-check", Phase: domain.PhaseValidate, DependsOn: []string{"fetch"}},
			{ID: "fix", Capability: "ci-retrigger", Phase: domain.PhaseRemediate, DependsOn: []string{"check"},
				Retry: &domain.RetryPolicy{MaxAttempts: 5, BaseDelayMs: 500, MaxDelayMs: 10000, JitterFraction: 0.2}},
		},
	}

	if err := Validate(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EmptySteps(t *testing.T) {
	if err := Validate(&domain.WorkflowSpec{}); !errors.Is(err, ErrEmptySteps) {
		t.Errorf("expected ErrEmptySteps, got %v", err)
	}
	if err := Validate(nil); !errors.Is(err, ErrEmptySteps) {
		t.Errorf("expected ErrEmptySteps for nil spec, got %v", err)
	}
}

func TestValidate_DuplicateStepID(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "classify"},
			{ID: "A", Capability: "score"},
		},
	}

	err := Validate(spec)
	if !errors.Is(err, ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatal("expected ValidationError")
	}
	if verr.StepID != "A" {
		t.Errorf("expected StepID A, got %s", verr.StepID)
	}
}

func TestValidate_EmptyCapability(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{{ID: "A"}},
	}
	if err := Validate(spec); !errors.Is(err, ErrEmptyCapability) {
		t.Errorf("expected ErrEmptyCapability, got %v", err)
	}
}

func TestValidate_UnknownPhase(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{{ID: "A", Capability: "classify", Phase: "escalate"}},
	}
	if err := Validate(spec); !errors.Is(err, ErrUnknownPhase) {
		t.Errorf("expected ErrUnknownPhase, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{{ID: "A", Capability: "classify", DependsOn: []string{"A"}}},
	}
	if err := Validate(spec); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestValidate_Cycle(t *testing.T) {
	spec := &domain.WorkflowSpec{
		Steps: []domain.StepSpec{
			{ID: "A", Capability: "classify", DependsOn: []string{"B"}},
			{ID: "B", Capability: "score", DependsOn: []string{"A"}},
		},
	}
	if err := Validate(spec); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestValidate_RetryPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy domain.RetryPolicy
	}{
		{"negative attempts", domain.RetryPolicy{MaxAttempts: -1}},
		{"negative base delay", domain.RetryPolicy{BaseDelayMs: -100}},
		{"base exceeds max", domain.RetryPolicy{BaseDelayMs: 5000, MaxDelayMs: 1000}},
		{"jitter out of range", domain.RetryPolicy{JitterFraction: 1.5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := &domain.WorkflowSpec{
				Steps: []domain.StepSpec{{ID: "A", Capability: "classify", Retry: &tc.policy}},
			}
			if err := Validate(spec); !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
			}
		})
	}
}
