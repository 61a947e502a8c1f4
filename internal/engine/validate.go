package engine

import (
	"fmt"

	"github.com/shaiso/Tribunal/internal/domain"
)

// Validate выполняет полную валидацию WorkflowSpec.
//
// Проверяет:
// - Наличие шагов
// - Уникальность ID шагов
// - Наличие capability у каждого шага
// - Корректность фаз
// - Валидность зависимостей (depends_on, self-dependency)
// - Корректность retry-политик
// - Отсутствие циклов (делегируется Build)
//
// Вызывается при регистрации definition: циклический spec
// отклоняется до того, как из него можно создать экземпляр.
func Validate(spec *domain.WorkflowSpec) error {
	if spec == nil || len(spec.Steps) == 0 {
		return ErrEmptySteps
	}

	stepIDs := make(map[string]bool, len(spec.Steps))

	for i := range spec.Steps {
		step := &spec.Steps[i]
		if err := validateStep(step, stepIDs); err != nil {
			return err
		}
	}

	if err := validateDependencies(spec.Steps, stepIDs); err != nil {
		return err
	}

	// Проверка на циклы через построение DAG
	if _, err := Build(spec); err != nil {
		return err
	}

	return nil
}

// validateStep валидирует один шаг.
// stepIDs — уже встреченные ID (для проверки уникальности).
func validateStep(step *domain.StepSpec, stepIDs map[string]bool) error {
	if step.ID == "" {
		return NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
	}

	if stepIDs[step.ID] {
		return NewValidationError(step.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}
	stepIDs[step.ID] = true

	if step.Capability == "" {
		return NewValidationError(step.ID, "capability",
			"step has empty capability", ErrEmptyCapability)
	}

	if !step.Phase.IsValid() {
		return NewValidationError(step.ID, "phase",
			fmt.Sprintf("unknown phase: %s", step.Phase), ErrUnknownPhase)
	}

	for _, dep := range step.DependsOn {
		if dep == step.ID {
			return NewValidationError(step.ID, "depends_on",
				"step depends on itself", ErrSelfDependency)
		}
	}

	if step.Retry != nil {
		if err := validateRetryPolicy(step.ID, step.Retry); err != nil {
			return err
		}
	}

	return nil
}

// validateRetryPolicy проверяет согласованность политики retry.
func validateRetryPolicy(stepID string, policy *domain.RetryPolicy) error {
	if policy.MaxAttempts < 0 {
		return NewValidationError(stepID, "retry.max_attempts",
			"max_attempts must not be negative", ErrInvalidRetryPolicy)
	}
	if policy.BaseDelayMs < 0 || policy.MaxDelayMs < 0 {
		return NewValidationError(stepID, "retry",
			"delays must not be negative", ErrInvalidRetryPolicy)
	}
	if policy.MaxDelayMs > 0 && policy.BaseDelayMs > policy.MaxDelayMs {
		return NewValidationError(stepID, "retry",
			"base_delay_ms exceeds max_delay_ms", ErrInvalidRetryPolicy)
	}
	if policy.JitterFraction < 0 || policy.JitterFraction > 1 {
		return NewValidationError(stepID, "retry.jitter_fraction",
			"jitter_fraction must be in [0, 1]", ErrInvalidRetryPolicy)
	}
	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются
// на существующие шаги.
func validateDependencies(steps []domain.StepSpec, stepIDs map[string]bool) error {
	for i := range steps {
		step := &steps[i]
		for _, dep := range step.DependsOn {
			if !stepIDs[dep] {
				return NewValidationError(step.ID, "depends_on",
					fmt.Sprintf("depends on unknown step: %s", dep), ErrMissingDependency)
			}
		}
	}
	return nil
}
