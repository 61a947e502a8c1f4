package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrCaseNotFound — кейс не найден в БД.
	ErrCaseNotFound = errors.New("case not found")

	// ErrDefinitionNotFound — для типа кейса нет зарегистрированного definition.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInvalidSpec — WorkflowSpec не прошёл валидацию.
	ErrInvalidSpec = errors.New("invalid workflow spec")

	// ErrCaseAlreadyActive — кейс уже обрабатывается.
	ErrCaseAlreadyActive = errors.New("case already being processed")

	// ErrCaseNotPending — кейс не в состоянии PENDING.
	ErrCaseNotPending = errors.New("case is not in PENDING state")

	// ErrCaseFinished — кейс уже в терминальном состоянии.
	ErrCaseFinished = errors.New("case already finished")

	// ErrStepNotFound — шаг не найден в DAG.
	ErrStepNotFound = errors.New("step not found in DAG")
)
