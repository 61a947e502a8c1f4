package registry

import (
	"context"
	"errors"
	"time"
)

// Ошибки реестра capability.
var (
	// ErrCapabilityNotFound — capability не зарегистрирована.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrInvocationTimeout — вызов превысил таймаут.
	ErrInvocationTimeout = errors.New("capability invocation timeout")

	// ErrPermanent — ошибка, которую нет смысла ретраить.
	// Задача с такой ошибкой сразу уходит в dead-letter.
	ErrPermanent = errors.New("permanent capability failure")
)

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent возвращает true для ошибок, помеченных Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Capability — исполняемая единица работы шага.
//
// Реализация получает payload задачи (payload кейса плюс outputs
// выполненных зависимостей) и возвращает outputs шага. Реализация
// обязана уважать отмену контекста.
type Capability interface {
	// Name возвращает имя capability, на которое ссылаются шаги.
	Name() string

	// Invoke выполняет работу шага.
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// Request — входные данные вызова capability.
type Request struct {
	// StepID — шаг, для которого выполняется вызов.
	StepID string

	// Payload — входные данные: payload кейса + outputs зависимостей
	// под ключом "deps".
	Payload map[string]any

	// CorrelationID — сквозной идентификатор кейса.
	CorrelationID string

	// Timeout — таймаут вызова. 0 — default реализации.
	Timeout time.Duration
}

// Result — результат вызова capability.
type Result struct {
	// Outputs — выходные данные шага. Доступны зависимым шагам.
	Outputs map[string]any
}

// NewResult создаёт Result с outputs.
func NewResult(outputs map[string]any) *Result {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Result{Outputs: outputs}
}

// FuncCapability оборачивает функцию в Capability.
// Удобна для локальных действий и тестов.
type FuncCapability struct {
	name string
	fn   func(ctx context.Context, req *Request) (*Result, error)
}

// NewFuncCapability создаёт FuncCapability.
func NewFuncCapability(name string, fn func(ctx context.Context, req *Request) (*Result, error)) *FuncCapability {
	return &FuncCapability{name: name, fn: fn}
}

// Name возвращает имя capability.
func (f *FuncCapability) Name() string { return f.name }

// Invoke вызывает обёрнутую функцию.
func (f *FuncCapability) Invoke(ctx context.Context, req *Request) (*Result, error) {
	return f.fn(ctx, req)
}
