package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowDefinition — версионированный, неизменяемый шаблон обработки
// кейсов одного типа: DAG шагов плюс настройки валидации и уведомлений.
//
// Definition регистрируется один раз, валидируется (включая проверку
// на циклы) и дальше читается всеми экземплярами без изменений.
// Новая редакция — это новая версия, старые runs продолжают выполнять
// свою.
type WorkflowDefinition struct {
	// ID — уникальный идентификатор definition.
	ID uuid.UUID `json:"id"`

	// CaseType — тип кейсов, обрабатываемых этим definition.
	CaseType CaseType `json:"case_type"`

	// Version — номер версии (1, 2, 3, ...). Автоинкремент при регистрации.
	Version int `json:"version"`

	// Spec — спецификация workflow (содержимое JSONB поля spec).
	Spec WorkflowSpec `json:"spec"`

	// CreatedAt — время регистрации версии.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowSpec — спецификация workflow: шаги и общие настройки.
type WorkflowSpec struct {
	// Name — человекочитаемое имя workflow.
	Name string `json:"name,omitempty"`

	// Description — описание назначения.
	Description string `json:"description,omitempty"`

	// Steps — шаги DAG. Порядок в списке не важен,
	// порядок выполнения определяется depends_on.
	Steps []StepSpec `json:"steps"`

	// PayloadSchema — JSON Schema для валидации Case.Payload при submit.
	// Пустая схема отключает валидацию.
	PayloadSchema map[string]any `json:"payload_schema,omitempty"`

	// WebhookURL — URL для уведомления о достижении кейсом
	// терминального состояния. Доставка best-effort с bounded retry.
	WebhookURL string `json:"webhook_url,omitempty"`

	// Defaults — настройки по умолчанию для всех шагов.
	Defaults *StepDefaults `json:"defaults,omitempty"`
}

// StepDefaults — настройки по умолчанию для шагов definition.
type StepDefaults struct {
	// Retry — политика повторных попыток.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут вызова capability в секундах.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// StepSpec — определение одного шага DAG.
type StepSpec struct {
	// ID — уникальный идентификатор шага в рамках definition.
	// Используется в depends_on.
	ID string `json:"id"`

	// Capability — имя capability из ServiceRegistry
	// (например, "spam-classify", "ci-log-parse").
	Capability string `json:"capability"`

	// DependsOn — ID шагов, от которых зависит этот шаг.
	// Шаг становится READY только после успеха всех зависимостей.
	DependsOn []string `json:"depends_on,omitempty"`

	// Phase — фаза жизненного цикла кейса, к которой относится шаг:
	// "investigate", "validate" или "remediate". Вход в шаг более
	// поздней фазы переводит кейс в соответствующее состояние.
	// Пустая фаза трактуется как "investigate".
	Phase StepPhase `json:"phase,omitempty"`

	// Optional — true, если падение шага не валит экземпляр:
	// шаг помечается SKIPPED, зависимые продолжают выполняться.
	// По умолчанию шаг обязательный (required).
	Optional bool `json:"optional,omitempty"`

	// Retry — политика retry для этого шага. Переопределяет defaults.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут вызова для этого шага. Переопределяет defaults.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// Required возвращает true, если падение шага фатально для экземпляра.
func (s *StepSpec) Required() bool {
	return !s.Optional
}

// StepPhase — фаза жизненного цикла, к которой относится шаг.
type StepPhase string

const (
	PhaseInvestigate StepPhase = "investigate"
	PhaseValidate    StepPhase = "validate"
	PhaseRemediate   StepPhase = "remediate"
)

// CaseState возвращает состояние кейса, соответствующее фазе.
func (p StepPhase) CaseState() CaseState {
	switch p {
	case PhaseValidate:
		return CaseStateValidating
	case PhaseRemediate:
		return CaseStateRemediating
	default:
		return CaseStateInvestigating
	}
}

// IsValid возвращает true для известной фазы (пустая допустима).
func (p StepPhase) IsValid() bool {
	switch p {
	case "", PhaseInvestigate, PhaseValidate, PhaseRemediate:
		return true
	default:
		return false
	}
}

// RetryPolicy — политика повторных попыток шага.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// BaseDelayMs — начальная задержка перед retry в миллисекундах.
	BaseDelayMs int `json:"base_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`

	// JitterFraction — доля случайного разброса задержки [0..1].
	// 0.2 означает задержку в пределах ±20% от вычисленной.
	JitterFraction float64 `json:"jitter_fraction,omitempty"`
}

// Значения по умолчанию для RetryPolicy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelayMs = 1000
	DefaultMaxDelayMs  = 30000
)

// DefaultRetryPolicy возвращает политику retry по умолчанию.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelayMs: DefaultBaseDelayMs,
		MaxDelayMs:  DefaultMaxDelayMs,
	}
}

// RetryFor возвращает действующую политику retry для шага:
// собственную, из defaults или политику по умолчанию.
func (s *WorkflowSpec) RetryFor(step *StepSpec) *RetryPolicy {
	if step.Retry != nil {
		return step.Retry
	}
	if s.Defaults != nil && s.Defaults.Retry != nil {
		return s.Defaults.Retry
	}
	return DefaultRetryPolicy()
}

// TimeoutFor возвращает действующий таймаут шага в секундах.
// 0 означает таймаут по умолчанию на стороне воркера.
func (s *WorkflowSpec) TimeoutFor(step *StepSpec) int {
	if step.TimeoutSec > 0 {
		return step.TimeoutSec
	}
	if s.Defaults != nil && s.Defaults.TimeoutSec > 0 {
		return s.Defaults.TimeoutSec
	}
	return 0
}

// FindStep возвращает StepSpec по ID или nil.
func (s *WorkflowSpec) FindStep(stepID string) *StepSpec {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return &s.Steps[i]
		}
	}
	return nil
}
