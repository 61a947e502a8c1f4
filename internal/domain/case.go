package domain

import (
	"time"

	"github.com/google/uuid"
)

// Case — единица бизнес-работы: один инцидент, отслеживаемый
// через весь жизненный цикл.
//
// Case создаётся когда:
// - Внешняя система сообщает об инциденте (CI failure, спам-сигнал)
// - Оператор заводит кейс вручную (через API/CLI)
//
// Состояние кейса принадлежит StateMachine и меняется только через
// валидные переходы — никогда напрямую.
type Case struct {
	// ID — уникальный идентификатор кейса.
	ID uuid.UUID `json:"id"`

	// Type — тип инцидента (например, "ci_failure", "spam_incident").
	// По типу выбирается привязанный WorkflowDefinition.
	Type CaseType `json:"type"`

	// Payload — входные данные инцидента (лог сборки, признаки спама и т.д.).
	// Непрозрачны для оркестратора, передаются шагам как есть.
	Payload map[string]any `json:"payload,omitempty"`

	// Priority — приоритет обработки. Наследуется задачами кейса.
	Priority Priority `json:"priority"`

	// State — текущее состояние жизненного цикла.
	State CaseState `json:"state"`

	// CorrelationID — сквозной идентификатор для трассировки
	// (прокидывается во все логи и webhook'и).
	CorrelationID string `json:"correlation_id,omitempty"`

	// Version — счётчик версий для optimistic concurrency.
	// Увеличивается при каждом переходе; затирание чужой записи
	// обнаруживается по несовпадению версии.
	Version int `json:"version"`

	// Error — текст ошибки, если кейс завершился в FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания кейса.
	CreatedAt time.Time `json:"created_at"`

	// FinishedAt — время достижения терминального состояния.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsFinished возвращает true, если кейс в терминальном состоянии.
func (c *Case) IsFinished() bool {
	return c.State.IsTerminal()
}

// Duration возвращает продолжительность жизни кейса.
// Возвращает 0, если кейс ещё не завершён.
func (c *Case) Duration() time.Duration {
	if c.FinishedAt == nil {
		return 0
	}
	return c.FinishedAt.Sub(c.CreatedAt)
}

// CaseType — тип инцидента.
type CaseType string

// Известные типы инцидентов. Список открытый: регистрация
// WorkflowDefinition с новым типом добавляет его в систему.
const (
	CaseTypeCIFailure      CaseType = "ci_failure"
	CaseTypeSpamIncident   CaseType = "spam_incident"
	CaseTypeSecurityAlert  CaseType = "security_alert"
	CaseTypeComplianceFlag CaseType = "compliance_flag"
)

// StateTransition — неизменяемая запись аудита об одном переходе состояния.
//
// Добавляется в историю кейса при каждом переходе; никогда не
// изменяется и не удаляется, хранится и после завершения кейса.
type StateTransition struct {
	// From — состояние до перехода.
	From CaseState `json:"from"`

	// To — состояние после перехода.
	To CaseState `json:"to"`

	// Trigger — имя события, вызвавшего переход
	// (например, "workflow.started", "step.failed").
	Trigger string `json:"trigger"`

	// Actor — кто выполнил переход: worker id или "system".
	Actor string `json:"actor"`

	// At — время перехода.
	At time.Time `json:"at"`
}
