package statemachine

import "github.com/shaiso/Tribunal/internal/domain"

// validTransitions — таблица допустимых переходов жизненного цикла.
//
// Любой переход вне таблицы отклоняется с ErrInvalidTransition.
// Из терминальных состояний переходов нет: завершённый кейс
// неизменяем.
var validTransitions = map[domain.CaseState][]domain.CaseState{
	domain.CaseStatePending: {
		domain.CaseStateInvestigating,
		domain.CaseStateCancelled,
	},
	domain.CaseStateInvestigating: {
		domain.CaseStateValidating,
		domain.CaseStateFailed,
		domain.CaseStateCancelled,
	},
	domain.CaseStateValidating: {
		domain.CaseStateRemediating,
		domain.CaseStateFailed,
		domain.CaseStateCancelled,
	},
	domain.CaseStateRemediating: {
		domain.CaseStateResolved,
		domain.CaseStateFailed,
		domain.CaseStateCancelled,
	},
	domain.CaseStateResolved:  {},
	domain.CaseStateFailed:    {},
	domain.CaseStateCancelled: {},
}

// CanTransition возвращает true, если переход from → to допустим.
func CanTransition(from, to domain.CaseState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PathTo возвращает цепочку промежуточных состояний от from до to
// вдоль канонического пути PENDING → … → RESOLVED, включая to.
// Возвращает nil, если to недостижимо вперёд по цепочке.
//
// Используется при завершении workflow: кейс, чьи шаги закончились
// в фазе investigate, проходит VALIDATING и REMEDIATING транзитом,
// чтобы достичь RESOLVED валидными переходами.
func PathTo(from, to domain.CaseState) []domain.CaseState {
	chain := []domain.CaseState{
		domain.CaseStatePending,
		domain.CaseStateInvestigating,
		domain.CaseStateValidating,
		domain.CaseStateRemediating,
		domain.CaseStateResolved,
	}

	start := -1
	end := -1
	for i, s := range chain {
		if s == from {
			start = i
		}
		if s == to {
			end = i
		}
	}
	if start < 0 || end < 0 || end <= start {
		return nil
	}
	return chain[start+1 : end+1]
}
