// Package registry связывает имена capability из шагов workflow
// с их исполняемыми реализациями.
//
// Воркер резолвит Task.Capability через Registry и вызывает Invoke.
// Неизвестная capability — permanent-ошибка: задача уходит
// в dead-letter без retry.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр capability. Потокобезопасен.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
	}
}

// Register регистрирует capability.
// Повторная регистрация того же имени перезаписывает реализацию.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c.Name()] = c
}

// Get возвращает capability по имени.
// Возвращает ErrCapabilityNotFound, если имя не зарегистрировано.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.capabilities[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}
	return c, nil
}

// Has проверяет, зарегистрирована ли capability.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.capabilities[name]
	return exists
}

// Names возвращает отсортированный список зарегистрированных имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count возвращает количество зарегистрированных capability.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}
