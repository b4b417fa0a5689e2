package services

import (
	"fmt"
	"sync"
)

// ClassTable maps implementation names to factories. Providers register into a
// table at init time; class loaders resolve names against it.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates an empty class table
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Class),
	}
}

// Register adds a factory under name
func (t *ClassTable) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("cannot register class with empty name")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for class %s", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.classes[name]; exists {
		return fmt.Errorf("class already registered: %s", name)
	}

	t.classes[name] = &Class{Name: name, New: factory}
	return nil
}

// Lookup returns the class registered under name
func (t *ClassTable) Lookup(name string) (*Class, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	class, exists := t.classes[name]
	return class, exists
}

// defaultClasses is the process-wide table that init-time providers use.
var defaultClasses = NewClassTable()

// DefaultClasses returns the process-wide class table
func DefaultClasses() *ClassTable {
	return defaultClasses
}

// Register adds a factory to the process-wide class table. It panics on
// duplicate names, the same way database/sql.Register does.
func Register(name string, factory Factory) {
	if err := defaultClasses.Register(name, factory); err != nil {
		panic(err)
	}
}

// Instance adapts a zero-argument constructor to a Factory.
func Instance[T any](constructor func() T) Factory {
	return func() (any, error) {
		return constructor(), nil
	}
}
