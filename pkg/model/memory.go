package model

import (
	"context"
	"fmt"
	"sync"
)

// CommitHook persists a module's new roots before they become visible. A hook
// error aborts the commit.
type CommitHook func(ctx context.Context, module string, entries []*ContentEntry) error

// MemoryModule keeps a module's roots in memory
type MemoryModule struct {
	name    string
	mu      sync.Mutex
	entries []*ContentEntry
	commits int
	hook    CommitHook
}

// NewMemoryModule creates a module holding entries
func NewMemoryModule(name string, entries []*ContentEntry) *MemoryModule {
	return &MemoryModule{
		name:    name,
		entries: CloneEntries(entries),
	}
}

// SetCommitHook installs hook; nil removes it
func (m *MemoryModule) SetCommitHook(hook CommitHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Name returns the module name
func (m *MemoryModule) Name() string {
	return m.name
}

// ModifyModel runs fn on a copy of the module's roots and commits it when fn
// returns true.
func (m *MemoryModule) ModifyModel(ctx context.Context, fn func(*ModifiableModel) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model := &ModifiableModel{
		Module:         m.name,
		ContentEntries: CloneEntries(m.entries),
	}

	if !fn(model) {
		return false, nil
	}

	if m.hook != nil {
		if err := m.hook(ctx, m.name, model.ContentEntries); err != nil {
			return false, fmt.Errorf("failed to commit module %s: %w", m.name, err)
		}
	}

	m.entries = model.ContentEntries
	m.commits++
	return true, nil
}

// ContentEntries returns a copy of the committed roots
func (m *MemoryModule) ContentEntries() []*ContentEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return CloneEntries(m.entries)
}

// Commits returns how many modifications were committed
func (m *MemoryModule) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.commits
}

// MemoryProject is a project whose modules live in memory
type MemoryProject struct {
	name    string
	mu      sync.RWMutex
	modules []*MemoryModule
}

// NewMemoryProject creates an empty project
func NewMemoryProject(name string) *MemoryProject {
	return &MemoryProject{name: name}
}

// Name returns the project name
func (p *MemoryProject) Name() string {
	return p.name
}

// AddModule creates a module holding entries and appends it to the project
func (p *MemoryProject) AddModule(name string, entries ...*ContentEntry) *MemoryModule {
	module := NewMemoryModule(name, entries)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.modules = append(p.modules, module)

	return module
}

// Module returns the module called name
func (p *MemoryProject) Module(name string) (*MemoryModule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.modules {
		if m.name == name {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the project's modules in creation order
func (p *MemoryProject) Modules(ctx context.Context) ([]Module, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	modules := make([]Module, len(p.modules))
	for i, m := range p.modules {
		modules[i] = m
	}
	return modules, nil
}

// Workspace is a ProjectManager over in-memory projects
type Workspace struct {
	mu       sync.RWMutex
	projects []Project
}

// NewWorkspace creates a workspace with the given projects open
func NewWorkspace(projects ...Project) *Workspace {
	return &Workspace{projects: projects}
}

// Open adds a project to the open set
func (w *Workspace) Open(p Project) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.projects = append(w.projects, p)
}

// Close removes the project called name from the open set
func (w *Workspace) Close(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.projects[:0:0]
	for _, p := range w.projects {
		if p.Name() != name {
			kept = append(kept, p)
		}
	}
	w.projects = kept
}

// OpenProjects returns the open projects
func (w *Workspace) OpenProjects(ctx context.Context) ([]Project, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return append([]Project(nil), w.projects...), nil
}
