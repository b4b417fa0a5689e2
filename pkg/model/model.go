package model

import (
	"context"

	"github.com/platinummonkey/sourceroots/pkg/roots"
)

// SourceFolder is a folder of a content entry tagged with a root type.
// Properties hold the type-specific settings; for placeholder types they are
// a roots.UnknownProperties.
type SourceFolder struct {
	URL        string
	RootType   roots.RootType
	Properties any
}

// ChangeType retags the folder and replaces its properties
func (f *SourceFolder) ChangeType(t roots.RootType, props any) {
	f.RootType = t
	f.Properties = props
}

// ContentEntry is a content root of a module together with its source folders
type ContentEntry struct {
	URL           string
	SourceFolders []*SourceFolder
}

// ModifiableModel is the editable copy of a module's roots handed to
// Module.ModifyModel callbacks.
type ModifiableModel struct {
	Module         string
	ContentEntries []*ContentEntry
}

// Module is one module of a project. ModifyModel runs fn on a private copy of
// the module's roots and commits the copy only if fn returns true. Calls on the
// same module are serialized.
type Module interface {
	Name() string
	ModifyModel(ctx context.Context, fn func(*ModifiableModel) bool) (bool, error)
}

// Project is an open project
type Project interface {
	Name() string
	Modules(ctx context.Context) ([]Module, error)
}

// ProjectManager lists the currently open projects
type ProjectManager interface {
	OpenProjects(ctx context.Context) ([]Project, error)
}

// CloneEntries deep-copies content entries and their folders. Properties are
// shared; they are replaced through ChangeType, never mutated in place.
func CloneEntries(entries []*ContentEntry) []*ContentEntry {
	if entries == nil {
		return nil
	}

	clone := make([]*ContentEntry, len(entries))
	for i, entry := range entries {
		folders := make([]*SourceFolder, len(entry.SourceFolders))
		for j, folder := range entry.SourceFolders {
			f := *folder
			folders[j] = &f
		}
		clone[i] = &ContentEntry{
			URL:           entry.URL,
			SourceFolders: folders,
		}
	}

	return clone
}
