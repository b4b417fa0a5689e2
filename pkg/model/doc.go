// Package model describes the project model that source root migration
// operates on: projects contain modules, modules contain content entries and
// content entries contain source folders.
//
// The model is owned by the host. This package defines the interfaces the
// registry needs (ProjectManager, Project, Module) plus an in-memory
// implementation; pkg/model/sqlstore persists the in-memory model in SQLite.
//
// # Modifying a module
//
//	committed, err := module.ModifyModel(ctx, func(m *model.ModifiableModel) bool {
//		changed := false
//		for _, entry := range m.ContentEntries {
//			for _, folder := range entry.SourceFolders {
//				// retag folders
//			}
//		}
//		return changed
//	})
//
// The callback sees a private copy; returning false discards it.
package model
