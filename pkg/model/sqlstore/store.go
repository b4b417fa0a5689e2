package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/model"
	"github.com/platinummonkey/sourceroots/pkg/roots"
)

// ErrNoSerializer is returned when a concrete folder's type has no serializer
var ErrNoSerializer = errors.New("no serializer registered for source root type")

// SerializerLookup finds the serializer currently registered for a type id
type SerializerLookup interface {
	Serializer(typeID string) (roots.Serializer, bool)
}

// Store persists project models in SQLite. Concrete folders store the blob
// their serializer produces; placeholder folders store the blob they carry.
type Store struct {
	db     *sql.DB
	lookup SerializerLookup
	log    *logrus.Logger
}

// OpenSQLite opens the database file at path
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; module commits are transactions anyway.
	db.SetMaxOpenConns(1)

	return db, nil
}

// NewStore creates a store and ensures its schema exists
func NewStore(db *sql.DB, lookup SerializerLookup, log *logrus.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("serializer lookup is required")
	}
	if log == nil {
		log = logrus.New()
	}

	s := &Store{
		db:     db,
		lookup: lookup,
		log:    log,
	}

	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return s, nil
}

func (s *Store) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS modules (
		project TEXT NOT NULL REFERENCES projects(name) ON DELETE CASCADE,
		name TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (project, name)
	);

	CREATE TABLE IF NOT EXISTS content_entries (
		project TEXT NOT NULL,
		module TEXT NOT NULL,
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		PRIMARY KEY (project, module, position),
		FOREIGN KEY (project, module) REFERENCES modules(project, name) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS source_folders (
		project TEXT NOT NULL,
		module TEXT NOT NULL,
		entry INTEGER NOT NULL,
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		type_id TEXT NOT NULL,
		for_tests INTEGER NOT NULL DEFAULT 0,
		is_unknown INTEGER NOT NULL DEFAULT 0,
		properties BLOB,
		PRIMARY KEY (project, module, entry, position),
		FOREIGN KEY (project, module, entry) REFERENCES content_entries(project, module, position) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_source_folders_type ON source_folders(type_id, is_unknown);
	`

	_, err := s.db.Exec(query)
	return err
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveModule replaces the stored roots of project/module with entries in one
// transaction, creating the project and module rows if needed.
func (s *Store) SaveModule(ctx context.Context, project, module string, entries []*model.ContentEntry) error {
	rows, err := s.encode(entries)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO projects (name) VALUES (?)`, project); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO modules (project, name, position)
		VALUES (?, ?, (SELECT COUNT(*) FROM modules WHERE project = ?))`,
		project, module, project); err != nil {
		return fmt.Errorf("failed to insert module: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_folders WHERE project = ? AND module = ?`, project, module); err != nil {
		return fmt.Errorf("failed to clear source folders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_entries WHERE project = ? AND module = ?`, project, module); err != nil {
		return fmt.Errorf("failed to clear content entries: %w", err)
	}

	for i, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO content_entries (project, module, position, url)
			VALUES (?, ?, ?, ?)`,
			project, module, i, entry.URL); err != nil {
			return fmt.Errorf("failed to insert content entry %s: %w", entry.URL, err)
		}
	}

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO source_folders (project, module, entry, position, url, type_id, for_tests, is_unknown, properties)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			project, module, row.entry, row.position, row.url, row.typeID, row.forTests, row.unknown, row.properties); err != nil {
			return fmt.Errorf("failed to insert source folder %s: %w", row.url, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type folderRow struct {
	entry      int
	position   int
	url        string
	typeID     string
	forTests   bool
	unknown    bool
	properties []byte
}

func (s *Store) encode(entries []*model.ContentEntry) ([]folderRow, error) {
	var rows []folderRow
	for i, entry := range entries {
		for j, folder := range entry.SourceFolders {
			row := folderRow{
				entry:    i,
				position: j,
				url:      folder.URL,
				typeID:   folder.RootType.TypeID(),
				forTests: folder.RootType.IsForTests(),
				unknown:  folder.RootType.IsUnknown(),
			}

			if row.unknown {
				switch p := folder.Properties.(type) {
				case roots.UnknownProperties:
					row.properties = p.Data
				case *roots.UnknownProperties:
					if p != nil {
						row.properties = p.Data
					}
				}
			} else if folder.Properties != nil {
				serializer, ok := s.lookup.Serializer(row.typeID)
				if !ok {
					return nil, fmt.Errorf("%w: %s", ErrNoSerializer, row.typeID)
				}
				blob, err := serializer.SaveProperties(folder.Properties)
				if err != nil {
					return nil, fmt.Errorf("failed to serialize properties of %s: %w", folder.URL, err)
				}
				row.properties = blob
			}

			rows = append(rows, row)
		}
	}

	return rows, nil
}

// ProjectNames lists the stored projects
func (s *Store) ProjectNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// LoadProject reads project into memory. Every module of the returned
// project writes its commits back through SaveModule.
func (s *Store) LoadProject(ctx context.Context, name string) (*model.MemoryProject, error) {
	moduleNames, err := s.moduleNames(ctx, name)
	if err != nil {
		return nil, err
	}

	project := model.NewMemoryProject(name)
	for _, moduleName := range moduleNames {
		entries, err := s.loadEntries(ctx, name, moduleName)
		if err != nil {
			return nil, err
		}

		module := project.AddModule(moduleName, entries...)
		module.SetCommitHook(func(ctx context.Context, module string, entries []*model.ContentEntry) error {
			return s.SaveModule(ctx, name, module, entries)
		})
	}

	return project, nil
}

// LoadWorkspace loads every stored project and opens it
func (s *Store) LoadWorkspace(ctx context.Context) (*model.Workspace, error) {
	names, err := s.ProjectNames(ctx)
	if err != nil {
		return nil, err
	}

	workspace := model.NewWorkspace()
	for _, name := range names {
		project, err := s.LoadProject(ctx, name)
		if err != nil {
			return nil, err
		}
		workspace.Open(project)
	}

	return workspace, nil
}

func (s *Store) moduleNames(ctx context.Context, project string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM modules WHERE project = ? ORDER BY position`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules of %s: %w", project, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

func (s *Store) loadEntries(ctx context.Context, project, module string) ([]*model.ContentEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, url FROM content_entries
		WHERE project = ? AND module = ?
		ORDER BY position`, project, module)
	if err != nil {
		return nil, fmt.Errorf("failed to load content entries of %s/%s: %w", project, module, err)
	}

	var entries []*model.ContentEntry
	byPosition := make(map[int]*model.ContentEntry)
	for rows.Next() {
		var position int
		entry := &model.ContentEntry{}
		if err := rows.Scan(&position, &entry.URL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan content entry: %w", err)
		}
		entries = append(entries, entry)
		byPosition[position] = entry
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	folders, err := s.db.QueryContext(ctx, `
		SELECT entry, url, type_id, for_tests, is_unknown, properties FROM source_folders
		WHERE project = ? AND module = ?
		ORDER BY entry, position`, project, module)
	if err != nil {
		return nil, fmt.Errorf("failed to load source folders of %s/%s: %w", project, module, err)
	}
	defer folders.Close()

	for folders.Next() {
		var row folderRow
		if err := folders.Scan(&row.entry, &row.url, &row.typeID, &row.forTests, &row.unknown, &row.properties); err != nil {
			return nil, fmt.Errorf("failed to scan source folder: %w", err)
		}
		entry, ok := byPosition[row.entry]
		if !ok {
			return nil, fmt.Errorf("source folder %s references missing content entry %d", row.url, row.entry)
		}
		entry.SourceFolders = append(entry.SourceFolders, s.decode(project, module, row))
	}

	return entries, folders.Err()
}

// decode builds a folder from a stored row. A concrete type whose serializer
// is gone comes back as a placeholder carrying the stored blob.
func (s *Store) decode(project, module string, row folderRow) *model.SourceFolder {
	folder := &model.SourceFolder{URL: row.url}

	if !row.unknown {
		if serializer, ok := s.lookup.Serializer(row.typeID); ok {
			props := serializer.DefaultProperties()
			if row.properties != nil {
				loaded, err := serializer.LoadProperties(row.properties)
				if err != nil {
					s.log.WithFields(logrus.Fields{
						"project": project,
						"module":  module,
						"folder":  row.url,
					}).WithError(err).Warn("Cannot load stored source root properties, using defaults")
				} else {
					props = loaded
				}
			}
			folder.ChangeType(serializer.Type(), props)
			return folder
		}
	}

	folder.ChangeType(roots.Unknown(row.typeID, row.forTests), roots.UnknownProperties{Data: row.properties})
	return folder
}
