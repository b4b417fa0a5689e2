package migration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/sourceroots/pkg/model"
	"github.com/platinummonkey/sourceroots/pkg/observability"
	"github.com/platinummonkey/sourceroots/pkg/roots"
)

// Direction names the two migrations
type Direction string

const (
	// Demote replaces concrete types that lost their serializer with placeholders
	Demote Direction = "demote"
	// Adopt replaces placeholders with concrete types that gained a serializer
	Adopt Direction = "adopt"
	// Settle does both against a complete set of served types
	Settle Direction = "settle"
)

// DefaultParallelism is the number of projects migrated concurrently
const DefaultParallelism = 4

// Options configures an Engine
type Options struct {
	Logger      *logrus.Logger
	Metrics     *observability.Metrics
	Parallelism int
}

// Engine retags source folders after the set of registered serializers changed
type Engine struct {
	log         *logrus.Logger
	metrics     *observability.Metrics
	parallelism int
}

// Result summarizes one migration of one project
type Result struct {
	RunID            string
	Project          string
	Direction        Direction
	ModulesCommitted int
	FoldersMigrated  int
	Fallbacks        int
	FailedModules    []string
}

// NewEngine creates a migration engine
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}

	return &Engine{
		log:         opts.Logger,
		metrics:     opts.Metrics,
		parallelism: opts.Parallelism,
	}
}

// DemoteToUnknown turns every folder of project whose concrete type is served
// by one of serializers into a placeholder carrying the folder's serialized
// properties.
func (e *Engine) DemoteToUnknown(ctx context.Context, project model.Project, serializers []roots.Serializer) (Result, error) {
	return e.migrate(ctx, project, Demote, serializers)
}

// AdoptKnownTypes turns every placeholder folder of project whose type id is
// served by one of serializers back into the concrete type.
func (e *Engine) AdoptKnownTypes(ctx context.Context, project model.Project, serializers []roots.Serializer) (Result, error) {
	return e.migrate(ctx, project, Adopt, serializers)
}

// MigrateAll runs one migration per project, several projects at a time. A
// failing project does not stop the others; the returned error joins every
// failure.
func (e *Engine) MigrateAll(ctx context.Context, projects []model.Project, direction Direction, serializers []roots.Serializer) ([]Result, error) {
	if len(serializers) == 0 {
		return nil, nil
	}
	return e.forEach(projects, func(project model.Project) (Result, error) {
		return e.migrate(ctx, project, direction, serializers)
	})
}

// Settle brings every folder of project in line with served, the complete
// set of types currently registered: placeholders of served types are
// adopted and concrete folders of other types are demoted. retired provides
// the serializers of types that are no longer served; a concrete folder
// whose type has none becomes a placeholder without properties.
func (e *Engine) Settle(ctx context.Context, project model.Project, served, retired []roots.Serializer) (Result, error) {
	return e.run(ctx, project, Settle, e.settle(indexSerializers(served), indexSerializers(retired)))
}

// SettleAll runs Settle for every project, several projects at a time
func (e *Engine) SettleAll(ctx context.Context, projects []model.Project, served, retired []roots.Serializer) ([]Result, error) {
	return e.forEach(projects, func(project model.Project) (Result, error) {
		return e.Settle(ctx, project, served, retired)
	})
}

func (e *Engine) forEach(projects []model.Project, fn func(model.Project) (Result, error)) ([]Result, error) {
	if len(projects) == 0 {
		return nil, nil
	}

	results := make([]Result, len(projects))
	errs := make([]error, len(projects))

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, project := range projects {
		i, project := i, project
		g.Go(func() error {
			results[i], errs[i] = fn(project)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (e *Engine) migrate(ctx context.Context, project model.Project, direction Direction, serializers []roots.Serializer) (Result, error) {
	if len(serializers) == 0 {
		return Result{Project: project.Name(), Direction: direction}, nil
	}

	var retag folderFunc
	switch direction {
	case Demote:
		retag = e.demote(indexSerializers(serializers))
	case Adopt:
		retag = e.adopt(indexSerializers(serializers))
	default:
		return Result{Project: project.Name(), Direction: direction}, fmt.Errorf("unknown migration direction: %s", direction)
	}

	return e.run(ctx, project, direction, retag)
}

func (e *Engine) run(ctx context.Context, project model.Project, direction Direction, retag folderFunc) (Result, error) {
	result := Result{
		RunID:     uuid.NewString(),
		Project:   project.Name(),
		Direction: direction,
	}

	log := e.log.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"project":   result.Project,
		"direction": direction,
	})
	start := time.Now()

	modules, err := project.Modules(ctx)
	if err != nil {
		e.observeRun(direction, "error", start)
		return result, fmt.Errorf("failed to list modules of project %s: %w", result.Project, err)
	}

	var errs []error
	for _, module := range modules {
		st, committed, err := e.migrateModule(ctx, module, retag, log)
		if err != nil {
			log.WithField("module", module.Name()).WithError(err).Error("Source root migration failed for module")
			result.FailedModules = append(result.FailedModules, module.Name())
			errs = append(errs, fmt.Errorf("module %s/%s: %w", result.Project, module.Name(), err))
			e.countCommit(direction, "error")
			continue
		}
		if !committed {
			continue
		}

		result.ModulesCommitted++
		result.FoldersMigrated += st.migrated
		result.Fallbacks += st.fallbacks
		e.countCommit(direction, "committed")
	}

	if e.metrics != nil {
		e.metrics.FoldersMigratedTotal.WithLabelValues(string(direction)).Add(float64(result.FoldersMigrated))
		e.metrics.MigrationFallbacksTotal.WithLabelValues(string(direction)).Add(float64(result.Fallbacks))
	}

	status := "success"
	if len(errs) > 0 {
		status = "partial"
	}
	e.observeRun(direction, status, start)

	if result.FoldersMigrated > 0 || len(errs) > 0 {
		log.WithFields(logrus.Fields{
			"modules_committed": result.ModulesCommitted,
			"folders_migrated":  result.FoldersMigrated,
			"fallbacks":         result.Fallbacks,
			"failed_modules":    len(result.FailedModules),
		}).Info("Migrated source roots")
	}

	return result, errors.Join(errs...)
}

type moduleStats struct {
	migrated  int
	fallbacks int
}

// folderFunc retags folder if it is affected and reports whether it did
type folderFunc func(folder *model.SourceFolder, st *moduleStats, log *logrus.Entry) bool

func (e *Engine) migrateModule(ctx context.Context, module model.Module, retag folderFunc, log *logrus.Entry) (st moduleStats, committed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.WithField("module", module.Name()).Debugf("Stack trace:\n%s", debug.Stack())
		}
	}()

	log = log.WithField("module", module.Name())
	committed, err = module.ModifyModel(ctx, func(m *model.ModifiableModel) bool {
		st = moduleStats{}
		changed := false
		for _, entry := range m.ContentEntries {
			for _, folder := range entry.SourceFolders {
				if retag(folder, &st, log) {
					changed = true
				}
			}
		}
		return changed
	})

	return st, committed, err
}

func (e *Engine) demote(serializers map[string]roots.Serializer) folderFunc {
	return func(folder *model.SourceFolder, st *moduleStats, log *logrus.Entry) bool {
		if folder.RootType.IsUnknown() {
			return false
		}
		s, ok := serializers[folder.RootType.TypeID()]
		if !ok {
			return false
		}
		demoteFolder(folder, s, st, log)
		return true
	}
}

func (e *Engine) settle(served, retired map[string]roots.Serializer) folderFunc {
	adopt := e.adopt(served)
	return func(folder *model.SourceFolder, st *moduleStats, log *logrus.Entry) bool {
		if folder.RootType.IsUnknown() {
			return adopt(folder, st, log)
		}
		if _, ok := served[folder.RootType.TypeID()]; ok {
			return false
		}
		demoteFolder(folder, retired[folder.RootType.TypeID()], st, log)
		return true
	}
}

// demoteFolder turns folder into a placeholder. s may be nil when nothing
// can serialize the folder's properties any more.
func demoteFolder(folder *model.SourceFolder, s roots.Serializer, st *moduleStats, log *logrus.Entry) {
	var data []byte
	switch {
	case folder.Properties == nil:
	case s == nil:
		log.WithFields(logrus.Fields{
			"folder": folder.URL,
			"type":   folder.RootType.TypeID(),
		}).Warn("No serializer for source root type, keeping placeholder without properties")
		st.fallbacks++
	default:
		blob, err := s.SaveProperties(folder.Properties)
		if err != nil {
			log.WithField("folder", folder.URL).WithError(err).Warn("Cannot serialize source root properties, keeping placeholder without properties")
			st.fallbacks++
		} else {
			data = blob
		}
	}

	folder.ChangeType(
		roots.Unknown(folder.RootType.TypeID(), folder.RootType.IsForTests()),
		roots.UnknownProperties{Data: data},
	)
	st.migrated++
}

func (e *Engine) adopt(serializers map[string]roots.Serializer) folderFunc {
	return func(folder *model.SourceFolder, st *moduleStats, log *logrus.Entry) bool {
		if !folder.RootType.IsUnknown() {
			return false
		}
		s, ok := serializers[folder.RootType.TypeID()]
		if !ok {
			return false
		}

		props := s.DefaultProperties()
		if data := placeholderData(folder.Properties); data != nil {
			loaded, err := s.LoadProperties(data)
			if err != nil {
				log.WithField("folder", folder.URL).WithError(err).Warn("Cannot load stored source root properties, using defaults")
				st.fallbacks++
			} else {
				props = loaded
			}
		}

		folder.ChangeType(s.Type(), props)
		st.migrated++
		return true
	}
}

func placeholderData(props any) []byte {
	switch p := props.(type) {
	case roots.UnknownProperties:
		return p.Data
	case *roots.UnknownProperties:
		if p != nil {
			return p.Data
		}
	}
	return nil
}

func indexSerializers(serializers []roots.Serializer) map[string]roots.Serializer {
	index := make(map[string]roots.Serializer, len(serializers))
	for _, s := range serializers {
		index[s.TypeID()] = s
	}
	return index
}

func (e *Engine) observeRun(direction Direction, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.MigrationRunsTotal.WithLabelValues(string(direction), status).Inc()
	e.metrics.MigrationDuration.WithLabelValues(string(direction)).Observe(time.Since(start).Seconds())
}

func (e *Engine) countCommit(direction Direction, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ModuleCommitsTotal.WithLabelValues(string(direction), status).Inc()
}
