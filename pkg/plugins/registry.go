package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/async"
	"github.com/platinummonkey/sourceroots/pkg/extensions"
	"github.com/platinummonkey/sourceroots/pkg/migration"
	"github.com/platinummonkey/sourceroots/pkg/model"
	"github.com/platinummonkey/sourceroots/pkg/observability"
	"github.com/platinummonkey/sourceroots/pkg/roots"
	"github.com/platinummonkey/sourceroots/pkg/services"
)

const (
	// DefaultCacheSize is the number of serializer snapshots kept
	DefaultCacheSize = 8
	// DefaultCacheTTL bounds how long a snapshot is kept
	DefaultCacheTTL = 10 * time.Minute
)

// StampListener is told about every modification stamp change
type StampListener interface {
	StampChanged(ctx context.Context, stamp int64)
}

// StampListenerFunc adapts a function to StampListener
type StampListenerFunc func(ctx context.Context, stamp int64)

func (f StampListenerFunc) StampChanged(ctx context.Context, stamp int64) {
	f(ctx, stamp)
}

// Options configures a Registry
type Options struct {
	Logger  *logrus.Logger
	Metrics *observability.Metrics

	// BaseLoader is used for service lookups when no plugin is active
	BaseLoader services.ClassLoader
	// Projects lists the open projects migrations run against. Nil disables migration.
	Projects model.ProjectManager
	// Engine runs migrations. Nil means a default engine.
	Engine *migration.Engine

	CacheSize int
	CacheTTL  time.Duration
}

// state is the published registry state. It is replaced, never mutated.
type state struct {
	plugins []*Descriptor
	stamp   int64
}

// Registry is the set of active plugins contributing source root types.
//
// Readers (Plugins, ModificationStamp, LoadExtensions, Serializers) never
// block and always see a complete plugin list. Membership changes are
// serialized; each one diffs the serializer set before and after the change
// and migrates open projects accordingly.
type Registry struct {
	log      *logrus.Logger
	metrics  *observability.Metrics
	base     services.ClassLoader
	projects model.ProjectManager
	engine   *migration.Engine

	current atomic.Pointer[state]
	// mu serializes membership changes and the migrations they trigger
	mu sync.Mutex
	// known holds every serializer seen under mu, by type id. Folders of types
	// no longer served are demoted through it.
	known map[string]roots.Serializer

	// cacheMu makes publishing a state and caching its snapshot atomic
	cacheMu   sync.Mutex
	snapshots *expirable.LRU[int64, *extensions.Set[roots.Serializer]]

	listenersMu sync.RWMutex
	listeners   []StampListener

	sourcesMu sync.Mutex
	closed    bool
	sources   sync.WaitGroup
	cancel    context.CancelFunc
	ctx       context.Context
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Engine == nil {
		opts.Engine = migration.NewEngine(migration.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		log:       opts.Logger,
		metrics:   opts.Metrics,
		base:      opts.BaseLoader,
		projects:  opts.Projects,
		engine:    opts.Engine,
		known:     make(map[string]roots.Serializer),
		snapshots: expirable.NewLRU[int64, *extensions.Set[roots.Serializer]](opts.CacheSize, nil, opts.CacheTTL),
		ctx:       ctx,
		cancel:    cancel,
	}
	r.current.Store(&state{})

	return r
}

// ModificationStamp returns the current stamp. It only grows.
func (r *Registry) ModificationStamp() int64 {
	return r.current.Load().stamp
}

// Plugins returns the active plugins in arrival order
func (r *Registry) Plugins() []*Descriptor {
	plugins := r.current.Load().plugins
	result := make([]*Descriptor, len(plugins))
	copy(result, plugins)
	return result
}

// Has reports whether a plugin with id is active
func (r *Registry) Has(id string) bool {
	return indexOf(r.current.Load().plugins, id) >= 0
}

// SetProjects replaces the project manager migrations run against. It waits
// for any membership change in progress.
func (r *Registry) SetProjects(projects model.ProjectManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = projects
}

// Reconcile brings the open projects in line with the registered types:
// placeholders of served types are adopted and concrete folders of types no
// plugin serves are demoted. Run it after SetProjects, since absorbed plugins
// and events applied without projects migrate nothing. The stamp does not
// move.
func (r *Registry) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.snapshot(r.current.Load().plugins)
	if err != nil {
		return fmt.Errorf("failed to load serializers: %w", err)
	}

	return r.settle(ctx, set)
}

// AddStampListener registers l for stamp changes
func (r *Registry) AddStampListener(l StampListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// LoadExtensions loads every implementation of service published by the
// active plugins, or by the base loader when no plugin is active.
func (r *Registry) LoadExtensions(service string) ([]any, error) {
	return r.loadExtensions(r.current.Load().plugins, service)
}

// LoadExtensionsAs is LoadExtensions with the instances converted to T
func LoadExtensionsAs[T any](r *Registry, service string) ([]T, error) {
	instances, err := r.LoadExtensions(service)
	if err != nil {
		return nil, err
	}
	return services.Cast[T](instances, service)
}

func (r *Registry) loadExtensions(plugins []*Descriptor, service string) ([]any, error) {
	loaders := r.loaders(plugins)

	instances, err := services.Load(loaders, service)
	if r.metrics != nil {
		r.metrics.ServiceLoadsTotal.WithLabelValues(service).Inc()
		if err != nil {
			r.metrics.ServiceLoadErrorsTotal.WithLabelValues(service).Inc()
		}
	}

	return instances, err
}

func (r *Registry) loaders(plugins []*Descriptor) []services.ClassLoader {
	seen := make(map[string]struct{}, len(plugins))
	var loaders []services.ClassLoader
	for _, d := range plugins {
		if _, ok := seen[d.Loader.ID()]; ok {
			continue
		}
		seen[d.Loader.ID()] = struct{}{}
		loaders = append(loaders, d.Loader)
	}

	if len(loaders) == 0 && r.base != nil {
		loaders = append(loaders, r.base)
	}

	return loaders
}

// Serializers returns the serializers currently contributed, keyed by type id.
// Results are cached per modification stamp.
func (r *Registry) Serializers() (*extensions.Set[roots.Serializer], error) {
	st := r.current.Load()
	if set, ok := r.snapshots.Get(st.stamp); ok {
		if r.metrics != nil {
			r.metrics.SnapshotCacheHitsTotal.Inc()
		}
		return set, nil
	}
	if r.metrics != nil {
		r.metrics.SnapshotCacheMissesTotal.Inc()
	}

	set, err := r.serializers(st.plugins)
	if err != nil {
		return nil, err
	}
	r.cache(st, set)

	return set, nil
}

// cache stores set for st unless st was replaced meanwhile
func (r *Registry) cache(st *state, set *extensions.Set[roots.Serializer]) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if r.current.Load() == st {
		r.snapshots.Add(st.stamp, set)
	}
}

// Serializer returns the serializer currently registered for typeID
func (r *Registry) Serializer(typeID string) (roots.Serializer, bool) {
	set, err := r.Serializers()
	if err != nil {
		r.log.WithError(err).Warn("Cannot load source root serializers")
		return nil, false
	}
	return set.Get(typeID)
}

func (r *Registry) serializers(plugins []*Descriptor) (*extensions.Set[roots.Serializer], error) {
	instances, err := r.loadExtensions(plugins, roots.SerializerExtensionService)
	if err != nil {
		return nil, err
	}
	exts, err := services.Cast[roots.SerializerExtension](instances, roots.SerializerExtensionService)
	if err != nil {
		return nil, err
	}

	return extensions.Aggregate(exts, roots.ExtensionSerializers, roots.SerializerKey), nil
}

// snapshot is serializers for use under mu. It remembers what it loaded.
func (r *Registry) snapshot(plugins []*Descriptor) (*extensions.Set[roots.Serializer], error) {
	set, err := r.serializers(plugins)
	if err != nil {
		return nil, err
	}
	for _, s := range set.Values() {
		r.known[s.TypeID()] = s
	}
	return set, nil
}

// OnPluginAdded activates d. Types that only d serves are adopted in every
// open project. Adding an active plugin is a no-op. A plugin whose service
// configuration cannot be loaded is rejected and the registry is unchanged.
func (r *Registry) OnPluginAdded(ctx context.Context, d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	if indexOf(prev.plugins, d.ID()) >= 0 {
		r.countEvent(EventAdded, "duplicate")
		return nil
	}

	plugins := make([]*Descriptor, 0, len(prev.plugins)+1)
	plugins = append(plugins, prev.plugins...)
	plugins = append(plugins, d)

	after, err := r.snapshot(plugins)
	if err != nil {
		r.countEvent(EventAdded, "rejected")
		return fmt.Errorf("plugin %s rejected: %w", d.ID(), err)
	}
	before, beforeErr := r.snapshot(prev.plugins)

	next := r.publish(plugins, prev.stamp+1)
	r.cache(next, after)

	log := r.log.WithFields(logrus.Fields{
		"plugin": d.ID(),
		"stamp":  next.stamp,
	})
	log.Info("Plugin added")
	r.notifyStamp(ctx, next.stamp)
	r.countEvent(EventAdded, "applied")

	if beforeErr != nil {
		log.WithError(beforeErr).Warn("Previous source root types unavailable, settling open projects")
		return r.settle(ctx, after)
	}

	added := after.Minus(before)
	if added.Len() == 0 {
		return nil
	}

	log.WithField("types", added.Keys()).Info("Adopting source root types")
	return r.migrate(ctx, migration.Adopt, added.Values())
}

// OnPluginRemoved deactivates d. Types no remaining plugin serves are demoted
// to placeholders in every open project. Removing an inactive plugin is a
// no-op. Removal always completes, even when the previous types cannot be
// loaded.
func (r *Registry) OnPluginRemoved(ctx context.Context, d *Descriptor) error {
	if d == nil || d.Manifest == nil {
		return ErrInvalidDescriptor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	i := indexOf(prev.plugins, d.ID())
	if i < 0 {
		r.countEvent(EventRemoved, "absent")
		return nil
	}

	before, beforeErr := r.snapshot(prev.plugins)

	plugins := make([]*Descriptor, 0, len(prev.plugins)-1)
	plugins = append(plugins, prev.plugins[:i]...)
	plugins = append(plugins, prev.plugins[i+1:]...)
	next := r.publish(plugins, prev.stamp+1)

	log := r.log.WithFields(logrus.Fields{
		"plugin": d.ID(),
		"stamp":  next.stamp,
	})
	log.Info("Plugin removed")
	r.notifyStamp(ctx, next.stamp)

	after, err := r.snapshot(next.plugins)
	if err != nil {
		r.countEvent(EventRemoved, "error")
		return fmt.Errorf("failed to load serializers after removing %s: %w", d.ID(), err)
	}
	r.cache(next, after)
	r.countEvent(EventRemoved, "applied")

	if beforeErr != nil {
		log.WithError(beforeErr).Warn("Previous source root types unavailable, settling open projects")
		return r.settle(ctx, after)
	}

	removed := before.Minus(after)
	if removed.Len() == 0 {
		return nil
	}

	log.WithField("types", removed.Keys()).Info("Demoting source root types")
	return r.migrate(ctx, migration.Demote, removed.Values())
}

// absorb activates plugins that were already loaded when a source was
// attached. Nothing is migrated and the stamp does not move. Plugins whose
// service configuration cannot be loaded are skipped.
func (r *Registry) absorb(snapshot []*Descriptor) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	plugins := append([]*Descriptor(nil), prev.plugins...)
	var set *extensions.Set[roots.Serializer]
	absorbed := 0
	for _, d := range snapshot {
		if d.validate() != nil || indexOf(plugins, d.ID()) >= 0 {
			continue
		}
		candidate := append(plugins[:len(plugins):len(plugins)], d)
		loaded, err := r.snapshot(candidate)
		if err != nil {
			r.log.WithField("plugin", d.ID()).WithError(err).Error("Rejected plugin with broken source root configuration")
			r.countEvent(EventAdded, "rejected")
			continue
		}
		plugins, set = candidate, loaded
		absorbed++
	}
	if absorbed == 0 {
		return 0
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	next := r.publish(plugins, prev.stamp)
	// The stamp did not move, so snapshots cached under it are stale.
	r.snapshots.Purge()
	r.snapshots.Add(next.stamp, set)

	return absorbed
}
func (r *Registry) publish(plugins []*Descriptor, stamp int64) *state {
	next := &state{plugins: plugins, stamp: stamp}
	r.current.Store(next)

	if r.metrics != nil {
		r.metrics.ActivePlugins.Set(float64(len(plugins)))
		r.metrics.ModificationStamp.Set(float64(stamp))
	}

	return next
}

func (r *Registry) migrate(ctx context.Context, direction migration.Direction, serializers []roots.Serializer) error {
	return r.forProjects(ctx, direction, func(projects []model.Project) error {
		_, err := r.engine.MigrateAll(ctx, projects, direction, serializers)
		return err
	})
}

// settle migrates every open project to served, demoting the types it lacks
// through the serializers seen earlier
func (r *Registry) settle(ctx context.Context, served *extensions.Set[roots.Serializer]) error {
	var retired []roots.Serializer
	for id, s := range r.known {
		if !served.Has(id) {
			retired = append(retired, s)
		}
	}

	return r.forProjects(ctx, migration.Settle, func(projects []model.Project) error {
		_, err := r.engine.SettleAll(ctx, projects, served.Values(), retired)
		return err
	})
}

func (r *Registry) forProjects(ctx context.Context, direction migration.Direction, fn func([]model.Project) error) error {
	if r.projects == nil {
		return nil
	}

	projects, err := r.projects.OpenProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open projects: %w", err)
	}

	if err := fn(projects); err != nil {
		return fmt.Errorf("source root migration (%s) failed: %w", direction, err)
	}

	return nil
}

func (r *Registry) notifyStamp(ctx context.Context, stamp int64) {
	r.listenersMu.RLock()
	listeners := append([]StampListener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l.StampChanged(ctx, stamp)
	}
}

func (r *Registry) countEvent(kind EventKind, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.PluginEventsTotal.WithLabelValues("registry", string(kind), outcome).Inc()
}

// Attach absorbs the plugins src already has loaded and then applies its live
// events, in order, on a background goroutine until src closes its event
// channel or the registry is closed.
func (r *Registry) Attach(ctx context.Context, src Source) error {
	r.sourcesMu.Lock()
	defer r.sourcesMu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}

	snapshot, events, err := src.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open plugin source %s: %w", src.Name(), err)
	}

	absorbed := r.absorb(snapshot)
	r.log.WithFields(logrus.Fields{
		"source":   src.Name(),
		"absorbed": absorbed,
	}).Info("Attached plugin source")

	async.Go(r.ctx, &r.sources, r.log, "plugin source "+src.Name(), 0, func(loopCtx context.Context) error {
		return r.run(loopCtx, src.Name(), events)
	})

	return nil
}

func (r *Registry) run(ctx context.Context, source string, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, ev); err != nil {
				r.log.WithFields(logrus.Fields{
					"source": source,
					"plugin": ev.Descriptor.ID(),
					"event":  ev.Kind,
				}).WithError(err).Error("Failed to apply plugin event")
			}
		}
	}
}

func (r *Registry) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventAdded:
		return r.OnPluginAdded(ctx, ev.Descriptor)
	case EventRemoved:
		return r.OnPluginRemoved(ctx, ev.Descriptor)
	default:
		return fmt.Errorf("unknown plugin event kind: %s", ev.Kind)
	}
}

// Close stops applying source events and waits for the source loops to exit
func (r *Registry) Close() error {
	r.sourcesMu.Lock()
	if r.closed {
		r.sourcesMu.Unlock()
		return nil
	}
	r.closed = true
	r.sourcesMu.Unlock()

	r.cancel()
	r.sources.Wait()
	return nil
}

func indexOf(plugins []*Descriptor, id string) int {
	for i, d := range plugins {
		if d.ID() == id {
			return i
		}
	}
	return -1
}

// IsConfigurationError reports whether err came from a broken service configuration
func IsConfigurationError(err error) bool {
	return errors.Is(err, services.ErrServiceConfiguration)
}
