package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/services"
)

// DirSourceOptions configures a DirSource
type DirSourceOptions struct {
	// Dir holds one subdirectory per plugin, each with a plugin.yaml
	Dir     string
	Channel Channel
	// Parent is the class-loading context every plugin inherits from
	Parent services.ClassLoader
	// Classes resolves class names; nil means the process-wide table
	Classes *services.ClassTable
	Logger  *logrus.Logger
}

// DirSource is a Source backed by a plugin directory watched with fsnotify.
// A subdirectory appearing with a valid plugin.yaml is an added plugin; its
// manifest disappearing is a removed plugin.
type DirSource struct {
	opts DirSourceOptions
	log  *logrus.Logger

	watcher *fsnotify.Watcher
	// known is owned by the watch goroutine once Open returns
	known map[string]*Descriptor
}

// NewDirSource creates a directory source
func NewDirSource(opts DirSourceOptions) *DirSource {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Channel == "" {
		opts.Channel = ChannelBuild
	}

	return &DirSource{
		opts:  opts,
		log:   opts.Logger,
		known: make(map[string]*Descriptor),
	}
}

func (s *DirSource) Name() string {
	return fmt.Sprintf("%s:%s", s.opts.Channel, s.opts.Dir)
}

// Open scans the directory for plugins and starts watching it. The event
// channel is closed when ctx is done or the watcher fails.
func (s *DirSource) Open(ctx context.Context) ([]*Descriptor, <-chan Event, error) {
	if s.watcher != nil {
		return nil, nil, errSourceOpened
	}

	if err := os.MkdirAll(s.opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create plugin directory %s: %w", s.opts.Dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.opts.Dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch %s: %w", s.opts.Dir, err)
	}
	s.watcher = watcher

	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to read plugin directory %s: %w", s.opts.Dir, err)
	}

	var snapshot []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(s.opts.Dir, entry.Name())
		if err := watcher.Add(pluginDir); err != nil {
			s.log.Warnf("Failed to watch plugin directory %s: %v", pluginDir, err)
		}

		d, err := s.LoadPlugin(pluginDir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.log.Warnf("Failed to load plugin from %s: %v", pluginDir, err)
			}
			continue
		}
		s.known[entry.Name()] = d
		snapshot = append(snapshot, d)
	}

	events := make(chan Event)
	go s.watch(ctx, events)

	return snapshot, events, nil
}

// LoadPlugin reads the plugin in pluginDir and builds its descriptor
func (s *DirSource) LoadPlugin(pluginDir string) (*Descriptor, error) {
	manifest, err := LoadManifestFromDir(pluginDir)
	if err != nil {
		return nil, err
	}
	if err := CheckManifest(manifest); err != nil {
		return nil, err
	}
	if manifest.Channel != "" && manifest.Channel != s.opts.Channel {
		return nil, fmt.Errorf("plugin %s is published on channel %s, not %s", manifest.ID, manifest.Channel, s.opts.Channel)
	}

	loader, err := services.NewDirLoader(manifest.ID, pluginDir, s.opts.Classes)
	if err != nil {
		return nil, err
	}
	// A removed plugin's directory is usually gone before its event is applied
	if err := loader.Preload(); err != nil {
		return nil, err
	}

	return &Descriptor{
		Manifest: manifest,
		Path:     loader.Root(),
		Loader:   services.WithParent(loader, s.opts.Parent),
		LoadedAt: time.Now(),
	}, nil
}

func (s *DirSource) watch(ctx context.Context, events chan<- Event) {
	defer close(events)
	defer s.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			name, ok := s.pluginName(event.Name)
			if !ok {
				continue
			}

			if event.Op&fsnotify.Create != 0 && event.Name == filepath.Join(s.opts.Dir, name) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := s.watcher.Add(event.Name); err != nil {
						s.log.Warnf("Failed to watch plugin directory %s: %v", event.Name, err)
					}
				}
			}

			for _, ev := range s.rescan(name) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithField("dir", s.opts.Dir).WithError(err).Warn("Plugin watcher error")
		}
	}
}

// pluginName returns the plugin subdirectory an event path belongs to
func (s *DirSource) pluginName(path string) (string, bool) {
	rel, err := filepath.Rel(s.opts.Dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return strings.Split(rel, string(filepath.Separator))[0], true
}

// rescan compares what is on disk for plugin name with what was reported
func (s *DirSource) rescan(name string) []Event {
	pluginDir := filepath.Join(s.opts.Dir, name)
	previous, wasKnown := s.known[name]

	current, err := s.LoadPlugin(pluginDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			// A half-written manifest shows up here; the next write retries.
			s.log.Debugf("Plugin in %s not loadable yet: %v", pluginDir, err)
			return nil
		}
		if !wasKnown {
			return nil
		}
		delete(s.known, name)
		return []Event{{Kind: EventRemoved, Descriptor: previous}}
	}

	if wasKnown {
		if previous.ID() == current.ID() {
			return nil
		}
		// Manifest rewritten with another id: the old plugin is gone.
		s.known[name] = current
		return []Event{
			{Kind: EventRemoved, Descriptor: previous},
			{Kind: EventAdded, Descriptor: current},
		}
	}

	s.known[name] = current
	return []Event{{Kind: EventAdded, Descriptor: current}}
}
