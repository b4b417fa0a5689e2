package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// ErrClassNotFound is returned when a loader cannot resolve a class name
var ErrClassNotFound = errors.New("class not found")

// fileResource is a resource backed by a file on disk
type fileResource struct {
	path string
}

func (r fileResource) Location() string {
	return r.path
}

func (r fileResource) Open() (io.ReadCloser, error) {
	return os.Open(r.path)
}

// memResource is a resource read into memory by DirLoader.Preload
type memResource struct {
	location string
	data     []byte
}

func (r memResource) Location() string {
	return r.location
}

func (r memResource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.data)), nil
}

// DirLoader is a class-loading context rooted at a plugin directory.
type DirLoader struct {
	id      string
	root    string
	classes *ClassTable

	// preloaded holds the service declarations once Preload ran, keyed by
	// resource name
	preloaded map[string]memResource
}

// NewDirLoader creates a loader rooted at dir. Class names resolve against
// classes, or the process-wide table when classes is nil.
func NewDirLoader(id, dir string, classes *ClassTable) (*DirLoader, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve loader root %s: %w", dir, err)
	}
	if classes == nil {
		classes = DefaultClasses()
	}

	return &DirLoader{
		id:      id,
		root:    root,
		classes: classes,
	}, nil
}

// ID returns the loader id
func (l *DirLoader) ID() string {
	return l.id
}

// Root returns the absolute root directory
func (l *DirLoader) Root() string {
	return l.root
}

// Preload reads every service declaration under the loader root into
// memory. From then on Resources answers from memory only, even after the
// directory is deleted.
func (l *DirLoader) Preload() error {
	preloaded := make(map[string]memResource)

	dir := filepath.Join(l.root, filepath.FromSlash(ServicesDir))
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := path.Join(ServicesDir, filepath.ToSlash(rel))

		resources, err := l.Resources(name)
		if err != nil {
			return err
		}
		for _, r := range resources {
			data, err := os.ReadFile(r.Location())
			if err != nil {
				return err
			}
			preloaded[name] = memResource{location: r.Location(), data: data}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to preload services of %s: %w", l.id, err)
	}

	l.preloaded = preloaded
	return nil
}

// Resources returns the file named name under the loader root, if present
func (l *DirLoader) Resources(name string) ([]Resource, error) {
	if l.preloaded != nil {
		if r, ok := l.preloaded[name]; ok {
			return []Resource{r}, nil
		}
		return nil, nil
	}

	p := filepath.Join(l.root, filepath.FromSlash(name))

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("resource %s is a directory", p)
	}

	// Symlinked plugin roots must dedupe against the real file.
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}

	return []Resource{fileResource{path: p}}, nil
}

// Resolve looks up className in the loader's class table
func (l *DirLoader) Resolve(className string) (*Class, error) {
	return resolve(l.classes, className)
}

// fsResource is a resource inside an fs.FS
type fsResource struct {
	fsys     fs.FS
	name     string
	location string
}

func (r fsResource) Location() string {
	return r.location
}

func (r fsResource) Open() (io.ReadCloser, error) {
	return r.fsys.Open(r.name)
}

// FSLoader is a class-loading context over an fs.FS, typically an embedded
// tree shipped inside the binary.
type FSLoader struct {
	id      string
	fsys    fs.FS
	classes *ClassTable
}

// NewFSLoader creates a loader over fsys
func NewFSLoader(id string, fsys fs.FS, classes *ClassTable) *FSLoader {
	if classes == nil {
		classes = DefaultClasses()
	}

	return &FSLoader{
		id:      id,
		fsys:    fsys,
		classes: classes,
	}
}

// ID returns the loader id
func (l *FSLoader) ID() string {
	return l.id
}

// Resources returns the entry named name, if present
func (l *FSLoader) Resources(name string) ([]Resource, error) {
	info, err := fs.Stat(l.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("resource %s is a directory", name)
	}

	return []Resource{fsResource{
		fsys:     l.fsys,
		name:     name,
		location: l.id + "!/" + name,
	}}, nil
}

// Resolve looks up className in the loader's class table
func (l *FSLoader) Resolve(className string) (*Class, error) {
	return resolve(l.classes, className)
}

func resolve(classes *ClassTable, className string) (*Class, error) {
	class, ok := classes.Lookup(className)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, className)
	}
	return class, nil
}
