package services

import (
	"io"
	"path"
	"strings"
)

// ServicesDir is the directory, relative to a class-loading context root, that
// holds one provider-configuration file per service.
const ServicesDir = "META-INF/services"

// ResourceName returns the resource path that lists implementations of service.
func ResourceName(service string) string {
	return path.Join(ServicesDir, service)
}

// Resource is a readable file exposed by a ClassLoader.
type Resource interface {
	// Location is the resolved absolute location of the resource. Two
	// loaders that reach the same physical file return the same location.
	Location() string
	Open() (io.ReadCloser, error)
}

// ClassLoader is a class-loading context: it can enumerate resources by name
// and resolve implementation names to classes.
type ClassLoader interface {
	ID() string
	Resources(name string) ([]Resource, error)
	Resolve(className string) (*Class, error)
}

// Class is a resolved implementation. Resolving a class never instantiates it.
type Class struct {
	Name string
	New  Factory
}

// Factory creates a new instance of a class.
type Factory func() (any, error)

// ParseClassNames reads a provider-configuration file: one fully-qualified
// implementation name per line, '#' starts a comment, blank lines are skipped.
func ParseClassNames(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}

	return names, nil
}
