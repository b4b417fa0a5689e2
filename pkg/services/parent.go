package services

import "errors"

// parentLoader delegates to a parent context before its own, so everything
// the parent publishes stays visible through the child.
type parentLoader struct {
	ClassLoader
	parent ClassLoader
}

// WithParent returns a loader that sees parent's resources and classes in
// addition to child's. The result keeps child's id.
func WithParent(child, parent ClassLoader) ClassLoader {
	if parent == nil {
		return child
	}
	return &parentLoader{ClassLoader: child, parent: parent}
}

func (l *parentLoader) Resources(name string) ([]Resource, error) {
	inherited, err := l.parent.Resources(name)
	if err != nil {
		return nil, err
	}
	own, err := l.ClassLoader.Resources(name)
	if err != nil {
		return nil, err
	}
	return append(inherited, own...), nil
}

func (l *parentLoader) Resolve(className string) (*Class, error) {
	class, err := l.parent.Resolve(className)
	if errors.Is(err, ErrClassNotFound) {
		return l.ClassLoader.Resolve(className)
	}
	return class, err
}
