package services

import (
	"errors"
	"fmt"
)

// ErrServiceConfiguration marks every failure to load a service: unreadable
// provider files, unknown classes and classes that cannot be instantiated.
var ErrServiceConfiguration = errors.New("service configuration error")

// ConfigurationError describes why a service could not be loaded
type ConfigurationError struct {
	Service string
	Class   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As
func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrServiceConfiguration}
	}
	return []error{ErrServiceConfiguration, e.Err}
}

// Load discovers and instantiates every implementation of service published
// by loaders. Resources reachable through more than one loader are read once,
// and a class reached through more than one resource is instantiated once.
// Any failure aborts the whole load.
func Load(loaders []ClassLoader, service string) ([]any, error) {
	if len(loaders) == 0 {
		return nil, nil
	}

	resourceName := ResourceName(service)
	seenLocations := make(map[string]struct{})
	seenClasses := make(map[*Class]struct{})
	var classes []*Class

	for _, loader := range loaders {
		resources, err := loader.Resources(resourceName)
		if err != nil {
			return nil, &ConfigurationError{
				Service: service,
				Message: fmt.Sprintf("cannot load configuration files for %s", service),
				Err:     err,
			}
		}

		for _, res := range resources {
			if _, seen := seenLocations[res.Location()]; seen {
				continue
			}
			seenLocations[res.Location()] = struct{}{}

			names, err := readClassNames(res)
			if err != nil {
				return nil, &ConfigurationError{
					Service: service,
					Message: fmt.Sprintf("cannot load configuration files for %s", service),
					Err:     err,
				}
			}

			for _, name := range names {
				class, err := loader.Resolve(name)
				if err != nil {
					return nil, &ConfigurationError{
						Service: service,
						Class:   name,
						Message: fmt.Sprintf("cannot find class %s", name),
						Err:     err,
					}
				}
				if _, seen := seenClasses[class]; seen {
					continue
				}
				seenClasses[class] = struct{}{}
				classes = append(classes, class)
			}
		}
	}

	instances := make([]any, 0, len(classes))
	for _, class := range classes {
		instance, err := instantiate(class)
		if err != nil {
			return nil, &ConfigurationError{
				Service: service,
				Class:   class.Name,
				Message: fmt.Sprintf("class %s cannot be instantiated", class.Name),
				Err:     err,
			}
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// LoadAs is Load with every instance checked against T.
func LoadAs[T any](loaders []ClassLoader, service string) ([]T, error) {
	instances, err := Load(loaders, service)
	if err != nil {
		return nil, err
	}
	return Cast[T](instances, service)
}

// Cast converts loaded instances to T, failing on the first mismatch.
func Cast[T any](instances []any, service string) ([]T, error) {
	result := make([]T, 0, len(instances))
	for _, instance := range instances {
		typed, ok := instance.(T)
		if !ok {
			name := fmt.Sprintf("%T", instance)
			return nil, &ConfigurationError{
				Service: service,
				Class:   name,
				Message: fmt.Sprintf("class %s cannot be instantiated", name),
				Err:     fmt.Errorf("does not implement %s", service),
			}
		}
		result = append(result, typed)
	}
	return result, nil
}

func readClassNames(res Resource) ([]string, error) {
	rc, err := res.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ParseClassNames(rc)
}

func instantiate(class *Class) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	instance, err = class.New()
	if err == nil && instance == nil {
		err = fmt.Errorf("factory returned nil")
	}
	return instance, err
}
