package plugins

import (
	"errors"
	"time"

	"github.com/platinummonkey/sourceroots/pkg/services"
)

var (
	// ErrRegistryInstalled is returned when a second registry is installed in one process
	ErrRegistryInstalled = errors.New("plugin registry already installed")
	// ErrRegistryClosed is returned by Attach after Close
	ErrRegistryClosed = errors.New("plugin registry closed")
	// ErrInvalidDescriptor is returned for descriptors without manifest, id or loader
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")
)

// Channel names the notification channels plugins arrive on
type Channel string

const (
	ChannelBuild         Channel = "build"
	ChannelCompileServer Channel = "compile-server"
)

// Manifest describes plugin metadata (plugin.yaml)
type Manifest struct {
	ID          string            `yaml:"id"`          // Unique ID (e.g., "protobuf-roots")
	Name        string            `yaml:"name"`        // Display name
	Version     string            `yaml:"version"`     // Semver
	APIVersion  string            `yaml:"api_version"` // Registry API version
	Description string            `yaml:"description"` // Short description
	Author      string            `yaml:"author"`      // Author name
	Channel     Channel           `yaml:"channel"`     // Notification channel
	Metadata    map[string]string `yaml:"metadata"`    // Additional metadata
}

// Descriptor is a loaded plugin: its manifest plus the class-loading context
// its services are resolved in. Descriptors are equal when their manifest ids
// are.
type Descriptor struct {
	Manifest *Manifest
	Path     string
	Loader   services.ClassLoader
	LoadedAt time.Time
}

// ID returns the manifest id
func (d *Descriptor) ID() string {
	if d == nil || d.Manifest == nil {
		return ""
	}
	return d.Manifest.ID
}

func (d *Descriptor) validate() error {
	if d == nil || d.Manifest == nil || d.Manifest.ID == "" || d.Loader == nil {
		return ErrInvalidDescriptor
	}
	return nil
}

// EventKind tells additions from removals
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
)

// Event is one live plugin notification
type Event struct {
	Kind       EventKind
	Descriptor *Descriptor
}

// ValidationError represents a manifest validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
