// Package builtin provides the source root types that are available without
// any plugin, and the class-loading context that publishes them.
package builtin

import (
	"embed"

	"github.com/platinummonkey/sourceroots/pkg/roots"
	"github.com/platinummonkey/sourceroots/pkg/services"
)

// Type ids of the builtin root types
const (
	JavaSource       = "java-source"
	JavaTest         = "java-test"
	JavaResource     = "java-resource"
	JavaTestResource = "java-test-resource"
)

// Class names published in META-INF/services
const (
	JavaSourceRootsClass   = "github.com/platinummonkey/sourceroots/pkg/roots/builtin.JavaSourceRoots"
	JavaResourceRootsClass = "github.com/platinummonkey/sourceroots/pkg/roots/builtin.JavaResourceRoots"
)

//go:embed META-INF
var resources embed.FS

// SourceRootProperties are the properties of java-source and java-test folders
type SourceRootProperties struct {
	PackagePrefix string `yaml:"package_prefix,omitempty"`
	Generated     bool   `yaml:"generated,omitempty"`
}

// ResourceRootProperties are the properties of resource folders
type ResourceRootProperties struct {
	RelativeOutputPath string `yaml:"relative_output_path,omitempty"`
}

// JavaSourceRoots contributes java-source and java-test
func JavaSourceRoots() roots.SerializerExtension {
	return roots.Extension{
		roots.NewYAMLSerializer[SourceRootProperties](JavaSource, false, nil),
		roots.NewYAMLSerializer[SourceRootProperties](JavaTest, true, nil),
	}
}

// JavaResourceRoots contributes java-resource and java-test-resource
func JavaResourceRoots() roots.SerializerExtension {
	return roots.Extension{
		roots.NewYAMLSerializer[ResourceRootProperties](JavaResource, false, nil),
		roots.NewYAMLSerializer[ResourceRootProperties](JavaTestResource, true, nil),
	}
}

func init() {
	services.Register(JavaSourceRootsClass, services.Instance(JavaSourceRoots))
	services.Register(JavaResourceRootsClass, services.Instance(JavaResourceRoots))
}

// Loader returns the class-loading context that publishes the builtin types.
// The plugin registry falls back to it when no plugin is active.
func Loader() services.ClassLoader {
	return services.NewFSLoader("builtin", resources, services.DefaultClasses())
}
