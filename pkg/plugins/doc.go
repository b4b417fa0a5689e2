// Package plugins tracks the plugins that contribute source root types and
// keeps open projects consistent as plugins come and go.
//
// # Registry
//
// A Registry holds the active plugin descriptors and a modification stamp
// that grows on every membership change. Each change is bracketed by two
// serializer snapshots; types that appear are adopted and types that vanish
// are demoted in every open project (see pkg/migration):
//
//	registry := plugins.NewRegistry(plugins.Options{
//		Logger:     log,
//		BaseLoader: builtin.Loader(),
//		Projects:   workspace,
//	})
//	if err := plugins.Install(registry); err != nil {
//		log.Fatal(err)
//	}
//
// # Sources
//
// Plugins arrive through a Source. Opening a source yields the plugins it
// already has loaded, which the registry absorbs without migrating, and a
// stream of live add/remove events applied in order:
//
//	src := plugins.NewDirSource(plugins.DirSourceOptions{
//		Dir:     "/var/lib/sourceroots/plugins",
//		Channel: plugins.ChannelBuild,
//		Parent:  builtin.Loader(),
//	})
//	if err := registry.Attach(ctx, src); err != nil {
//		log.Fatal(err)
//	}
//
// ChannelSource is the in-process equivalent for embedding hosts and tests.
//
// # Manifests
//
// Each plugin directory carries a plugin.yaml:
//
//	id: protobuf-roots
//	name: Protobuf source roots
//	version: 1.2.0
//	api_version: 1.0.0
//	channel: build
//
// and publishes its services under META-INF/services.
package plugins
