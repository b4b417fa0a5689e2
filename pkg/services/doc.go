// Package services discovers implementations of a named service across a set
// of class-loading contexts.
//
// # Provider-configuration files
//
// A context publishes implementations of a service by shipping the file
// META-INF/services/<service>. Each line names one implementation; '#' starts
// a comment and blank lines are ignored:
//
//	# source root types contributed by the protobuf plugin
//	example.com/protoroots.Extension
//
// # Classes
//
// Go has no runtime class loading, so implementation names resolve against a
// ClassTable populated at init time:
//
//	func init() {
//		services.Register("example.com/protoroots.Extension", services.Instance(NewExtension))
//	}
//
// # Loading
//
//	exts, err := services.LoadAs[roots.SerializerExtension](loaders, roots.SerializerExtensionService)
//
// Every failure is a *ConfigurationError wrapping ErrServiceConfiguration and
// aborts the load; callers never see a partial provider list.
package services
