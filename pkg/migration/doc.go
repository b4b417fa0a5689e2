// Package migration retags source folders when the set of registered source
// root serializers changes.
//
// When a plugin is removed, folders of the types it served are demoted to
// placeholders that carry the serialized properties. When a plugin is added,
// placeholders whose type id it serves are adopted back into the concrete type
// using the stored properties. Each module is changed in a single
// ModifyModel transaction and a failure in one module never blocks the rest.
package migration
