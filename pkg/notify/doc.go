// Package notify mirrors the plugin registry's modification stamp into Redis.
//
// The daemon registers a StampPublisher as a stamp listener; build workers
// in other processes read the stored key or listen on the announcement channel and
// reload their source root types when it moves.
package notify
