// Package sqlstore persists project models in SQLite.
//
// LoadProject and LoadWorkspace read projects into model.MemoryProject values
// whose modules write every committed change back in a single transaction.
// Properties are stored as the blob the type's serializer produces, so a
// folder whose plugin is missing at load time comes back as a placeholder
// carrying that blob.
package sqlstore
