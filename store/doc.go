// Package store provides the two persistence boundaries of the engine: the
// checkpoint store, keyed by workflow thread, and the preference store,
// keyed by namespace with optimistic revision checks. Memory, Redis, and
// GORM-backed implementations are included.
package store
