// Package history keeps an append-mostly audit log of pipeline runs in SQLite.
//
// The job directories remain the source of truth for lifecycle state; the
// history store only records what happened so operators can review past runs
// after job directories are emptied or pruned. Writes are best effort from the
// runner's point of view.
package history
