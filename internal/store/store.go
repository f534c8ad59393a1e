// Package store defines the persisted document store the coordination
// components flush their state through. Each logical database is one JSON
// document addressed by name.
package store

import "context"

// Store reads and writes whole documents. Writes are best-effort durable:
// components own their in-memory state and treat a failed Put as a logged
// degradation, not a fatal error.
type Store interface {
	// Get decodes the named document into out. The second return is false
	// when the document does not exist yet.
	Get(ctx context.Context, name string, out any) (bool, error)

	// Put replaces the named document.
	Put(ctx context.Context, name string, v any) error
}
