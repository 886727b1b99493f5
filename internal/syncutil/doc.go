// Package syncutil provides the coordination primitives used between stream
// handlers: a context-aware Mutex that grants the lock in arrival order, and
// a channel-based Cond whose Wait composes with select.
//
// Cancellation trees are plain context.Context values created with
// context.WithCancelCause; nothing here replaces them.
package syncutil
