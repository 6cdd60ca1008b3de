// Package chat implements lost-and-found messaging: two-party conversations tied to an item,
// their append-only message logs, and the history service that reads and writes them.
//
// The persisted stores are the source of truth. Realtime fan-out is a side effect of
// SendMessage and never fails a write.
package chat
