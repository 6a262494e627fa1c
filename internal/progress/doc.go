// Package progress persists campaign checkpoints so an interrupted run can
// resume at the next unsent contact.
//
// Drivers:
//   - "file": one JSON document, replaced atomically on every save
//   - "sqlite": SQLite database (pure Go driver); failures are stored append-only
//   - "memory": process-local, for previews and tests
//   - "none": persistence disabled
package progress
