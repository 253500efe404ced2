// Package store owns the catalog lifecycle: cache-first startup, periodic
// refresh, and atomic publication of immutable snapshots to HTTP readers.
//
// A Store has exactly one writer (Start, Refresh and Run serialize on a
// build mutex) and any number of readers. Readers load the current
// *Snapshot through an atomic pointer and never observe a partially built
// catalog; a failed refresh leaves the previous snapshot in place.
package store
