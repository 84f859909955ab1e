// Package sqlite persists events, fragment-removal runs and their merge
// history in SQLite.
//
// The schema is managed by golang-migrate from migrations embedded in the
// binary. Events are stored as their current cluster collection: cluster
// order, hit order and trajectory IDs survive a round trip, cluster
// handles do not.
package sqlite
