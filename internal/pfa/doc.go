// Package pfa is the root of the particle-flow reconstruction code.
//
// Subpackages, leaves first:
//
//	kdtree       immutable KD-tree over D-dimensional points
//	unionfind    cluster alias resolution for merges
//	event        arena object store: hits, clusters, trajectories
//	contact      contact features and merge evidence between two clusters
//	fragment     incremental fragment-removal merge engine
//	association  track-to-cluster association
//	pipeline     algorithm registry and per-event sequencing
//	storage      SQLite persistence of events and run history
//
// This package itself only owns the shared logging streams.
package pfa
