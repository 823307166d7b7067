// Package cluster holds the identifiers and value types shared across the
// coordinator, mesh and store packages: NodeID, NetworkName, Address and
// Key. Keeping them in one leaf package avoids an import cycle between
// internal/coordinator, internal/mesh and internal/store, all three of
// which need to name a peer or a key without depending on each other.
package cluster
