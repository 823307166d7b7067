// Package app assembles the peer mesh, the store, and the coordinator-driven
// termination signal into a single Handle, and provides the run loop that
// keeps a node alive until the cluster is torn down.
package app
