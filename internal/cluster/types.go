package cluster

import "fmt"

// NodeID is a positive integer assigned by the Coordinator, stable for the
// life of the process, dense starting at 1. NodeID(0) is reserved for the
// Coordinator itself (wire.CoordinatorID) and is never assigned to a client.
type NodeID uint64

// NetworkName is a short string tag namespacing a cluster; the Coordinator
// maintains an independent NodeID space per tag so multiple logical
// clusters may share one Coordinator.
type NetworkName string

// Address is a transport endpoint (host:port) sufficient to dial a peer.
type Address string

// Key is the pair (name, home) that addresses a single value in the store.
// The home field determines routing: the key's value physically lives on
// node Home. Keys are compared by the full pair — two keys with the same
// Name but different Home are distinct entries.
type Key struct {
	Name string
	Home NodeID
}

// String renders a Key for logging, e.g. "main@1".
func (k Key) String() string {
	return fmt.Sprintf("%s@%d", k.Name, k.Home)
}

// DirectoryEntry pairs a peer's assigned id with its dial address. The
// Directory message itself carries wire.DirectoryEntry rows, and a node's
// local directory holds mesh.PeerLink values; neither uses this type.
type DirectoryEntry struct {
	Address Address
	ID      NodeID
}
