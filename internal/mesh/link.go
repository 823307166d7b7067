package mesh

import (
	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/wire"
)

// PeerLink is one node's end of a peer-to-peer connection: the framed
// connection itself plus the metadata needed to log about it. Write
// serialization is handled inside wire.Conn, so PeerLink adds no locking
// of its own.
type PeerLink struct {
	Conn    *wire.Conn
	Addr    cluster.Address
	ID      cluster.NodeID
}
