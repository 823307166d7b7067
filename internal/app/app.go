package app

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/mesh"
	"github.com/dreamware/meshframe/internal/store"
	"github.com/dreamware/meshframe/internal/wire"
)

// Handle is the single entry point a user task interacts with: its own node
// id, the key-value store, the inbound blob stream, and a way to wait for
// the Coordinator's termination signal. It is constructed once per process
// by Bootstrap.
type Handle struct {
	mesh  *mesh.Mesh
	Store *store.Store
	id    cluster.NodeID
}

// Bootstrap joins the named network rooted at coordAddr, listening on
// myAddr, and waits for the full mesh of expectedN nodes to form before
// returning. The returned Handle owns both the mesh and a Store wired to
// use it as transport.
func Bootstrap(myAddr, coordAddr cluster.Address, name cluster.NetworkName, expectedN int, log logrus.FieldLogger) (*Handle, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := mesh.New(log.WithField("component", "mesh"))
	id, err := m.Bootstrap(myAddr, coordAddr, name, expectedN)
	if err != nil {
		return nil, fmt.Errorf("app: bootstrap failed: %w", err)
	}

	s := store.New(id, m, log.WithField("component", "store"))
	m.SetDeliverer(s)

	return &Handle{mesh: m, Store: s, id: id}, nil
}

// NodeID returns this process's assigned identity within the network.
func (h *Handle) NodeID() cluster.NodeID { return h.id }

// Addr returns the address this node's mesh listener is bound to.
func (h *Handle) Addr() net.Addr { return h.mesh.Addr() }

// BlobInbound returns the channel of Blob frames addressed to this node,
// bypassing the store entirely.
func (h *Handle) BlobInbound() <-chan wire.BlobPayload { return h.mesh.BlobInbound() }

// Done returns a channel closed once the Coordinator broadcasts Kill to
// this node.
func (h *Handle) Done() <-chan struct{} { return h.mesh.Done() }

// Close tears down the mesh's listener and every link. Safe to call after
// Run returns.
func (h *Handle) Close() error { return h.mesh.Close() }

// Run executes userTask to completion and then blocks until the
// Coordinator's Kill signal arrives, so the process keeps serving remote
// Gets against this node's store for as long as the cluster needs it.
// userTask's error, if any, is returned immediately without waiting for
// Kill.
func (h *Handle) Run(userTask func(*Handle) error) error {
	if err := userTask(h); err != nil {
		return fmt.Errorf("app: user task failed: %w", err)
	}
	<-h.Done()
	return nil
}
