package coordinator

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/wire"
)

// ErrUnexpectedMessage is returned when the first message received on a
// freshly accepted link is not KindIntroduction.
var ErrUnexpectedMessage = errors.New("coordinator: expected Introduction as first message")

// registry holds one NetworkName's id assignment state: the dense
// NodeID->Address/Conn mapping and the insertion order needed to answer a
// newcomer with exactly its predecessors. IDs are never reused within a
// name, even though nothing here ever removes one.
type registry struct {
	conns map[cluster.NodeID]*wire.Conn
	addrs map[cluster.NodeID]cluster.Address
	order []cluster.NodeID
	mu    sync.Mutex
}

func newRegistry() *registry {
	return &registry{
		conns: make(map[cluster.NodeID]*wire.Conn),
		addrs: make(map[cluster.NodeID]cluster.Address),
	}
}

// Coordinator is the cluster rendezvous service. One instance serves any
// number of NetworkNames, each with its own independent NodeID space
// NetworkName namespaces a cluster: ids are dense only within one name.
type Coordinator struct {
	networks map[cluster.NetworkName]*registry
	log      logrus.FieldLogger
	mu       sync.Mutex
}

// New creates a Coordinator. A nil logger defaults to logrus's standard
// logger; this package never configures logging policy on its own.
func New(log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		networks: make(map[cluster.NetworkName]*registry),
		log:      log,
	}
}

// registryFor returns (creating if necessary) the registry for name.
func (c *Coordinator) registryFor(name cluster.NetworkName) *registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.networks[name]
	if !ok {
		r = newRegistry()
		c.networks[name] = r
	}
	return r
}

// Serve accepts connections from ln until it is closed, handling each one
// in its own goroutine. It returns the listener's terminal error (nil on a
// clean Close).
func (c *Coordinator) Serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			if err := c.handleConn(nc); err != nil {
				c.log.WithError(err).Warn("coordinator: registration failed")
			}
		}()
	}
}

// handleConn reads the introduction, assigns the next dense id, snapshots
// the existing directory, registers the new link, and replies with the
// directory.
func (c *Coordinator) handleConn(nc net.Conn) error {
	conn := wire.NewConn(nc)

	msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("coordinator: reading introduction: %w", err)
	}
	if msg.Kind != wire.KindIntroduction {
		conn.Close()
		return fmt.Errorf("%w: got %s", ErrUnexpectedMessage, msg.Kind)
	}
	intro := msg.Payload.(wire.IntroductionPayload)
	name := cluster.NetworkName(intro.NetworkName)

	r := c.registryFor(name)
	r.mu.Lock()
	targetID := cluster.NodeID(len(r.order) + 1)

	peers := make([]wire.DirectoryEntry, 0, len(r.order))
	for _, id := range r.order {
		peers = append(peers, wire.DirectoryEntry{NodeID: uint64(id), Address: string(r.addrs[id])})
	}

	r.conns[targetID] = conn
	r.addrs[targetID] = cluster.Address(intro.Address)
	r.order = append(r.order, targetID)
	r.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"network": name,
		"node_id": targetID,
		"addr":    intro.Address,
	}).Info("coordinator: node registered")

	err = conn.WriteMessage(uint64(wire.CoordinatorID), uint64(targetID), wire.KindDirectory,
		wire.DirectoryPayload{Peers: peers})
	if err != nil {
		return fmt.Errorf("coordinator: sending directory to node %d: %w", targetID, err)
	}
	return nil
}

// Broadcast sends a Kill message to every node currently registered under
// name. It attempts every target even if some fail, then reports every
// failure together rather than aborting on the first one.
func (c *Coordinator) Broadcast(name cluster.NetworkName) error {
	c.mu.Lock()
	r, ok := c.networks[name]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	targets := make(map[cluster.NodeID]*wire.Conn, len(r.conns))
	for id, conn := range r.conns {
		targets[id] = conn
	}
	r.mu.Unlock()

	var errs []error
	for id, conn := range targets {
		if err := conn.WriteMessage(uint64(wire.CoordinatorID), uint64(id), wire.KindKill, wire.KillPayload{}); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// NetworkNames returns every NetworkName that has registered at least one
// node, sorted for stable shutdown logging, so callers can broadcast Kill
// to all of them without tracking registrations separately.
func (c *Coordinator) NetworkNames() []cluster.NetworkName {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]cluster.NetworkName, 0, len(c.networks))
	for name := range c.networks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NetworkSize returns the number of nodes currently registered under name,
// mainly for tests and diagnostics.
func (c *Coordinator) NetworkSize(name cluster.NetworkName) int {
	c.mu.Lock()
	r, ok := c.networks[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
