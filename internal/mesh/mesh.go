package mesh

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/wire"
)

// ErrUnknownID is returned by Send when target is not in this node's
// directory.
var ErrUnknownID = errors.New("mesh: unknown node id")

// ErrReconnection is returned when a second hello arrives for a NodeID
// already present in the directory. The duplicate link is closed; the
// existing one is left untouched.
var ErrReconnection = errors.New("mesh: duplicate hello for already-registered node")

// Deliverer receives inbound Get/Value frames destined for the key-value
// store. internal/store.Store implements this; mesh never imports
// internal/store, so the dependency runs store -> mesh (via store.Transport,
// which Mesh implements) and mesh -> Deliverer, with no cycle.
type Deliverer interface {
	Deliver(from cluster.NodeID, msg *wire.Message)
}

// Mesh is one node's view of the full-mesh peer overlay: its own identity,
// its directory of peer links, the Coordinator link, and the two inbound
// application streams (blob traffic and the termination signal).
type Mesh struct {
	log       logrus.FieldLogger
	deliverer Deliverer
	listener  net.Listener
	coordConn *wire.Conn
	blobCh    chan wire.BlobPayload
	killCh    chan struct{}
	readyCh   chan struct{}
	links     map[cluster.NodeID]*PeerLink
	mu        sync.Mutex
	killOnce  sync.Once
	readyOnce sync.Once
	self      cluster.NodeID
	addr      cluster.Address
	name      cluster.NetworkName
	expectedN int
}

// blobChannelCapacity keeps a couple of blob frames buffered so a burst of
// control traffic doesn't stall the link's read loop.
// Store-inbound traffic has no channel of its own: Deliver is called
// directly off each link's read loop and itself spawns a detached
// goroutine for Get, so nothing queues and nothing blocks the reader.
const blobChannelCapacity = 2

// New creates an unbootstrapped Mesh. Call Bootstrap to join a cluster. A
// nil logger defaults to logrus's standard logger.
func New(log logrus.FieldLogger) *Mesh {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mesh{
		log:     log,
		links:   make(map[cluster.NodeID]*PeerLink),
		blobCh:  make(chan wire.BlobPayload, blobChannelCapacity),
		killCh:  make(chan struct{}),
		readyCh: make(chan struct{}),
	}
}

// SetDeliverer wires the key-value store that receives inbound Get/Value
// frames. Must be called before any peer link can plausibly receive
// traffic — in practice, immediately after Bootstrap returns.
func (m *Mesh) SetDeliverer(d Deliverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverer = d
}

// Self returns this node's assigned id, valid only after Bootstrap
// succeeds.
func (m *Mesh) Self() cluster.NodeID { return m.self }

// BlobInbound returns the channel of Blob frames delivered to this
// application, bypassing the store entirely.
func (m *Mesh) BlobInbound() <-chan wire.BlobPayload { return m.blobCh }

// Done returns a channel closed once the Coordinator has broadcast Kill on
// this node's Coordinator link.
func (m *Mesh) Done() <-chan struct{} { return m.killCh }

// Addr returns the address this node's listener is bound to, valid after
// Bootstrap succeeds.
func (m *Mesh) Addr() net.Addr { return m.listener.Addr() }

// Bootstrap binds the listener, introduces this node to the Coordinator,
// learns the directory and this node's assigned id, dials every
// already-registered peer, and waits for the mesh of expectedN nodes to
// complete via inbound dials from later peers. It returns this node's
// assigned NodeID.
func (m *Mesh) Bootstrap(myAddr, coordAddr cluster.Address, name cluster.NetworkName, expectedN int) (cluster.NodeID, error) {
	m.addr = myAddr
	m.name = name
	m.expectedN = expectedN

	ln, err := net.Listen("tcp", string(myAddr))
	if err != nil {
		return 0, fmt.Errorf("mesh: binding %s: %w", myAddr, err)
	}
	m.listener = ln

	nc, err := net.Dial("tcp", string(coordAddr))
	if err != nil {
		return 0, fmt.Errorf("mesh: dialing coordinator %s: %w", coordAddr, err)
	}
	m.coordConn = wire.NewConn(nc)

	if err := m.coordConn.WriteMessage(0, 0, wire.KindIntroduction, wire.IntroductionPayload{
		Address:     string(myAddr),
		NetworkName: string(name),
	}); err != nil {
		return 0, fmt.Errorf("mesh: introducing to coordinator: %w", err)
	}

	dirMsg, err := m.coordConn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("mesh: reading directory: %w", err)
	}
	if dirMsg.Kind != wire.KindDirectory {
		return 0, fmt.Errorf("%w: expected Directory, got %s", wire.ErrProtocolViolation, dirMsg.Kind)
	}
	m.self = cluster.NodeID(dirMsg.Target)
	dir := dirMsg.Payload.(wire.DirectoryPayload)

	go m.readCoordinatorLink()
	go m.acceptLoop()

	for _, peer := range dir.Peers {
		if err := m.dialPeer(cluster.NodeID(peer.NodeID), cluster.Address(peer.Address)); err != nil {
			return 0, fmt.Errorf("mesh: dialing peer %d: %w", peer.NodeID, err)
		}
	}

	m.checkReady()
	<-m.readyCh

	m.log.WithFields(logrus.Fields{"node_id": m.self, "network": name, "peers": len(m.links)}).
		Info("mesh: bootstrap complete")
	return m.self, nil
}

// dialPeer connects to a peer already in the directory, sends the hello,
// and registers the link.
func (m *Mesh) dialPeer(id cluster.NodeID, addr cluster.Address) error {
	nc, err := net.Dial("tcp", string(addr))
	if err != nil {
		return err
	}
	conn := wire.NewConn(nc)
	if err := conn.WriteMessage(uint64(m.self), uint64(id), wire.KindIntroduction, wire.IntroductionPayload{
		Address:     string(m.addr),
		NetworkName: string(m.name),
		NodeID:      uint64(m.self),
	}); err != nil {
		conn.Close()
		return err
	}

	if err := m.registerLink(id, addr, conn); err != nil {
		conn.Close()
		return err
	}
	m.checkReady()
	go m.readPeerLink(id, conn)
	return nil
}

// acceptLoop accepts inbound peer connections for the mesh's entire
// lifetime, not just until the initial bootstrap completes: a node keeps
// listening so that protocol violations on later connection attempts are
// still rejected explicitly rather than left to hang, and so a late dial
// from a slow-starting peer is not refused.
func (m *Mesh) acceptLoop() {
	for {
		nc, err := m.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.WithError(err).Warn("mesh: accept failed")
			return
		}
		go m.handleInboundHello(nc)
	}
}

// checkReady closes readyCh once this node's directory holds expectedN-1
// entries. Safe to call repeatedly; only the first qualifying call fires.
func (m *Mesh) checkReady() {
	m.mu.Lock()
	have := len(m.links)
	m.mu.Unlock()
	if have >= m.expectedN-1 {
		m.readyOnce.Do(func() { close(m.readyCh) })
	}
}

func (m *Mesh) handleInboundHello(nc net.Conn) {
	conn := wire.NewConn(nc)
	msg, err := conn.ReadMessage()
	if err != nil {
		m.log.WithError(err).Warn("mesh: reading peer hello failed")
		conn.Close()
		return
	}
	if msg.Kind != wire.KindIntroduction {
		m.log.WithField("kind", msg.Kind).Warn("mesh: unexpected first message on peer link")
		conn.Close()
		return
	}
	hello := msg.Payload.(wire.IntroductionPayload)
	id := cluster.NodeID(hello.NodeID)

	if err := m.registerLink(id, cluster.Address(hello.Address), conn); err != nil {
		m.log.WithError(err).WithField("peer", id).Warn("mesh: rejecting duplicate hello")
		conn.Close()
		return
	}
	m.checkReady()
	m.readPeerLink(id, conn)
}

// registerLink inserts a new link under id, failing with ErrReconnection
// if one is already present.
func (m *Mesh) registerLink(id cluster.NodeID, addr cluster.Address, conn *wire.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.links[id]; exists {
		return fmt.Errorf("%w: node %d", ErrReconnection, id)
	}
	m.links[id] = &PeerLink{Conn: conn, Addr: addr, ID: id}
	return nil
}

// readPeerLink is the per-link inbound task: a tight, strictly sequential
// read loop that dispatches by kind and never blocks on application logic
// beyond enqueueing into a bounded channel.
func (m *Mesh) readPeerLink(id cluster.NodeID, conn *wire.Conn) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			m.log.WithError(err).WithField("peer", id).Debug("mesh: peer link closed")
			return
		}
		switch msg.Kind {
		case wire.KindGet, wire.KindValue:
			m.mu.Lock()
			d := m.deliverer
			m.mu.Unlock()
			if d == nil {
				m.log.WithField("peer", id).Warn("mesh: dropping store frame, no deliverer wired yet")
				continue
			}
			d.Deliver(id, msg)
		case wire.KindBlob:
			p := msg.Payload.(wire.BlobPayload)
			m.blobCh <- p
		default:
			m.log.WithFields(logrus.Fields{"peer": id, "kind": msg.Kind}).
				Warn("mesh: protocol violation on peer link, closing")
			conn.Close()
			return
		}
	}
}

// readCoordinatorLink reads the Coordinator link until it closes or sends
// Kill, at which point the termination notifier fires.
func (m *Mesh) readCoordinatorLink() {
	for {
		msg, err := m.coordConn.ReadMessage()
		if err != nil {
			m.log.WithError(err).Debug("mesh: coordinator link closed")
			return
		}
		if msg.Kind == wire.KindKill {
			m.killOnce.Do(func() { close(m.killCh) })
			return
		}
		m.log.WithField("kind", msg.Kind).Warn("mesh: unexpected message on coordinator link")
	}
}

// Send locates target in this node's directory and writes kind/payload to
// it, failing with ErrUnknownID if target is not a known peer.
func (m *Mesh) Send(target cluster.NodeID, kind wire.Kind, payload any) error {
	m.mu.Lock()
	link, ok := m.links[target]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownID, target)
	}
	return link.Conn.WriteMessage(uint64(m.self), uint64(target), kind, payload)
}

// DirectorySize returns the number of peers known to this node, for
// diagnostics and tests.
func (m *Mesh) DirectorySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Close tears down the listener and every peer/coordinator link. Inbound
// tasks observe EOF on their sockets and exit.
func (m *Mesh) Close() error {
	var errs []error
	if m.listener != nil {
		if err := m.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.coordConn != nil {
		if err := m.coordConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Lock()
	links := make([]*PeerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		if err := l.Conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
