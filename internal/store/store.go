package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/wire"
)

// ErrKeyAlreadyPresent is returned by Put when the local slot for key is
// already populated. put is monotonic: writing over an existing value is a
// programming error and this store rejects it.
var ErrKeyAlreadyPresent = errors.New("store: key already present")

// ErrNotPresent is returned by Get for any key that is not both locally
// homed and already populated. Get never blocks and never issues network
// traffic.
var ErrNotPresent = errors.New("store: key not present")

// Transport is the subset of the Peer Mesh the store needs: unicast send of
// Get/Value/Blob frames to a peer by NodeID. internal/mesh.Mesh implements
// this; the store package never imports internal/mesh, avoiding a cycle
// since the mesh hands inbound frames to the store.
type Transport interface {
	Send(target cluster.NodeID, kind wire.Kind, payload any) error
}

// pendingGet correlates an in-flight remote Get with whichever local
// waiters are blocked on it. Closing done broadcasts to every waiter;
// value is safe to read afterward because the close happens-after the
// write (see Deliver).
type pendingGet struct {
	done  chan struct{}
	value []byte
}

// Store is one node's key-value shard plus its home-routed remote-get path.
type Store struct {
	transport Transport
	log       logrus.FieldLogger
	data      map[cluster.Key][]byte
	cache     map[cluster.Key][]byte
	waiters   map[cluster.Key]*sync.Cond
	pending   map[cluster.Key]*pendingGet
	mu        sync.Mutex
	self      cluster.NodeID
}

// New creates a Store for node id self, sending remote Get/Value/Blob
// traffic over transport. A nil logger defaults to logrus's standard
// logger.
func New(self cluster.NodeID, transport Transport, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		self:      self,
		transport: transport,
		log:       log,
		data:      make(map[cluster.Key][]byte),
		cache:     make(map[cluster.Key][]byte),
		waiters:   make(map[cluster.Key]*sync.Cond),
		pending:   make(map[cluster.Key]*pendingGet),
	}
}

// condFor returns (creating if necessary) the per-key condition variable
// used to park local waiters until a value appears. Must be called with
// s.mu held.
func (s *Store) condFor(key cluster.Key) *sync.Cond {
	c, ok := s.waiters[key]
	if !ok {
		c = sync.NewCond(&s.mu)
		s.waiters[key] = c
	}
	return c
}

// Put writes value under key. If key is homed on this node, the slot is
// populated in place and any local waiters are released; a second Put on
// an already-populated local slot fails with ErrKeyAlreadyPresent and
// leaves state unchanged. If key is homed elsewhere, value is shipped to
// the home node as a Value frame — the mechanism bootstrap loaders use to
// populate another node's slot.
func (s *Store) Put(key cluster.Key, value []byte) error {
	if key.Home == s.self {
		return s.putLocal(key, value)
	}
	return s.transport.Send(key.Home, wire.KindValue, wire.ValuePayload{
		KeyName: key.Name, Home: uint64(key.Home), Bytes: value,
	})
}

// putLocal populates a locally homed slot and wakes any parked waiters. It
// is also used by Deliver's cross-node put path, where a Value frame
// arrives for a key this node owns but never requested.
func (s *Store) putLocal(key cluster.Key, value []byte) error {
	s.mu.Lock()
	if _, exists := s.data[key]; exists {
		s.mu.Unlock()
		return ErrKeyAlreadyPresent
	}
	stored := append([]byte(nil), value...)
	s.data[key] = stored
	s.condFor(key).Broadcast()
	s.mu.Unlock()
	return nil
}

// Get performs a non-blocking, local-only read. It succeeds only if key is
// homed on this node and its slot is already populated; it never consults
// the cache and never issues network traffic.
func (s *Store) Get(key cluster.Key) ([]byte, error) {
	if key.Home != s.self {
		return nil, ErrNotPresent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotPresent
	}
	return append([]byte(nil), v...), nil
}

// WaitAndGet returns key's value, parking the caller for as long as
// necessary. A locally homed key parks on the key's condition variable
// until Put populates it. A remotely homed key is served from cache on a
// hit; on a miss it issues (or joins) an in-flight Get to key.Home and
// parks until the matching Value frame arrives.
func (s *Store) WaitAndGet(key cluster.Key) ([]byte, error) {
	if key.Home == s.self {
		return s.waitLocal(key)
	}
	return s.waitRemote(key)
}

func (s *Store) waitLocal(key cluster.Key) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cond := s.condFor(key)
	for {
		if v, ok := s.data[key]; ok {
			return append([]byte(nil), v...), nil
		}
		cond.Wait()
	}
}

func (s *Store) waitRemote(key cluster.Key) ([]byte, error) {
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return append([]byte(nil), v...), nil
	}

	pg, exists := s.pending[key]
	if !exists {
		pg = &pendingGet{done: make(chan struct{})}
		s.pending[key] = pg
	}
	s.mu.Unlock()

	if !exists {
		if err := s.transport.Send(key.Home, wire.KindGet, wire.GetPayload{
			KeyName: key.Name, Home: uint64(key.Home),
		}); err != nil {
			return nil, fmt.Errorf("store: sending Get for %s: %w", key, err)
		}
	}

	<-pg.done

	s.mu.Lock()
	s.cache[key] = pg.value
	s.mu.Unlock()
	return append([]byte(nil), pg.value...), nil
}

// SendBlob wraps bytes in a Blob frame and ships it to target over the
// mesh. Delivery is at-most-once from the transport's perspective.
func (s *Store) SendBlob(target cluster.NodeID, bytes []byte) error {
	return s.transport.Send(target, wire.KindBlob, wire.BlobPayload{Bytes: bytes})
}

// Deliver handles an inbound Get or Value frame from the mesh. Get is
// answered off a detached goroutine so that a key not yet produced cannot
// block the caller's inbound reader. from is the NodeID of the peer link the
// frame arrived on; a Get is answered to that peer.
func (s *Store) Deliver(from cluster.NodeID, msg *wire.Message) {
	switch p := msg.Payload.(type) {
	case wire.GetPayload:
		key := cluster.Key{Name: p.KeyName, Home: cluster.NodeID(p.Home)}
		go s.serveGet(from, key)
	case wire.ValuePayload:
		key := cluster.Key{Name: p.KeyName, Home: cluster.NodeID(p.Home)}
		s.deliverValue(key, p.Bytes)
	default:
		s.log.WithField("kind", msg.Kind).Warn("store: unexpected inbound message kind")
	}
}

func (s *Store) serveGet(requester cluster.NodeID, key cluster.Key) {
	value, err := s.WaitAndGet(key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("store: failed to serve remote Get")
		return
	}
	if err := s.transport.Send(requester, wire.KindValue, wire.ValuePayload{
		KeyName: key.Name, Home: uint64(key.Home), Bytes: value,
	}); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("store: failed to answer remote Get")
	}
}

// deliverValue handles an inbound Value frame: a matching pending Get is
// completed and removed; otherwise, if this node is the key's home, the
// bytes complete the cross-node put path that Put uses to populate another
// node's slot; any other case is a stray frame, logged and discarded.
func (s *Store) deliverValue(key cluster.Key, value []byte) {
	s.mu.Lock()
	if pg, ok := s.pending[key]; ok {
		delete(s.pending, key)
		s.mu.Unlock()
		pg.value = value
		close(pg.done)
		return
	}
	s.mu.Unlock()

	if key.Home == s.self {
		if err := s.putLocal(key, value); err != nil && !errors.Is(err, ErrKeyAlreadyPresent) {
			s.log.WithError(err).WithField("key", key).Warn("store: cross-node put failed")
		}
		return
	}

	s.log.WithField("key", key).Warn("store: discarding unsolicited Value for a key not homed here")
}
