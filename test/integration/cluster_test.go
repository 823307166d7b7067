// Package integration exercises end-to-end cluster scenarios against real
// TCP sockets: a coordinator and several nodes all running in-process,
// talking over 127.0.0.1 exactly as separate processes would.
package integration

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/meshframe/internal/app"
	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/coordinator"
	"github.com/dreamware/meshframe/internal/wire"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func startCoordinator(t *testing.T) (addr string, c *coordinator.Coordinator) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c = coordinator.New(quietLogger())
	go c.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), c
}

func ephemeralAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func bootstrapN(t *testing.T, coordAddr string, network cluster.NetworkName, n int) []*app.Handle {
	t.Helper()
	handles := make([]*app.Handle, n)

	type result struct {
		h   *app.Handle
		err error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func() {
			h, err := app.Bootstrap(cluster.Address(ephemeralAddr(t)), cluster.Address(coordAddr), network, n, quietLogger())
			results <- result{h: h, err: err}
		}()
	}
	for i := 0; i < n; i++ {
		r := <-results
		require.NoError(t, r.err)
		handles[r.h.NodeID()-1] = r.h
	}
	t.Cleanup(func() {
		for _, h := range handles {
			if h != nil {
				h.Close()
			}
		}
	})
	return handles
}

// TestScenario1_ThreeNodeSumCheck runs the three-node sum-check walkthrough
// end to end over real sockets.
func TestScenario1_ThreeNodeSumCheck(t *testing.T) {
	coordAddr, _ := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "sum-check", 3)

	const n = 1000 // smaller than the canonical 100000 to keep the test fast
	col := make([]uint64, n)
	var sum uint64
	for i := range col {
		col[i] = uint64(i)
		sum += uint64(i)
	}

	n1, n2, n3 := handles[0], handles[1], handles[2]

	mainKey := cluster.Key{Name: "main", Home: 1}
	ckKey := cluster.Key{Name: "ck", Home: 1}
	verifKey := cluster.Key{Name: "verif", Home: 1}

	require.NoError(t, n1.Store.Put(mainKey, wire.EncodeUint64Slice(col)))
	require.NoError(t, n1.Store.Put(ckKey, wire.EncodeUint64(sum)))

	raw, err := n2.Store.WaitAndGet(mainKey)
	require.NoError(t, err)
	folded := wire.DecodeUint64Slice(raw)
	var foldedSum uint64
	for _, v := range folded {
		foldedSum += v
	}
	require.NoError(t, n2.Store.Put(verifKey, wire.EncodeUint64(foldedSum)))

	ck, err := n3.Store.WaitAndGet(ckKey)
	require.NoError(t, err)
	verif, err := n3.Store.WaitAndGet(verifKey)
	require.NoError(t, err)
	require.Equal(t, wire.DecodeUint64(ck), wire.DecodeUint64(verif))
}

// TestScenario2_DeferredProducer verifies WaitAndGet blocks until a
// producer on another node puts the key well after the consumer started
// waiting.
func TestScenario2_DeferredProducer(t *testing.T) {
	coordAddr, _ := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "deferred", 2)
	n1, n2 := handles[0], handles[1]

	key := cluster.Key{Name: "x", Home: 1}
	resultCh := make(chan []byte, 1)
	go func() {
		v, err := n2.Store.WaitAndGet(key)
		require.NoError(t, err)
		resultCh <- v
	}()

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, n1.Store.Put(key, []byte{0xDE, 0xAD, 0xBE, 0xEF}))

	select {
	case v := <-resultCh:
		require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, v)
	case <-time.After(3 * time.Second):
		t.Fatal("node 2 never observed the deferred put")
	}
}

// TestScenario3_CrossHomePut verifies a Put for a key homed on another
// node is shipped there and becomes visible to that node's own
// WaitAndGet.
func TestScenario3_CrossHomePut(t *testing.T) {
	coordAddr, _ := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "cross-home", 2)
	n1, n2 := handles[0], handles[1]

	key := cluster.Key{Name: "y", Home: 1}
	require.NoError(t, n2.Store.Put(key, []byte{0x01}))

	v, err := n1.Store.WaitAndGet(key)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, v)
}

// TestScenario4_DuplicatePutRejection verifies a second Put on an
// already-populated local key is rejected and leaves the original value
// intact.
func TestScenario4_DuplicatePutRejection(t *testing.T) {
	coordAddr, _ := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "dup-put", 1)
	n1 := handles[0]

	key := cluster.Key{Name: "k", Home: 1}
	require.NoError(t, n1.Store.Put(key, []byte{0x00}))
	err := n1.Store.Put(key, []byte{0x01})
	require.Error(t, err)

	v, err := n1.Store.WaitAndGet(key)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, v)
}

// TestScenario5_BlobSideChannel verifies a blob is delivered to its
// target exactly once, bypassing the store.
func TestScenario5_BlobSideChannel(t *testing.T) {
	coordAddr, _ := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "blob", 2)
	n1, n2 := handles[0], handles[1]

	require.NoError(t, n1.Store.SendBlob(2, []byte{0xAA, 0xBB}))

	select {
	case b := <-n2.BlobInbound():
		require.Equal(t, []byte{0xAA, 0xBB}, b.Bytes)
	case <-time.After(2 * time.Second):
		t.Fatal("node 2 never received the blob")
	}

	select {
	case <-n2.BlobInbound():
		t.Fatal("blob delivered more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestScenario6_ProtocolViolationFailsFast verifies a raw socket sending a
// Get as its first frame is dropped without disturbing the rest of the
// mesh.
func TestScenario6_ProtocolViolationFailsFast(t *testing.T) {
	coordAddr, _ := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "violation", 2)
	n1, n2 := handles[0], handles[1]

	nc, err := net.Dial("tcp", n1.Addr().String())
	require.NoError(t, err)
	rogue := wire.NewConn(nc)
	require.NoError(t, rogue.WriteMessage(99, uint64(n1.NodeID()), wire.KindGet, wire.GetPayload{KeyName: "bogus", Home: 1}))
	_, err = rogue.ReadMessage()
	require.Error(t, err, "node must close the connection after an unexpected first frame")
	rogue.Close()

	// n1 and n2 must still be able to talk to each other afterward.
	key := cluster.Key{Name: "z", Home: 1}
	require.NoError(t, n1.Store.Put(key, []byte{0x09}))
	v, err := n2.Store.WaitAndGet(key)
	require.NoError(t, err)
	require.Equal(t, []byte{0x09}, v)
}

// TestCoordinator_DenseIDsAndBroadcastKill verifies dense [1,N] ids and a
// termination signal reaching every node.
func TestCoordinator_DenseIDsAndBroadcastKill(t *testing.T) {
	coordAddr, c := startCoordinator(t)
	handles := bootstrapN(t, coordAddr, "kill-test", 3)

	seen := make(map[cluster.NodeID]bool)
	for _, h := range handles {
		seen[h.NodeID()] = true
	}
	require.Len(t, seen, 3)
	require.True(t, seen[1] && seen[2] && seen[3])

	require.NoError(t, c.Broadcast("kill-test"))

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("node %d never observed Kill", h.NodeID())
		}
	}
}
