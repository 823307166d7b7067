package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/wire"
)

func startTestCoordinator(t *testing.T) (addr string, c *Coordinator) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	c = New(nil)
	go c.Serve(ln)
	return ln.Addr().String(), c
}

func introduce(t *testing.T, coordAddr, myAddr, network string) *wire.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", coordAddr)
	require.NoError(t, err)
	conn := wire.NewConn(nc)
	require.NoError(t, conn.WriteMessage(0, 0, wire.KindIntroduction,
		wire.IntroductionPayload{Address: myAddr, NetworkName: network}))
	return conn
}

func TestRegistration_AssignsDenseIDs(t *testing.T) {
	coordAddr, c := startTestCoordinator(t)

	c1 := introduce(t, coordAddr, "10.0.0.1:1", "netA")
	msg1, err := c1.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.KindDirectory, msg1.Kind)
	assert.Equal(t, uint64(1), msg1.Target)
	assert.Empty(t, msg1.Payload.(wire.DirectoryPayload).Peers)

	c2 := introduce(t, coordAddr, "10.0.0.2:1", "netA")
	msg2, err := c2.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), msg2.Target)
	peers := msg2.Payload.(wire.DirectoryPayload).Peers
	require.Len(t, peers, 1)
	assert.Equal(t, uint64(1), peers[0].NodeID)
	assert.Equal(t, "10.0.0.1:1", peers[0].Address)

	assert.Equal(t, 2, c.NetworkSize(cluster.NetworkName("netA")))
}

func TestRegistration_IndependentPerNetworkName(t *testing.T) {
	coordAddr, c := startTestCoordinator(t)

	a1 := introduce(t, coordAddr, "addrA1", "netA")
	_, err := a1.ReadMessage()
	require.NoError(t, err)

	b1 := introduce(t, coordAddr, "addrB1", "netB")
	msgB1, err := b1.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msgB1.Target, "netB should start its own id space at 1")

	assert.Equal(t, 1, c.NetworkSize(cluster.NetworkName("netA")))
	assert.Equal(t, 1, c.NetworkSize(cluster.NetworkName("netB")))
}

func TestRegistration_RejectsNonIntroductionFirst(t *testing.T) {
	coordAddr, _ := startTestCoordinator(t)

	nc, err := net.Dial("tcp", coordAddr)
	require.NoError(t, err)
	conn := wire.NewConn(nc)
	require.NoError(t, conn.WriteMessage(1, 1, wire.KindGet, wire.GetPayload{KeyName: "x", Home: 1}))

	// The coordinator closes the link; the next read should fail.
	conn.SetMaxFrameLength(wire.MaxFrameLength)
	_, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestBroadcast_ReachesAllRegisteredNodes(t *testing.T) {
	coordAddr, c := startTestCoordinator(t)

	n1 := introduce(t, coordAddr, "a1", "netA")
	_, err := n1.ReadMessage()
	require.NoError(t, err)
	n2 := introduce(t, coordAddr, "a2", "netA")
	_, err = n2.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, c.Broadcast(cluster.NetworkName("netA")))

	for _, conn := range []*wire.Conn{n1, n2} {
		msg, err := readWithTimeout(t, conn)
		require.NoError(t, err)
		assert.Equal(t, wire.KindKill, msg.Kind)
	}
}

func readWithTimeout(t *testing.T, conn *wire.Conn) (*wire.Message, error) {
	t.Helper()
	type result struct {
		msg *wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := conn.ReadMessage()
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Kill broadcast")
		return nil, nil
	}
}

func TestBroadcast_NoOpForUnknownNetwork(t *testing.T) {
	_, c := startTestCoordinator(t)
	assert.NoError(t, c.Broadcast(cluster.NetworkName("ghost")))
}
