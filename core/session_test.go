package core

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/lsnet/protocol"
	"github.com/encodeous/lsnet/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// pipeSession runs a session of router a whose peer b is driven directly by the test.
func pipeSession(t *testing.T) (*Engine, *Session, net.Conn) {
	t.Helper()
	e, err := New(state.LocalCfg{
		Id:        rA,
		ProcessIP: netip.MustParseAddr("127.0.0.1"),
	}, testLogger(rA))
	require.NoError(t, err)
	local, remote := net.Pipe()
	s := newSession(e, 0, state.Identity{Addr: rB}, local)
	go s.run()
	return e, s, remote
}

func send(t *testing.T, conn net.Conn, pkt *protocol.Packet) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	require.NoError(t, protocol.WritePacket(conn, pkt))
}

func recv(t *testing.T, conn net.Conn) *protocol.Packet {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	pkt, err := protocol.ReadPacket(conn)
	require.NoError(t, err)
	return pkt
}

func TestSession_HelloStateMachine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e, s, remote := pipeSession(t)
	defer e.Shutdown()
	defer s.Stop()

	hello := &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindHello, Neighbor: rB}

	send(t, remote, hello)
	reply := recv(t, remote)
	assert.Equal(t, protocol.KindHello, reply.Kind)
	assert.Equal(t, rA, reply.Sender)
	assert.Equal(t, rB, reply.Dest)
	assert.Equal(t, state.Init, s.State())

	send(t, remote, hello)
	recv(t, remote)
	// the reply goes out before the signal is raised
	select {
	case <-s.twoWay:
	case <-time.After(time.Second):
		t.Fatal("two-way signal not raised")
	}
	assert.Equal(t, state.TwoWay, s.State())

	// TWO_WAY absorbs further HELLOs; a reply would block the pipe and stall the update below
	send(t, remote, hello)
	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindLSAUpdate, LSAs: []state.LSA{lsa(rB, 1, rA)}})
	require.Eventually(t, func() bool {
		_, ok := e.Db.Get(rB)
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, state.TwoWay, s.State())
}

func TestSession_IgnoresForeignSender(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e, s, remote := pipeSession(t)
	defer e.Shutdown()
	defer s.Stop()

	send(t, remote, &protocol.Packet{Sender: rC, Dest: rA, Kind: protocol.KindLSAUpdate, LSAs: []state.LSA{lsa(rC, 1)}})
	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindAttachAccept})
	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindLSAUpdate, LSAs: []state.LSA{lsa(rB, 1)}})

	require.Eventually(t, func() bool {
		_, ok := e.Db.Get(rB)
		return ok
	}, time.Second, 10*time.Millisecond)
	_, ok := e.Db.Get(rC)
	assert.False(t, ok)
	assert.False(t, s.Dead())
	assert.Equal(t, []netip.Addr{rB}, e.Db.Self().Neighbors())
}

func TestSession_Quit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e, s, remote := pipeSession(t)
	defer e.Shutdown()
	defer remote.Close()

	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindLSAUpdate, LSAs: []state.LSA{lsa(rB, 1, rA)}})
	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindQuit, Final: true})

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop after QUIT")
	}
	assert.True(t, s.Dead())
	_, ok := e.Db.Get(rB)
	assert.False(t, ok, "final quit withdraws the peer")
	assert.Empty(t, e.Db.Self().Neighbors())
}

func TestSession_TransportLoss(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e, s, remote := pipeSession(t)
	defer e.Shutdown()

	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindLSAUpdate, LSAs: []state.LSA{lsa(rB, 1, rA)}})
	require.Eventually(t, func() bool {
		return len(e.Db.Self().Neighbors()) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, remote.Close())

	<-s.Done()
	assert.True(t, s.Dead())
	assert.Empty(t, e.Db.Self().Neighbors())
	got, ok := e.Db.Get(rB)
	require.True(t, ok, "a lost link is not a withdrawal")
	assert.Empty(t, got.Neighbors())
	assert.ErrorIs(t, s.Send(&protocol.Packet{Kind: protocol.KindHello}), state.ErrTransport)
}

func TestSession_UnknownKindClosesLink(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e, s, remote := pipeSession(t)
	defer e.Shutdown()
	defer remote.Close()

	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.KindLSAUpdate, LSAs: []state.LSA{lsa(rB, 1, rA)}})
	send(t, remote, &protocol.Packet{Sender: rB, Dest: rA, Kind: protocol.Kind(42)})

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session survived an unknown packet kind")
	}
	assert.Empty(t, e.Db.Self().Neighbors())
	_, ok := e.Db.Get(rB)
	assert.True(t, ok, "an unknown kind is not a withdrawal")
}
