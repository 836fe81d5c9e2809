package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/lsnet/perf"
	"github.com/encodeous/lsnet/protocol"
	"github.com/encodeous/lsnet/state"
	"github.com/google/uuid"
)

// Session owns one live link to a neighbor. Its receive loop is the only reader of conn;
// writers are serialized by writeMu so floods and protocol replies never interleave.
type Session struct {
	Id   uuid.UUID
	Slot int
	Peer state.Identity

	e    *Engine
	conn net.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	stateMu    sync.Mutex
	state      state.AdjState
	twoWay     chan struct{}
	twoWayOnce sync.Once

	dead      atomic.Bool
	stopping  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(e *Engine, slot int, peer state.Identity, conn net.Conn) *Session {
	id := uuid.New()
	return &Session{
		Id:     id,
		Slot:   slot,
		Peer:   peer,
		e:      e,
		conn:   conn,
		log:    e.log.With("slot", slot, "peer", peer.Addr, "link", id.String()),
		state:  state.Uninitialized,
		twoWay: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Session) State() state.AdjState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Dead reports whether the link has failed or been closed; dead sessions are reclaimed on the next sweep.
func (s *Session) Dead() bool {
	return s.dead.Load()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) packet(kind protocol.Kind) *protocol.Packet {
	return &protocol.Packet{
		SenderProcess: s.e.Self.ProcessAddr,
		Sender:        s.e.Self.Addr,
		Dest:          s.Peer.Addr,
		Kind:          kind,
	}
}

func (s *Session) hello() *protocol.Packet {
	pkt := s.packet(protocol.KindHello)
	pkt.Neighbor = s.e.Self.Addr
	return pkt
}

func (s *Session) Send(pkt *protocol.Packet) error {
	if s.dead.Load() {
		return fmt.Errorf("%w: link to %s is closed", state.ErrTransport, s.Peer.Addr)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(state.WriteTimeout))
	err := protocol.WritePacket(s.conn, pkt)
	if err != nil {
		s.close()
		return fmt.Errorf("%w: %w", state.ErrTransport, err)
	}
	perf.SentPacketPerSecond.Add(1)
	return nil
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.dead.Store(true)
		_ = s.conn.Close()
	})
}

// Stop closes the link and waits for the receive loop to exit.
func (s *Session) Stop() {
	s.stopping.Store(true)
	s.close()
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	s.log.Debug("link service start")
	for {
		pkt, err := protocol.ReadPacket(s.conn)
		if err != nil {
			s.close()
			if !s.stopping.Load() {
				s.log.Info("link severed", "err", err)
				s.e.linkDown(s, false)
			}
			return
		}
		perf.RecvPacketPerSecond.Add(1)
		if !s.handle(pkt) {
			return
		}
	}
}

// handle dispatches one inbound packet. It returns false once the session has ended.
func (s *Session) handle(pkt *protocol.Packet) bool {
	if pkt.Sender != s.Peer.Addr {
		s.log.Warn("ignoring packet from unexpected router", "err", state.ErrProtocol, "from", pkt.Sender, "kind", pkt.Kind)
		return true
	}
	switch pkt.Kind {
	case protocol.KindHello:
		s.handleHello()
	case protocol.KindLSAUpdate:
		s.e.handleUpdate(s, pkt)
	case protocol.KindQuit:
		s.log.Info("received QUIT, closing link", "final", pkt.Final)
		s.stopping.Store(true)
		s.e.linkDown(s, pkt.Final)
		return false
	case protocol.KindAttachRequest, protocol.KindAttachAccept, protocol.KindAttachReject:
		s.log.Warn("unexpected packet", "err", state.ErrProtocol, "kind", pkt.Kind, "state", s.State())
	default:
		s.log.Warn("unrecognized packet, closing link", "kind", pkt.Kind)
		s.stopping.Store(true)
		s.e.linkDown(s, false)
		return false
	}
	return true
}

func (s *Session) handleHello() {
	s.stateMu.Lock()
	prev := s.state
	switch prev {
	case state.Uninitialized:
		s.state = state.Init
	case state.Init:
		s.state = state.TwoWay
	}
	cur := s.state
	s.stateMu.Unlock()

	if prev == cur {
		return
	}
	s.log.Info("received HELLO", "state", cur)
	// the reply must reach the peer ahead of anything flooded once TWO_WAY is signalled
	err := s.Send(s.hello())
	if err != nil {
		s.log.Debug("failed to reply to HELLO", "err", err)
	}
	if cur == state.TwoWay {
		s.twoWayOnce.Do(func() {
			close(s.twoWay)
		})
	}
}

// awaitTwoWay sends HELLO and waits until the receive loop confirms the adjacency.
func (s *Session) awaitTwoWay(ctx context.Context, timeout time.Duration) error {
	s.stateMu.Lock()
	if s.state != state.TwoWay {
		s.state = state.Init
	}
	s.stateMu.Unlock()

	err := s.Send(s.hello())
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.twoWay:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: link closed before TWO_WAY", state.ErrTransport)
	case <-timer.C:
		return state.ErrHelloTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
