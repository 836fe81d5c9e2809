package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/encodeous/lsnet/protocol"
	"github.com/encodeous/lsnet/state"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

type decision struct {
	accept bool
	reason state.RejectReason
}

// AttachRequest is an inbound attach waiting for the operator. It resolves exactly once,
// either through Accept/Reject or when the decision window expires.
type AttachRequest struct {
	Id       uuid.UUID
	Peer     state.Identity
	Received time.Time
	decision chan decision
}

func (r *AttachRequest) resolve(accept bool, reason state.RejectReason) {
	select {
	case r.decision <- decision{accept, reason}:
	default:
	}
}

func (r *AttachRequest) Accept() {
	r.resolve(true, 0)
}

func (r *AttachRequest) Reject() {
	r.resolve(false, state.ReasonDeclined)
}

func (r *AttachRequest) String() string {
	return fmt.Sprintf("%s (%s)", r.Peer.Addr, r.Peer.ProcessAddr)
}

// PendingAttach delivers inbound requests that need an operator decision. Only the latest
// undelivered request is kept.
func (e *Engine) PendingAttach() <-chan *AttachRequest {
	return e.requests
}

// Decide resolves a pending request by id.
func (e *Engine) Decide(id uuid.UUID, accept bool) error {
	item := e.pending.Get(id)
	if item == nil {
		return fmt.Errorf("no pending attach request %s", id)
	}
	if accept {
		item.Value().Accept()
	} else {
		item.Value().Reject()
	}
	return nil
}

// Pending lists the requests still waiting for a decision.
func (e *Engine) Pending() []*AttachRequest {
	items := e.pending.Items()
	out := make([]*AttachRequest, 0, len(items))
	for _, item := range items {
		out = append(out, item.Value())
	}
	return out
}

// Attach asks the router at processAddr, which must identify itself as id, to become a neighbor.
// On acceptance the link occupies the lowest free slot, which is returned.
func (e *Engine) Attach(ctx context.Context, processAddr netip.AddrPort, id netip.Addr) (int, error) {
	if id == e.Self.Addr || processAddr == e.Self.ProcessAddr {
		return -1, fmt.Errorf("%w: %s", state.ErrSelfReference, id)
	}
	if e.stopping.Load() {
		return -1, state.ErrShutdown
	}
	if e.hasPeer(id) {
		return -1, fmt.Errorf("%w: %s", state.ErrAlreadyAttached, id)
	}
	if !e.hasFreeSlot() {
		return -1, state.ErrNoFreeSlot
	}

	dialer := net.Dialer{Timeout: e.Cfg.GetAttachTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", processAddr.String())
	if err != nil {
		return -1, fmt.Errorf("%w: %w", state.ErrTransport, err)
	}
	peer := state.Identity{Addr: id, ProcessAddr: processAddr}
	s, err := e.requestAttach(ctx, conn, peer)
	if err != nil {
		_ = conn.Close()
		e.log.Info("attach failed", "peer", peer, "err", err)
		return -1, err
	}
	s.log.Info("attached")
	return s.Slot, nil
}

func (e *Engine) requestAttach(ctx context.Context, conn net.Conn, peer state.Identity) (*Session, error) {
	_ = conn.SetDeadline(time.Now().Add(e.Cfg.GetAttachTimeout()))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	err := protocol.WritePacket(conn, &protocol.Packet{
		SenderProcess: e.Self.ProcessAddr,
		Sender:        e.Self.Addr,
		Dest:          peer.Addr,
		Kind:          protocol.KindAttachRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", state.ErrTransport, err)
	}
	resp, err := protocol.ReadPacket(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: %s", state.ErrNoResponse, peer.Addr)
		}
		return nil, fmt.Errorf("%w: %w", state.ErrTransport, err)
	}

	switch resp.Kind {
	case protocol.KindAttachReject:
		return nil, &state.RejectedError{Reason: resp.Reason}
	case protocol.KindAttachAccept:
	default:
		return nil, fmt.Errorf("%w: unexpected %s in reply to attach", state.ErrProtocol, resp.Kind)
	}
	if resp.Sender != peer.Addr {
		return nil, fmt.Errorf("%w: expected router %s, got %s", state.ErrProtocol, peer.Addr, resp.Sender)
	}
	if !stop() {
		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})
	return e.install(peer, conn)
}

func (e *Engine) acceptLoop() {
	defer close(e.acceptDone)
	for e.ctx.Err() == nil {
		_ = e.listener.SetDeadline(time.Now().Add(state.AcceptPollInterval))
		conn, err := e.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || e.ctx.Err() != nil {
				return
			}
			e.log.Warn("failed to accept connection", "err", err)
			continue
		}
		e.serveAttach(conn)
	}
}

// admit runs the checks that do not need an operator.
func (e *Engine) admit(peer state.Identity, dest netip.Addr) (state.RejectReason, bool) {
	switch {
	case !peer.Addr.IsValid() || peer.Addr == e.Self.Addr || dest != e.Self.Addr:
		return state.ReasonMismatch, false
	case e.hasPeer(peer.Addr):
		return state.ReasonDuplicate, false
	case !e.hasFreeSlot():
		return state.ReasonCapacity, false
	}
	return 0, true
}

// serveAttach handles one inbound connection. Requests are served one at a time.
func (e *Engine) serveAttach(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(e.Cfg.GetAttachTimeout()))
	// until the session owns conn, shutdown must not wait on a silent dialer
	release := context.AfterFunc(e.ctx, func() {
		_ = conn.Close()
	})
	defer release()
	pkt, err := protocol.ReadPacket(conn)
	if err != nil {
		e.log.Debug("failed to read attach request", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}
	if pkt.Kind != protocol.KindAttachRequest {
		e.log.Warn("expected attach request", "err", state.ErrProtocol, "kind", pkt.Kind, "remote", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	peer := state.Identity{Addr: pkt.Sender, ProcessAddr: pkt.SenderProcess}

	reason, ok := e.admit(peer, pkt.Dest)
	if ok {
		e.log.Info("received attach request", "peer", peer)
		ok, reason = e.awaitDecision(peer)
	}
	if !ok {
		e.reject(conn, peer, reason)
		return
	}

	if !release() {
		e.log.Debug("dropped attach request during shutdown", "peer", peer)
		return
	}
	_ = conn.SetDeadline(time.Time{})
	s, err := e.install(peer, conn)
	if err != nil {
		reason = state.ReasonDeclined
		switch {
		case errors.Is(err, state.ErrNoFreeSlot):
			reason = state.ReasonCapacity
		case errors.Is(err, state.ErrAlreadyAttached):
			reason = state.ReasonDuplicate
		}
		e.reject(conn, peer, reason)
		return
	}
	err = s.Send(&protocol.Packet{
		SenderProcess: e.Self.ProcessAddr,
		Sender:        e.Self.Addr,
		Dest:          peer.Addr,
		Kind:          protocol.KindAttachAccept,
	})
	if err != nil {
		s.log.Warn("failed to accept attach", "err", err)
		return
	}
	s.log.Info("accepted attach request")
}

// awaitDecision blocks until the operator answers, the decision window expires or the router stops.
func (e *Engine) awaitDecision(peer state.Identity) (bool, state.RejectReason) {
	if e.Cfg.AutoAccept {
		return true, 0
	}
	req := &AttachRequest{
		Id:       uuid.New(),
		Peer:     peer,
		Received: time.Now(),
		decision: make(chan decision, 1),
	}
	e.pending.Set(req.Id, req, ttlcache.DefaultTTL)
	defer e.pending.Delete(req.Id)

	select {
	case <-e.requests:
	default:
	}
	select {
	case e.requests <- req:
	default:
	}

	select {
	case d := <-req.decision:
		return d.accept, d.reason
	case <-e.ctx.Done():
		return false, state.ReasonDeclined
	}
}

func (e *Engine) reject(conn net.Conn, peer state.Identity, reason state.RejectReason) {
	e.log.Info("rejected attach request", "peer", peer, "reason", reason)
	err := protocol.WritePacket(conn, &protocol.Packet{
		SenderProcess: e.Self.ProcessAddr,
		Sender:        e.Self.Addr,
		Dest:          peer.Addr,
		Kind:          protocol.KindAttachReject,
		Reason:        reason,
	})
	if err != nil {
		e.log.Debug("failed to send reject", "peer", peer, "err", err)
	}
	_ = conn.Close()
}
