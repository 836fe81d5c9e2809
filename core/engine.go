package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/lsnet/protocol"
	"github.com/encodeous/lsnet/state"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// Engine is a single simulated router: its slot table, link-state database and listener.
type Engine struct {
	Self state.Identity
	Cfg  state.LocalCfg
	Db   *Database

	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelCauseFunc

	slotsMu sync.Mutex
	slots   [state.MaxLinks]*Session

	listener   *net.TCPListener
	acceptDone chan struct{}
	// closed once the decision janitor has returned
	janitorDone chan struct{}

	requests    chan *AttachRequest
	pending     *ttlcache.Cache[uuid.UUID, *AttachRequest]
	unsubscribe func()

	stopping atomic.Bool
}

// NeighborInfo is a snapshot of one slot.
type NeighborInfo struct {
	Slot    int
	Free    bool
	Peer    state.Identity
	State   state.AdjState
	Session uuid.UUID
}

func New(cfg state.LocalCfg, log *slog.Logger) (*Engine, error) {
	err := state.NodeConfigValidator(&cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	self := cfg.Identity()
	ctx, cancel := context.WithCancelCause(context.Background())
	e := &Engine{
		Self:     self,
		Cfg:      cfg,
		Db:       NewDatabase(self.Addr),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		requests: make(chan *AttachRequest, 1),
		pending: ttlcache.New[uuid.UUID, *AttachRequest](
			ttlcache.WithTTL[uuid.UUID, *AttachRequest](cfg.GetDecisionTimeout()),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, *AttachRequest](),
		),
	}
	e.unsubscribe = e.pending.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uuid.UUID, *AttachRequest]) {
		if reason == ttlcache.EvictionReasonExpired {
			item.Value().resolve(false, state.ReasonTimeout)
		}
	})
	return e, nil
}

// Listen binds the router's process address and starts accepting attach requests.
// A zero port is replaced by the one the kernel picked.
func (e *Engine) Listen() error {
	lc := net.ListenConfig{}
	l, err := lc.Listen(e.ctx, "tcp", e.Self.ProcessAddr.String())
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %w", state.ErrTransport, e.Self.ProcessAddr, err)
	}
	tl := l.(*net.TCPListener)
	if e.Self.ProcessAddr.Port() == 0 {
		bound := tl.Addr().(*net.TCPAddr).AddrPort()
		e.Self.ProcessAddr = netip.AddrPortFrom(e.Self.ProcessAddr.Addr(), bound.Port())
	}
	e.listener = tl
	e.acceptDone = make(chan struct{})
	e.janitorDone = make(chan struct{})
	go func() {
		defer close(e.janitorDone)
		e.pending.Start()
	}()
	go e.acceptLoop()
	e.log.Info("listening", "addr", e.Self.ProcessAddr, "id", e.Self.Addr)
	return nil
}

func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

// sweepLocked reclaims the slots of failed sessions. slotsMu must be held.
func (e *Engine) sweepLocked() {
	for i, s := range e.slots {
		if s != nil && s.Dead() {
			e.log.Debug("reclaimed slot", "slot", i, "peer", s.Peer.Addr)
			e.slots[i] = nil
		}
	}
}

func (e *Engine) freeSlotLocked() int {
	for i, s := range e.slots {
		if s == nil {
			return i
		}
	}
	return -1
}

func (e *Engine) findPeerLocked(addr netip.Addr) *Session {
	for _, s := range e.slots {
		if s != nil && s.Peer.Addr == addr {
			return s
		}
	}
	return nil
}

func (e *Engine) hasPeer(addr netip.Addr) bool {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	e.sweepLocked()
	return e.findPeerLocked(addr) != nil
}

func (e *Engine) hasFreeSlot() bool {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	e.sweepLocked()
	return e.freeSlotLocked() != -1
}

// install places an established connection into the lowest free slot and starts its receive loop.
func (e *Engine) install(peer state.Identity, conn net.Conn) (*Session, error) {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	if e.stopping.Load() {
		return nil, state.ErrShutdown
	}
	e.sweepLocked()
	if e.findPeerLocked(peer.Addr) != nil {
		return nil, fmt.Errorf("%w: %s", state.ErrAlreadyAttached, peer.Addr)
	}
	slot := e.freeSlotLocked()
	if slot == -1 {
		return nil, state.ErrNoFreeSlot
	}
	s := newSession(e, slot, peer, conn)
	e.slots[slot] = s
	go s.run()
	return s, nil
}

func (e *Engine) session(slot int) *Session {
	if slot < 0 || slot >= state.MaxLinks {
		return nil
	}
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	return e.slots[slot]
}

func (e *Engine) clearSlot(s *Session) {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	if e.slots[s.Slot] == s {
		e.slots[s.Slot] = nil
	}
}

// occupied returns the live sessions in slot order.
func (e *Engine) occupied() []*Session {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	out := make([]*Session, 0, state.MaxLinks)
	for _, s := range e.slots {
		if s != nil && !s.Dead() {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) Neighbors() [state.MaxLinks]NeighborInfo {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	var out [state.MaxLinks]NeighborInfo
	for i, s := range e.slots {
		if s == nil || s.Dead() {
			out[i] = NeighborInfo{Slot: i, Free: true}
			continue
		}
		out[i] = NeighborInfo{
			Slot:    i,
			Peer:    s.Peer,
			State:   s.State(),
			Session: s.Id,
		}
	}
	return out
}

// Connect attaches to a remote router and immediately runs Start.
func (e *Engine) Connect(ctx context.Context, processAddr netip.AddrPort, id netip.Addr) (int, error) {
	slot, err := e.Attach(ctx, processAddr, id)
	if err != nil {
		return -1, err
	}
	return slot, e.Start(ctx)
}

// Start brings every occupied slot to TWO_WAY, records the confirmed neighbors in the local LSA
// and floods the whole database. Slots that fail to confirm are reported but do not stop the others.
func (e *Engine) Start(ctx context.Context) error {
	var errs []error
	confirmed := make([]*Session, 0, state.MaxLinks)
	for _, s := range e.occupied() {
		err := s.awaitTwoWay(ctx, e.Cfg.GetHelloTimeout())
		if err != nil {
			s.log.Warn("adjacency not established", "err", err)
			errs = append(errs, fmt.Errorf("slot %d (%s): %w", s.Slot, s.Peer.Addr, err))
			continue
		}
		s.log.Info("set state to TWO_WAY")
		confirmed = append(confirmed, s)
	}

	var snapshot []state.LSA
	e.Db.Update(func(tx *Tx) {
		for _, s := range confirmed {
			tx.AddNeighborLink(s.Peer.Addr, s.Slot)
		}
		snapshot = tx.Export()
	})
	e.flood(floodUpdate{lsas: snapshot}, -1)
	return errors.Join(errs...)
}

// Disconnect ends the link in slot. A final disconnect announces that this router is leaving,
// so every other router drops its advertisement.
func (e *Engine) Disconnect(slot int, final bool) error {
	s := e.session(slot)
	if s == nil || s.Dead() {
		if s != nil {
			s.Stop()
			e.clearSlot(s)
		}
		return fmt.Errorf("%w: %d", state.ErrSlotEmpty, slot)
	}
	s.log.Info("disconnecting", "final", final)
	s.stopping.Store(true)
	quit := s.packet(protocol.KindQuit)
	quit.Final = final
	err := s.Send(quit)
	if err != nil {
		s.log.Debug("failed to send QUIT", "err", err)
	}
	s.Stop()
	e.clearSlot(s)

	var snapshot []state.LSA
	e.Db.Update(func(tx *Tx) {
		tx.RemoveNeighborLink(s.Peer.Addr)
		tx.RemoveReverseLink(s.Peer.Addr)
		snapshot = tx.Export()
	})
	u := floodUpdate{lsas: snapshot}
	if final {
		u = floodUpdate{
			lsas:      withoutOrigin(snapshot, e.Self.Addr),
			final:     true,
			withdrawn: e.Self.Addr,
		}
	}
	e.flood(u, slot)
	return nil
}

func (e *Engine) ShortestPathTo(dest netip.Addr) (state.Path, error) {
	return e.Db.ShortestPath(dest)
}

// Database returns the stored advertisements ordered by origin.
func (e *Engine) Database() []state.LSA {
	return e.Db.Export()
}

// stopJanitor stops the decision janitor. Stop is a no-op until Start has entered its loop,
// so it is repeated until the janitor goroutine returns.
func (e *Engine) stopJanitor() {
	retry := time.NewTicker(10 * time.Millisecond)
	defer retry.Stop()
	for {
		e.pending.Stop()
		select {
		case <-e.janitorDone:
			return
		case <-retry.C:
		}
	}
}

// Shutdown stops accepting, disconnects every neighbor with the final flag and releases all goroutines.
func (e *Engine) Shutdown() {
	if e.stopping.Swap(true) {
		return
	}
	e.log.Info("shutting down")
	e.cancel(state.ErrShutdown)
	if e.listener != nil {
		_ = e.listener.Close()
		<-e.acceptDone
		e.stopJanitor()
	}
	for _, item := range e.pending.Items() {
		item.Value().resolve(false, state.ReasonDeclined)
	}
	e.pending.DeleteAll()

	for _, s := range e.occupied() {
		err := e.Disconnect(s.Slot, true)
		if err != nil {
			e.log.Debug("failed to disconnect", "slot", s.Slot, "err", err)
		}
	}
	// sessions that died on their own still own a receive loop
	e.slotsMu.Lock()
	rest := e.slots
	e.slots = [state.MaxLinks]*Session{}
	e.slotsMu.Unlock()
	for _, s := range rest {
		if s != nil {
			s.Stop()
		}
	}
	e.unsubscribe()
	e.log.Info("shutdown complete")
}
