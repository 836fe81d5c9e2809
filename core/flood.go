package core

import (
	"net/netip"

	"github.com/encodeous/lsnet/perf"
	"github.com/encodeous/lsnet/protocol"
	"github.com/encodeous/lsnet/state"
)

type floodUpdate struct {
	lsas      []state.LSA
	final     bool
	withdrawn netip.Addr
}

// flood sends u to every live neighbor except the one in slot excluded. Failed links are skipped.
func (e *Engine) flood(u floodUpdate, excluded int) {
	perf.FloodsPerSecond.Add(1)
	for _, s := range e.occupied() {
		if s.Slot == excluded {
			continue
		}
		pkt := s.packet(protocol.KindLSAUpdate)
		pkt.LSAs = u.lsas
		pkt.Final = u.final
		if u.final {
			pkt.Withdrawn = u.withdrawn
		}
		err := s.Send(pkt)
		if err != nil {
			s.log.Debug("skipping failed link during flood", "err", err)
		}
	}
}

// propagate re-floods what was learned from a neighbor. Updates that claim to come from this
// router have looped back and are dropped.
func (e *Engine) propagate(from netip.Addr, u floodUpdate, excluded int) {
	if from == e.Self.Addr {
		return
	}
	if len(u.lsas) == 0 && !u.final {
		return
	}
	e.flood(u, excluded)
}

func (e *Engine) handleUpdate(s *Session, pkt *protocol.Packet) {
	var (
		self        state.LSA
		selfChanged bool
		withdrew    bool
		accepted    []state.LSA
	)
	e.Db.Update(func(tx *Tx) {
		self, selfChanged = tx.AddNeighborLink(s.Peer.Addr, s.Slot)
		withdrew = pkt.Final && pkt.Withdrawn != e.Self.Addr && tx.Has(pkt.Withdrawn)
		accepted = tx.Merge(pkt.LSAs, pkt.Final, pkt.Withdrawn)
	})
	s.log.Debug("merged update", "received", len(pkt.LSAs), "accepted", len(accepted), "withdrew", withdrew)

	if selfChanged {
		// the sender must learn the new link too, or it never sees this router's side of it
		e.flood(floodUpdate{lsas: []state.LSA{self}}, -1)
	}
	u := floodUpdate{lsas: accepted}
	if withdrew {
		u.final = true
		u.withdrawn = pkt.Withdrawn
	}
	e.propagate(pkt.Sender, u, s.Slot)
}

// linkDown handles the loss of a neighbor initiated by the remote side or by a transport failure.
func (e *Engine) linkDown(s *Session, final bool) {
	peer := s.Peer.Addr
	var snapshot []state.LSA
	e.Db.Update(func(tx *Tx) {
		tx.RemoveNeighborLink(peer)
		tx.RemoveReverseLink(peer)
		if final {
			tx.Merge(nil, true, peer)
		}
		snapshot = tx.Export()
	})
	s.close()
	perf.LinkEvents.Add(1)
	s.log.Info("neighbor removed", "final", final)
	e.flood(floodUpdate{lsas: snapshot, final: final, withdrawn: peer}, s.Slot)
}

func withoutOrigin(lsas []state.LSA, origin netip.Addr) []state.LSA {
	out := make([]state.LSA, 0, len(lsas))
	for _, lsa := range lsas {
		if lsa.Origin != origin {
			out = append(out, lsa)
		}
	}
	return out
}
