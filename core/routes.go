package core

import (
	"net/netip"
	"slices"

	"github.com/encodeous/lsnet/state"
	"github.com/gaissmai/bart"
)

// Route is the forwarding decision for one destination router.
type Route struct {
	Dest    netip.Addr
	NextHop netip.Addr
	// Slot holds the link towards NextHop, or -1 when that neighbor is not attached locally.
	Slot int
}

// RouteTable is a forwarding table computed from one database snapshot.
type RouteTable struct {
	table   bart.Table[Route]
	entries []Route
}

// Lookup returns the route for addr.
func (t *RouteTable) Lookup(addr netip.Addr) (Route, bool) {
	return t.table.Lookup(addr)
}

// Entries returns all routes ordered by destination.
func (t *RouteTable) Entries() []Route {
	return slices.Clone(t.entries)
}

func (t *RouteTable) Len() int {
	return len(t.entries)
}

// Routes derives the forwarding table from the shortest-path tree of the current database.
func (e *Engine) Routes() *RouteTable {
	hops := e.Db.NextHops()
	slots := make(map[netip.Addr]int, state.MaxLinks)
	for _, s := range e.occupied() {
		slots[s.Peer.Addr] = s.Slot
	}

	t := &RouteTable{entries: make([]Route, 0, len(hops))}
	for dest, hop := range hops {
		slot, ok := slots[hop]
		if !ok {
			slot = -1
		}
		r := Route{Dest: dest, NextHop: hop, Slot: slot}
		t.table.Insert(netip.PrefixFrom(dest, dest.BitLen()), r)
		t.entries = append(t.entries, r)
	}
	slices.SortFunc(t.entries, func(a, b Route) int {
		return a.Dest.Compare(b.Dest)
	})
	return t
}

// NextHop returns the neighbor that packets for dest leave through.
func (e *Engine) NextHop(dest netip.Addr) (Route, bool) {
	return e.Routes().Lookup(dest)
}
