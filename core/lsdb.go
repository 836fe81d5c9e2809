package core

import (
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/lsnet/perf"
	"github.com/encodeous/lsnet/state"
)

// Database is the link-state database of one router. Every operation holds mu for its
// whole duration; Update runs several operations under a single acquisition.
type Database struct {
	mu    sync.Mutex
	self  netip.Addr
	store map[netip.Addr]*state.LSA
}

// Tx gives access to the database while its lock is held. It must not escape Update.
type Tx struct {
	db *Database
}

func NewDatabase(self netip.Addr) *Database {
	lsa := state.NewSelfLSA(self)
	return &Database{
		self:  self,
		store: map[netip.Addr]*state.LSA{self: &lsa},
	}
}

// Update runs fn with the database lock held.
func (db *Database) Update(fn func(tx *Tx)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(&Tx{db})
}

func (db *Database) Merge(incoming []state.LSA, withdrawal bool, originator netip.Addr) []state.LSA {
	var accepted []state.LSA
	db.Update(func(tx *Tx) {
		accepted = tx.Merge(incoming, withdrawal, originator)
	})
	return accepted
}

func (db *Database) AddNeighborLink(neighbor netip.Addr, port int) (state.LSA, bool) {
	var lsa state.LSA
	var ok bool
	db.Update(func(tx *Tx) {
		lsa, ok = tx.AddNeighborLink(neighbor, port)
	})
	return lsa, ok
}

func (db *Database) RemoveNeighborLink(neighbor netip.Addr) (state.LSA, bool) {
	var lsa state.LSA
	var ok bool
	db.Update(func(tx *Tx) {
		lsa, ok = tx.RemoveNeighborLink(neighbor)
	})
	return lsa, ok
}

func (db *Database) RemoveReverseLink(remote netip.Addr) (state.LSA, bool) {
	var lsa state.LSA
	var ok bool
	db.Update(func(tx *Tx) {
		lsa, ok = tx.RemoveReverseLink(remote)
	})
	return lsa, ok
}

func (db *Database) ShortestPath(dest netip.Addr) (state.Path, error) {
	var path state.Path
	var err error
	db.Update(func(tx *Tx) {
		path, err = tx.ShortestPath(dest)
	})
	return path, err
}

// NextHops maps every reachable router to the neighbor that starts the shortest path towards it.
func (db *Database) NextHops() map[netip.Addr]netip.Addr {
	var hops map[netip.Addr]netip.Addr
	db.Update(func(tx *Tx) {
		hops = tx.NextHops()
	})
	return hops
}

func (db *Database) Export() []state.LSA {
	var out []state.LSA
	db.Update(func(tx *Tx) {
		out = tx.Export()
	})
	return out
}

func (db *Database) Get(origin netip.Addr) (state.LSA, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lsa, ok := db.store[origin]
	if !ok {
		return state.LSA{}, false
	}
	return lsa.Clone(), true
}

func (db *Database) Self() state.LSA {
	lsa, _ := db.Get(db.self)
	return lsa
}

func (db *Database) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.store)
}

// Merge applies flooded advertisements. A withdrawal first drops the originator's entry, so a
// copy of it in incoming is stored as new. Otherwise the higher sequence number wins and
// ties keep the stored value. Only the accepted LSAs are returned; they are what must be re-flooded.
// The local router's own entry is never replaced from the outside.
func (tx *Tx) Merge(incoming []state.LSA, withdrawal bool, originator netip.Addr) []state.LSA {
	db := tx.db
	start := time.Now()
	if withdrawal && originator != db.self {
		delete(db.store, originator)
	}
	accepted := make([]state.LSA, 0)
	for _, lsa := range incoming {
		if !lsa.Origin.IsValid() || lsa.Origin == db.self {
			continue
		}
		cur, ok := db.store[lsa.Origin]
		if ok && lsa.Seq <= cur.Seq {
			perf.StaleLSAPerSecond.Add(1)
			continue
		}
		stored := lsa.Clone()
		db.store[lsa.Origin] = &stored
		accepted = append(accepted, lsa.Clone())
	}
	perf.AcceptedLSAPerSecond.Add(float64(len(accepted)))
	perf.MergeLatency.Add(float64(time.Since(start).Microseconds()))
	return accepted
}

// Has reports whether origin is currently stored.
func (tx *Tx) Has(origin netip.Addr) bool {
	_, ok := tx.db.store[origin]
	return ok
}

// AddNeighborLink lists neighbor in the local LSA. It returns false if it was already listed.
func (tx *Tx) AddNeighborLink(neighbor netip.Addr, port int) (state.LSA, bool) {
	self := tx.db.store[tx.db.self]
	if self.HasLink(neighbor) {
		return state.LSA{}, false
	}
	self.Links = append(self.Links, state.LinkDescriptor{Neighbor: neighbor, Port: port})
	self.Seq++
	return self.Clone(), true
}

// RemoveNeighborLink drops neighbor from the local LSA. It returns false if it was not listed.
func (tx *Tx) RemoveNeighborLink(neighbor netip.Addr) (state.LSA, bool) {
	self := tx.db.store[tx.db.self]
	if !self.RemoveLink(neighbor) {
		return state.LSA{}, false
	}
	self.Seq++
	return self.Clone(), true
}

// RemoveReverseLink strips the local router from remote's stored LSA.
func (tx *Tx) RemoveReverseLink(remote netip.Addr) (state.LSA, bool) {
	if remote == tx.db.self {
		return state.LSA{}, false
	}
	lsa, ok := tx.db.store[remote]
	if !ok || !lsa.RemoveLink(tx.db.self) {
		return state.LSA{}, false
	}
	lsa.Seq++
	return lsa.Clone(), true
}

// bfs explores the graph of stored advertisements from the local router. Neighbors are
// visited in advertisement order, so the first router to discover a node becomes its parent.
func (tx *Tx) bfs() map[netip.Addr]netip.Addr {
	db := tx.db
	parent := map[netip.Addr]netip.Addr{db.self: db.self}
	queue := []netip.Addr{db.self}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		lsa, ok := db.store[cur]
		if !ok {
			continue
		}
		for _, next := range lsa.Neighbors() {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return parent
}

func (tx *Tx) ShortestPath(dest netip.Addr) (state.Path, error) {
	if dest == tx.db.self {
		return nil, state.ErrSelfPath
	}
	if _, ok := tx.db.store[dest]; !ok {
		return nil, state.ErrNoPath
	}
	parent := tx.bfs()
	if _, ok := parent[dest]; !ok {
		return nil, state.ErrNoPath
	}
	path := state.Path{dest}
	for cur := dest; cur != tx.db.self; {
		cur = parent[cur]
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path, nil
}

func (tx *Tx) NextHops() map[netip.Addr]netip.Addr {
	self := tx.db.self
	parent := tx.bfs()
	hops := make(map[netip.Addr]netip.Addr, len(parent))
	for dest := range parent {
		if _, ok := tx.db.store[dest]; !ok || dest == self {
			continue
		}
		hop := dest
		for parent[hop] != self {
			hop = parent[hop]
		}
		hops[dest] = hop
	}
	return hops
}

// Export returns a copy of every stored LSA ordered by origin.
func (tx *Tx) Export() []state.LSA {
	out := make([]state.LSA, 0, len(tx.db.store))
	for _, lsa := range tx.db.store {
		out = append(out, lsa.Clone())
	}
	slices.SortFunc(out, func(a, b state.LSA) int {
		return a.Origin.Compare(b.Origin)
	})
	return out
}
