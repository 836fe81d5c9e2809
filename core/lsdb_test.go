package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/lsnet/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rA = netip.MustParseAddr("192.168.1.1")
	rB = netip.MustParseAddr("192.168.1.2")
	rC = netip.MustParseAddr("192.168.1.3")
	rD = netip.MustParseAddr("192.168.1.4")
	rE = netip.MustParseAddr("192.168.1.5")
)

var addrCmp = cmp.Comparer(func(x, y netip.Addr) bool { return x == y })

func lsa(origin netip.Addr, seq uint32, neighbors ...netip.Addr) state.LSA {
	l := state.NewSelfLSA(origin)
	l.Seq = seq
	for i, n := range neighbors {
		l.Links = append(l.Links, state.LinkDescriptor{Neighbor: n, Port: i})
	}
	return l
}

func TestDatabase_Init(t *testing.T) {
	db := NewDatabase(rA)
	assert.Equal(t, 1, db.Len())
	self := db.Self()
	assert.Equal(t, rA, self.Origin)
	assert.Equal(t, uint32(0), self.Seq)
	assert.Empty(t, self.Neighbors())
}

func TestMerge_HigherSeqWins(t *testing.T) {
	db := NewDatabase(rA)
	acc := db.Merge([]state.LSA{lsa(rB, 2, rC)}, false, netip.Addr{})
	require.Len(t, acc, 1)

	acc = db.Merge([]state.LSA{lsa(rB, 1)}, false, netip.Addr{})
	assert.Empty(t, acc, "stale lsa must be rejected")
	acc = db.Merge([]state.LSA{lsa(rB, 2)}, false, netip.Addr{})
	assert.Empty(t, acc, "equal seq keeps stored lsa")

	got, ok := db.Get(rB)
	require.True(t, ok)
	assert.Equal(t, uint32(2), got.Seq)
	assert.True(t, got.HasLink(rC))

	acc = db.Merge([]state.LSA{lsa(rB, 3)}, false, netip.Addr{})
	require.Len(t, acc, 1)
	got, _ = db.Get(rB)
	assert.False(t, got.HasLink(rC))
}

func TestMerge_Idempotent(t *testing.T) {
	db := NewDatabase(rA)
	set := []state.LSA{lsa(rB, 1, rA, rC), lsa(rC, 4, rB)}
	first := db.Merge(set, false, netip.Addr{})
	assert.Len(t, first, 2)
	before := db.Export()
	second := db.Merge(set, false, netip.Addr{})
	assert.Empty(t, second)
	if diff := cmp.Diff(before, db.Export(), addrCmp); diff != "" {
		t.Errorf("database changed on repeated merge (-before +after):\n%s", diff)
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	sets := [][]state.LSA{
		{lsa(rB, 1, rC)},
		{lsa(rB, 3, rC, rD), lsa(rC, 1)},
		{lsa(rC, 2, rB), lsa(rD, 5)},
		{lsa(rB, 2)},
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}, {1, 3, 0, 2}}

	var want []state.LSA
	for _, order := range orders {
		db := NewDatabase(rA)
		for _, i := range order {
			db.Merge(sets[i], false, netip.Addr{})
		}
		got := db.Export()
		if want == nil {
			want = got
			continue
		}
		if diff := cmp.Diff(want, got, addrCmp); diff != "" {
			t.Errorf("order %v converged differently (-want +got):\n%s", order, diff)
		}
	}
	require.Len(t, want, 4)
	assert.Equal(t, uint32(3), want[1].Seq)
}

func TestMerge_NeverReplacesSelf(t *testing.T) {
	db := NewDatabase(rA)
	db.AddNeighborLink(rB, 0)
	acc := db.Merge([]state.LSA{lsa(rA, 100)}, false, netip.Addr{})
	assert.Empty(t, acc)
	self := db.Self()
	assert.Equal(t, uint32(1), self.Seq)
	assert.True(t, self.HasLink(rB))
}

func TestMerge_Withdrawal(t *testing.T) {
	db := NewDatabase(rA)
	db.Merge([]state.LSA{lsa(rB, 1, rC), lsa(rC, 1, rB)}, false, netip.Addr{})
	require.Equal(t, 3, db.Len())

	acc := db.Merge([]state.LSA{lsa(rC, 2)}, true, rB)
	_, ok := db.Get(rB)
	assert.False(t, ok, "withdrawn origin must be removed")
	require.Len(t, acc, 1)
	assert.Equal(t, rC, acc[0].Origin)

	// the entry is dropped before merging, so a copy travelling with the withdrawal is new again
	db.Merge([]state.LSA{lsa(rB, 9, rC)}, false, netip.Addr{})
	acc = db.Merge([]state.LSA{lsa(rB, 3)}, true, rB)
	require.Len(t, acc, 1)
	assert.Equal(t, rB, acc[0].Origin)
	got, ok := db.Get(rB)
	require.True(t, ok)
	assert.Equal(t, uint32(3), got.Seq)
	assert.Empty(t, got.Neighbors())
	db.Merge(nil, true, rB)

	// our own entry survives a withdrawal naming us
	db.Merge(nil, true, rA)
	_, ok = db.Get(rA)
	assert.True(t, ok)

	// a later advertisement from the same origin is accepted again
	acc = db.Merge([]state.LSA{lsa(rB, 0)}, false, netip.Addr{})
	assert.Len(t, acc, 1)
}

func TestNeighborLinks(t *testing.T) {
	db := NewDatabase(rA)
	self, ok := db.AddNeighborLink(rB, 2)
	require.True(t, ok)
	assert.Equal(t, uint32(1), self.Seq)
	assert.Equal(t, []netip.Addr{rB}, self.Neighbors())

	_, ok = db.AddNeighborLink(rB, 2)
	assert.False(t, ok, "adding a listed neighbor is a no-op")
	assert.Equal(t, uint32(1), db.Self().Seq)

	_, ok = db.RemoveNeighborLink(rC)
	assert.False(t, ok)
	self, ok = db.RemoveNeighborLink(rB)
	require.True(t, ok)
	assert.Equal(t, uint32(2), self.Seq)
	assert.Empty(t, self.Neighbors())
}

func TestRemoveReverseLink(t *testing.T) {
	db := NewDatabase(rA)
	db.Merge([]state.LSA{lsa(rB, 4, rA, rC)}, false, netip.Addr{})

	remote, ok := db.RemoveReverseLink(rB)
	require.True(t, ok)
	assert.Equal(t, uint32(5), remote.Seq)
	assert.Equal(t, []netip.Addr{rC}, remote.Neighbors())

	_, ok = db.RemoveReverseLink(rB)
	assert.False(t, ok)
	_, ok = db.RemoveReverseLink(rD)
	assert.False(t, ok)
}

// a - b - c - d, with e only reachable through a one-way advertisement
func chainDatabase() *Database {
	db := NewDatabase(rA)
	db.AddNeighborLink(rB, 0)
	db.Merge([]state.LSA{
		lsa(rB, 1, rA, rC),
		lsa(rC, 1, rB, rD),
		lsa(rD, 1, rC),
		lsa(rE, 1, rD),
	}, false, netip.Addr{})
	return db
}

func TestShortestPath(t *testing.T) {
	db := chainDatabase()

	path, err := db.ShortestPath(rD)
	require.NoError(t, err)
	assert.Equal(t, state.Path{rA, rB, rC, rD}, path)
	assert.Equal(t, "192.168.1.1 -> 192.168.1.2 -> 192.168.1.3 -> 192.168.1.4", path.String())

	path, err = db.ShortestPath(rB)
	require.NoError(t, err)
	assert.Equal(t, state.Path{rA, rB}, path)

	_, err = db.ShortestPath(rA)
	assert.ErrorIs(t, err, state.ErrSelfPath)

	_, err = db.ShortestPath(rE)
	assert.ErrorIs(t, err, state.ErrNoPath)

	_, err = db.ShortestPath(netip.MustParseAddr("10.9.9.9"))
	assert.ErrorIs(t, err, state.ErrNoPath)
}

func TestShortestPath_RequiresDestinationLSA(t *testing.T) {
	db := NewDatabase(rA)
	db.AddNeighborLink(rB, 0)

	_, err := db.ShortestPath(rB)
	assert.ErrorIs(t, err, state.ErrNoPath)
	assert.Empty(t, db.NextHops())

	// a withdrawn router stays listed by a stale neighbor advertisement
	db.Merge([]state.LSA{lsa(rB, 1, rA, rC), lsa(rC, 1, rB)}, false, netip.Addr{})
	path, err := db.ShortestPath(rC)
	require.NoError(t, err)
	assert.Equal(t, state.Path{rA, rB, rC}, path)

	db.Merge(nil, true, rC)
	_, err = db.ShortestPath(rC)
	assert.ErrorIs(t, err, state.ErrNoPath)
	assert.Equal(t, map[netip.Addr]netip.Addr{rB: rB}, db.NextHops())
}

func TestShortestPath_PrefersFewerHops(t *testing.T) {
	db := NewDatabase(rA)
	db.AddNeighborLink(rB, 0)
	db.AddNeighborLink(rC, 1)
	db.Merge([]state.LSA{
		lsa(rB, 1, rA, rD),
		lsa(rC, 1, rA, rE),
		lsa(rE, 1, rC, rD),
		lsa(rD, 1, rB, rE),
	}, false, netip.Addr{})

	path, err := db.ShortestPath(rD)
	require.NoError(t, err)
	assert.Equal(t, state.Path{rA, rB, rD}, path)
}

func TestNextHops(t *testing.T) {
	db := chainDatabase()
	hops := db.NextHops()
	assert.Equal(t, map[netip.Addr]netip.Addr{
		rB: rB,
		rC: rB,
		rD: rB,
	}, hops)
}
