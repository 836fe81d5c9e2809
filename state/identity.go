package state

import (
	"fmt"
	"net/netip"
)

// Identity describes a router: its simulated address and the process endpoint it listens on.
type Identity struct {
	Addr        netip.Addr
	ProcessAddr netip.AddrPort
}

func (i Identity) String() string {
	return fmt.Sprintf("%s@%s", i.Addr, i.ProcessAddr)
}

type AdjState int

const (
	Uninitialized AdjState = iota
	Init
	TwoWay
)

var adjStateStrings = map[AdjState]string{
	Uninitialized: "UNINITIALIZED",
	Init:          "INIT",
	TwoWay:        "TWO_WAY",
}

func (s AdjState) String() string {
	ss, ok := adjStateStrings[s]
	if !ok {
		return fmt.Sprintf("AdjState(%d)", int(s))
	}
	return ss
}
