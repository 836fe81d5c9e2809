package state

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

type LinkDescriptor struct {
	Neighbor netip.Addr
	Port     int // local slot index on the advertising router, SelfPort for the self entry
}

func (l LinkDescriptor) String() string {
	return fmt.Sprintf("%s,%d", l.Neighbor, l.Port)
}

// LSA is a router's self-description: its links and a change counter.
type LSA struct {
	Origin netip.Addr
	Seq    uint32
	Links  []LinkDescriptor
}

// NewSelfLSA creates the initial advertisement of a router, holding only the self entry.
func NewSelfLSA(addr netip.Addr) LSA {
	return LSA{
		Origin: addr,
		Seq:    0,
		Links:  []LinkDescriptor{{Neighbor: addr, Port: SelfPort}},
	}
}

func (l LSA) Clone() LSA {
	l.Links = slices.Clone(l.Links)
	return l
}

// HasLink reports whether the advertisement lists neighbor as a direct link.
func (l LSA) HasLink(neighbor netip.Addr) bool {
	return l.linkIndex(neighbor) != -1
}

func (l LSA) linkIndex(neighbor netip.Addr) int {
	return slices.IndexFunc(l.Links, func(d LinkDescriptor) bool {
		return d.Port != SelfPort && d.Neighbor == neighbor
	})
}

// RemoveLink drops the descriptor for neighbor, returning false if it was not listed.
func (l *LSA) RemoveLink(neighbor netip.Addr) bool {
	idx := l.linkIndex(neighbor)
	if idx == -1 {
		return false
	}
	l.Links = slices.Delete(l.Links, idx, idx+1)
	return true
}

// Neighbors returns the addresses of all non-self links in advertisement order.
func (l LSA) Neighbors() []netip.Addr {
	out := make([]netip.Addr, 0, len(l.Links))
	for _, d := range l.Links {
		if d.Port == SelfPort {
			continue
		}
		out = append(out, d.Neighbor)
	}
	return out
}

func (l LSA) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("%s(%d):\t", l.Origin, l.Seq))
	for _, d := range l.Links {
		sb.WriteString(d.String())
		sb.WriteString("\t")
	}
	return sb.String()
}

// Path is an ordered list of router addresses, starting at the local router.
type Path []netip.Addr

func (p Path) String() string {
	parts := make([]string, 0, len(p))
	for _, a := range p {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " -> ")
}
