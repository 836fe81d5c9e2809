package protocol

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/encodeous/lsnet/state"
	"google.golang.org/protobuf/encoding/protowire"
)

type Kind uint8

const (
	KindAttachRequest Kind = iota
	KindAttachAccept
	KindAttachReject
	KindHello
	KindQuit
	KindLSAUpdate
)

func (k Kind) String() string {
	switch k {
	case KindAttachRequest:
		return "ATTACH_REQUEST"
	case KindAttachAccept:
		return "ATTACH_ACCEPT"
	case KindAttachReject:
		return "ATTACH_REJECT"
	case KindHello:
		return "HELLO"
	case KindQuit:
		return "QUIT"
	case KindLSAUpdate:
		return "LSA_UPDATE"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Packet is the single message type exchanged on a link.
type Packet struct {
	SenderProcess netip.AddrPort
	Sender        netip.Addr
	Dest          netip.Addr
	Kind          Kind
	Neighbor      netip.Addr
	LSAs          []state.LSA
	// Final marks a withdrawal: Withdrawn has left the network and its LSA must be dropped.
	Final     bool
	Withdrawn netip.Addr
	Reason    state.RejectReason
}

// packet fields
const (
	fSenderIP   protowire.Number = 1
	fSenderPort protowire.Number = 2
	fSender     protowire.Number = 3
	fDest       protowire.Number = 4
	fKind       protowire.Number = 5
	fNeighbor   protowire.Number = 6
	fLSA        protowire.Number = 7
	fFinal      protowire.Number = 8
	fWithdrawn  protowire.Number = 9
	fReason     protowire.Number = 10
)

// lsa fields
const (
	fOrigin protowire.Number = 1
	fSeq    protowire.Number = 2
	fLink   protowire.Number = 3
)

// link fields
const (
	fLinkNeighbor protowire.Number = 1
	fLinkPort     protowire.Number = 2
)

func appendAddr(b []byte, num protowire.Number, addr netip.Addr) []byte {
	if !addr.IsValid() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, addr.String())
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendLink(b []byte, l state.LinkDescriptor) []byte {
	b = appendAddr(b, fLinkNeighbor, l.Neighbor)
	b = protowire.AppendTag(b, fLinkPort, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(l.Port)))
}

func appendLSA(b []byte, l state.LSA) []byte {
	b = appendAddr(b, fOrigin, l.Origin)
	b = appendVarint(b, fSeq, uint64(l.Seq))
	for _, link := range l.Links {
		b = protowire.AppendTag(b, fLink, protowire.BytesType)
		b = protowire.AppendBytes(b, appendLink(nil, link))
	}
	return b
}

// Marshal encodes the packet in protobuf wire format.
func (p *Packet) Marshal() []byte {
	var b []byte
	b = appendAddr(b, fSenderIP, p.SenderProcess.Addr())
	b = appendVarint(b, fSenderPort, uint64(p.SenderProcess.Port()))
	b = appendAddr(b, fSender, p.Sender)
	b = appendAddr(b, fDest, p.Dest)
	b = appendVarint(b, fKind, uint64(p.Kind))
	b = appendAddr(b, fNeighbor, p.Neighbor)
	for _, lsa := range p.LSAs {
		b = protowire.AppendTag(b, fLSA, protowire.BytesType)
		b = protowire.AppendBytes(b, appendLSA(nil, lsa))
	}
	if p.Final {
		b = appendVarint(b, fFinal, protowire.EncodeBool(true))
	}
	b = appendAddr(b, fWithdrawn, p.Withdrawn)
	b = appendVarint(b, fReason, uint64(p.Reason))
	return b
}

// walkFields walks the fields of one message, calling fn with each field's raw value.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			// unknown field types are skipped for forward compatibility
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func parseAddr(v []byte) (netip.Addr, error) {
	addr, err := netip.ParseAddr(string(v))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", v, err)
	}
	return addr, nil
}

func unmarshalLink(b []byte) (state.LinkDescriptor, error) {
	link := state.LinkDescriptor{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		var err error
		switch {
		case num == fLinkNeighbor && typ == protowire.BytesType:
			link.Neighbor, err = parseAddr(v)
		case num == fLinkPort && typ == protowire.VarintType:
			link.Port = int(protowire.DecodeZigZag(u))
		}
		return err
	})
	return link, err
}

func unmarshalLSA(b []byte) (state.LSA, error) {
	lsa := state.LSA{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == fOrigin && typ == protowire.BytesType:
			addr, err := parseAddr(v)
			if err != nil {
				return err
			}
			lsa.Origin = addr
		case num == fSeq && typ == protowire.VarintType:
			lsa.Seq = uint32(u)
		case num == fLink && typ == protowire.BytesType:
			link, err := unmarshalLink(v)
			if err != nil {
				return err
			}
			lsa.Links = append(lsa.Links, link)
		}
		return nil
	})
	if err != nil {
		return state.LSA{}, err
	}
	if !lsa.Origin.IsValid() {
		return state.LSA{}, errors.New("lsa without origin")
	}
	return lsa, nil
}

// Unmarshal decodes a packet previously encoded with Marshal.
func (p *Packet) Unmarshal(b []byte) error {
	*p = Packet{}
	var senderIP netip.Addr
	var senderPort uint16
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		var err error
		if typ == protowire.BytesType {
			switch num {
			case fSenderIP:
				senderIP, err = parseAddr(v)
			case fSender:
				p.Sender, err = parseAddr(v)
			case fDest:
				p.Dest, err = parseAddr(v)
			case fNeighbor:
				p.Neighbor, err = parseAddr(v)
			case fWithdrawn:
				p.Withdrawn, err = parseAddr(v)
			case fLSA:
				var lsa state.LSA
				lsa, err = unmarshalLSA(v)
				if err == nil {
					p.LSAs = append(p.LSAs, lsa)
				}
			}
			return err
		}
		switch num {
		case fSenderPort:
			senderPort = uint16(u)
		case fKind:
			p.Kind = Kind(u)
		case fFinal:
			p.Final = protowire.DecodeBool(u)
		case fReason:
			p.Reason = state.RejectReason(u)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if senderIP.IsValid() {
		p.SenderProcess = netip.AddrPortFrom(senderIP, senderPort)
	}
	return nil
}
