package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize bounds a single frame; a full database of a small network fits comfortably.
const MaxPacketSize = 1 << 20

var ErrPacketSize = errors.New("packet size is invalid")

// ReadPacket reads one length-prefixed frame from r and decodes it.
func ReadPacket(r io.Reader) (*Packet, error) {
	var length uint32

	err := binary.Read(r, binary.BigEndian, &length)
	if err != nil {
		return nil, err
	}

	if length == 0 || length > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d", ErrPacketSize, length)
	}

	data := make([]byte, length)

	_, err = io.ReadFull(r, data)
	if err != nil {
		return nil, err
	}

	pkt := &Packet{}
	err = pkt.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return pkt, nil
}

// WritePacket encodes p and writes it to w as a single frame.
func WritePacket(w io.Writer, p *Packet) error {
	out := p.Marshal()

	if len(out) == 0 || len(out) > MaxPacketSize {
		return fmt.Errorf("%w: %d", ErrPacketSize, len(out))
	}

	frame := make([]byte, 4, 4+len(out))
	binary.BigEndian.PutUint32(frame, uint32(len(out)))
	frame = append(frame, out...)

	_, err := w.Write(frame)
	return err
}
