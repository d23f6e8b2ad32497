// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet option bits.
const (
	// PacketCompressed marks a compressed payload. Compression is not
	// supported; such packets are dropped with a warning.
	PacketCompressed = 1 << 0
)

// PacketHeaderLen is the framed log packet header size: two tag bytes, one
// options byte and a big-endian 32-bit payload length.
const PacketHeaderLen = 7

// MaxPacketLen bounds the payload length a peer may announce. Anything
// larger is treated as a framing error and aborts the session.
const MaxPacketLen = 16 << 20

// Packet is one framed chunk of remote log data.
type Packet struct {
	Tag     StreamTag
	Options byte
	Data    []byte
}

// ReadPacket reads one log packet whose tag bytes have already been
// consumed by the caller.
func ReadPacket(r io.Reader, tag StreamTag) (Packet, error) {
	var hdr [PacketHeaderLen - 2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, fmt.Errorf("failed to read %s packet header: %w", tag, err)
	}
	n := binary.BigEndian.Uint32(hdr[1:5])
	if n > MaxPacketLen {
		return Packet{}, fmt.Errorf("%s packet length %d exceeds limit", tag, n)
	}
	p := Packet{Tag: tag, Options: hdr[0], Data: make([]byte, n)}
	if _, err := io.ReadFull(r, p.Data); err != nil {
		return Packet{}, fmt.Errorf("failed to read %s packet payload: %w", tag, err)
	}
	return p, nil
}

// WritePacket frames and writes one log packet. Used by tests and by the
// loopback tooling.
func WritePacket(w io.Writer, p Packet) error {
	hdr := make([]byte, PacketHeaderLen)
	hdr[0] = p.Tag[0]
	hdr[1] = p.Tag[1]
	hdr[2] = p.Options
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(p.Data)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(p.Data)
	return err
}
