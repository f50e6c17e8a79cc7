// Package pdu implements byte-exact encode/decode of NVMe/TCP Protocol
// Data Units: the common header, CRC32C digests, and every PDU variant
// used by the client (ICReq/ICResp, Capsule Command/Response, H2C/C2H
// Data, R2T, KeepAlive, TermReq/TermResp).
//
// This package performs no I/O. Encoding produces a contiguous byte
// block of exactly Header.PLEN bytes; decoding consumes exactly the
// announced PLEN bytes.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PDU type codes, NVMe-oF TCP transport specification.
const (
	TypeICReq        uint8 = 0x00
	TypeICResp       uint8 = 0x01
	TypeH2CTermReq   uint8 = 0x02
	TypeC2HTermReq   uint8 = 0x03
	TypeCapsuleCmd   uint8 = 0x04
	TypeCapsuleResp  uint8 = 0x05
	TypeH2CData      uint8 = 0x06
	TypeC2HData      uint8 = 0x07
	TypeR2T          uint8 = 0x09
)

// Flag bits of the common header.
const (
	FlagHDGST uint8 = 1 << 0
	FlagDDGST uint8 = 1 << 1
	FlagLast  uint8 = 1 << 2
	// C2H-data-specific flags reuse bits 3/4 of the flags byte.
	FlagC2HSuccess uint8 = 1 << 3
)

const CommonHeaderLen = 8

// ErrShortBuffer is returned whenever a decode is attempted on fewer
// bytes than a fixed-size structure requires.
var ErrShortBuffer = errors.New("pdu: buffer shorter than declared length")

// ErrUnsupportedPFV is returned when ICResp advertises a PDU format
// version this client does not speak.
var ErrUnsupportedPFV = errors.New("pdu: unsupported PDU format version")

// Header is the 8-byte common header prefixing every PDU.
type Header struct {
	Type  uint8
	Flags uint8
	HLen  uint8
	PDO   uint8
	PLen  uint32
}

// HasHDGST reports whether the header-digest flag is set.
func (h Header) HasHDGST() bool { return h.Flags&FlagHDGST != 0 }

// HasDDGST reports whether the data-digest flag is set.
func (h Header) HasDDGST() bool { return h.Flags&FlagDDGST != 0 }

// Encode writes the 8-byte header to buf[:8]. buf must be at least 8 bytes.
func (h Header) Encode(buf []byte) {
	buf[0] = h.Type
	buf[1] = h.Flags
	buf[2] = h.HLen
	buf[3] = h.PDO
	binary.LittleEndian.PutUint32(buf[4:8], h.PLen)
}

// DecodeHeader parses the common header from the first 8 bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < CommonHeaderLen {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Type:  buf[0],
		Flags: buf[1],
		HLen:  buf[2],
		PDO:   buf[3],
		PLen:  binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// ValidateHeader enforces the invariants of §4.1: HLEN must be within the
// allowed set for the declared type, and PLEN must not exceed maxPDU.
func ValidateHeader(h Header, maxPDU uint32) error {
	if h.PLen > maxPDU {
		return fmt.Errorf("pdu: plen %d exceeds max pdu size %d", h.PLen, maxPDU)
	}
	allowed, ok := allowedHLens[h.Type]
	if !ok {
		return fmt.Errorf("pdu: unknown pdu type x%02x", h.Type)
	}
	for _, v := range allowed {
		if h.HLen == v || (h.HasHDGST() && h.HLen == v+4) {
			return nil
		}
	}
	return fmt.Errorf("pdu: hlen %d not valid for type x%02x", h.HLen, h.Type)
}

// allowedHLens lists the HLEN values (before any HDGST padding) a
// conformant controller may send for each PDU type.
var allowedHLens = map[uint8][]uint8{
	TypeICReq:       {128},
	TypeICResp:      {128},
	TypeCapsuleCmd:  {72}, // common header absorbed into HLEN accounting by caller
	TypeCapsuleResp: {24},
	TypeH2CData:     {24},
	TypeC2HData:     {24},
	TypeR2T:         {24},
	TypeH2CTermReq:  {24},
	TypeC2HTermReq:  {24},
	TypeKeepAlive:   {24},
}
