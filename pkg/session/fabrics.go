package session

import (
	"encoding/binary"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
)

// Fabrics opcode and fctype values (NVMe-oF fabrics command set).
const (
	fabricsOpcode = 0x7F

	fctypeConnect      = 0x01
	fctypePropertySet  = 0x00
	fctypePropertyGet  = 0x04
	fctypeAuthSend     = 0x05
	fctypeAuthReceive  = 0x06
	fctypeDisconnect   = 0x08
)

// ConnectDataLen is the size of the Connect command's in-capsule data
// structure.
const ConnectDataLen = 1024

// ConnectData is the data structure submitted in-capsule alongside the
// Fabric Connect SQE: the host identifier and both NQNs.
type ConnectData struct {
	HostID  [16]byte
	CNTLID  uint16
	HostNQN string
	SubNQN  string
}

// Encode packs ConnectData into its fixed 1024-byte wire form.
func (c ConnectData) Encode() []byte {
	buf := make([]byte, ConnectDataLen)
	copy(buf[0:16], c.HostID[:])
	binary.LittleEndian.PutUint16(buf[16:18], c.CNTLID)
	copy(buf[256:512], padNQN(c.SubNQN))
	copy(buf[512:768], padNQN(c.HostNQN))
	return buf
}

func padNQN(nqn string) []byte {
	out := make([]byte, 256)
	copy(out, nqn)
	return out
}

// buildConnectSQE constructs the Fabric Connect SQE. SQSIZE is
// zero's-based queue size; cattr selects admin (0) vs I/O (1) queue
// attributes; kato is in milliseconds.
func buildConnectSQE(commandID uint16, sqid uint16, sqsize uint16, cattr uint8, kato uint32) sqe.SQE {
	var s sqe.SQE
	s.Opcode = fabricsOpcode
	s.Flags = fctypeConnect
	s.CommandID = commandID
	// CDW10: RECFMT (bits 0-15, must be 0) | QID (bits 16-31).
	s.CDW10 = uint32(sqid) << 16
	s.CDW11 = uint32(sqsize) | uint32(cattr)<<16
	s.CDW12 = kato
	return s
}

// buildPropertyGetSQE constructs a Property Get SQE. attrib8Byte selects
// between a 4-byte and 8-byte property size.
func buildPropertyGetSQE(commandID uint16, offset uint32, attrib8Byte bool) sqe.SQE {
	var s sqe.SQE
	s.Opcode = fabricsOpcode
	s.Flags = fctypePropertyGet
	s.CommandID = commandID
	var attrib uint32
	if attrib8Byte {
		attrib = 1
	}
	// CDW10: ATTRIB occupies bits 0-7 only.
	s.CDW10 = attrib & 0xFF
	s.CDW11 = offset
	return s
}

// buildPropertySetSQE constructs a Property Set SQE carrying a 32 or
// 64-bit value across CDW12/CDW13.
func buildPropertySetSQE(commandID uint16, offset uint32, value uint64, attrib8Byte bool) sqe.SQE {
	var s sqe.SQE
	s.Opcode = fabricsOpcode
	s.Flags = fctypePropertySet
	s.CommandID = commandID
	var attrib uint32
	if attrib8Byte {
		attrib = 1
	}
	// CDW10: ATTRIB occupies bits 0-7 only.
	s.CDW10 = attrib & 0xFF
	s.CDW11 = offset
	s.CDW12 = uint32(value)
	s.CDW13 = uint32(value >> 32)
	return s
}

// Well-known property register offsets.
const (
	PropertyCAP = 0x0000
	PropertyVS  = 0x0008
	PropertyCC  = 0x0014
	PropertyCSTS = 0x001C
)
