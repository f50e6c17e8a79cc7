package sqe

import "encoding/binary"

// CQELen is the fixed size of a Completion Queue Entry in bytes.
const CQELen = 16

// CQE is the in-memory form of a 16-byte completion queue entry.
type CQE struct {
	DW0       uint32
	DW1       uint32
	SQHead    uint16
	SQID      uint16
	CommandID uint16
	Status    uint16 // phase tag in bit 0, status field in bits 1..15
}

// Encode writes the CQE into a fresh 16-byte buffer.
func (c CQE) Encode() [CQELen]byte {
	var buf [CQELen]byte
	binary.LittleEndian.PutUint32(buf[0:4], c.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], c.DW1)
	binary.LittleEndian.PutUint16(buf[8:10], c.SQHead)
	binary.LittleEndian.PutUint16(buf[10:12], c.SQID)
	binary.LittleEndian.PutUint16(buf[12:14], c.CommandID)
	binary.LittleEndian.PutUint16(buf[14:16], c.Status)
	return buf
}

// DecodeCQE parses a 16-byte buffer into a CQE.
func DecodeCQE(buf [CQELen]byte) CQE {
	return CQE{
		DW0:       binary.LittleEndian.Uint32(buf[0:4]),
		DW1:       binary.LittleEndian.Uint32(buf[4:8]),
		SQHead:    binary.LittleEndian.Uint16(buf[8:10]),
		SQID:      binary.LittleEndian.Uint16(buf[10:12]),
		CommandID: binary.LittleEndian.Uint16(buf[12:14]),
		Status:    binary.LittleEndian.Uint16(buf[14:16]),
	}
}

// Phase returns the phase tag bit (bit 0) of the status field.
func (c CQE) Phase() bool { return c.Status&0x0001 != 0 }

// StatusField returns the 15-bit status value (bits 1..15), decomposed
// per the NVMe base specification.
func (c CQE) StatusField() uint16 { return c.Status >> 1 }

// StatusCodeType returns bits 8..10 of the status field (SCT).
func (c CQE) StatusCodeType() uint8 { return uint8((c.StatusField() >> 8) & 0x7) }

// StatusCode returns bits 0..7 of the status field (SC).
func (c CQE) StatusCode() uint8 { return uint8(c.StatusField() & 0xFF) }

// DoNotRetry reports bit 14 (bit 15 of the raw status field before the
// phase tag shift) of the status field.
func (c CQE) DoNotRetry() bool { return c.StatusField()&0x4000 != 0 }

// Success reports whether the status field is all-zero (SCT=0, SC=0).
func (c CQE) Success() bool { return c.StatusField() == 0 }

// SQEDataPointerFlags returns the two bits of Flags that indicate
// whether PRP or SGL1 addressing is used (bits 0..1 of the SQE flags
// byte per the NVMe base spec); kept here alongside CQE since both are
// consumed together when decoding a command-specific completion.
func SQEDataPointerFlags(flags uint8) uint8 { return flags & 0x03 }
