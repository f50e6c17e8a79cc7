// Package sqe packs and unpacks the 64-byte NVMe Submission Queue Entry
// and 16-byte Completion Queue Entry, plus the status-field decomposition
// the client needs to build CommandError values.
package sqe

import "encoding/binary"

// Len is the fixed size of a Submission Queue Entry in bytes.
const Len = 64

// SQE is the in-memory form of a 64-byte submission queue entry. Fabric
// commands (Connect, Property Get/Set) repurpose CDW10..CDW15 and the
// SGL1 field per the NVMe-oF specification; this struct carries the raw
// layout and leaves interpretation to the caller building it.
type SQE struct {
	Opcode    uint8
	Flags     uint8
	CommandID uint16
	NSID      uint32
	// MPTR (metadata pointer) or, for fabrics commands, further
	// command-specific fields. Carried raw.
	MPTR uint64
	// SGL1 / PRP1+PRP2: a 16-byte host memory descriptor.
	SGL1 [16]byte
	CDW10 uint32
	CDW11 uint32
	CDW12 uint32
	CDW13 uint32
	CDW14 uint32
	CDW15 uint32
}

// Encode writes the SQE into a fresh 64-byte buffer.
func (s SQE) Encode() [Len]byte {
	var buf [Len]byte
	buf[0] = s.Opcode
	buf[1] = s.Flags
	binary.LittleEndian.PutUint16(buf[2:4], s.CommandID)
	binary.LittleEndian.PutUint32(buf[4:8], s.NSID)
	binary.LittleEndian.PutUint64(buf[8:16], 0) // reserved
	binary.LittleEndian.PutUint64(buf[16:24], s.MPTR)
	copy(buf[24:40], s.SGL1[:])
	binary.LittleEndian.PutUint32(buf[40:44], s.CDW10)
	binary.LittleEndian.PutUint32(buf[44:48], s.CDW11)
	binary.LittleEndian.PutUint32(buf[48:52], s.CDW12)
	binary.LittleEndian.PutUint32(buf[52:56], s.CDW13)
	binary.LittleEndian.PutUint32(buf[56:60], s.CDW14)
	binary.LittleEndian.PutUint32(buf[60:64], s.CDW15)
	return buf
}

// Decode parses a 64-byte buffer into an SQE.
func Decode(buf [Len]byte) SQE {
	return SQE{
		Opcode:    buf[0],
		Flags:     buf[1],
		CommandID: binary.LittleEndian.Uint16(buf[2:4]),
		NSID:      binary.LittleEndian.Uint32(buf[4:8]),
		MPTR:      binary.LittleEndian.Uint64(buf[16:24]),
		SGL1:      [16]byte(buf[24:40]),
		CDW10:     binary.LittleEndian.Uint32(buf[40:44]),
		CDW11:     binary.LittleEndian.Uint32(buf[44:48]),
		CDW12:     binary.LittleEndian.Uint32(buf[48:52]),
		CDW13:     binary.LittleEndian.Uint32(buf[52:56]),
		CDW14:     binary.LittleEndian.Uint32(buf[56:60]),
		CDW15:     binary.LittleEndian.Uint32(buf[60:64]),
	}
}

// SGLDescriptor builds an SGL1 descriptor that carries only the transfer
// length (bytes 8..11); the address field is left zero and no SQE flag
// bits are set. It is used for data-in commands (read_data, identify,
// log pages); the data itself still arrives in C2HData PDUs, which the
// command engine assembles into the caller's buffer by offset.
func SGLDescriptor(length uint32) [16]byte {
	var d [16]byte
	binary.LittleEndian.PutUint32(d[8:12], length)
	return d
}
