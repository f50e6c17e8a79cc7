package decode

import (
	"encoding/binary"
	"fmt"
)

// DiscoveryLogHeaderLen is the fixed size of the Discovery Log Page
// header, preceding NUMREC discovery log entries.
const DiscoveryLogHeaderLen = 1024

// DiscoveryEntryLen is the fixed size of one Discovery Log Page entry.
const DiscoveryEntryLen = 1024

// DiscoveryEntry is one record of a Discovery Log Page: the transport,
// address family and controller identity needed to Connect to the
// advertised subsystem.
type DiscoveryEntry struct {
	TRType  uint8
	ADRFAM  uint8
	SubType uint8
	TREQ    uint8
	PortID  uint16
	CNTLID  uint16
	ASQSZ   uint16
	TRSVCID string
	SubNQN  string
	TRAddr  string
	TSAS    [256]byte
}

// TRSVCIDPort parses TRSVCID as a decimal TCP port number, as required
// by the NVMe-oF transport specification's ASCII-decimal encoding for
// the TCP transport.
func (e DiscoveryEntry) TRSVCIDPort() (int, error) {
	var port int
	_, err := fmt.Sscanf(e.TRSVCID, "%d", &port)
	if err != nil {
		return 0, fmt.Errorf("decode: trsvcid %q is not a decimal port: %w", e.TRSVCID, err)
	}
	return port, nil
}

// DiscoveryLog is the decoded Discovery Log Page.
type DiscoveryLog struct {
	GenerationCounter uint64
	RecordFormat      uint16
	Entries           []DiscoveryEntry
}

// DecodeDiscoveryLog parses a Discovery Log Page payload: a 1024-byte
// header (GENCTR u64, NUMREC u64, RECFMT u16, reserved) followed by
// NUMREC 1024-byte entries. Only up to len(buf) entries that are fully
// present are decoded; a truncated trailing entry is dropped rather than
// causing a parse error, since GetLogPage callers may request fewer
// bytes than NUMREC implies.
func DecodeDiscoveryLog(buf []byte) (DiscoveryLog, error) {
	if len(buf) < DiscoveryLogHeaderLen {
		return DiscoveryLog{}, fmt.Errorf("%w: discovery log header needs %d bytes, got %d", ErrPayloadTooShort, DiscoveryLogHeaderLen, len(buf))
	}
	le := binary.LittleEndian
	var log DiscoveryLog
	log.GenerationCounter = le.Uint64(buf[0:8])
	numRec := le.Uint64(buf[8:16])
	log.RecordFormat = le.Uint16(buf[16:18])

	available := (len(buf) - DiscoveryLogHeaderLen) / DiscoveryEntryLen
	count := int(numRec)
	if count > available {
		count = available
	}
	log.Entries = make([]DiscoveryEntry, 0, count)
	for i := 0; i < count; i++ {
		off := DiscoveryLogHeaderLen + i*DiscoveryEntryLen
		entry, err := decodeDiscoveryEntry(buf[off : off+DiscoveryEntryLen])
		if err != nil {
			return DiscoveryLog{}, err
		}
		log.Entries = append(log.Entries, entry)
	}
	return log, nil
}

func decodeDiscoveryEntry(buf []byte) (DiscoveryEntry, error) {
	if len(buf) < DiscoveryEntryLen {
		return DiscoveryEntry{}, fmt.Errorf("%w: discovery log entry needs %d bytes, got %d", ErrPayloadTooShort, DiscoveryEntryLen, len(buf))
	}
	le := binary.LittleEndian
	var e DiscoveryEntry
	e.TRType = buf[0]
	e.ADRFAM = buf[1]
	e.SubType = buf[2]
	e.TREQ = buf[3]
	e.PortID = le.Uint16(buf[4:6])
	e.CNTLID = le.Uint16(buf[6:8])
	e.ASQSZ = le.Uint16(buf[8:10])
	e.TRSVCID = trimASCII(buf[32:64])
	e.SubNQN = trimASCII(buf[256:512])
	e.TRAddr = trimASCII(buf[512:768])
	copy(e.TSAS[:], buf[768:1024])
	return e, nil
}
