package pdu

import "hash/crc32"

// castagnoliTable is precomputed once; every digest computation in this
// package and in pkg/transport reuses it. NVMe/TCP specifies CRC32C
// (Castagnoli) for both HDGST and DDGST, which hash/crc32 implements
// natively via crc32.Castagnoli.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// DigestLen is the width in bytes of an HDGST or DDGST trailer.
const DigestLen = 4

// ComputeDigest returns the CRC32C of data as raw little-endian bytes,
// ready to append to the wire.
func ComputeDigest(data []byte) [DigestLen]byte {
	sum := crc32.Checksum(data, castagnoliTable)
	var out [DigestLen]byte
	out[0] = byte(sum)
	out[1] = byte(sum >> 8)
	out[2] = byte(sum >> 16)
	out[3] = byte(sum >> 24)
	return out
}

// VerifyDigest recomputes the CRC32C of data and compares it against the
// 4 little-endian bytes in want. A mismatch is a protocol error upstream.
func VerifyDigest(data []byte, want []byte) bool {
	if len(want) != DigestLen {
		return false
	}
	got := ComputeDigest(data)
	return got[0] == want[0] && got[1] == want[1] && got[2] == want[2] && got[3] == want[3]
}
