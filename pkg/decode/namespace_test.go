package decode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIdentifyNamespace(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, IdentifyNamespaceLen)
	le := binary.LittleEndian
	le.PutUint64(buf[0:8], 1000000)  // NSZE
	le.PutUint64(buf[8:16], 900000)  // NCAP
	le.PutUint64(buf[16:24], 500000) // NUSE
	buf[24] = 0x01                   // NSFEAT
	buf[25] = 0                      // NLBAF (one format, index 0)
	buf[26] = 0                      // FLBAS selects format 0
	buf[27] = 0x01                   // MC
	buf[28] = 0x02                   // DPC
	buf[29] = 0x01                   // DPS
	buf[30] = 0                      // NMIC
	buf[31] = 0x01                   // RESCAP
	buf[32] = 0                      // FPI
	le.PutUint16(buf[34:36], 7)      // NAWUN
	le.PutUint16(buf[36:38], 8)      // NAWUPF
	le.PutUint16(buf[38:40], 9)      // NACWU
	le.PutUint16(buf[40:42], 10)     // NABSN
	le.PutUint16(buf[42:44], 11)     // NABO
	le.PutUint16(buf[44:46], 12)     // NABSPF

	// LBA format 0: block size 512 (2^9), no metadata, RP=0.
	le.PutUint32(buf[128:132], uint32(9)<<16)
	return buf
}

func TestDecodeNamespaceInfo(t *testing.T) {
	buf := buildIdentifyNamespace(t)
	ns, err := DecodeNamespaceInfo(buf)
	require.NoError(t, err)

	assert.EqualValues(t, 1000000, ns.NSZE)
	assert.EqualValues(t, 900000, ns.NCAP)
	assert.EqualValues(t, 500000, ns.NUSE)
	assert.EqualValues(t, 7, ns.NAWUN)
	assert.EqualValues(t, 8, ns.NAWUPF)
	assert.EqualValues(t, 9, ns.NACWU, "NACWU lives at byte offset 38")
	assert.EqualValues(t, 10, ns.NABSN, "NABSN lives at byte offset 40, after NACWU")
	assert.EqualValues(t, 11, ns.NABO, "NABO lives at byte offset 42")
	assert.EqualValues(t, 12, ns.NABSPF, "NABSPF lives at byte offset 44")
	require.Len(t, ns.LBAFormats, 1)
	assert.EqualValues(t, 512, ns.LBAFormats[0].BlockSize())
	assert.EqualValues(t, 512, ns.BlockSize)
}

func TestDecodeNamespaceInfoTooShort(t *testing.T) {
	_, err := DecodeNamespaceInfo(make([]byte, 50))
	require.ErrorIs(t, err, ErrPayloadTooShort)
}
