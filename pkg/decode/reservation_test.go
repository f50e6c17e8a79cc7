package decode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReservationReportNonExtended(t *testing.T) {
	buf := make([]byte, ReservationReportHeaderLen+RegisteredControllerLen)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], 5)              // GEN
	buf[4] = ReservationWriteExclusive      // RTYPE
	le.PutUint16(buf[5:7], 1)               // REGCTL
	buf[8] = 1                              // PTPLS

	desc := buf[ReservationReportHeaderLen:]
	le.PutUint16(desc[0:2], 0x1234) // CNTLID
	desc[2] = 0x1                   // RCSTS holder bit
	le.PutUint64(desc[8:16], 0xAABBCCDDEEFF0011)
	le.PutUint64(desc[16:24], 0xCAFEBABE)

	status, err := DecodeReservationReport(buf, false)
	require.NoError(t, err)
	assert.EqualValues(t, 5, status.Generation)
	assert.Equal(t, ReservationWriteExclusive, status.RType)
	assert.EqualValues(t, 1, status.PTPLS)
	require.Len(t, status.Controllers, 1)

	holder, ok := status.Holder()
	require.True(t, ok)
	assert.EqualValues(t, 0x1234, holder.CNTLID)
	assert.EqualValues(t, 0xCAFEBABE, holder.RKey)
	assert.Len(t, holder.HostID, 8)
}

func TestDecodeReservationReportExtended(t *testing.T) {
	buf := make([]byte, ReservationReportHeaderLen+RegisteredControllerExtLen)
	le := binary.LittleEndian
	le.PutUint16(buf[5:7], 1)

	desc := buf[ReservationReportHeaderLen:]
	desc[2] = 0 // not holder
	le.PutUint64(desc[24:32], 0x1122334455667788)

	status, err := DecodeReservationReport(buf, true)
	require.NoError(t, err)
	require.Len(t, status.Controllers, 1)
	assert.Len(t, status.Controllers[0].HostID, 16)
	assert.EqualValues(t, 0x1122334455667788, status.Controllers[0].RKey)
	_, ok := status.Holder()
	assert.False(t, ok)
}

func TestDecodeReservationReportTooShort(t *testing.T) {
	_, err := DecodeReservationReport(make([]byte, 4), false)
	require.ErrorIs(t, err, ErrPayloadTooShort)
}
