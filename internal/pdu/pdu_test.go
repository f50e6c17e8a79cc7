package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Type: TypeCapsuleCmd, Flags: FlagHDGST, HLen: 76, PDO: 76, PLen: 200}
	buf := make([]byte, CommonHeaderLen)
	h.Encode(buf)
	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDigestRoundTrip(t *testing.T) {
	data := []byte("ABCDE\x00\x00\x00")
	d := ComputeDigest(data)
	assert.True(t, VerifyDigest(data, d[:]))
	data[0] ^= 0x01
	assert.False(t, VerifyDigest(data, d[:]))
}

func TestICReqRespRoundTrip(t *testing.T) {
	req := ICReq{PFV: 0, HPDA: 0, DigestEnable: 0x03, MaxR2T: 4}
	buf := req.Encode()
	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	got, err := DecodeICReq(buf[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Equal(t, TypeICReq, h.Type)

	resp := ICResp{PFV: 0, CPDA: 0, DigestEnable: 0x03, MaxH2CData: 8192}
	buf2 := resp.Encode()
	got2, err := DecodeICResp(buf2[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, resp, got2)
}

func TestCapsuleCmdRoundTripNoDigestNoData(t *testing.T) {
	c := &Codec{}
	var sqe [sqeLen]byte
	sqe[0] = 0x02 // opcode
	p := CapsuleCmd{SQE: sqe}
	buf := c.EncodeCapsuleCmd(p)
	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	got, err := c.DecodeCapsuleCmd(h, buf[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, p.SQE, got.SQE)
	assert.Empty(t, got.Data)
	assert.EqualValues(t, len(buf), h.PLen)
}

func TestCapsuleCmdRoundTripDigestsAndData(t *testing.T) {
	c := &Codec{HeaderDigest: true, DataDigest: true, PDAlignment: 1}
	var sqe [sqeLen]byte
	sqe[3] = 0xAA
	data := []byte("hello world, this is in-capsule data")
	p := CapsuleCmd{SQE: sqe, Data: data}
	buf := c.EncodeCapsuleCmd(p)
	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.NoError(t, ValidateHeader(h, 1<<20))
	got, err := c.DecodeCapsuleCmd(h, buf[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, sqe, got.SQE)
	assert.Equal(t, data, got.Data)

	// Flipping a single transmitted bit must be rejected.
	buf[len(buf)-1] ^= 0x01
	h2, _ := DecodeHeader(buf)
	_, err = c.DecodeCapsuleCmd(h2, buf[CommonHeaderLen:])
	assert.Error(t, err)
}

func TestCapsuleRespRoundTrip(t *testing.T) {
	c := &Codec{HeaderDigest: true}
	var cqe [cqeLen]byte
	cqe[0] = 0x01
	p := CapsuleResp{CQE: cqe}
	buf := c.EncodeCapsuleResp(p)
	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	got, err := c.DecodeCapsuleResp(h, buf[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, cqe, got.CQE)
}

func TestH2CDataAndC2HDataRoundTrip(t *testing.T) {
	c := &Codec{DataDigest: true, PDAlignment: 1}
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	h2c := H2CData{CommandID: 7, DataOff: 0, DataLen: uint32(len(payload)), Data: payload}
	buf := c.EncodeH2CData(h2c)
	hdr, err := DecodeHeader(buf)
	require.NoError(t, err)
	got, err := c.DecodeH2CData(hdr, buf[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, payload, got.Data)
	assert.Equal(t, uint16(7), got.CommandID)

	c2h := C2HData{CommandID: 9, DataOff: 512, DataLen: uint32(len(payload)), Last: true, Data: payload}
	buf2 := c.EncodeC2HData(c2h)
	hdr2, err := DecodeHeader(buf2)
	require.NoError(t, err)
	got2, err := c.DecodeC2HData(hdr2, buf2[CommonHeaderLen:])
	require.NoError(t, err)
	assert.True(t, got2.Last)
	assert.Equal(t, uint32(512), got2.DataOff)
}

func TestR2TRoundTrip(t *testing.T) {
	c := &Codec{HeaderDigest: true}
	r := R2T{CommandID: 3, R2TOffset: 4096, R2TLength: 4096}
	buf := c.EncodeR2T(r)
	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	got, err := c.DecodeR2T(h, buf[CommonHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestKeepAliveEncode(t *testing.T) {
	c := &Codec{}
	buf := c.EncodeKeepAlive()
	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeKeepAlive, h.Type)
	assert.EqualValues(t, 24, h.PLen)
}

func TestTermReqDecode(t *testing.T) {
	h := Header{Type: TypeH2CTermReq, HLen: termReqBaseHLen, PLen: termReqBaseHLen}
	body := make([]byte, 16)
	body[0] = 0x02 // FES
	got, err := DecodeTermReq(h, body)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.FES)
}

func TestValidateHeaderRejectsOversizedPLEN(t *testing.T) {
	h := Header{Type: TypeCapsuleResp, HLen: 24, PLen: 1 << 30}
	err := ValidateHeader(h, 1<<20)
	assert.Error(t, err)
}
