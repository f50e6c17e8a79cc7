package nvmetcp

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/go-nvmetcp/nvmetcp/internal/pdu"
	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/config"
	"github.com/go-nvmetcp/nvmetcp/pkg/decode"
	"github.com/stretchr/testify/require"
)

// fakeController drives the server side of a net.Pipe as a minimal
// NVMe/TCP controller: ICReq/ICResp, Fabric Connect, CAP/VS property
// reads, then whatever capsule commands each test reads and answers
// through its readCapsuleCmd/writeCapsuleResp/writeC2HData helpers.
type fakeController struct {
	t     *testing.T
	conn  net.Conn
	codec *pdu.Codec
}

func newFakeController(t *testing.T, conn net.Conn) *fakeController {
	return &fakeController{t: t, conn: conn, codec: &pdu.Codec{MaxPDU: 1 << 20}}
}

func (f *fakeController) readHeader() pdu.Header {
	f.t.Helper()
	buf := make([]byte, pdu.CommonHeaderLen)
	_, err := io.ReadFull(f.conn, buf)
	require.NoError(f.t, err)
	h, err := pdu.DecodeHeader(buf)
	require.NoError(f.t, err)
	return h
}

func (f *fakeController) readBody(h pdu.Header) []byte {
	f.t.Helper()
	body := make([]byte, int(h.PLen)-pdu.CommonHeaderLen)
	_, err := io.ReadFull(f.conn, body)
	require.NoError(f.t, err)
	return body
}

func (f *fakeController) handleICReq() {
	f.t.Helper()
	h := f.readHeader()
	body := f.readBody(h)
	_, err := pdu.DecodeICReq(body)
	require.NoError(f.t, err)

	resp := pdu.ICResp{PFV: 0, CPDA: 0, MaxH2CData: 8192}
	_, err = f.conn.Write(resp.Encode())
	require.NoError(f.t, err)
}

func (f *fakeController) readCapsuleCmd() pdu.CapsuleCmd {
	f.t.Helper()
	h := f.readHeader()
	body := f.readBody(h)
	cmd, err := f.codec.DecodeCapsuleCmd(h, body)
	require.NoError(f.t, err)
	return cmd
}

func (f *fakeController) writeCapsuleResp(commandID uint16, dw0, dw1 uint32, status uint16) {
	f.t.Helper()
	cqe := sqe.CQE{DW0: dw0, DW1: dw1, CommandID: commandID, Status: status}
	encoded := f.codec.EncodeCapsuleResp(pdu.CapsuleResp{CQE: cqe.Encode()})
	_, err := f.conn.Write(encoded)
	require.NoError(f.t, err)
}

func (f *fakeController) writeC2HData(commandID uint16, data []byte) {
	f.t.Helper()
	encoded := f.codec.EncodeC2HData(pdu.C2HData{CommandID: commandID, DataOff: 0, DataLen: uint32(len(data)), Last: true, Data: data})
	_, err := f.conn.Write(encoded)
	require.NoError(f.t, err)
}

// handleHandshake answers ICReq/ICResp, Fabric Connect, and the CAP/VS
// property reads with a fixed, valid-looking set of values.
func (f *fakeController) handleHandshake(controllerID uint16) {
	f.handleICReq()

	connectCmd := f.readCapsuleCmd()
	connectID := sqe.Decode(connectCmd.SQE).CommandID
	f.writeCapsuleResp(connectID, uint32(controllerID), 0, 0)

	capCmd := f.readCapsuleCmd()
	capID := sqe.Decode(capCmd.SQE).CommandID
	// MQES=31 (field 30), TO=20 (10000ms), CSS NVM bit set.
	var capValue uint64
	capValue |= 30
	capValue |= 20 << 24
	capValue |= 1 << 37
	f.writeCapsuleResp(capID, uint32(capValue), uint32(capValue>>32), 0)

	vsCmd := f.readCapsuleCmd()
	vsID := sqe.Decode(vsCmd.SQE).CommandID
	vs := uint32(1)<<16 | uint32(3)<<8
	f.writeCapsuleResp(vsID, vs, 0, 0)
}

func dialFakeClient(t *testing.T, controllerID uint16) (*Client, *fakeController) {
	t.Helper()
	server, clientConn := net.Pipe()
	t.Cleanup(func() { _ = server.Close(); _ = clientConn.Close() })

	fc := newFakeController(t, server)
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		fc.handleHandshake(controllerID)
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := config.Options{Host: "10.0.0.1", SubsystemNQN: "nqn.2024-01.com.example:s1"}
	c, err := ConnectConn(context.Background(), clientConn, opts, logger)
	require.NoError(t, err)
	<-handshakeDone
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, fc
}

func TestIdentifyController(t *testing.T) {
	c, fc := dialFakeClient(t, 7)

	var payload [decode.IdentifyControllerLen]byte
	copy(payload[4:24], padRight("SERIAL123", 20))
	copy(payload[24:64], padRight("ModelX ", 40))
	binary.LittleEndian.PutUint16(payload[78:80], 7)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := fc.readCapsuleCmd()
		id := sqe.Decode(cmd.SQE).CommandID
		fc.writeC2HData(id, payload[:])
		fc.writeCapsuleResp(id, 0, 0, 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := c.IdentifyController(ctx)
	require.NoError(t, err)
	require.Equal(t, "SERIAL123", info.SerialNumber)
	require.Equal(t, "ModelX", info.ModelNumber)
	require.EqualValues(t, 7, info.ControllerID)
	<-done
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return b
}
