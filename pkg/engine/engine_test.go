package engine

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/go-nvmetcp/nvmetcp/internal/pdu"
	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/transport"
	"github.com/stretchr/testify/require"
)

// readCapsuleCmd reads one Capsule Command PDU off conn using codec and
// returns the decoded capsule, for a test goroutine to answer as a
// controller would.
func readCapsuleCmd(t *testing.T, conn net.Conn, codec *pdu.Codec) pdu.CapsuleCmd {
	t.Helper()
	hdrBuf := make([]byte, pdu.CommonHeaderLen)
	_, err := conn.Read(hdrBuf)
	require.NoError(t, err)
	h, err := pdu.DecodeHeader(hdrBuf)
	require.NoError(t, err)
	body := make([]byte, int(h.PLen)-pdu.CommonHeaderLen)
	_, err = conn.Read(body)
	require.NoError(t, err)
	decoded, err := codec.DecodeCapsuleCmd(h, body)
	require.NoError(t, err)
	return decoded
}

func writeCapsuleResp(t *testing.T, conn net.Conn, codec *pdu.Codec, commandID uint16, dw0 uint32, status uint16) {
	t.Helper()
	cqe := sqe.CQE{DW0: dw0, CommandID: commandID, Status: status}
	encoded := codec.EncodeCapsuleResp(pdu.CapsuleResp{CQE: cqe.Encode()})
	_, err := conn.Write(encoded)
	require.NoError(t, err)
}

func newTestEngine(t *testing.T) (*Engine, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = server.Close(); _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := transport.NewFromConn(client, logger)

	e := New(tr, Config{
		MaxInFlight:    8,
		MaxH2CData:     4096,
		CommandTimeout: 2 * time.Second,
		Logger:         logger,
	})
	e.Start()
	t.Cleanup(func() { _ = e.Close() })
	return e, server
}

func TestSubmitRoundTrip(t *testing.T) {
	e, server := newTestEngine(t)
	codec := &pdu.Codec{MaxPDU: transport.DefaultMaxPDU}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := readCapsuleCmd(t, server, codec)
		id := sqeCommandID(cmd.SQE)
		writeCapsuleResp(t, server, codec, id, 0xABCD, 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var s sqe.SQE
	s.Opcode = AdminOpcodeGetLogPage
	cqe, _, err := e.Submit(ctx, AdminOpcodeGetLogPage, s, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0xABCD, cqe.DW0)
	<-done
}

func TestSubmitContextCancelled(t *testing.T) {
	e, server := newTestEngine(t)
	// The controller side consumes the command but never answers it.
	go func() { _, _ = io.Copy(io.Discard, server) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	var s sqe.SQE
	s.Opcode = AdminOpcodeGetLogPage
	_, _, err := e.Submit(ctx, AdminOpcodeGetLogPage, s, nil, nil)
	require.Error(t, err)
}

func TestAENPushAndPoll(t *testing.T) {
	e, server := newTestEngine(t)
	codec := &pdu.Codec{MaxPDU: transport.DefaultMaxPDU}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := readCapsuleCmd(t, server, codec)
		id := sqeCommandID(cmd.SQE)
		// DW0: event type=2 (notice), info=0, log page id=0x0B.
		dw0 := uint32(2) | uint32(0)<<8 | uint32(LogPageChangedNamespaceList)<<16
		writeCapsuleResp(t, server, codec, id, dw0, 0)
	}()

	require.NoError(t, e.SubmitAEN(context.Background()))
	<-done

	events := e.PollAsyncEvents(500 * time.Millisecond)
	require.Len(t, events, 1)
	require.Equal(t, LogPageChangedNamespaceList, events[0].LogPageID)
}

func sqeCommandID(raw [sqe.Len]byte) uint16 {
	return sqe.Decode(raw).CommandID
}

func readH2CData(t *testing.T, conn net.Conn, codec *pdu.Codec) pdu.H2CData {
	t.Helper()
	hdrBuf := make([]byte, pdu.CommonHeaderLen)
	_, err := io.ReadFull(conn, hdrBuf)
	require.NoError(t, err)
	h, err := pdu.DecodeHeader(hdrBuf)
	require.NoError(t, err)
	body := make([]byte, int(h.PLen)-pdu.CommonHeaderLen)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	d, err := codec.DecodeH2CData(h, body)
	require.NoError(t, err)
	return d
}

func writeR2T(t *testing.T, conn net.Conn, codec *pdu.Codec, commandID uint16, offset, length uint32) {
	t.Helper()
	encoded := codec.EncodeR2T(pdu.R2T{CommandID: commandID, R2TOffset: offset, R2TLength: length})
	_, err := conn.Write(encoded)
	require.NoError(t, err)
}

// TestSubmitWriteInCapsuleVsR2TBoundary drives a payload that exactly
// fits in-capsule and one byte larger that must instead trigger the R2T
// path, asserting both deliver identical bytes to the controller side.
func TestSubmitWriteInCapsuleVsR2TBoundary(t *testing.T) {
	e, server := newTestEngine(t)
	codec := &pdu.Codec{MaxPDU: transport.DefaultMaxPDU}
	// Shrink the negotiated MaxPDU so the in-capsule/R2T boundary (half
	// of MaxPDU) is reachable with a small test payload.
	e.transport.Codec().MaxPDU = 64
	const boundary = 32 // MaxPDU/2

	t.Run("fits in capsule", func(t *testing.T) {
		payload := make([]byte, boundary)
		for i := range payload {
			payload[i] = byte(i)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			cmd := readCapsuleCmd(t, server, codec)
			require.Equal(t, payload, cmd.Data, "payload at the boundary must ride in-capsule")
			id := sqeCommandID(cmd.SQE)
			writeCapsuleResp(t, server, codec, id, 0, 0)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var s sqe.SQE
		s.Opcode = NVMOpcodeWrite
		_, _, err := e.Submit(ctx, NVMOpcodeWrite, s, nil, payload)
		require.NoError(t, err)
		<-done
	})

	t.Run("one byte larger triggers R2T", func(t *testing.T) {
		payload := make([]byte, boundary+1)
		for i := range payload {
			payload[i] = byte(i + 1)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			cmd := readCapsuleCmd(t, server, codec)
			require.Empty(t, cmd.Data, "payload past the boundary must not ride in-capsule")
			id := sqeCommandID(cmd.SQE)

			writeR2T(t, server, codec, id, 0, uint32(len(payload)))
			h2c := readH2CData(t, server, codec)
			require.Equal(t, payload, h2c.Data, "R2T-delivered bytes must match the write payload exactly")
			require.True(t, h2c.Last)

			writeCapsuleResp(t, server, codec, id, 0, 0)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var s sqe.SQE
		s.Opcode = NVMOpcodeWrite
		_, _, err := e.Submit(ctx, NVMOpcodeWrite, s, nil, payload)
		require.NoError(t, err)
		<-done
	})
}
