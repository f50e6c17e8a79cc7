// Package transport owns the TCP socket for one NVMe/TCP connection. It
// frames reads and writes of whole PDUs and hands decoding to the wire
// codec (internal/pdu).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-nvmetcp/nvmetcp/internal/pdu"
	"github.com/go-nvmetcp/nvmetcp/pkg/nvmeerr"
	"golang.org/x/sys/unix"
)

// DefaultMaxPDU bounds PLEN on receive absent a negotiated value.
const DefaultMaxPDU = 1 << 20 // 1 MiB

// Transport owns a single TCP socket. Writes are serialised by an
// internal mutex (§4.2); the receiver (pkg/engine) is the sole reader.
type Transport struct {
	conn   net.Conn
	codec  *pdu.Codec
	logger *slog.Logger

	writeMu sync.Mutex
	maxPDU  uint32

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a TCP connection to addr:port and tunes socket options for
// low-latency command/response traffic (TCP_NODELAY, a bounded
// keepalive).
func Dial(ctx context.Context, host string, port int, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, nvmeerr.NewConnectionError("dial", err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if ok {
		tuneSocket(tcpConn, logger)
	}
	return NewFromConn(conn, logger), nil
}

// NewFromConn wraps an already-established net.Conn, skipping the
// dial and socket-tuning steps. Useful for testing against in-memory
// connections (net.Pipe) and for callers that manage their own dialer.
func NewFromConn(conn net.Conn, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		conn:   conn,
		codec:  &pdu.Codec{MaxPDU: DefaultMaxPDU},
		logger: logger.With("component", "transport"),
		maxPDU: DefaultMaxPDU,
		closed: make(chan struct{}),
	}
}

// tuneSocket applies TCP_NODELAY and a short keepalive via the raw
// socket, logging rather than failing on error: these are latency
// tunings, not correctness requirements.
func tuneSocket(conn *net.TCPConn, logger *slog.Logger) {
	_ = conn.SetNoDelay(true)
	raw, err := conn.SyscallConn()
	if err != nil {
		logger.Warn("could not obtain raw conn for socket tuning", "error", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	})
	if ctrlErr != nil {
		logger.Warn("socket tuning control call failed", "error", ctrlErr)
	}
}

// SetCodecParams updates the digest/PDA parameters used when decoding
// inbound PDUs and encoding outbound ones, once the ICReq/ICResp
// handshake has negotiated them. The MaxPDU field of codec is ignored:
// the transport keeps its own receive limit. Immutable after this call in normal
// operation (§3 Connection: "Immutable after ICReq/ICResp").
func (t *Transport) SetCodecParams(codec pdu.Codec) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	codec.MaxPDU = t.maxPDU
	t.codec = &codec
}

// Codec returns the transport's current codec, for callers (the command
// engine) that need to encode PDUs with the same negotiated parameters.
func (t *Transport) Codec() *pdu.Codec {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.codec
}

// SendPDU writes one already-encoded PDU atomically. Concurrent callers
// are serialised by writeMu (§4.2).
func (t *Transport) SendPDU(encoded []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(encoded)
	if err != nil {
		return nvmeerr.NewConnectionError("send", err)
	}
	return nil
}

// RecvPDU reads one full PDU: the 8-byte common header, then
// PLEN-8 further bytes, then decodes via the codec. deadline of zero
// means no read deadline.
func (t *Transport) RecvPDU(deadline time.Time) (pdu.PDU, error) {
	if !deadline.IsZero() {
		_ = t.conn.SetReadDeadline(deadline)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	hdrBuf := make([]byte, pdu.CommonHeaderLen)
	if err := readFull(t.conn, hdrBuf); err != nil {
		return nil, err
	}
	h, err := pdu.DecodeHeader(hdrBuf)
	if err != nil {
		return nil, nvmeerr.NewProtocolError("decode common header", err)
	}
	codec := t.Codec()
	if err := pdu.ValidateHeader(h, codec.MaxPDU); err != nil {
		return nil, nvmeerr.NewProtocolError("validate header", err)
	}
	rest := int(h.PLen) - pdu.CommonHeaderLen
	if rest < 0 {
		return nil, nvmeerr.NewProtocolError("negative remaining length", nil)
	}
	body := make([]byte, rest)
	if err := readFull(t.conn, body); err != nil {
		return nil, err
	}
	decoded, err := codec.Decode(h, body)
	if err != nil {
		return nil, nvmeerr.NewProtocolError("decode pdu body", err)
	}
	return decoded, nil
}

// readFull reads len(buf) bytes or returns an error. A read of 0 bytes
// (EOF) marks the socket closed per §4.2.
func readFull(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if n == 0 && err == nil {
			return nvmeerr.NewConnectionError("recv", fmt.Errorf("read returned 0 bytes with no error"))
		}
		total += n
		if err != nil {
			return nvmeerr.NewConnectionError("recv", err)
		}
	}
	return nil
}

// Close closes the underlying socket. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// Closed returns a channel that is closed once Close has been called,
// for the receiver loop to select on alongside reads.
func (t *Transport) Closed() <-chan struct{} { return t.closed }
