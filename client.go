// Package nvmetcp is the client facade (C6): typed, blocking entry
// points over the command engine and session handshake, turning raw
// completions into the decoded records pkg/decode produces.
package nvmetcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/config"
	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
	"github.com/go-nvmetcp/nvmetcp/pkg/metrics"
	"github.com/go-nvmetcp/nvmetcp/pkg/nvmeerr"
	"github.com/go-nvmetcp/nvmetcp/pkg/session"
	"github.com/go-nvmetcp/nvmetcp/pkg/transport"
)

// Client is one connection to an NVMe/TCP controller: the established
// Session plus the command Engine that owns steady-state traffic.
type Client struct {
	session *session.Session
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Connect dials host:port, runs the ICReq/ICResp and Fabric Connect
// handshake, and starts the command engine. On any failure it closes
// whatever it opened and returns the error: a ConnectionError, or a
// ProtocolError when the controller's handshake replies are malformed
// or unexpected.
func Connect(ctx context.Context, opts config.Options) (*Client, error) {
	return ConnectWithLogger(ctx, opts, nil)
}

// ConnectWithLogger is Connect with an explicit *slog.Logger threaded
// through the session, transport, and engine, for callers that want
// connection-scoped log correlation (e.g. one logger per target NQN).
func ConnectWithLogger(ctx context.Context, opts config.Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, nvmeerr.NewConnectionError("connect", err)
	}

	t, err := transport.Dial(ctx, opts.Host, opts.Port, logger)
	if err != nil {
		return nil, err
	}
	return connectTransport(ctx, t, opts, logger)
}

// ConnectConn runs the handshake and starts the command engine over an
// already-established net.Conn, skipping the dial step. Exposed for
// callers that manage their own dialer (e.g. a TLS-wrapped connection)
// and for tests that substitute an in-memory net.Pipe for a real socket.
func ConnectConn(ctx context.Context, conn net.Conn, opts config.Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, nvmeerr.NewConnectionError("connect", err)
	}
	t := transport.NewFromConn(conn, logger)
	return connectTransport(ctx, t, opts, logger)
}

func connectTransport(ctx context.Context, t *transport.Transport, opts config.Options, logger *slog.Logger) (*Client, error) {
	sess := session.New(t, opts, logger)
	establishCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		establishCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := sess.Establish(establishCtx); err != nil {
		_ = t.Close()
		return nil, err
	}

	m := metrics.New(opts.SubsystemNQN)
	eng := engine.New(t, engine.Config{
		MaxInFlight:      int(sess.Capabilities.MQES),
		MaxH2CData:       sess.MaxH2CData,
		CommandTimeout:   opts.Timeout,
		KATO:             opts.KATO,
		AENQueueCapacity: engine.DefaultAENQueueCapacity,
		Metrics:          m,
		Logger:           logger,
		OnFatal: func(err error) {
			logger.Error("connection failed fatally", "error", err)
		},
	})
	eng.Start()

	return &Client{session: sess, engine: eng, logger: logger.With("component", "client"), metrics: m}, nil
}

// Disconnect closes the connection: every outstanding call fails with a
// ConnectionError, background goroutines stop, and the socket closes.
func (c *Client) Disconnect() error {
	if err := c.engine.Close(); err != nil {
		return err
	}
	return c.session.Close()
}

// ControllerID returns the controller-id assigned during Fabric Connect.
func (c *Client) ControllerID() uint16 { return c.session.ControllerID }

// Capabilities returns the CAP register fields read during the
// handshake.
func (c *Client) Capabilities() session.Capabilities { return c.session.Capabilities }

// Metrics returns the connection's Prometheus collectors, for callers
// that want to register them with their own registry.
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// InFlight returns the number of commands currently awaiting completion.
func (c *Client) InFlight() int { return c.engine.InFlight() }

// submit is a thin wrapper around engine.Submit for Admin-queue
// commands, translating a non-zero CQE status into a CommandError.
func (c *Client) submit(ctx context.Context, opcode uint8, sqeValue sqe.SQE, dataIn, dataOut []byte) (sqe.CQE, []byte, error) {
	sqeValue.Opcode = opcode
	cqeValue, data, err := c.engine.Submit(ctx, opcode, sqeValue, dataIn, dataOut)
	if err != nil {
		return sqe.CQE{}, nil, err
	}
	if !cqeValue.Success() {
		return cqeValue, data, commandError(opcode, cqeValue)
	}
	return cqeValue, data, nil
}

func commandError(opcode uint8, cqeValue sqe.CQE) error {
	return &nvmeerr.CommandError{
		Opcode:         opcode,
		CommandID:      cqeValue.CommandID,
		StatusCodeType: cqeValue.StatusCodeType(),
		StatusCode:     cqeValue.StatusCode(),
		DoNotRetry:     cqeValue.DoNotRetry(),
	}
}

// invalidArgument rejects an obviously-malformed call before it reaches
// submission (e.g. a zero-block read/write), per §8's boundary
// behaviour. It wraps the ErrInvalidArgument sentinel so callers can
// match with errors.Is.
func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", nvmeerr.ErrInvalidArgument, fmt.Sprintf(format, args...))
}
