// Package session performs NVMe/TCP connection initialisation: the
// ICReq/ICResp digest negotiation, Fabric Connect, and the property
// reads that establish a connection's capabilities before the command
// engine takes over as steady-state owner of the socket.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-nvmetcp/nvmetcp/internal/pdu"
	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/config"
	"github.com/go-nvmetcp/nvmetcp/pkg/identity"
	"github.com/go-nvmetcp/nvmetcp/pkg/nvmeerr"
	"github.com/go-nvmetcp/nvmetcp/pkg/transport"
)

// ICReqPFV is the PDU format version this client proposes and the only
// one it accepts back from the controller.
const ICReqPFV = 0

// Session owns the handshake state and, once Active, the negotiated
// parameters the command engine needs.
type Session struct {
	mu    sync.Mutex
	state State

	Transport *transport.Transport
	Options   config.Options
	logger    *slog.Logger

	ControllerID uint16
	Capabilities Capabilities
	Version      uint32
	MaxH2CData   uint32
	CPDA         uint8

	nextCommandID uint16
}

// New wraps an already-dialled transport with handshake state. The
// caller is expected to call Establish next.
func New(t *transport.Transport, opts config.Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		Transport: t,
		Options:   opts.WithDefaults(),
		logger:    logger.With("component", "session"),
		state:     TcpConnected,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("state transition", "from", prev, "to", next)
}

// Establish runs the full fixed-order handshake: ICReq/ICResp, Fabric
// Connect, and the CAP/VS property reads, leaving the session Active on
// success or Failing/Closed on error.
func (s *Session) Establish(ctx context.Context) error {
	if err := s.negotiateIC(ctx); err != nil {
		s.setState(Closed)
		return err
	}
	s.setState(IcComplete)

	if err := s.connectAdminQueue(ctx); err != nil {
		s.setState(Closed)
		return err
	}
	s.setState(AdminReady)

	if err := s.readCapabilities(ctx); err != nil {
		s.setState(Closed)
		return err
	}
	s.setState(Active)
	return nil
}

// allocCommandID returns the next handshake-scoped command-id. The
// command engine takes over command-id allocation once Active; this
// counter only serves the handful of commands issued during Establish.
func (s *Session) allocCommandID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextCommandID
	s.nextCommandID++
	return id
}

func (s *Session) negotiateIC(ctx context.Context) error {
	req := pdu.ICReq{
		PFV:          ICReqPFV,
		HPDA:         0,
		DigestEnable: digestEnableBits(s.Options.HeaderDigest, s.Options.DataDigest),
		MaxR2T:       4,
	}
	if err := s.Transport.SendPDU(req.Encode()); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	got, err := s.Transport.RecvPDU(deadline)
	if err != nil {
		return err
	}
	resp, ok := got.(pdu.ICResp)
	if !ok {
		return nvmeerr.NewProtocolError("expected ICResp", nil)
	}
	if resp.PFV != ICReqPFV {
		return nvmeerr.NewConnectionError("ic-negotiate", fmt.Errorf("unsupported pfv %d", resp.PFV))
	}

	headerDigest := resp.DigestEnable&pdu.FlagHDGST != 0
	dataDigest := resp.DigestEnable&pdu.FlagDDGST != 0
	s.Transport.SetCodecParams(pdu.Codec{
		HeaderDigest: headerDigest,
		DataDigest:   dataDigest,
		PDAlignment:  resp.CPDA,
	})
	s.CPDA = resp.CPDA
	s.MaxH2CData = resp.MaxH2CData
	return nil
}

func digestEnableBits(headerDigest, dataDigest bool) uint8 {
	var bits uint8
	if headerDigest {
		bits |= pdu.FlagHDGST
	}
	if dataDigest {
		bits |= pdu.FlagDDGST
	}
	return bits
}

func (s *Session) connectAdminQueue(ctx context.Context) error {
	hostNQN := s.Options.HostNQN
	if hostNQN == "" {
		hostNQN = identity.GenerateHostNQN()
	}
	data := ConnectData{
		HostID:  identity.HostID(hostNQN),
		CNTLID:  0xFFFF, // dynamic controller-id allocation
		HostNQN: hostNQN,
		SubNQN:  s.Options.SubsystemNQN,
	}
	commandID := s.allocCommandID()
	katoMillis := uint32(s.Options.KATO / time.Millisecond)
	sqsize := s.Options.QueueSize
	if sqsize > 0 {
		sqsize--
	}
	sqeValue := buildConnectSQE(commandID, 0, sqsize, 0, katoMillis)

	cqe, _, err := s.roundtripCapsule(ctx, sqeValue, data.Encode())
	if err != nil {
		return err
	}
	if cqe.StatusField() != 0 {
		return nvmeerr.NewConnectionError("connect", nvmeerr.ErrRefused)
	}
	s.ControllerID = uint16(cqe.DW0 & 0xFFFF)
	return nil
}

func (s *Session) readCapabilities(ctx context.Context) error {
	capValue, err := s.propertyGet64(ctx, PropertyCAP)
	if err != nil {
		return err
	}
	s.Capabilities = DecodeCapabilities(capValue)

	vsValue, err := s.propertyGet64(ctx, PropertyVS)
	if err != nil {
		return err
	}
	s.Version = uint32(vsValue)
	return nil
}

func (s *Session) propertyGet64(ctx context.Context, offset uint32) (uint64, error) {
	commandID := s.allocCommandID()
	sqeValue := buildPropertyGetSQE(commandID, offset, true)
	cqe, _, err := s.roundtripCapsule(ctx, sqeValue, nil)
	if err != nil {
		return 0, err
	}
	if cqe.StatusField() != 0 {
		return 0, nvmeerr.NewConnectionError("property-get", fmt.Errorf("status 0x%x", cqe.StatusField()))
	}
	return propertyValueFromCQE(cqe.DW0, cqe.DW1), nil
}

// PropertySet writes a property register. Exposed for completeness;
// initialisation itself only reads properties.
func (s *Session) PropertySet(ctx context.Context, offset uint32, value uint64) error {
	commandID := s.allocCommandID()
	sqeValue := buildPropertySetSQE(commandID, offset, value, true)
	cqe, _, err := s.roundtripCapsule(ctx, sqeValue, nil)
	if err != nil {
		return err
	}
	if cqe.StatusField() != 0 {
		return nvmeerr.NewConnectionError("property-set", fmt.Errorf("status 0x%x", cqe.StatusField()))
	}
	return nil
}

// roundtripCapsule sends one Capsule Command PDU carrying sqeValue plus
// optional in-capsule data, then blocks for the matching response. Used
// only during the single-command-at-a-time handshake; after Active the
// command engine owns submission and the receiver loop.
func (s *Session) roundtripCapsule(ctx context.Context, sqeValue sqe.SQE, data []byte) (sqe.CQE, []byte, error) {
	codec := s.Transport.Codec()
	sqeBytes := sqeValue.Encode()
	encoded := codec.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqeBytes, Data: data})
	if err := s.Transport.SendPDU(encoded); err != nil {
		return sqe.CQE{}, nil, err
	}

	deadline, _ := ctx.Deadline()
	got, err := s.Transport.RecvPDU(deadline)
	if err != nil {
		return sqe.CQE{}, nil, err
	}
	resp, ok := got.(pdu.CapsuleResp)
	if !ok {
		return sqe.CQE{}, nil, nvmeerr.NewProtocolError("expected capsule response during handshake", nil)
	}
	cqeValue := sqe.DecodeCQE(resp.CQE)
	return cqeValue, nil, nil
}

// Close tears down the underlying transport and marks the session
// Closed.
func (s *Session) Close() error {
	s.setState(Failing)
	err := s.Transport.Close()
	s.setState(Closed)
	return err
}
