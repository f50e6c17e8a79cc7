// Package engine is the command/response correlation core: command-id
// allocation, submission, the background receiver loop that demultiplexes
// PDUs by command-id, timeout sweeping, Keep-Alive, and the Asynchronous
// Event Notification queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-nvmetcp/nvmetcp/internal/fifo"
	"github.com/go-nvmetcp/nvmetcp/internal/pdu"
	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/metrics"
	"github.com/go-nvmetcp/nvmetcp/pkg/nvmeerr"
	"github.com/go-nvmetcp/nvmetcp/pkg/transport"
)

const (
	// DefaultAENQueueCapacity is the AEN queue's bounded capacity
	// absent an explicit override.
	DefaultAENQueueCapacity = 64
	// timeoutSweepInterval is the coarse resolution of the deadline
	// sweep.
	timeoutSweepInterval = 100 * time.Millisecond
	// backpressureRetryInterval is how often Submit retries allocation
	// while the registry is at MQES capacity.
	backpressureRetryInterval = 5 * time.Millisecond
)

// FatalHandler is invoked once when the engine detects a fatal
// connection or protocol error, so the owning session can transition
// its state machine to Failing/Closed.
type FatalHandler func(error)

// Engine owns command-id allocation, the receiver loop, timeout
// sweeping, and Keep-Alive for one connection.
type Engine struct {
	transport *transport.Transport
	registry  *registry
	aenQueue  *fifo.AsyncEventQueue[AsyncEvent]
	metrics   *metrics.Metrics
	logger    *slog.Logger

	maxH2CData     uint32
	commandTimeout time.Duration
	kato           time.Duration

	onFatal FatalHandler

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Config carries the negotiated and configured parameters the engine
// needs at construction.
type Config struct {
	MaxInFlight      int
	MaxH2CData       uint32
	CommandTimeout   time.Duration
	KATO             time.Duration
	AENQueueCapacity int
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	OnFatal          FatalHandler
}

// New constructs an Engine bound to t. Call Start to launch its
// background goroutines.
func New(t *transport.Transport, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.AENQueueCapacity
	if capacity <= 0 {
		capacity = DefaultAENQueueCapacity
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 32
	}
	return &Engine{
		transport:      t,
		registry:       newRegistry(maxInFlight),
		aenQueue:       fifo.NewAsyncEventQueue[AsyncEvent](capacity),
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "engine"),
		maxH2CData:     cfg.MaxH2CData,
		commandTimeout: cfg.CommandTimeout,
		kato:           cfg.KATO,
		onFatal:        cfg.OnFatal,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the receiver loop, the timeout sweeper, and (if KATO >
// 0) the Keep-Alive task.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.receiveLoop()
	go e.sweepLoop()
	if e.kato > 0 {
		e.wg.Add(1)
		go e.keepAliveLoop()
	}
}

// Close stops background goroutines, fails every outstanding slot with
// a connection error, and closes the transport. Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopCh)
		err = e.transport.Close()
		e.failAll(nvmeerr.NewConnectionError("close", nvmeerr.ErrClosed))
		e.wg.Wait()
	})
	return err
}

func (e *Engine) failAll(cause error) {
	for _, s := range e.registry.drainAll() {
		e.deliver(s, completion{err: cause})
	}
}

func (e *Engine) deliver(s *slot, c completion) {
	select {
	case s.done <- c:
	default:
	}
}

// Submit allocates a command-id, sends sqeValue as a Capsule Command
// PDU (with optional in-capsule dataOut), and blocks until completion,
// cancellation, or timeout. dataIn, when non-nil, is the buffer C2HData
// bytes are assembled into by offset.
func (e *Engine) Submit(ctx context.Context, opcode uint8, sqeValue sqe.SQE, dataIn []byte, dataOut []byte) (sqe.CQE, []byte, error) {
	s, err := e.allocateWithBackpressure(ctx, opcode, dataIn, dataOut)
	if err != nil {
		return sqe.CQE{}, nil, err
	}

	sqeValue.CommandID = s.commandID
	codec := e.transport.Codec()

	var inCapsule []byte
	if len(dataOut) > 0 && fitsInCapsule(len(dataOut), codec.MaxPDU) {
		inCapsule = dataOut
		s.dataOut = nil // fully sent in-capsule; no R2T expected
	}
	encoded := codec.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqeValue.Encode(), Data: inCapsule})
	start := time.Now()
	if err := e.transport.SendPDU(encoded); err != nil {
		e.registry.release(s.commandID)
		return sqe.CQE{}, nil, err
	}
	if e.metrics != nil {
		e.metrics.InFlight.Inc()
		defer e.metrics.InFlight.Dec()
	}

	select {
	case c := <-s.done:
		if c.err != nil {
			return sqe.CQE{}, nil, c.err
		}
		if e.metrics != nil {
			e.metrics.CommandLatency.WithLabelValues(fmt.Sprintf("0x%02x", opcode)).Observe(time.Since(start).Seconds())
		}
		return c.cqe, c.data, nil
	case <-ctx.Done():
		e.registry.markCancelled(s.commandID)
		return sqe.CQE{}, nil, ctx.Err()
	}
}

func fitsInCapsule(dataLen int, maxPDU uint32) bool {
	return uint32(dataLen) <= maxPDU/2
}

func (e *Engine) allocateWithBackpressure(ctx context.Context, opcode uint8, dataIn, dataOut []byte) (*slot, error) {
	deadline := time.Now().Add(e.commandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		s, err := e.registry.allocate(opcode, deadline, dataIn, dataOut)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, errRegistryFull) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backpressureRetryInterval):
		}
	}
}

// SubmitAEN pre-posts an Asynchronous Event Request command. It returns
// once the PDU is sent; the eventual completion is translated into an
// AsyncEvent and delivered through PollAsyncEvents, not through this
// call's return value.
func (e *Engine) SubmitAEN(ctx context.Context) error {
	s, err := e.registry.allocate(AdminOpcodeAsyncEventRequest, time.Now().Add(24*time.Hour), nil, nil)
	if err != nil {
		return err
	}
	s.isAEN = true

	var sqeValue sqe.SQE
	sqeValue.Opcode = AdminOpcodeAsyncEventRequest
	sqeValue.CommandID = s.commandID

	codec := e.transport.Codec()
	encoded := codec.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqeValue.Encode()})
	if err := e.transport.SendPDU(encoded); err != nil {
		e.registry.release(s.commandID)
		return err
	}
	return nil
}

// PollAsyncEvents drains up to the queue's current depth, waiting up to
// timeout for at least one event if the queue is empty.
func (e *Engine) PollAsyncEvents(timeout time.Duration) []AsyncEvent {
	deadline := time.Now().Add(timeout)
	var out []AsyncEvent
	for {
		ev, ok := e.aenQueue.Pop()
		if ok {
			out = append(out, ev)
			continue
		}
		if len(out) > 0 || time.Now().After(deadline) {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AENDropped returns the count of async-event records discarded by
// queue overflow.
func (e *Engine) AENDropped() uint64 { return e.aenQueue.Dropped() }

// InFlight returns the number of commands currently awaiting completion.
func (e *Engine) InFlight() int { return e.registry.len() }

func (e *Engine) receiveLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		got, err := e.transport.RecvPDU(time.Time{})
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.fatal(nvmeerr.NewConnectionError("receive", err))
			return
		}

		switch v := got.(type) {
		case pdu.CapsuleResp:
			e.handleCapsuleResp(v)
		case pdu.C2HData:
			e.handleC2HData(v)
		case pdu.R2T:
			e.handleR2T(v)
		case pdu.KeepAlive:
			// No slot to wake; presence alone confirms liveness.
		case pdu.TermReq:
			e.handleTermReq(v)
			return
		default:
			e.logger.Warn("unexpected pdu type on receive loop")
		}
	}
}

func (e *Engine) handleCapsuleResp(v pdu.CapsuleResp) {
	cqe := sqe.DecodeCQE(v.CQE)
	s, ok := e.registry.lookup(cqe.CommandID)
	if !ok {
		e.logger.Warn("capsule response for unknown command-id", "command_id", cqe.CommandID)
		return
	}
	if s.isAEN {
		e.registry.release(s.commandID)
		before := e.aenQueue.Dropped()
		e.aenQueue.Push(DecodeAsyncEvent(cqe.DW0))
		if e.metrics != nil && e.aenQueue.Dropped() > before {
			e.metrics.AENDropped.Inc()
		}
		return
	}

	s.cqeReceived = true
	s.cqeValue = cqe
	if !s.needsDataIn() || s.dataLastSeen {
		e.finalize(s)
	}
}

func (e *Engine) handleC2HData(v pdu.C2HData) {
	s, ok := e.registry.lookup(v.CommandID)
	if !ok {
		e.logger.Warn("c2h data for unknown command-id", "command_id", v.CommandID)
		return
	}
	end := int(v.DataOff) + len(v.Data)
	if s.dataIn != nil && end <= len(s.dataIn) {
		copy(s.dataIn[v.DataOff:], v.Data)
	}
	if v.Last {
		s.dataLastSeen = true
	}
	if s.cqeReceived && s.dataLastSeen {
		e.finalize(s)
	}
}

func (e *Engine) finalize(s *slot) {
	e.registry.release(s.commandID)
	e.deliver(s, completion{cqe: s.cqeValue, data: s.dataIn})
}

func (e *Engine) handleR2T(v pdu.R2T) {
	s, ok := e.registry.lookup(v.CommandID)
	if !ok {
		e.logger.Warn("r2t for unknown command-id", "command_id", v.CommandID)
		return
	}
	if s.dataOut == nil {
		return
	}
	codec := e.transport.Codec()
	maxChunk := e.maxH2CData
	if maxChunk == 0 {
		maxChunk = uint32(len(s.dataOut))
	}

	off := v.R2TOffset
	remaining := v.R2TLength
	for remaining > 0 {
		chunk := remaining
		if chunk > maxChunk {
			chunk = maxChunk
		}
		last := chunk == remaining
		data := s.dataOut[off : off+chunk]
		encoded := codec.EncodeH2CData(pdu.H2CData{
			CommandID: v.CommandID,
			DataOff:   off,
			DataLen:   chunk,
			Last:      last,
			Data:      data,
		})
		if err := e.transport.SendPDU(encoded); err != nil {
			e.fatal(nvmeerr.NewConnectionError("h2c-data", err))
			return
		}
		off += chunk
		remaining -= chunk
	}
}

func (e *Engine) handleTermReq(v pdu.TermReq) {
	cause := nvmeerr.NewProtocolError("controller sent TermReq", nil)
	cause.FES = v.FES
	cause.FEI = v.FEI
	e.fatal(cause)
}

func (e *Engine) fatal(err error) {
	e.failAll(err)
	if e.onFatal != nil {
		e.onFatal(err)
	}
	_ = e.transport.Close()
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(timeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			for _, s := range e.registry.sweepExpired(now) {
				e.deliver(s, completion{err: &nvmeerr.TimeoutError{CommandID: s.commandID, Op: "command"}})
			}
		}
	}
}

func (e *Engine) keepAliveLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.kato / 2)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sendKeepAlive()
		}
	}
}

func (e *Engine) sendKeepAlive() {
	ctx, cancel := context.WithTimeout(context.Background(), e.kato/2)
	defer cancel()

	var sqeValue sqe.SQE
	sqeValue.Opcode = AdminOpcodeKeepAlive
	_, _, err := e.Submit(ctx, AdminOpcodeKeepAlive, sqeValue, nil, nil)
	if err != nil {
		if e.metrics != nil {
			e.metrics.KeepAliveFailures.Inc()
		}
		e.fatal(nvmeerr.NewConnectionError("keep-alive", err))
	}
}
