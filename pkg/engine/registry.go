package engine

import (
	"sync"
	"time"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
)

// completion is what a slot's rendezvous eventually delivers.
type completion struct {
	cqe  sqe.CQE
	data []byte
	err  error
}

// slot is one in-flight command's registry entry.
type slot struct {
	commandID uint16
	opcode    uint8
	deadline  time.Time

	// dataIn, if non-nil, is the caller-provided buffer C2HData bytes
	// are assembled into at the announced DATAO.
	dataIn []byte
	// dataOut is the data-out payload pending transfer via H2CData
	// following an R2T, when it did not fit in-capsule.
	dataOut []byte

	cancelled bool
	done      chan completion

	// isAEN marks a pre-posted Asynchronous Event Request slot: its
	// completion is translated into an AsyncEvent and pushed into the
	// AEN queue instead of waking a blocked caller.
	isAEN bool

	// cqeReceived/cqeValue hold a CapsuleResp that arrived before the
	// data-in transfer finished; dataLastSeen records that the final
	// C2HData PDU (Last flag set) has arrived. A slot finalizes once
	// both are true (or immediately if it expects no data-in).
	cqeReceived  bool
	cqeValue     sqe.CQE
	dataLastSeen bool
}

// needsDataIn reports whether this slot expects data delivered via
// C2HData before it can finalize.
func (s *slot) needsDataIn() bool { return s.dataIn != nil }

// registry is the per-connection command-id -> slot map. Command-ids
// are allocated from a monotonic counter wrapped to 16 bits with a
// free-list of ids released by completed or torn-down slots.
type registry struct {
	mu        sync.Mutex
	slots     map[uint16]*slot
	freeList  []uint16
	next      uint16
	maxInFlight int
}

func newRegistry(maxInFlight int) *registry {
	return &registry{
		slots:       make(map[uint16]*slot),
		maxInFlight: maxInFlight,
	}
}

var errRegistryFull = &registryFullError{}

type registryFullError struct{}

func (*registryFullError) Error() string { return "engine: in-flight command limit reached" }

// allocate reserves a fresh command-id and inserts a new slot with the
// given deadline. Returns errRegistryFull if admitting it would exceed
// maxInFlight (the negotiated MQES).
func (r *registry) allocate(opcode uint8, deadline time.Time, dataIn []byte, dataOut []byte) (*slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.slots) >= r.maxInFlight {
		return nil, errRegistryFull
	}

	var id uint16
	if n := len(r.freeList); n > 0 {
		id = r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
	} else {
		id = r.next
		r.next++
	}

	s := &slot{
		commandID: id,
		opcode:    opcode,
		deadline:  deadline,
		dataIn:    dataIn,
		dataOut:   dataOut,
		done:      make(chan completion, 1),
	}
	r.slots[id] = s
	return s, nil
}

// lookup returns the slot for commandID, if live.
func (r *registry) lookup(commandID uint16) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[commandID]
	return s, ok
}

// release removes commandID from the registry and returns its id to the
// free-list.
func (r *registry) release(commandID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[commandID]; !ok {
		return
	}
	delete(r.slots, commandID)
	r.freeList = append(r.freeList, commandID)
}

// markCancelled flags a slot as cancelled without removing it: the
// command-id stays reserved until the CQE arrives, the slot's deadline
// passes and sweepExpired removes it, or the connection closes.
func (r *registry) markCancelled(commandID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[commandID]; ok {
		s.cancelled = true
	}
}

// sweepExpired returns every slot whose deadline has passed as of now,
// removing them from the registry and freeing their command-ids.
func (r *registry) sweepExpired(now time.Time) []*slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*slot
	for id, s := range r.slots {
		if now.After(s.deadline) {
			expired = append(expired, s)
			delete(r.slots, id)
			r.freeList = append(r.freeList, id)
		}
	}
	return expired
}

// drainAll removes every slot and returns them, for connection teardown.
func (r *registry) drainAll() []*slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*slot, 0, len(r.slots))
	for id, s := range r.slots {
		out = append(out, s)
		delete(r.slots, id)
	}
	r.freeList = nil
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
