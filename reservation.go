package nvmetcp

import (
	"context"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/decode"
	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
)

// Reservation register actions (CDW10 bits 2:0), per the NVMe base
// specification's Reservation Register command.
const (
	ReservationRegisterRegister   uint8 = 0
	ReservationRegisterUnregister uint8 = 1
	ReservationRegisterReplace    uint8 = 2
)

// Reservation acquire actions (CDW10 bits 2:0).
const (
	ReservationAcquire             uint8 = 0
	ReservationAcquirePreempt      uint8 = 1
	ReservationAcquirePreemptAbort uint8 = 2
)

// ReservationRegister issues NVM Reservation Register (opcode 0x0D)
// against nsid, registering newKey (or unregistering/replacing,
// depending on action) using curKey as the caller's current
// reservation key. cptpl selects the Change Persist Through Power Loss
// state (0: no change, 2: persist).
func (c *Client) ReservationRegister(ctx context.Context, nsid uint32, action uint8, curKey, newKey uint64, cptpl uint8) error {
	data := make([]byte, 16)
	putLE64(data[0:8], curKey)
	putLE64(data[8:16], newKey)

	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(action&0x7) | uint32(cptpl&0x3)<<30
	_, _, err := c.submit(ctx, engine.NVMOpcodeReservationRegister, sqeValue, nil, data)
	return err
}

// ReservationAcquire issues NVM Reservation Acquire (opcode 0x11)
// against nsid, acquiring a reservation of rtype using the caller's
// current key.
func (c *Client) ReservationAcquire(ctx context.Context, nsid uint32, key uint64, rtype uint8, action uint8) error {
	data := make([]byte, 16)
	putLE64(data[0:8], key)

	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(action & 0x7)
	sqeValue.CDW11 = uint32(rtype)
	_, _, err := c.submit(ctx, engine.NVMOpcodeReservationAcquire, sqeValue, nil, data)
	return err
}

// Reservation release actions (CDW10 bits 2:0).
const (
	ReservationRelease uint8 = 0
	ReservationClear   uint8 = 1
)

// ReservationRelease issues NVM Reservation Release (opcode 0x15)
// against nsid.
func (c *Client) ReservationRelease(ctx context.Context, nsid uint32, key uint64, rtype uint8, action uint8) error {
	data := make([]byte, 8)
	putLE64(data[0:8], key)

	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(action & 0x7)
	sqeValue.CDW11 = uint32(rtype)
	_, _, err := c.submit(ctx, engine.NVMOpcodeReservationRelease, sqeValue, nil, data)
	return err
}

// ReservationReport issues NVM Reservation Report (opcode 0x0E) against
// nsid and decodes the Reservation Report payload. extendedDataStructure
// selects the EDS bit (16-byte vs 8-byte registered-controller HostID).
func (c *Client) ReservationReport(ctx context.Context, nsid uint32, extendedDataStructure bool) (decode.ReservationStatus, error) {
	const reportSize = 4096
	buf := make([]byte, reportSize)
	numd := uint32(reportSize/4) - 1

	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.SGL1 = sqe.SGLDescriptor(reportSize)
	sqeValue.CDW10 = numd
	if extendedDataStructure {
		sqeValue.CDW11 = 1
	}
	_, data, err := c.submit(ctx, engine.NVMOpcodeReservationReport, sqeValue, buf, nil)
	if err != nil {
		return decode.ReservationStatus{}, err
	}
	return decode.DecodeReservationReport(data, extendedDataStructure)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
