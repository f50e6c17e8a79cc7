package decode

import (
	"encoding/binary"
	"fmt"
)

// ReservationReportHeaderLen is the fixed size of the Reservation
// Report header, preceding REGCTL registered controller descriptors.
const ReservationReportHeaderLen = 24

// RegisteredControllerLen is the size of one registered-controller
// descriptor for the 8-byte-hostid (non-extended-data-structure) form.
const RegisteredControllerLen = 24

// RegisteredControllerExtLen is the size of one registered-controller
// descriptor for the extended-data-structure (16-byte hostid) form.
const RegisteredControllerExtLen = 64

// Reservation types (RTYPE), per the NVMe base specification.
const (
	ReservationWriteExclusive            uint8 = 1
	ReservationExclusiveAccess           uint8 = 2
	ReservationWriteExclusiveRegsOnly    uint8 = 3
	ReservationExclusiveAccessRegsOnly   uint8 = 4
	ReservationWriteExclusiveAllRegs     uint8 = 5
	ReservationExclusiveAccessAllRegs    uint8 = 6
)

// RegisteredController is one registered-controller descriptor within a
// Reservation Report.
type RegisteredController struct {
	CNTLID uint16
	// Holder reports RCSTS bit 0: this controller holds the
	// reservation.
	Holder   bool
	HostID   []byte // 8 or 16 bytes, per the report's extended-data-structure flag.
	RKey     uint64
}

// ReservationStatus is the decoded Reservation Report.
type ReservationStatus struct {
	Generation  uint32
	RType       uint8
	PTPLS       uint8
	Controllers []RegisteredController
}

// Holder returns the registered controller that currently holds the
// reservation, if any.
func (r ReservationStatus) Holder() (RegisteredController, bool) {
	for _, c := range r.Controllers {
		if c.Holder {
			return c, true
		}
	}
	return RegisteredController{}, false
}

// DecodeReservationReport parses a Reservation Report payload: a
// 24-byte header (GEN u32, RTYPE u8, REGCTL u16, reserved u8, PTPLS u8
// at offset 8, reserved[15]) followed by REGCTL registered-controller
// descriptors.
// extendedDataStructure selects between the 24-byte (8-byte HostID) and
// 64-byte (16-byte HostID) descriptor forms, matching the Reservation
// Report command's EDS bit the caller issued.
func DecodeReservationReport(buf []byte, extendedDataStructure bool) (ReservationStatus, error) {
	if len(buf) < ReservationReportHeaderLen {
		return ReservationStatus{}, fmt.Errorf("%w: reservation report header needs %d bytes, got %d", ErrPayloadTooShort, ReservationReportHeaderLen, len(buf))
	}
	le := binary.LittleEndian
	var status ReservationStatus
	status.Generation = le.Uint32(buf[0:4])
	status.RType = buf[4]
	regctl := le.Uint16(buf[5:7])
	status.PTPLS = buf[8]

	descLen := RegisteredControllerLen
	hostIDLen := 8
	if extendedDataStructure {
		descLen = RegisteredControllerExtLen
		hostIDLen = 16
	}

	available := (len(buf) - ReservationReportHeaderLen) / descLen
	count := int(regctl)
	if count > available {
		count = available
	}
	status.Controllers = make([]RegisteredController, 0, count)
	for i := 0; i < count; i++ {
		off := ReservationReportHeaderLen + i*descLen
		c, err := decodeRegisteredController(buf[off:off+descLen], hostIDLen)
		if err != nil {
			return ReservationStatus{}, err
		}
		status.Controllers = append(status.Controllers, c)
	}
	return status, nil
}

func decodeRegisteredController(buf []byte, hostIDLen int) (RegisteredController, error) {
	if len(buf) < 24 {
		return RegisteredController{}, fmt.Errorf("%w: registered controller descriptor needs at least 24 bytes, got %d", ErrPayloadTooShort, len(buf))
	}
	le := binary.LittleEndian
	var c RegisteredController
	c.CNTLID = le.Uint16(buf[0:2])
	rcsts := buf[2]
	c.Holder = rcsts&0x1 != 0

	// HostID sits at offset 8 in both descriptor forms; RKey follows it
	// at 8+hostIDLen, each 8 bytes.
	if len(buf) < 8+hostIDLen+8 {
		return RegisteredController{}, fmt.Errorf("%w: registered controller descriptor too short for hostid/rkey", ErrPayloadTooShort)
	}
	c.HostID = append([]byte(nil), buf[8:8+hostIDLen]...)
	c.RKey = le.Uint64(buf[8+hostIDLen : 16+hostIDLen])
	return c, nil
}
