// Package decode parses the fixed-layout NVMe data structures this
// client consumes: Identify Controller/Namespace, ANA Log Page,
// Discovery Log Page, and Reservation Report. Decoders never perform
// I/O and fail with an explicit error when the payload is shorter than
// the structure they expect.
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrPayloadTooShort is returned when a buffer is shorter than the
// fixed-size structure a decoder expects.
var ErrPayloadTooShort = errors.New("decode: payload shorter than expected structure")

// IdentifyControllerLen is the fixed size of the Identify Controller
// data structure.
const IdentifyControllerLen = 4096

// ControllerInfo is the subset of Identify Controller fields this
// client surfaces.
type ControllerInfo struct {
	VID          uint16
	SSVID        uint16
	SerialNumber string
	ModelNumber  string
	FirmwareRev  string
	RAB          uint8
	IEEEOUI      [3]byte
	CMIC         uint8
	MDTS         uint8
	ControllerID uint16
	Version      uint32
	RTD3R        uint32
	RTD3E        uint32
	OAES         uint32
	CTRATT       uint32
	OACS         uint16
	NumNamespaces uint32
	SANICAP      uint32
	HMMIN        uint32
	HMPRE        uint32
	SubsystemNQN string
}

// DecodeControllerInfo parses a 4096-byte Identify Controller payload.
func DecodeControllerInfo(buf []byte) (ControllerInfo, error) {
	if len(buf) < IdentifyControllerLen {
		return ControllerInfo{}, fmt.Errorf("%w: identify controller needs %d bytes, got %d", ErrPayloadTooShort, IdentifyControllerLen, len(buf))
	}
	le := binary.LittleEndian
	var info ControllerInfo
	info.VID = le.Uint16(buf[0:2])
	info.SSVID = le.Uint16(buf[2:4])
	info.SerialNumber = trimASCII(buf[4:24])
	info.ModelNumber = trimASCII(buf[24:64])
	info.FirmwareRev = trimASCII(buf[64:72])
	info.RAB = buf[72]
	copy(info.IEEEOUI[:], buf[73:76])
	info.CMIC = buf[76]
	info.MDTS = buf[77]
	info.ControllerID = le.Uint16(buf[78:80])
	info.Version = le.Uint32(buf[80:84])
	info.RTD3R = le.Uint32(buf[84:88])
	info.RTD3E = le.Uint32(buf[88:92])
	info.OAES = le.Uint32(buf[92:96])
	info.CTRATT = le.Uint32(buf[96:100])
	info.OACS = le.Uint16(buf[256:258])
	info.NumNamespaces = le.Uint32(buf[516:520])
	info.SANICAP = le.Uint32(buf[328:332])
	info.HMPRE = le.Uint32(buf[272:276])
	info.HMMIN = le.Uint32(buf[276:280])
	info.SubsystemNQN = trimASCII(buf[768:1024])
	return info, nil
}

func trimASCII(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
