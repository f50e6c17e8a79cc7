package engine

// AsyncEvent is the decoded form of an Asynchronous Event Notification
// completion's DW0.
type AsyncEvent struct {
	Type        uint8
	Info        uint8
	LogPageID   uint8
	Raw         uint32
	Description string
}

// DecodeAsyncEvent unpacks a CQE's DW0 per the AEN field layout: event
// type in bits 2:0, event info in bits 15:8, log page id in bits 23:16.
func DecodeAsyncEvent(dw0 uint32) AsyncEvent {
	e := AsyncEvent{
		Type:      uint8(dw0 & 0x7),
		Info:      uint8((dw0 >> 8) & 0xFF),
		LogPageID: uint8((dw0 >> 16) & 0xFF),
		Raw:       dw0,
	}
	e.Description = describeAsyncEvent(e.Type, e.LogPageID)
	return e
}

// AEN event type values per the NVMe base specification.
const (
	AENTypeErrorStatus        uint8 = 0x0
	AENTypeSMARTHealthStatus  uint8 = 0x1
	AENTypeNoticeStatus       uint8 = 0x2
	AENTypeIOCommandSetStatus uint8 = 0x6
	AENTypeVendorSpecific     uint8 = 0x7
)

// AEN notice log page ids, the subset this client recognises.
const (
	LogPageChangedNamespaceList uint8 = 0x0B
	LogPageANA                  uint8 = 0x0C
)

func describeAsyncEvent(eventType, logPageID uint8) string {
	switch eventType {
	case AENTypeErrorStatus:
		return "error status"
	case AENTypeSMARTHealthStatus:
		return "SMART / health status"
	case AENTypeNoticeStatus:
		switch logPageID {
		case LogPageChangedNamespaceList:
			return "namespace attribute changed"
		case LogPageANA:
			return "ANA change"
		default:
			return "notice"
		}
	case AENTypeIOCommandSetStatus:
		return "I/O command set status"
	default:
		return "vendor specific"
	}
}
