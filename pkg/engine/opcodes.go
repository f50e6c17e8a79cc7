package engine

// Admin opcodes used by the command engine itself (Keep-Alive, Async
// Event Request) and by the client facade for everything else.
const (
	AdminOpcodeGetLogPage        uint8 = 0x02
	AdminOpcodeIdentify          uint8 = 0x06
	AdminOpcodeSetFeatures       uint8 = 0x09
	AdminOpcodeGetFeatures       uint8 = 0x0A
	AdminOpcodeAsyncEventRequest uint8 = 0x0C
	AdminOpcodeKeepAlive         uint8 = 0x18
)

// NVM command set opcodes, used by the client facade for I/O commands.
const (
	NVMOpcodeFlush               uint8 = 0x00
	NVMOpcodeWrite               uint8 = 0x01
	NVMOpcodeRead                uint8 = 0x02
	NVMOpcodeWriteZeroes         uint8 = 0x08
	NVMOpcodeReservationRegister uint8 = 0x0D
	NVMOpcodeReservationReport   uint8 = 0x0E
	NVMOpcodeReservationAcquire  uint8 = 0x11
	NVMOpcodeReservationRelease  uint8 = 0x15
)
