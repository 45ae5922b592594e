package vendorcmd

// CommandID selects a vendor command (spec.md §4.3's low-seven-bits
// field).
type CommandID uint8

const (
	Exclusive   CommandID = 1
	Reboot      CommandID = 2
	FlashErase  CommandID = 3
	Read        CommandID = 4
	Write       CommandID = 5
	ExitXIP     CommandID = 6
	EnterCmdXIP CommandID = 7
	Exec        CommandID = 8
	Vectorize   CommandID = 9
)

func (c CommandID) String() string {
	if spec, ok := commandTable[c]; ok {
		return spec.name
	}
	return "unknown"
}

// cmdSpec describes one command table row: its expected command-size
// field and how to compute the expected transfer length.
type cmdSpec struct {
	name                string
	bodySize            uint8
	transferLenFromBody bool // true for READ/WRITE: transfer length must equal the body's size field
}

var commandTable = map[CommandID]cmdSpec{
	Exclusive:   {"EXCLUSIVE", 1, false},
	Reboot:      {"REBOOT", 12, false},
	FlashErase:  {"FLASH_ERASE", 8, false},
	Read:        {"READ", 8, true},
	Write:       {"WRITE", 8, true},
	ExitXIP:     {"EXIT_XIP", 0, false},
	EnterCmdXIP: {"ENTER_CMD_XIP", 0, false},
	Exec:        {"EXEC", 4, false},
	Vectorize:   {"VECTORIZE", 4, false},
}

// EncodeExclusive builds an EXCLUSIVE command packet. param is the raw
// mode byte: 0 = off, 1 = on, 2 = on-and-eject.
func EncodeExclusive(userToken uint32, param byte) []byte {
	return EncodePacket(Packet{
		UserToken: userToken,
		CmdID:     uint8(Exclusive),
		CmdSize:   commandTable[Exclusive].bodySize,
		Body:      encodeExclusiveBody(param),
	})
}

// EncodeReboot builds a REBOOT command packet.
func EncodeReboot(userToken, pc, sp, delayMs uint32) []byte {
	return EncodePacket(Packet{
		UserToken: userToken,
		CmdID:     uint8(Reboot),
		CmdSize:   commandTable[Reboot].bodySize,
		Body:      encodeRebootBody(pc, sp, delayMs),
	})
}

// EncodeFlashErase builds a FLASH_ERASE command packet.
func EncodeFlashErase(userToken, address, size uint32) []byte {
	return EncodePacket(Packet{
		UserToken: userToken,
		CmdID:     uint8(FlashErase),
		CmdSize:   commandTable[FlashErase].bodySize,
		Body:      encodeAddrSizeBody(address, size),
	})
}

// EncodeRead builds a READ command packet requesting size bytes from
// address; size must also be passed as the packet's transfer length.
func EncodeRead(userToken, address, size uint32) []byte {
	return EncodePacket(Packet{
		UserToken:      userToken,
		CmdID:          uint8(Read) | dataToHostBit,
		CmdSize:        commandTable[Read].bodySize,
		TransferLength: size,
		Body:           encodeAddrSizeBody(address, size),
	})
}

// EncodeWrite builds a WRITE command packet announcing size bytes will
// follow, targeting address.
func EncodeWrite(userToken, address, size uint32) []byte {
	return EncodePacket(Packet{
		UserToken:      userToken,
		CmdID:          uint8(Write),
		CmdSize:        commandTable[Write].bodySize,
		TransferLength: size,
		Body:           encodeAddrSizeBody(address, size),
	})
}

// EncodeZeroPayload builds a zero-payload command packet (EXIT_XIP or
// ENTER_CMD_XIP).
func EncodeZeroPayload(userToken uint32, id CommandID) []byte {
	return EncodePacket(Packet{UserToken: userToken, CmdID: uint8(id)})
}

// EncodeAddrOnly builds an EXEC or VECTORIZE command packet.
func EncodeAddrOnly(userToken uint32, id CommandID, address uint32) []byte {
	return EncodePacket(Packet{
		UserToken: userToken,
		CmdID:     uint8(id),
		CmdSize:   commandTable[id].bodySize,
		Body:      encodeAddrBody(address),
	})
}
