//go:build !tinygo

package rp2040

// This file provides stub definitions for the regular Go toolchain (staticcheck, go vet, go test).
// The actual implementation is in rp2040.go (TinyGo only, cgo against the boot ROM function table).

import "time"

// RAM is a no-op stand-in; the task engine is exercised against
// task.RAMPort fakes off-target, never against this type.
type RAM struct{}

func (RAM) Read(address, length uint32) []byte { return make([]byte, length) }
func (RAM) Write(address uint32, data []byte)  {}

// ROM is a no-op stand-in.
type ROM struct{}

func (ROM) Read(address, length uint32) []byte { return make([]byte, length) }

// Flash is a no-op stand-in.
type Flash struct{}

func (Flash) EnterCmdXIP() uint32                   { return 0 }
func (Flash) ExitXIP() uint32                       { return 0 }
func (Flash) EraseSector(flashOffset uint32) uint32  { return 0 }
func (Flash) EraseRange(flashOffset, size uint32) uint32 { return 0 }
func (Flash) PageProgram(flashOffset uint32, data []byte) uint32 { return 0 }
func (Flash) PageRead(flashOffset uint32, dst []byte) uint32     { return 0 }

// Scratch is a no-op stand-in backed by package-level state, just enough
// for host-side tooling to link against this package's exported types.
// Value receivers mirror rp2040.go's Scratch so callers can construct
// rp2040.Scratch{} under either build.
type Scratch struct{}

var (
	stubGPIOActivityMask     uint32
	stubDisableInterfaceMask uint32
)

func (Scratch) GPIOActivityMask() uint32         { return stubGPIOActivityMask }
func (Scratch) SetGPIOActivityMask(v uint32)     { stubGPIOActivityMask = v }
func (Scratch) DisableInterfaceMask() uint32     { return stubDisableInterfaceMask }
func (Scratch) SetDisableInterfaceMask(v uint32) { stubDisableInterfaceMask = v }

// Rebooter is a no-op stand-in backed by package-level state, mirroring
// Scratch above.
type Rebooter struct{}

var stubRebootArmed bool

func (Rebooter) ArmReboot(pc, sp uint32, delay time.Duration) { stubRebootArmed = true }
func (Rebooter) Armed() bool                                 { return stubRebootArmed }

// Identity is a no-op stand-in.
type Identity struct {
	FWRev uint32
}

func (id Identity) HardwareID() uint32       { return 0 }
func (id Identity) FirmwareRevision() uint32 { return id.FWRev }
