// Package reboot models the persistent state carried across the
// watchdog-induced reboot used to enter and re-enter the bootloader
// (spec.md §6): two scratch registers holding the GPIO-activity mask and
// the disable-interface mask, plus the scheduled-reboot arming sequence
// the virtual disk and vendor REBOOT command both drive.
package reboot

import (
	"sync"
	"time"
)

// ScratchStore is the two watchdog scratch registers that survive a
// reset. A board package backs this with real watchdog hardware; tests
// use the in-memory Store below.
type ScratchStore interface {
	GPIOActivityMask() uint32
	SetGPIOActivityMask(uint32)
	DisableInterfaceMask() uint32
	SetDisableInterfaceMask(uint32)
}

// Store is an in-memory ScratchStore, standing in for the watchdog
// scratch registers when running off-target.
type Store struct {
	mu                   sync.Mutex
	gpioActivityMask     uint32
	disableInterfaceMask uint32
}

func (s *Store) GPIOActivityMask() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpioActivityMask
}

func (s *Store) SetGPIOActivityMask(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpioActivityMask = v
}

func (s *Store) DisableInterfaceMask() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableInterfaceMask
}

func (s *Store) SetDisableInterfaceMask(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableInterfaceMask = v
}

// Rebooter performs the actual watchdog-armed reboot. A board package
// backs this with the real watchdog countdown register; tests record the
// request instead of rebooting.
type Rebooter interface {
	// ArmReboot schedules a reset after delay, jumping to pc with the
	// stack pointer set to sp once execution resumes. On real hardware
	// this call does not return once the countdown is armed and the
	// delay elapses.
	ArmReboot(pc, sp uint32, delay time.Duration)

	// Armed reports whether a reboot has been scheduled via ArmReboot
	// and the watchdog window it opened hasn't fired yet. Per spec.md
	// §7, any task submitted while this is true must be short-circuited
	// with Rebooting rather than run.
	Armed() bool
}

// Recorder is a Rebooter used in tests: it records the last arm request
// without ever actually resetting anything.
type Recorder struct {
	mu      sync.Mutex
	armed   bool
	PC, SP  uint32
	Delay   time.Duration
	ArmedAt time.Time
}

func (r *Recorder) ArmReboot(pc, sp uint32, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
	r.PC = pc
	r.SP = sp
	r.Delay = delay
	r.ArmedAt = time.Now()
}

// Armed reports whether ArmReboot has been called.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

func (r *Recorder) Last() (pc, sp uint32, delay time.Duration, armed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.PC, r.SP, r.Delay, r.armed
}
