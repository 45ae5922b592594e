//go:build tinygo

// Package rp2040 wires the core engine's hardware contracts (RAMPort,
// ROMPort, flashdrv.Port, reboot.ScratchStore/Rebooter, identity.Source)
// to a real RP2040: direct SRAM/ROM pointer access, the boot ROM's
// function-table flash primitives, and the watchdog's scratch registers
// and reset countdown.
package rp2040

/*
#include <stdint.h>
#include <stddef.h>

#define ROM_TABLE_CODE(c1, c2) ((c1) | ((c2) << 8))

#define ROM_FUNC_CONNECT_INTERNAL_FLASH ROM_TABLE_CODE('I', 'F')
#define ROM_FUNC_FLASH_EXIT_XIP         ROM_TABLE_CODE('E', 'X')
#define ROM_FUNC_FLASH_ENTER_CMD_XIP    ROM_TABLE_CODE('C', 'X')
#define ROM_FUNC_FLASH_RANGE_ERASE      ROM_TABLE_CODE('R', 'E')
#define ROM_FUNC_FLASH_RANGE_PROGRAM    ROM_TABLE_CODE('R', 'P')
#define ROM_FUNC_FLASH_FLUSH_CACHE      ROM_TABLE_CODE('F', 'C')
#define ROM_FUNC_REBOOT                 ROM_TABLE_CODE('R', 'B')

#define BOOTROM_FUNC_TABLE_OFFSET   0x14
#define BOOTROM_WELL_KNOWN_PTR_SIZE 2
#define BOOTROM_TABLE_LOOKUP_OFFSET (BOOTROM_FUNC_TABLE_OFFSET + BOOTROM_WELL_KNOWN_PTR_SIZE)
#define RT_FLAG_FUNC_ARM_SEC 0x0004

#define FLASH_SECTOR_ERASE_CMD 0x20

#define REBOOT2_FLAG_REBOOT_TYPE_NORMAL    0x0
#define REBOOT2_FLAG_REBOOT_TYPE_RAM_IMAGE 0x3
#define REBOOT2_FLAG_NO_RETURN_ON_SUCCESS  0x100

typedef void *(*rom_table_lookup_fn)(uint32_t code, uint32_t mask);
typedef void (*flash_connect_fn)(void);
typedef void (*flash_exit_xip_fn)(void);
typedef void (*flash_enter_cmd_xip_fn)(void);
typedef void (*flash_range_erase_fn)(uint32_t addr, size_t count, uint32_t block_size, uint8_t block_cmd);
typedef void (*flash_range_program_fn)(uint32_t addr, const uint8_t *data, size_t count);
typedef void (*flash_flush_cache_fn)(void);
typedef int  (*rom_reboot_fn)(uint32_t flags, uint32_t delay_ms, uint32_t p0, uint32_t p1);

static void *rom_func_lookup_inline(uint32_t code) {
    rom_table_lookup_fn rom_table_lookup =
        (rom_table_lookup_fn)(uintptr_t)*(uint16_t*)(BOOTROM_TABLE_LOOKUP_OFFSET);
    return rom_table_lookup(code, RT_FLAG_FUNC_ARM_SEC);
}

static uint32_t rp2040_flash_enter_cmd_xip(void) {
    flash_enter_cmd_xip_fn f = (flash_enter_cmd_xip_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_ENTER_CMD_XIP);
    if (!f) return 1;
    f();
    return 0;
}

static uint32_t rp2040_flash_exit_xip(void) {
    flash_connect_fn connect = (flash_connect_fn)rom_func_lookup_inline(ROM_FUNC_CONNECT_INTERNAL_FLASH);
    flash_exit_xip_fn exitxip = (flash_exit_xip_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_EXIT_XIP);
    if (!connect || !exitxip) return 1;
    connect();
    exitxip();
    return 0;
}

static uint32_t rp2040_flash_erase_range(uint32_t offset, uint32_t size) {
    flash_range_erase_fn erase = (flash_range_erase_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_RANGE_ERASE);
    flash_flush_cache_fn flush = (flash_flush_cache_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!erase || !flush) return 1;
    erase(offset, size, 4096, FLASH_SECTOR_ERASE_CMD);
    flush();
    return 0;
}

static uint32_t rp2040_flash_page_program(uint32_t offset, const uint8_t *data, uint32_t len) {
    flash_range_program_fn program = (flash_range_program_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_RANGE_PROGRAM);
    flash_flush_cache_fn flush = (flash_flush_cache_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!program || !flush) return 1;
    program(offset, data, len);
    flush();
    return 0;
}

static int rp2040_rom_reboot(uint32_t flags, uint32_t delay_ms, uint32_t p0, uint32_t p1) {
    rom_reboot_fn f = (rom_reboot_fn)rom_func_lookup_inline(ROM_FUNC_REBOOT);
    if (!f) return -1;
    return f(flags, delay_ms, p0, p1);
}
*/
import "C"

import (
	"sync/atomic"
	"time"
	"unsafe"

	"rp2040bootrom/internal/addr"
)

// RAM backs task.RAMPort with direct pointer access to main SRAM and the
// XIP-cache-as-RAM alias. Classification already confined the address
// range before the executor calls in, so no bounds checking happens
// here.
type RAM struct{}

func (RAM) Read(address, length uint32) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(address))), length)
	out := make([]byte, length)
	copy(out, src)
	return out
}

func (RAM) Write(address uint32, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(address))), len(data))
	copy(dst, data)
}

// ROM backs task.ROMPort with direct pointer access below addr.ROMLimit.
type ROM struct{}

func (ROM) Read(address, length uint32) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(address))), length)
	out := make([]byte, length)
	copy(out, src)
	return out
}

// Flash backs flashdrv.Port with the boot ROM's flash function table.
// Every method returns a non-zero status if the ROM lookup itself
// failed; the ROM flash primitives don't otherwise report errors.
type Flash struct{}

func (Flash) EnterCmdXIP() uint32 { return uint32(C.rp2040_flash_enter_cmd_xip()) }
func (Flash) ExitXIP() uint32     { return uint32(C.rp2040_flash_exit_xip()) }

func (Flash) EraseSector(flashOffset uint32) uint32 {
	return uint32(C.rp2040_flash_erase_range(C.uint32_t(flashOffset), C.uint32_t(addr.SectorSize)))
}

func (Flash) EraseRange(flashOffset, size uint32) uint32 {
	return uint32(C.rp2040_flash_erase_range(C.uint32_t(flashOffset), C.uint32_t(size)))
}

func (Flash) PageProgram(flashOffset uint32, data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	return uint32(C.rp2040_flash_page_program(C.uint32_t(flashOffset), (*C.uint8_t)(unsafe.Pointer(&data[0])), C.uint32_t(len(data))))
}

func (Flash) PageRead(flashOffset uint32, dst []byte) uint32 {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr.FlashXIPBase+flashOffset))), len(dst))
	copy(dst, src)
	return 0
}

// watchdogBase is the RP2040 watchdog peripheral's base address
// (datasheet §2.15.2). SCRATCH0/SCRATCH1 hold state that survives a
// watchdog reset; this bootloader uses them for the GPIO-activity and
// disable-interface masks (spec.md §6).
const (
	watchdogBase     = 0x4005_8000
	watchdogScratch0 = watchdogBase + 0xc0
	watchdogScratch1 = watchdogBase + 0xc4
	watchdogCtrl     = watchdogBase + 0x00
	watchdogLoad     = watchdogBase + 0x08

	watchdogCtrlTrigger = 1 << 31
	watchdogCtrlEnable  = 1 << 30
)

func reg32(address uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(address))
}

// Scratch backs reboot.ScratchStore with the watchdog's two scratch
// registers.
type Scratch struct{}

func (Scratch) GPIOActivityMask() uint32         { return *reg32(watchdogScratch0) }
func (Scratch) SetGPIOActivityMask(v uint32)     { *reg32(watchdogScratch0) = v }
func (Scratch) DisableInterfaceMask() uint32     { return *reg32(watchdogScratch1) }
func (Scratch) SetDisableInterfaceMask(v uint32) { *reg32(watchdogScratch1) = v }

// Rebooter backs reboot.Rebooter. A non-zero pc requests a jump straight
// into a downloaded RAM image at (pc, sp) via the ROM's REBOOT2 RAM-image
// type; pc == 0 (a flash-target download, or the vendor REBOOT command
// with no entry point) requests a normal watchdog reset so execution
// re-enters through boot2 and picks up whatever is now in flash.
type Rebooter struct{}

// rebootArmed is set the moment ArmReboot is called, before the blocking
// countdown below, so other goroutines (the task worker) can observe
// that a reboot is pending even though ArmReboot itself never returns on
// success.
var rebootArmed atomic.Bool

func (Rebooter) Armed() bool { return rebootArmed.Load() }

func (Rebooter) ArmReboot(pc, sp uint32, delay time.Duration) {
	rebootArmed.Store(true)
	delayMs := uint32(delay / time.Millisecond)
	if pc != 0 {
		C.rp2040_rom_reboot(C.REBOOT2_FLAG_REBOOT_TYPE_RAM_IMAGE|C.REBOOT2_FLAG_NO_RETURN_ON_SUCCESS,
			C.uint32_t(delayMs), C.uint32_t(pc), C.uint32_t(sp))
	}
	// Either the RAM-image reboot call returned (ROM lookup failed) or
	// pc was 0: fall back to a watchdog-triggered normal reset.
	*reg32(watchdogLoad) = delayMs * 1000
	*reg32(watchdogCtrl) = watchdogCtrlEnable
	for {
		time.Sleep(time.Millisecond)
	}
}

// HardwareID and FirmwareRevision back identity.Source. HardwareID reads
// the SYSINFO CHIP_ID register (see chipUniqueID below); FirmwareRevision
// is supplied by the linker/build at compile time.
type Identity struct {
	FWRev uint32
}

func (id Identity) HardwareID() uint32       { return chipUniqueID() }
func (id Identity) FirmwareRevision() uint32 { return id.FWRev }

// sysinfoChipIDBase is the SYSINFO peripheral's CHIP_ID register
// (datasheet §2.16), used as the hardware-id source since it's cheaper
// to read than the external flash's unique ID command.
const sysinfoChipIDBase = 0x4000_0000

func chipUniqueID() uint32 {
	return *reg32(sysinfoChipIDBase)
}
