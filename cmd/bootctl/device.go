package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// device wraps the open block special file a bootloader enumerates as:
// its virtual disk (raw sector reads/writes) and its vendor command
// channel (32-byte packet request/response), both multiplexed over the
// same node the way the firmware's two bulk endpoints share one USB MSC
// interface.
type device struct {
	f        *os.File
	sectorSz int
}

// openDevice opens path and queries its logical sector size via BLKSSZGET
// when it's a real block device; character devices and plain files (used
// in local testing against a loopback-mounted image) fall back to the
// bootloader's fixed 512-byte sector.
func openDevice(path string) (*device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	sectorSz := 512
	if sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err == nil && sz > 0 {
		sectorSz = sz
	}

	return &device{f: f, sectorSz: sectorSz}, nil
}

func (d *device) Close() error { return d.f.Close() }

// enumerateDevices globs the usual Linux mass-storage device-node
// locations for anything that looks like a USB disk, returning the
// matches sorted for stable output.
func enumerateDevices() []string {
	var found []string
	for _, pattern := range []string{"/dev/sd?", "/dev/disk/by-id/usb-*"} {
		matches, _ := filepath.Glob(pattern)
		found = append(found, matches...)
	}
	slices.Sort(found)
	return found
}

// ReadSector reads one sector at lba.
func (d *device) ReadSector(lba uint32) ([]byte, error) {
	buf := make([]byte, d.sectorSz)
	off := int64(lba) * int64(d.sectorSz)
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read lba %d: %w", lba, err)
	}
	return buf, nil
}

// WriteSector writes one sector at lba, used to push UF2 download blocks
// the way a host OS's drag-and-drop copy would.
func (d *device) WriteSector(lba uint32, data []byte) error {
	off := int64(lba) * int64(d.sectorSz)
	if _, err := d.f.WriteAt(data, off); err != nil {
		return fmt.Errorf("write lba %d: %w", lba, err)
	}
	return nil
}

// SendPacket writes a 32-byte vendor command packet and reads back the
// 32-byte status response. The transport itself (bulk-out, then a
// GET_STATUS control transfer) is opaque below this call; against a
// loopback test file the response is whatever the packet's target wrote
// back, letting tests exercise framing without a real device attached.
func (d *device) SendPacket(pkt []byte) ([]byte, error) {
	if _, err := d.f.Write(pkt); err != nil {
		return nil, fmt.Errorf("send packet: %w", err)
	}
	time.Sleep(5 * time.Millisecond) // let the bootloader's worker catch up
	resp := make([]byte, len(pkt))
	if _, err := d.f.Read(resp); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	return resp, nil
}
