package main

import (
	"fmt"

	"rp2040bootrom/internal/vdisk"
)

// pushUF2 streams every sector of a UF2 file to LBA 0 of the virtual
// disk, the same write path a host OS's drag-and-drop copy onto the
// mounted volume takes. It does not reorder or rewrite blocks; the
// bootloader's translator is responsible for session tracking,
// deduplication, and arming the reboot once the session completes.
func pushUF2(d *device, path string, familyID uint32) error {
	blocks, err := loadUF2(path)
	if err != nil {
		return err
	}

	accepted := 0
	for i, b := range blocks {
		if b.Accepted(familyID) {
			accepted++
		}
		sector := vdisk.EncodeBlock(b)
		if err := d.WriteSector(0, sector); err != nil {
			return fmt.Errorf("block %d/%d: %w", i+1, len(blocks), err)
		}
		fmt.Printf("\r[%3d%%] block %d/%d", (i+1)*100/len(blocks), i+1, len(blocks))
	}
	fmt.Println()

	if accepted == 0 {
		return fmt.Errorf("no blocks in %s matched family id %#08x; the device discarded the whole download", path, familyID)
	}
	fmt.Printf("%d/%d blocks accepted by family %#08x\n", accepted, len(blocks), familyID)
	return nil
}
