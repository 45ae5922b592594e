package main

import (
	"fmt"
	"os"

	"rp2040bootrom/internal/vdisk"
)

// loadUF2 reads path and validates every sector parses as a download
// block, returning them in file order.
func loadUF2(path string) ([]vdisk.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data)%vdisk.SectorSize != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of %d", path, len(data), vdisk.SectorSize)
	}

	n := len(data) / vdisk.SectorSize
	blocks := make([]vdisk.Block, 0, n)
	for i := 0; i < n; i++ {
		sector := data[i*vdisk.SectorSize : (i+1)*vdisk.SectorSize]
		b, ok := vdisk.ParseBlock(sector)
		if !ok {
			return nil, fmt.Errorf("%s: sector %d is not a valid download block", path, i)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// printUF2Info prints a summary of a UF2 file: its block count, how many
// blocks familyID accepts, the first block's target address, family id
// and flags, and the address span covered by all blocks.
func printUF2Info(path string, familyID uint32) error {
	blocks, err := loadUF2(path)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return fmt.Errorf("%s: empty", path)
	}

	first := blocks[0]
	var minAddr, maxAddr uint32 = 0xFFFFFFFF, 0
	accepted := 0
	for _, b := range blocks {
		if b.TargetAddr < minAddr {
			minAddr = b.TargetAddr
		}
		if end := b.TargetAddr + b.PayloadSize; end > maxAddr {
			maxAddr = end
		}
		if b.Accepted(familyID) {
			accepted++
		}
	}

	fmt.Printf("UF2 file: %s\n", path)
	fmt.Printf("  blocks: %d (accepted by family %#08x: %d)\n", len(blocks), familyID, accepted)
	fmt.Printf("  first block target: %#08x\n", first.TargetAddr)
	fmt.Printf("  address span: %#08x - %#08x (%d bytes)\n", minAddr, maxAddr, maxAddr-minAddr)
	fmt.Printf("  declared family id: %#08x\n", first.FamilyID)
	if first.Flags&vdisk.FlagNotMainFlash != 0 {
		fmt.Println("  flag: NOT_MAIN_FLASH")
	}
	if first.Flags&vdisk.FlagFamilyIDPresent != 0 {
		fmt.Println("  flag: FAMILY_ID_PRESENT")
	}
	return nil
}
