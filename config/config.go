// Package config holds the board-identity knobs a concrete bootloader
// binds the core packages to: the UF2 family id downloads must carry,
// the virtual disk's advertised geometry, and its volume label.
// Defaults are compiled in; each can be overridden by placing a
// non-empty value in the corresponding .text file before building.
package config

import (
	_ "embed"
	"strconv"
	"strings"
)

// Defaults for board-identity configuration.
const (
	DefaultFamilyID     = 0x7a1b2c3d
	DefaultTotalSectors = 8192 // 4 MiB virtual disk at 512 B/sector
	DefaultVolumeLabel  = "RP2040BOOT"
)

// Environment-specific configuration (overrides the defaults above;
// empty file = use default).
var (
	//go:embed family_id.text
	familyIDOverride string

	//go:embed total_sectors.text
	totalSectorsOverride string

	//go:embed volume_label.text
	volumeLabelOverride string

	//go:embed cluster_size_override.text
	clusterSizeOverride string
)

// FamilyID returns the UF2 family id a download block must carry to be
// accepted (vdisk.Block.Accepted). Returns DefaultFamilyID unless
// overridden via family_id.text (decimal or 0x-prefixed hex).
func FamilyID() uint32 {
	if v, ok := parseUint32(familyIDOverride); ok {
		return v
	}
	return DefaultFamilyID
}

// TotalSectors returns the virtual disk's advertised sector count
// (vdisk.Config.TotalSectors). Returns DefaultTotalSectors unless
// overridden via total_sectors.text.
func TotalSectors() uint32 {
	if v, ok := parseUint32(totalSectorsOverride); ok {
		return v
	}
	return DefaultTotalSectors
}

// VolumeLabel returns the FAT16 volume label (vdisk.Config.Label).
// Returns DefaultVolumeLabel unless overridden via volume_label.text.
func VolumeLabel() string {
	if override := strings.TrimSpace(volumeLabelOverride); override != "" {
		return override
	}
	return DefaultVolumeLabel
}

// ClusterSizeOverride returns a forced cluster size in bytes (must be a
// power of two multiple of 512), or 0 if the geometry computation
// should pick the smallest cluster size that fits TotalSectors itself.
// Set via cluster_size_override.text.
func ClusterSizeOverride() uint32 {
	v, ok := parseUint32(clusterSizeOverride)
	if !ok {
		return 0
	}
	return v
}

func parseUint32(raw string) (uint32, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
