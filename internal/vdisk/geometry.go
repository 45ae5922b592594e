package vdisk

// SectorSize is the virtual disk's fixed sector size (spec.md §6).
const SectorSize = 512

const (
	maxFAT16Clusters = 65526
	rootDirEntries   = 512
	numFATs          = 2
	reservedSectors  = 1 // the boot sector itself
)

// Geometry describes the FAT16 layout synthesized over the virtual disk,
// derived from the total sector count the disk presents to the host.
type Geometry struct {
	TotalSectors   uint32
	ClusterSectors uint32 // cluster size in sectors; cluster size = ClusterSectors*SectorSize

	FATSectors     uint32
	RootDirSectors uint32

	FAT1Start uint32
	FAT2Start uint32
	RootStart uint32
	DataStart uint32

	ClusterCount uint32
}

// NewGeometry computes a FAT16 geometry for a disk of totalSectors
// sectors, choosing the smallest cluster size (a power-of-two multiple of
// 4096 bytes) that keeps the cluster count within the FAT16 limit
// (spec.md §6).
func NewGeometry(totalSectors uint32) Geometry {
	return NewGeometryOverride(totalSectors, 0)
}

// NewGeometryOverride behaves like NewGeometry, except that a non-zero
// clusterBytesOverride forces that cluster size instead of searching for
// the smallest one that fits -- a board's config may need a larger
// cluster size than the search would pick, e.g. to match what a
// previously-shipped bootloader advertised. An override that isn't a
// multiple of SectorSize, or that yields too many clusters for FAT16,
// is ignored in favor of the normal search.
func NewGeometryOverride(totalSectors, clusterBytesOverride uint32) Geometry {
	if clusterBytesOverride != 0 && clusterBytesOverride%SectorSize == 0 {
		g := computeGeometry(totalSectors, clusterBytesOverride/SectorSize)
		if g.ClusterCount <= maxFAT16Clusters {
			return g
		}
	}

	const minClusterBytes = 4096
	clusterBytes := uint32(minClusterBytes)

	for {
		clusterSectors := clusterBytes / SectorSize
		g := computeGeometry(totalSectors, clusterSectors)
		if g.ClusterCount <= maxFAT16Clusters {
			return g
		}
		clusterBytes *= 2
	}
}

func computeGeometry(totalSectors, clusterSectors uint32) Geometry {
	rootDirSectors := uint32((rootDirEntries*32 + SectorSize - 1) / SectorSize)

	// FAT size depends on cluster count, which depends on FAT size; start
	// from an estimate and refine once (this converges in one step for
	// any sane cluster size since FAT overhead is tiny relative to data).
	fatSectors := uint32(1)
	for i := 0; i < 4; i++ {
		overhead := reservedSectors + numFATs*fatSectors + rootDirSectors
		if overhead >= totalSectors {
			break
		}
		dataSectors := totalSectors - overhead
		clusterCount := dataSectors / clusterSectors
		needed := (clusterCount+2)*2 + SectorSize - 1
		needed /= SectorSize
		if needed < 1 {
			needed = 1
		}
		if needed == fatSectors {
			break
		}
		fatSectors = needed
	}

	overhead := reservedSectors + numFATs*fatSectors + rootDirSectors
	var dataSectors uint32
	if overhead < totalSectors {
		dataSectors = totalSectors - overhead
	}
	clusterCount := dataSectors / clusterSectors

	fat1 := uint32(2) // LBA 0=MBR, LBA1=boot sector, FAT1 starts at LBA2
	fat2 := fat1 + fatSectors
	root := fat2 + fatSectors
	data := root + rootDirSectors

	return Geometry{
		TotalSectors:   totalSectors,
		ClusterSectors: clusterSectors,
		FATSectors:     fatSectors,
		RootDirSectors: rootDirSectors,
		FAT1Start:      fat1,
		FAT2Start:      fat2,
		RootStart:      root,
		DataStart:      data,
		ClusterCount:   clusterCount,
	}
}

// ClusterLBA returns the absolute disk LBA (counting the MBR as LBA 0)
// of the first sector of cluster n (n >= 2).
func (g Geometry) ClusterLBA(n uint32) uint32 {
	return g.DataStart + (n-2)*g.ClusterSectors
}
