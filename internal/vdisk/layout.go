package vdisk

import "encoding/binary"

// writeMBR synthesizes LBA 0: one primary partition pointing at LBA 1,
// type 0x0E (FAT16-LBA), plus the 32-bit disk serial at the canonical MBR
// offset and the 0x55AA boot signature (spec.md §8 scenario 5).
func writeMBR(buf []byte, totalSectors, serial uint32) {
	for i := range buf {
		buf[i] = 0
	}

	const serialOffset = 0x1B8
	binary.LittleEndian.PutUint32(buf[serialOffset:], serial)

	const partOffset = 0x1BE
	entry := buf[partOffset : partOffset+16]
	entry[0] = 0x00         // not bootable
	entry[1], entry[2], entry[3] = 0xFF, 0xFF, 0xFF
	entry[4] = 0x0E // FAT16 with LBA
	entry[5], entry[6], entry[7] = 0xFF, 0xFF, 0xFF
	binary.LittleEndian.PutUint32(entry[8:12], 1)
	binary.LittleEndian.PutUint32(entry[12:16], totalSectors-1)

	buf[510] = 0x55
	buf[511] = 0xAA
}

// writeBootSector synthesizes the partition's boot sector (BIOS
// Parameter Block) for the computed geometry, with the volume serial
// patched in.
func writeBootSector(buf []byte, g Geometry, serial uint32, label string) {
	for i := range buf {
		buf[i] = 0
	}

	buf[0], buf[1], buf[2] = 0xEB, 0x3C, 0x90
	copy(buf[3:11], padRight("RP2BOOT", 8))
	binary.LittleEndian.PutUint16(buf[11:13], SectorSize)
	buf[13] = byte(g.ClusterSectors)
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], rootDirEntries)
	if g.TotalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(buf[19:21], uint16(g.TotalSectors))
	}
	buf[21] = 0xF8 // fixed disk media descriptor
	binary.LittleEndian.PutUint16(buf[22:24], uint16(g.FATSectors))
	binary.LittleEndian.PutUint16(buf[24:26], 32) // sectors/track (cosmetic)
	binary.LittleEndian.PutUint16(buf[26:28], 255) // heads (cosmetic)
	binary.LittleEndian.PutUint32(buf[28:32], 1)   // hidden sectors = partition start LBA
	if g.TotalSectors > 0xFFFF {
		binary.LittleEndian.PutUint32(buf[32:36], g.TotalSectors)
	}
	buf[36] = 0x80 // drive number
	buf[37] = 0
	buf[38] = 0x29 // extended boot signature present
	binary.LittleEndian.PutUint32(buf[39:43], serial)
	copy(buf[43:54], padRight(label, 11))
	copy(buf[54:62], padRight("FAT16", 8))

	buf[510] = 0x55
	buf[511] = 0xAA
}

// writeFAT synthesizes the first sector of a FAT mirror: cluster 0/1 are
// reserved (media-type-coded), clusters 2 and 3 are marked end-of-chain.
// Every other FAT sector reads as zero.
func writeFAT(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint16(buf[0:2], 0xFFF8)
	binary.LittleEndian.PutUint16(buf[2:4], 0xFFFF)
	binary.LittleEndian.PutUint16(buf[4:6], 0xFFFF) // cluster 2: EOC
	binary.LittleEndian.PutUint16(buf[6:8], 0xFFFF) // cluster 3: EOC
}

// writeRootDir synthesizes the first root-directory sector: a volume
// label entry, an INDEX.HTM entry pointing at cluster 2, and (if
// infoSize > 0) an INFO_UF2.TXT entry pointing at cluster 3.
func writeRootDir(buf []byte, label string, htmlSize, infoSize uint32) {
	for i := range buf {
		buf[i] = 0
	}

	const entrySize = 32
	writeDirEntry(buf[0:entrySize], padRight(label, 11), 0x08, 0, 0)
	writeDirEntry(buf[entrySize:2*entrySize], shortName("INDEX", "HTM"), 0x20, 2, htmlSize)
	if infoSize > 0 {
		writeDirEntry(buf[2*entrySize:3*entrySize], shortName("INFO_UF2", "TXT"), 0x20, 3, infoSize)
	}
}

func writeDirEntry(entry []byte, name11 string, attr byte, cluster uint16, size uint32) {
	copy(entry[0:11], name11)
	entry[11] = attr
	binary.LittleEndian.PutUint16(entry[26:28], cluster)
	binary.LittleEndian.PutUint32(entry[28:32], size)
}

func shortName(base, ext string) string {
	return padRight(base, 8) + padRight(ext, 3)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	out := make([]byte, n)
	copy(out, s)
	for i := len(s); i < n; i++ {
		out[i] = ' '
	}
	return string(out)
}
