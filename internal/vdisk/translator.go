// Package vdisk synthesizes a FAT16 "virtual disk" that a USB host sees
// as the bootloader's mass-storage interface: boot sector, FAT mirrors,
// root directory and two small embedded files are all generated on
// demand, and every sector write is interpreted as a UF2 download block
// (spec.md §4.2).
package vdisk

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rp2040bootrom/internal/addr"
	"rp2040bootrom/internal/reboot"
	"rp2040bootrom/internal/task"
)

const serialPlaceholder = "{{SERIAL}}"

// Config parameterizes a Translator.
type Config struct {
	TotalSectors uint32
	FamilyID     uint32
	Label        string // volume label; defaults to "RP2040BOOT"

	// ClusterSizeOverride forces a cluster size in bytes instead of
	// letting NewGeometryOverride pick the smallest one that fits. Zero
	// means "no override".
	ClusterSizeOverride uint32

	HTML []byte // raw (possibly compressed) INDEX.HTM content
	Info []byte // raw (possibly compressed) INFO_UF2.TXT content; optional

	Decompressor Decompressor // defaults to passthrough

	// DiskSerial lazily supplies the 32-bit MBR/boot-sector disk serial,
	// derived from a hardware timestamp on real boards (spec.md §4.2).
	// Called at most once; the result is cached.
	DiskSerial func() uint32

	// BitmapBase is the address, in the XIP-cache-as-RAM region, where a
	// flash-target session's tracking bitmaps notionally live, used to
	// reject vectorize targets that would overlap them.
	BitmapBase uint32
}

// Translator is the virtual disk block device: Config.TotalSectors
// fixed-size sectors, reads synthesized, writes interpreted as download
// blocks.
type Translator struct {
	mu sync.Mutex

	geom     Geometry
	familyID uint32
	label    string
	html     []byte
	info     []byte

	diskSerialFn   func() uint32
	diskSerialOnce sync.Once
	diskSerial     uint32
	htmlPatched    []byte
	infoPatched    []byte

	bitmapBase uint32

	disk     *task.Queue
	rebooter reboot.Rebooter

	tracker   *Tracker
	nextToken uint32

	log *slog.Logger
}

// NewTranslator builds a Translator over disk (the virtual-disk task
// queue) and rebooter (the reboot-arming collaborator).
func NewTranslator(cfg Config, disk *task.Queue, rebooter reboot.Rebooter, log *slog.Logger) (*Translator, error) {
	dec := cfg.Decompressor
	if dec == nil {
		dec = passthrough{}
	}
	html, err := dec.Decompress(cfg.HTML)
	if err != nil {
		return nil, fmt.Errorf("vdisk: decompress index: %w", err)
	}
	var info []byte
	if len(cfg.Info) > 0 {
		info, err = dec.Decompress(cfg.Info)
		if err != nil {
			return nil, fmt.Errorf("vdisk: decompress info: %w", err)
		}
	}

	label := cfg.Label
	if label == "" {
		label = "RP2040BOOT"
	}
	if log == nil {
		log = slog.Default()
	}
	diskSerialFn := cfg.DiskSerial
	if diskSerialFn == nil {
		diskSerialFn = func() uint32 { return 0 }
	}

	return &Translator{
		geom:         NewGeometryOverride(cfg.TotalSectors, cfg.ClusterSizeOverride),
		familyID:     cfg.FamilyID,
		label:        label,
		html:         html,
		info:         info,
		diskSerialFn: diskSerialFn,
		bitmapBase:   cfg.BitmapBase,
		disk:         disk,
		rebooter:     rebooter,
		log:          log,
	}, nil
}

// Geometry returns the computed FAT16 geometry, mostly useful for tests
// and the host-side tooling that needs to know the disk's advertised
// size.
func (t *Translator) Geometry() Geometry { return t.geom }

// BitmapRegion adapts the active tracker's bitmap footprint into the
// task.BitmapRegion shape the executor's vectorize step consumes.
func (t *Translator) BitmapRegion() (address, size uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracker == nil {
		return 0, 0
	}
	return t.tracker.Region()
}

func (t *Translator) resolveSerial() uint32 {
	t.diskSerialOnce.Do(func() {
		t.diskSerial = t.diskSerialFn()
		serialHex := fmt.Sprintf("%08X", t.diskSerial)
		t.htmlPatched = patchSerial(t.html, serialHex)
		t.infoPatched = patchSerial(t.info, serialHex)
	})
	return t.diskSerial
}

func patchSerial(content []byte, serialHex string) []byte {
	idx := bytes.Index(content, []byte(serialPlaceholder))
	if idx < 0 {
		return content
	}
	out := make([]byte, len(content))
	copy(out, content)
	copy(out[idx:idx+len(serialPlaceholder)], padRight(serialHex, len(serialPlaceholder)))
	return out
}

// ReadSector synthesizes the 512-byte contents of lba. Reads are pure:
// the same lba always returns the same bytes (modulo the disk serial,
// which is stable after its first use, per spec.md §8).
func (t *Translator) ReadSector(lba uint32) []byte {
	out := make([]byte, SectorSize)
	serial := t.resolveSerial()

	switch {
	case lba == 0:
		writeMBR(out, t.geom.TotalSectors, serial)
	case lba == 1:
		writeBootSector(out, t.geom, serial, t.label)
	case lba == t.geom.FAT1Start || lba == t.geom.FAT2Start:
		writeFAT(out)
	case lba > t.geom.FAT1Start && lba < t.geom.FAT1Start+t.geom.FATSectors:
		// every non-first FAT sector stays zero
	case lba > t.geom.FAT2Start && lba < t.geom.FAT2Start+t.geom.FATSectors:
	case lba == t.geom.RootStart:
		writeRootDir(out, t.label, uint32(len(t.htmlPatched)), uint32(len(t.infoPatched)))
	case lba > t.geom.RootStart && lba < t.geom.RootStart+t.geom.RootDirSectors:
	case t.inCluster(lba, 2):
		t.fillClusterSector(out, lba, 2, t.htmlPatched)
	case len(t.infoPatched) > 0 && t.inCluster(lba, 3):
		t.fillClusterSector(out, lba, 3, t.infoPatched)
	}
	return out
}

func (t *Translator) inCluster(lba, cluster uint32) bool {
	start := t.geom.ClusterLBA(cluster)
	return lba >= start && lba < start+t.geom.ClusterSectors
}

func (t *Translator) fillClusterSector(out []byte, lba, cluster uint32, content []byte) {
	start := t.geom.ClusterLBA(cluster)
	offset := (lba - start) * SectorSize
	if offset >= uint32(len(content)) {
		return
	}
	end := offset + SectorSize
	if end > uint32(len(content)) {
		end = uint32(len(content))
	}
	copy(out, content[offset:end])
}

// WriteSector interprets a 512-byte sector write as a download-block
// candidate. Sectors that don't parse as a valid, family-matched block
// are silently ignored (spec.md §4.2).
func (t *Translator) WriteSector(lba uint32, data []byte) {
	block, ok := ParseBlock(data)
	if !ok || !block.Accepted(t.familyID) {
		return
	}
	medium := addr.Classify(block.TargetAddr, block.PayloadSize)
	if medium != addr.RAM && medium != addr.Flash {
		return
	}
	if medium == addr.Flash && !addr.AlignedPage(block.TargetAddr) {
		return
	}
	if block.BlockNo >= block.NumBlocks {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracker == nil || t.tracker.NumBlocks != block.NumBlocks {
		t.tracker = NewTracker(medium, block.NumBlocks, t.bitmapBase)
		t.log.Info("vdisk:session-start",
			slog.Int("num_blocks", int(block.NumBlocks)),
			slog.String("medium", mediumName(medium)))
	} else if t.tracker.Medium != medium {
		t.log.Warn("vdisk:medium-mismatch-ignored", slog.Int("block", int(block.BlockNo)))
		return
	}
	tr := t.tracker

	if tr.ValidBlocks.Test(int(block.BlockNo)) {
		t.log.Info("vdisk:duplicate-block", slog.Int("block", int(block.BlockNo)))
		return
	}

	firstOfSession := tr.ValidCount == 0

	tt := task.Task{
		Source:                  task.VirtualDisk,
		Type:                    task.Write,
		TransferAddr:            block.TargetAddr,
		Data:                    append([]byte(nil), block.Payload[:block.PayloadSize]...),
		CheckLastMutationSource: !firstOfSession,
	}

	if medium == addr.Flash {
		sectorAddr := block.TargetAddr - block.TargetAddr%addr.SectorSize
		sectorIdx := int((sectorAddr - addr.FlashXIPBase) / addr.SectorSize)
		if !tr.ClearedSectors.Test(sectorIdx) {
			tt.Type |= task.FlashErase
			tt.EraseAddr = sectorAddr
			tt.EraseSize = addr.SectorSize
			tr.ClearedSectors.Set(sectorIdx)
		}
		if firstOfSession {
			tt.Type |= task.ExitXIP
		}
	}

	tr.Observe(block.BlockNo, block.TargetAddr)

	tt.Token = t.nextToken
	t.nextToken++
	tt.Callback = t.completionCallback(tr)

	t.disk.Enqueue(tt)
}

func (t *Translator) completionCallback(tr *Tracker) task.Callback {
	return func(result task.Task) {
		if result.Result != task.OK {
			return
		}
		t.mu.Lock()
		complete := tr.Complete() && t.tracker == tr
		t.mu.Unlock()
		if !complete {
			return
		}
		t.scheduleReboot(tr)
	}
}

func (t *Translator) scheduleReboot(tr *Tracker) {
	var pc uint32
	if tr.Medium == addr.RAM {
		pc = tr.LowestAddr()
	}
	sp := addr.RAMLimit
	t.log.Info("vdisk:download-complete",
		slog.Int("blocks", int(tr.ValidCount)),
		slog.String("pc", fmt.Sprintf("%#x", pc)))
	t.rebooter.ArmReboot(pc, sp, time.Second)
}

func mediumName(m addr.Medium) string {
	if m == addr.Flash {
		return "flash"
	}
	return "ram"
}
