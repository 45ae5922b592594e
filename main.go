//go:build tinygo

// Command rp2040bootrom is the bootloader firmware entry point: it wires
// the board's hardware ports into the async task engine, the virtual
// disk translator, and the vendor command handler, then runs the
// worker loop forever.
//
// The USB device stack itself (bulk endpoint plumbing, control transfer
// dispatch) is an external collaborator per the flash/vendor-command
// contracts this repo owns -- a concrete USB stack feeds bytes into
// vdisk.Translator.ReadSector/WriteSector and vendorcmd.Handler.HandleRaw
// from outside this package, the same way spec.md treats the SPI/QSPI
// flash chip driver as an external collaborator behind flashdrv.Port.
package main

import (
	"context"
	_ "embed"
	"log/slog"
	"time"

	"machine"

	"rp2040bootrom/board/rp2040"
	"rp2040bootrom/config"
	"rp2040bootrom/internal/flashdrv"
	"rp2040bootrom/internal/identity"
	"rp2040bootrom/internal/task"
	"rp2040bootrom/internal/vdisk"
	"rp2040bootrom/internal/vendorcmd"
)

// firmwareRevision is overridden at link time (-ldflags "-X
// main.firmwareRevision=...") by the build that produces a release
// image; zero is fine for local/dev builds.
var firmwareRevision uint32

//go:embed assets/INDEX.HTM
var indexHTML []byte

//go:embed assets/INFO_UF2.TXT
var infoUF2 []byte

func main() {
	time.Sleep(2 * time.Second) // let USB/CDC settle before first log line

	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	logger.Info("init:start",
		slog.String("family_id", hex32(config.FamilyID())),
		slog.Int("total_sectors", int(config.TotalSectors())),
		slog.String("label", config.VolumeLabel()),
	)

	board := struct {
		ram      rp2040.RAM
		rom      rp2040.ROM
		flash    rp2040.Flash
		scratch  rp2040.Scratch
		rebooter rp2040.Rebooter
		identity rp2040.Identity
	}{identity: rp2040.Identity{FWRev: firmwareRevision}}

	idCache := identity.NewCache(board.identity)
	logger.Info("init:identity", slog.String("serial", idCache.Serial()))

	flashRegistry := flashdrv.NewRegistry(board.flash)

	diskQueue := task.NewQueue("virtual-disk", logger)
	vendorQueue := task.NewQueue("vendor", logger)

	var translator *vdisk.Translator
	exec := task.NewExecutor(
		board.ram,
		board.rom,
		flashRegistry,
		func() (uint32, uint32) { return translator.BitmapRegion() },
		func(address uint32) { board.rebooter.ArmReboot(address, 0, 0) },
		nil, // eject: no MSC logical-unit eject hook wired on this board yet
		logger,
	)
	engine := task.NewEngine(diskQueue, vendorQueue, exec, board.rebooter, logger)

	var err error
	translator, err = vdisk.NewTranslator(vdisk.Config{
		TotalSectors:        config.TotalSectors(),
		FamilyID:            config.FamilyID(),
		Label:               config.VolumeLabel(),
		ClusterSizeOverride: config.ClusterSizeOverride(),
		HTML:                indexHTML,
		Info:                infoUF2,
		DiskSerial: func() uint32 {
			// Microsecond timestamp taken at the first virtual-disk read.
			return uint32(time.Now().UnixNano() / int64(time.Microsecond))
		},
	}, diskQueue, board.rebooter, logger)
	if err != nil {
		logger.Error("init:vdisk-failed", slog.String("err", err.Error()))
		fatalHalt()
	}

	// vendorHandler.HandleRaw is called by the USB stack's vendor-class
	// control/bulk callbacks (outside this package's scope); GetStatus and
	// Reset back the GET_STATUS and RESET control transfers the same way.
	_ = vendorcmd.NewHandler(vendorQueue, diskQueue, board.scratch, board.rebooter, logger)

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 8000})
	machine.Watchdog.Start()
	logger.Info("init:complete")

	go engine.Worker(context.Background())

	for {
		machine.Watchdog.Update()
		time.Sleep(time.Second)
	}
}

func fatalHalt() {
	for {
		time.Sleep(time.Second)
	}
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	buf := [10]byte{'0', 'x'}
	for i := 9; i >= 2; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}
