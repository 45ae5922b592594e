// Command bootctl is the host-side companion to the bootloader: a vendor
// command client for read/write/erase/exec/vectorize/reboot, and a
// uf2-push command that streams a firmware image onto the bootloader's
// virtual disk the way a drag-and-drop copy would.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"rp2040bootrom/internal/vendorcmd"
)

func main() {
	device := flag.String("device", "", "Path to the bootloader's block device node (required)")
	familyID := flag.Uint64("family", 0x7a1b2c3d, "UF2 family id to match against (push/info)")
	yes := flag.Bool("yes", false, "Skip the confirmation prompt for destructive commands")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd := args[0]
	rest := args[1:]

	if cmd == "info" {
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: bootctl info <firmware.uf2>")
			os.Exit(1)
		}
		if err := printUF2Info(rest[0], uint32(*familyID)); err != nil {
			fatal(err)
		}
		return
	}

	if cmd == "list" {
		for _, path := range enumerateDevices() {
			fmt.Println(path)
		}
		return
	}

	if *device == "" {
		fmt.Fprintln(os.Stderr, "-device is required for this command")
		os.Exit(1)
	}
	d, err := openDevice(*device)
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	switch cmd {
	case "push":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> push <firmware.uf2>")
			os.Exit(1)
		}
		if !confirm(*yes, fmt.Sprintf("push %s to %s", rest[0], *device)) {
			return
		}
		if err := pushUF2(d, rest[0], uint32(*familyID)); err != nil {
			fatal(err)
		}
	case "status":
		status, err := getStatus(d)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("last command: %s  token: %d  code: %s\n", status.ID, status.UserToken, status.Code)
	case "read":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> read <addr> <size>")
			os.Exit(1)
		}
		address, size := parseAddrSize(rest)
		data, err := readMemory(d, address, size)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%d bytes from %#08x:\n", len(data), address)
		hexDump(data, address)
	case "write":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> write <addr> <file>")
			os.Exit(1)
		}
		address := parseUint32(rest[0])
		data, err := os.ReadFile(rest[1])
		if err != nil {
			fatal(err)
		}
		if !confirm(*yes, fmt.Sprintf("write %d bytes to %#08x", len(data), address)) {
			return
		}
		if err := writeMemory(d, address, data); err != nil {
			fatal(err)
		}
	case "erase":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> erase <addr> <size>")
			os.Exit(1)
		}
		address, size := parseAddrSize(rest)
		if !confirm(*yes, fmt.Sprintf("erase %d bytes at %#08x", size, address)) {
			return
		}
		if err := sendZeroAddrSize(d, vendorcmd.FlashErase, address, size); err != nil {
			fatal(err)
		}
	case "exec":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> exec <addr>")
			os.Exit(1)
		}
		if err := sendAddrOnly(d, vendorcmd.Exec, parseUint32(rest[0])); err != nil {
			fatal(err)
		}
	case "vectorize":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> vectorize <addr>")
			os.Exit(1)
		}
		if !confirm(*yes, fmt.Sprintf("vectorize flash table to %#08x", parseUint32(rest[0]))) {
			return
		}
		if err := sendAddrOnly(d, vendorcmd.Vectorize, parseUint32(rest[0])); err != nil {
			fatal(err)
		}
	case "exclusive":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> exclusive <0|1|2>")
			os.Exit(1)
		}
		if err := sendExclusive(d, byte(parseUint32(rest[0]))); err != nil {
			fatal(err)
		}
	case "reboot":
		pc, sp, delayMs := parseReboot(rest)
		if !confirm(*yes, "reboot the device") {
			return
		}
		if err := sendReboot(d, pc, sp, delayMs); err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func parseUint32(s string) uint32 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		fatal(fmt.Errorf("invalid number %q: %w", s, err))
	}
	return uint32(v)
}

func parseAddrSize(args []string) (address, size uint32) {
	return parseUint32(args[0]), parseUint32(args[1])
}

func parseReboot(args []string) (pc, sp, delayMs uint32) {
	switch len(args) {
	case 0:
		return 0, 0, 0
	case 2:
		return parseUint32(args[0]), parseUint32(args[1]), 0
	case 3:
		return parseUint32(args[0]), parseUint32(args[1]), parseUint32(args[2])
	default:
		fmt.Fprintln(os.Stderr, "usage: bootctl -device <dev> reboot [pc sp [delay_ms]]")
		os.Exit(1)
		return 0, 0, 0
	}
}

// confirm prompts for a literal "yes" before a destructive operation,
// unless -yes was passed or stdin isn't a terminal (scripted use).
func confirm(skip bool, action string) bool {
	if skip {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Printf("About to %s. Type 'yes' to continue: ", action)
	var reply string
	fmt.Scanln(&reply)
	if strings.TrimSpace(reply) != "yes" {
		fmt.Println("aborted")
		return false
	}
	return true
}

func hexDump(data []byte, base uint32) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("  %#08x  % x\n", base+uint32(off), data[off:end])
	}
}

func printUsage() {
	fmt.Println("bootctl - vendor command client and UF2 downloader")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bootctl info <firmware.uf2>")
	fmt.Println("  bootctl list")
	fmt.Println("  bootctl -device <dev> push <firmware.uf2>")
	fmt.Println("  bootctl -device <dev> status")
	fmt.Println("  bootctl -device <dev> read <addr> <size>")
	fmt.Println("  bootctl -device <dev> write <addr> <file>")
	fmt.Println("  bootctl -device <dev> erase <addr> <size>")
	fmt.Println("  bootctl -device <dev> exec <addr>")
	fmt.Println("  bootctl -device <dev> vectorize <addr>")
	fmt.Println("  bootctl -device <dev> exclusive <0|1|2>")
	fmt.Println("  bootctl -device <dev> reboot [pc sp [delay_ms]]")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
