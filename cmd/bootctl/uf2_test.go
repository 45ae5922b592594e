package main

import (
	"os"
	"path/filepath"
	"testing"

	"rp2040bootrom/internal/vdisk"
)

const testFamilyID = 0xe48bff56

func writeUF2(t *testing.T, blocks []vdisk.Block) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.uf2")
	var data []byte
	for _, b := range blocks {
		data = append(data, vdisk.EncodeBlock(b)...)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func makeBlock(addr, blockNo, numBlocks, familyID uint32) vdisk.Block {
	return vdisk.Block{
		Flags:       vdisk.FlagFamilyIDPresent,
		TargetAddr:  addr,
		PayloadSize: vdisk.PayloadSize,
		BlockNo:     blockNo,
		NumBlocks:   numBlocks,
		FamilyID:    familyID,
	}
}

func TestLoadUF2_Valid(t *testing.T) {
	path := writeUF2(t, []vdisk.Block{
		makeBlock(0x10000000, 0, 3, testFamilyID),
		makeBlock(0x10000100, 1, 3, testFamilyID),
		makeBlock(0x10000200, 2, 3, testFamilyID),
	})

	blocks, err := loadUF2(path)
	if err != nil {
		t.Fatalf("loadUF2: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if blocks[2].TargetAddr != 0x10000200 {
		t.Fatalf("block 2 target = %#x", blocks[2].TargetAddr)
	}
}

func TestLoadUF2_WrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.uf2")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadUF2(path); err == nil {
		t.Fatal("expected error for size not a multiple of 512")
	}
}

func TestLoadUF2_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.uf2")
	if err := os.WriteFile(path, make([]byte, 512), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadUF2(path); err == nil {
		t.Fatal("expected error for missing magic")
	}
}

func TestLoadUF2_FileNotFound(t *testing.T) {
	if _, err := loadUF2("/nonexistent/file.uf2"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPrintUF2Info_MixedFamily(t *testing.T) {
	path := writeUF2(t, []vdisk.Block{
		makeBlock(0x10000000, 0, 2, testFamilyID),
		makeBlock(0x10000100, 1, 2, 0xdeadbeef), // wrong family
	})
	if err := printUF2Info(path, testFamilyID); err != nil {
		t.Fatalf("printUF2Info: %v", err)
	}
}
