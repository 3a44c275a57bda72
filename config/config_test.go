package config

import (
	"os"
	"path/filepath"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	err := os.WriteFile(path, []byte("pipe:\n  device: mock\n"), 0o644)
	assert(t, err == nil, "WriteFile failed: %v", err)

	cfg, err := Load(path)
	assert(t, err == nil, "Load failed: %v", err)
	assert(t, cfg.Pipe.Device == "mock", "got device %q", cfg.Pipe.Device)
	assert(t, cfg.GDB.Network == defaultGDBNetwork, "got network %q", cfg.GDB.Network)
	assert(t, cfg.GDB.Address == defaultGDBAddress, "got address %q", cfg.GDB.Address)
}

func TestLoadFlashParts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	doc := "flash:\n  parts:\n    - name: CUSTOM25Q32\n      manufacturer_id: 0xEF\n      device_id: 0x40\n      density_bits: 33554432\n      sector_size: 4096\n      erase_opcode: 0x20\n"
	err := os.WriteFile(path, []byte(doc), 0o644)
	assert(t, err == nil, "WriteFile failed: %v", err)

	cfg, err := Load(path)
	assert(t, err == nil, "Load failed: %v", err)
	parts := cfg.FlashParts()
	assert(t, len(parts) == 1, "expected 1 part, got %d", len(parts))
	assert(t, parts[0].Name == "CUSTOM25Q32", "got %q", parts[0].Name)
	assert(t, parts[0].DeviceID == 0x40, "got %x", parts[0].DeviceID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert(t, err != nil, "expected error for missing file")
}
