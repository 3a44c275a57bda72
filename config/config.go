// Package config loads the YAML device/session profile SPEC_FULL.md §6.1
// describes: probe serial device path and ioctl speed, the GDB RSP listen
// address, and optional Flash part-table overrides. Defaults are applied in
// Go after unmarshalling, not templated into the YAML itself.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fpgaprobe/hostrt/flash"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// Config is the top-level session profile.
type Config struct {
	Pipe  PipeConfig  `yaml:"pipe"`
	GDB   GDBConfig   `yaml:"gdb"`
	Flash FlashConfig `yaml:"flash"`
}

// PipeConfig selects and configures the L0 transport.
type PipeConfig struct {
	// Device is a path to a character device, or the literal "mock" to
	// use an in-memory pipe.Pipe instead of real hardware.
	Device string `yaml:"device"`
	// IoctlSpeed is a CBAUD-style speed constant ORed into the termios
	// control flags when the serial device is opened; 0 is passed through
	// as is, with no default speed substituted.
	IoctlSpeed uint32 `yaml:"ioctl_speed"`
}

// GDBConfig selects the RSP server's listen network and address.
type GDBConfig struct {
	// Network is "tcp" or "unix"; defaults to "tcp".
	Network string `yaml:"network"`
	Address string `yaml:"address"`
	// AllowMonitor mirrors spec.md §4.5's GLASGOW_GDB_MONITOR=unsafe
	// guard as a config-file alternative to the environment variable;
	// either enables qRcmd.
	AllowMonitor bool `yaml:"allow_monitor"`
}

// FlashConfig carries SFDP-table overrides/additions for parts that omit
// SFDP or need a quirk.
type FlashConfig struct {
	Parts []FlashPart `yaml:"parts"`
}

// FlashPart is the YAML shape of a flash.PartInfo override.
type FlashPart struct {
	Name           string `yaml:"name"`
	ManufacturerID uint8  `yaml:"manufacturer_id"`
	DeviceID       uint8  `yaml:"device_id"`
	DensityBits    uint64 `yaml:"density_bits"`
	SectorSize     uint32 `yaml:"sector_size"`
	EraseOpcode    uint8  `yaml:"erase_opcode"`
}

const (
	defaultGDBNetwork = "tcp"
	defaultGDBAddress = "127.0.0.1:3333"
)

// Load reads and parses the profile at path, applying defaults for any
// field the YAML document left zero-valued.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindTransport, "config", "load", "read profile", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, probeerr.Wrap(probeerr.KindNotImplemented, "config", "load", "parse profile", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GDB.Network == "" {
		c.GDB.Network = defaultGDBNetwork
	}
	if c.GDB.Address == "" {
		c.GDB.Address = defaultGDBAddress
	}
}

// FlashParts converts the config's override table into flash.PartInfo
// values suitable for flash.LookupPart's extra argument.
func (c *Config) FlashParts() []flash.PartInfo {
	out := make([]flash.PartInfo, 0, len(c.Flash.Parts))
	for _, p := range c.Flash.Parts {
		out = append(out, flash.PartInfo{
			Name:         p.Name,
			Manufacturer: p.ManufacturerID,
			DeviceID:     p.DeviceID,
			DensityBits:  p.DensityBits,
			SectorSizes:  []flash.SectorErase{{SizeBytes: int(p.SectorSize), Opcode: p.EraseOpcode}},
		})
	}
	return out
}
