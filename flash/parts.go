package flash

import "context"

// PartInfo is the static JEDEC-ID fallback table SPEC_FULL.md §3.1
// supplements spec.md's SFDP parsing with: bench tooling commonly needs
// to identify a part that omits SFDP entirely. Density is in bits,
// matching SFDP.DensityBits so both sources feed the same field.
type PartInfo struct {
	Name         string
	Manufacturer byte
	DeviceID     byte
	DensityBits  uint64
	SectorSizes  []SectorErase
}

// knownParts is a small built-in table; config.Config's flash.parts
// section can append to or override it (see config package).
var knownParts = []PartInfo{
	{
		Name:         "W25Q32",
		Manufacturer: 0xef,
		DeviceID:     0x16,
		DensityBits:  32 * 1024 * 1024,
		SectorSizes:  []SectorErase{{SizeBytes: 4096, Opcode: cmdSectorErase}, {SizeBytes: 65536, Opcode: cmdBlockErase}},
	},
	{
		Name:         "MX25L3233F",
		Manufacturer: 0xc2,
		DeviceID:     0x16,
		DensityBits:  32 * 1024 * 1024,
		SectorSizes:  []SectorErase{{SizeBytes: 4096, Opcode: cmdSectorErase}, {SizeBytes: 65536, Opcode: cmdBlockErase}},
	},
	{
		Name:         "AT25SF041",
		Manufacturer: 0x1f,
		DeviceID:     0x84,
		DensityBits:  4 * 1024 * 1024,
		SectorSizes:  []SectorErase{{SizeBytes: 4096, Opcode: cmdSectorErase}},
	},
}

// LookupPart finds a PartInfo by (manufacturer, deviceID) JEDEC pair in
// the combined built-in + extra table, extra taking priority so a
// config override shadows the built-in entry.
func LookupPart(manufacturer, deviceID byte, extra []PartInfo) (PartInfo, bool) {
	for _, p := range extra {
		if p.Manufacturer == manufacturer && p.DeviceID == deviceID {
			return p, true
		}
	}
	for _, p := range knownParts {
		if p.Manufacturer == manufacturer && p.DeviceID == deviceID {
			return p, true
		}
	}
	return PartInfo{}, false
}

// Identify takes the manufacturer byte from ReadJEDECID and the device
// byte from ReadManufacturerDeviceID (90h), and attaches the matching
// PartInfo (from extra or the built-in table) to d.Part, if known; ok
// reports whether a match was found.
func (d *Device) Identify(ctx context.Context, extra []PartInfo) (ok bool, err error) {
	manufacturer, _, _, err := d.ReadJEDECID(ctx)
	if err != nil {
		return false, err
	}
	_, deviceID, err := d.ReadManufacturerDeviceID(ctx)
	if err != nil {
		return false, err
	}
	if p, found := LookupPart(manufacturer, deviceID, extra); found {
		d.Part = &p
		return true, nil
	}
	return false, nil
}
