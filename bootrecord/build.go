package bootrecord

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"

	disko "github.com/goblinhack/fatdisk"
)

// BuildParams are the inputs the formatter (C10) supplies to synthesize a
// fresh boot record from the well-known template in spec.md §4.10.
type BuildParams struct {
	OEMName             string
	SectorSize          uint
	SectorsPerCluster   uint
	ReservedSectorCount uint
	NumberOfFATs        uint
	NumberOfDirents     uint // forced to 0 below for FAT32
	TotalSectors        uint
	MediaType           byte
	SectorsPerTrack     uint
	NumHeads            uint
	HiddenSectors       uint
	FATSizeSectors      uint
	Variant             int // 12, 16, or 32
	VolumeID            uint32
	VolumeLabel         string
	RootCluster         uint32 // FAT32 only; spec.md says always 2
	FSInfoSector        uint16 // FAT32 only
	BackupBootSector    uint16 // FAT32 only
}

// Build synthesizes an in-memory BootRecord from BuildParams, ready for
// Encode. It does not itself decide sectors-per-cluster or FAT size -- the
// formatter works those out first per spec.md §4.10 steps 3-4.
func Build(p BuildParams) (*BootRecord, error) {
	if p.Variant != 12 && p.Variant != 16 && p.Variant != 32 {
		return nil, fmt.Errorf("invalid FAT variant %d", p.Variant)
	}

	br := &BootRecord{Variant: p.Variant}
	br.raw.JmpBoot = [3]byte{0xEB, 0x3C, 0x90}
	copy(br.raw.OEMName[:], padTo(p.OEMName, 8))
	br.raw.BytesPerSector = uint16(p.SectorSize)
	br.raw.SectorsPerCluster = uint8(p.SectorsPerCluster)
	br.raw.ReservedSectors = uint16(p.ReservedSectorCount)
	br.raw.NumFATs = uint8(p.NumberOfFATs)
	br.raw.MediaType = p.MediaType
	br.raw.SectorsPerTrack = uint16(p.SectorsPerTrack)
	br.raw.NumHeads = uint16(p.NumHeads)
	br.raw.HiddenSectors = uint32(p.HiddenSectors)

	if p.TotalSectors <= 0xFFFF {
		br.raw.TotalSectors16 = uint16(p.TotalSectors)
	} else {
		br.raw.TotalSectors32 = uint32(p.TotalSectors)
	}

	if p.Variant == 32 {
		br.raw.RootEntryCount = 0
		br.fat32 = rawFAT32Ext{
			FATSize32:        uint32(p.FATSizeSectors),
			RootCluster:      p.RootCluster,
			FSInfoSector:     p.FSInfoSector,
			BackupBootSector: p.BackupBootSector,
			ExtBootSignature: 0x29,
			VolumeID:         p.VolumeID,
		}
		copy(br.fat32.VolumeLabel[:], padTo(p.VolumeLabel, 11))
		copy(br.fat32.FileSystemType[:], padTo("FAT32", 8))
	} else {
		br.raw.RootEntryCount = uint16(p.NumberOfDirents)
		br.raw.FATSizeSectors16 = uint16(p.FATSizeSectors)
		br.fat1216 = rawFAT1216Ext{
			ExtBootSignature: 0x29,
			VolumeID:         p.VolumeID,
		}
		copy(br.fat1216.VolumeLabel[:], padTo(p.VolumeLabel, 11))
		label := "FAT16   "
		if p.Variant == 12 {
			label = "FAT12   "
		}
		copy(br.fat1216.FileSystemType[:], padTo(label, 8))
	}

	return br, nil
}

func padTo(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	if len(s) > n {
		copy(b, s[:n])
	}
	return b
}

// Encode serializes the boot record into exactly 512 bytes, staged through a
// fixed-offset byte writer so every field lands at the documented offset and
// the trailing 0x55 0xAA signature is always present (spec.md Invariant G-1).
func (br *BootRecord) Encode() ([]byte, error) {
	sector := make([]byte, SectorSize512)
	w := bytewriter.New(sector)

	if err := binary.Write(w, binary.LittleEndian, &br.raw); err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, "encoding BPB: "+err.Error())
	}

	if br.Variant == 32 {
		if err := binary.Write(w, binary.LittleEndian, &br.fat32); err != nil {
			return nil, disko.NewDriverErrorWithMessage(disko.EIO, "encoding FAT32 extended BPB: "+err.Error())
		}
	} else {
		if err := binary.Write(w, binary.LittleEndian, &br.fat1216); err != nil {
			return nil, disko.NewDriverErrorWithMessage(disko.EIO, "encoding FAT12/16 extended BPB: "+err.Error())
		}
	}

	sector[510] = 0x55
	sector[511] = 0xAA
	return sector, nil
}
