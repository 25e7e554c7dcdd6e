// Package bootrecord decodes and encodes the FAT boot record (C3): the
// 512-byte sector at the filesystem's base offset, and the derived geometry
// functions (sector/cluster sizes, FAT location, root-dir location, total
// data sectors, FAT variant) every other component relies on.
package bootrecord

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	disko "github.com/goblinhack/fatdisk"
)

const SectorSize512 = 512

// rawCommon is the packed, little-endian layout shared by every FAT variant,
// decoded with encoding/binary rather than a reinterpret-cast over raw bytes
// (see SPEC_FULL.md's AMBIENT section on packed structs).
type rawCommon struct {
	JmpBoot             [3]byte
	OEMName             [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectors     uint16
	NumFATs             uint8
	RootEntryCount      uint16
	TotalSectors16      uint16
	MediaType           uint8
	FATSizeSectors16    uint16
	SectorsPerTrack     uint16
	NumHeads            uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
}

// rawFAT1216Ext is the extended BPB used by FAT12 and FAT16.
type rawFAT1216Ext struct {
	DriveNumber      uint8
	Reserved1        uint8
	ExtBootSignature uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// rawFAT32Ext is the extended BPB used by FAT32.
type rawFAT32Ext struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	ExtBootSignature uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// BootRecord is the decoded, variant-independent boot record plus the
// derived geometry from spec.md §4.3.
type BootRecord struct {
	raw     rawCommon
	fat1216 rawFAT1216Ext
	fat32   rawFAT32Ext

	// Variant is 12, 16, or 32. Set by DetermineVariant and re-verified
	// against the geometry-inferred value per spec.md §3's "safety override".
	Variant int
}

// DetermineVariant derives the FAT variant from the total data-cluster count,
// per spec.md §3: <4085 -> FAT12, <65525 -> FAT16, else FAT32.
func DetermineVariant(totalClusters uint) int {
	switch {
	case totalClusters < 4085:
		return 12
	case totalClusters < 65525:
		return 16
	default:
		return 32
	}
}

// Decode reads and validates a 512-byte boot record from r. hintedVariant, if
// nonzero, is the OS-ID-derived variant from the partition table (C4); when
// it disagrees with the geometry-inferred variant in a way that would make a
// FAT32-claimed record carry a 16-bit FAT size, the geometry wins (spec.md §3
// "safety override").
func Decode(r io.Reader, hintedVariant int) (*BootRecord, error) {
	sector := make([]byte, SectorSize512)
	if _, err := io.ReadFull(r, sector); err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "short read of boot sector: "+err.Error())
	}

	if sector[510] != 0x55 || sector[511] != 0xAA {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "missing 0x55 0xAA boot signature")
	}

	br := &BootRecord{}
	reader := bytes.NewReader(sector)
	if err := binary.Read(reader, binary.LittleEndian, &br.raw); err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "malformed BPB: "+err.Error())
	}

	if err := br.validateCommon(); err != nil {
		return nil, err
	}

	// A nonzero 16-bit FAT size always means FAT12/16, regardless of what the
	// partition table's OS-ID claimed.
	if br.raw.FATSizeSectors16 != 0 {
		if err := binary.Read(reader, binary.LittleEndian, &br.fat1216); err != nil {
			return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "malformed FAT12/16 extended BPB: "+err.Error())
		}
		totalClusters := br.totalClustersFromSizes(uint(br.raw.FATSizeSectors16))
		br.Variant = DetermineVariant(totalClusters)
		if br.Variant == 32 {
			// Geometry disagrees with a 32-bit assumption; clamp to 16, the
			// widest variant a 16-bit FAT size field can represent.
			br.Variant = 16
		}
		// The partition OS-ID is authoritative over the geometry-inferred
		// variant (spec.md §3), but only within the 12/16 choice this BPB
		// layout can actually represent -- a hinted 32 here would contradict
		// the 16-bit FAT size field we just decoded, so it's ignored and the
		// geometry-clamped value above stands (the safety override).
		if hintedVariant == 12 || hintedVariant == 16 {
			br.Variant = hintedVariant
		}
		return br, nil
	}

	if err := binary.Read(reader, binary.LittleEndian, &br.fat32); err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "malformed FAT32 extended BPB: "+err.Error())
	}
	if br.raw.RootEntryCount != 0 {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "FAT32 boot record must have root_entry_count == 0")
	}
	br.Variant = 32
	return br, nil
}

func (br *BootRecord) validateCommon() error {
	switch br.raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return disko.NewDriverErrorWithMessage(
			disko.EINVAL,
			fmt.Sprintf("invalid sector size %d", br.raw.BytesPerSector),
		)
	}

	if br.raw.SectorsPerCluster == 0 || br.raw.SectorsPerCluster&(br.raw.SectorsPerCluster-1) != 0 {
		return disko.NewDriverErrorWithMessage(
			disko.EINVAL,
			fmt.Sprintf("sectors_per_cluster %d is not a positive power of two", br.raw.SectorsPerCluster),
		)
	}

	if br.raw.NumFATs != 1 && br.raw.NumFATs != 2 {
		return disko.NewDriverErrorWithMessage(
			disko.EINVAL,
			fmt.Sprintf("number_of_fats must be 1 or 2, got %d", br.raw.NumFATs),
		)
	}

	if br.raw.TotalSectors16 == 0 && br.raw.TotalSectors32 == 0 {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, "both 16- and 32-bit total sector counts are zero")
	}

	bytesPerCluster := uint(br.raw.BytesPerSector) * uint(br.raw.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return disko.NewDriverErrorWithMessage(
			disko.EINVAL,
			fmt.Sprintf("cluster size %d exceeds the 32 KiB maximum", bytesPerCluster),
		)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////
// Derived geometry (spec.md §4.3).

func (br *BootRecord) SectorSize() uint { return uint(br.raw.BytesPerSector) }

func (br *BootRecord) SectorsPerCluster() uint { return uint(br.raw.SectorsPerCluster) }

func (br *BootRecord) ClusterSize() uint { return br.SectorSize() * br.SectorsPerCluster() }

func (br *BootRecord) NumberOfFATs() uint { return uint(br.raw.NumFATs) }

func (br *BootRecord) ReservedSectorCount() uint { return uint(br.raw.ReservedSectors) }

func (br *BootRecord) NumberOfDirents() uint { return uint(br.raw.RootEntryCount) }

// FATSizeSectors returns the size in sectors of exactly one FAT copy.
func (br *BootRecord) FATSizeSectors() uint {
	if br.Variant == 32 {
		return uint(br.fat32.FATSize32)
	}
	return uint(br.raw.FATSizeSectors16)
}

func (br *BootRecord) FATSizeBytes() uint {
	return br.FATSizeSectors() * br.SectorSize()
}

// RootDirSector returns the first sector of the root directory region. For
// FAT32 this is also FirstDataSector, since the root directory is an
// ordinary cluster chain on FAT32.
func (br *BootRecord) RootDirSector() uint {
	return br.ReservedSectorCount() + br.NumberOfFATs()*br.FATSizeSectors()
}

// RootDirSizeBytes is zero for FAT32 (the root directory lives in the
// cluster heap, not a fixed region).
func (br *BootRecord) RootDirSizeBytes() uint {
	if br.Variant == 32 {
		return 0
	}
	return br.NumberOfDirents() * 32
}

func (br *BootRecord) FirstDataSector() uint {
	rootDirSectors := (br.RootDirSizeBytes() + br.SectorSize() - 1) / br.SectorSize()
	return br.RootDirSector() + rootDirSectors
}

func (br *BootRecord) TotalSectors() uint {
	if br.raw.TotalSectors16 != 0 {
		return uint(br.raw.TotalSectors16)
	}
	return uint(br.raw.TotalSectors32)
}

func (br *BootRecord) TotalDataSectors() uint {
	return br.TotalSectors() - br.FirstDataSector()
}

func (br *BootRecord) TotalClusters() uint {
	return br.TotalDataSectors() / br.SectorsPerCluster()
}

func (br *BootRecord) totalClustersFromSizes(fatSizeSectors uint) uint {
	rootDirSectors := (br.NumberOfDirents()*32 + uint(br.raw.BytesPerSector) - 1) / uint(br.raw.BytesPerSector)
	firstDataSector := br.ReservedSectorCount() + br.NumberOfFATs()*fatSizeSectors + rootDirSectors
	totalSectors := br.TotalSectors()
	if totalSectors <= firstDataSector {
		return 0
	}
	return (totalSectors - firstDataSector) / br.SectorsPerCluster()
}

// ClusterToSector converts a cluster number (>=2) to its first absolute
// sector. Cluster numbers below 2 are not data clusters.
func (br *BootRecord) ClusterToSector(cluster uint32) uint {
	return br.FirstDataSector() + (uint(cluster)-2)*br.SectorsPerCluster()
}

// RootCluster returns the FAT32 root directory's starting cluster (always 2
// for freshly formatted images, but the field is authoritative).
func (br *BootRecord) RootCluster() uint32 {
	if br.Variant == 32 {
		return br.fat32.RootCluster
	}
	return 0
}

func (br *BootRecord) FSInfoSector() uint16 {
	return br.fat32.FSInfoSector
}

func (br *BootRecord) VolumeLabel() string {
	if br.Variant == 32 {
		return trimTrailingSpaces(br.fat32.VolumeLabel[:])
	}
	return trimTrailingSpaces(br.fat1216.VolumeLabel[:])
}

func (br *BootRecord) FileSystemTypeLabel() string {
	if br.Variant == 32 {
		return trimTrailingSpaces(br.fat32.FileSystemType[:])
	}
	return trimTrailingSpaces(br.fat1216.FileSystemType[:])
}

func trimTrailingSpaces(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}
