// Package format implements the formatter (C10): synthesizing a fresh
// FAT12/16/32 filesystem -- boot record, empty FAT, empty root directory,
// and optionally a partition table entry and bootloader image -- onto a
// backing sector cache. Grounded on spec.md §4.10's six-step algorithm and
// on original_source/fat.c's variant-selection-by-cluster-count logic;
// github.com/soypat-fat's Formatter (format.go) shows the same
// BlockDevice-windowed shape for the FAT12/16/32 case this package fills in.
package format

import (
	"fmt"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/fat"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
	"github.com/goblinhack/fatdisk/internal/store"
	"github.com/goblinhack/fatdisk/mbr"
)

// Params describes one format operation. cache (passed to Format) already
// addresses the filesystem relative to its own sector 0 -- the same
// convention bootrecord/fat/dirent use everywhere else, and what
// internal/store's BaseOffset exists to set up. SectorStart here is only the
// partition's absolute LBA on the whole disk, needed for the partition table
// entry; it never shifts a sector number Format itself writes through cache.
type Params struct {
	SectorSize  uint
	SectorStart uint
	SectorCount uint

	// Variant is 12, 16, or 32; 0 autodetects from the computed cluster count
	// the way DetermineVariant does for an existing image.
	Variant int

	VolumeLabel string
	VolumeID    uint32

	// PartitionIndex selects which of the four MBR entries to write this
	// filesystem's location into; -1 skips the partition table entirely
	// (an unpartitioned, whole-disk image), in which case diskStore may be
	// nil.
	PartitionIndex int
	OSID           byte

	// ZeroSectors, when true, zeroes every sector of the partition instead of
	// just the head and tail (spec.md §4.10 step 1).
	ZeroSectors bool

	// BootloaderImage, if non-nil, is copied starting at the partition's
	// sector 0 and padded to at least 63 sectors (spec.md §4.10 step 2).
	BootloaderImage []byte
}

// Result is what a successful format produces, ready to hand to a session.
type Result struct {
	BootRecord *bootrecord.BootRecord
	FAT        *fat.Table
}

const minBootloaderSectors = 63

// Format synthesizes a filesystem within cache (filesystem-relative sector
// addressing) and returns the decoded boot record and an empty, loaded FAT
// table. diskStore, the whole-disk backing store, is only consulted when
// params.PartitionIndex >= 0, to patch the partition table at disk-absolute
// offset 0; pass nil for an unpartitioned image.
func Format(cache *sectorcache.Cache, diskStore *store.Store, params Params) (*Result, error) {
	if params.SectorSize == 0 {
		params.SectorSize = bootrecord.SectorSize512
	}
	if params.SectorCount == 0 {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "format: sector_count must be nonzero")
	}

	if err := zeroPartition(cache, params); err != nil {
		return nil, err
	}

	if len(params.BootloaderImage) > 0 {
		if err := writeBootloader(cache, params); err != nil {
			return nil, err
		}
	}

	reservedSectorCount := uint(32)
	numberOfFATs := uint(2)
	sizeBytes := uint64(params.SectorCount) * uint64(params.SectorSize)

	variant := params.Variant
	if variant == 0 {
		// Provisional guess; DetermineVariant below settles on the real one
		// once the cluster count is known.
		variant = 16
	}

	sectorsPerCluster := SectorsPerCluster(variant, sizeBytes, params.SectorSize)

	numberOfDirents := uint(512)
	rootDirSectors := uint(0)
	if variant == 32 {
		numberOfDirents = 0
	} else {
		rootDirSectors = (numberOfDirents*32 + params.SectorSize - 1) / params.SectorSize
	}

	fatSize := fatSizeSectors(variant, params.SectorCount, reservedSectorCount, numberOfFATs, rootDirSectors, sectorsPerCluster, params.SectorSize)

	firstDataSector := reservedSectorCount + numberOfFATs*fatSize + rootDirSectors
	if firstDataSector >= params.SectorCount {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "format: partition too small for the computed reserved/FAT/root-dir regions")
	}
	totalClusters := (params.SectorCount - firstDataSector) / sectorsPerCluster

	if params.Variant != 0 {
		// Caller pinned a variant explicitly: abort if it's infeasible for
		// the computed cluster count (spec.md §4.10's closing sentence).
		if err := checkVariantFits(params.Variant, totalClusters); err != nil {
			return nil, err
		}
	} else {
		variant = bootrecord.DetermineVariant(totalClusters)
		if variant != 16 {
			// Recompute geometry for the variant DetermineVariant actually
			// picked, since cluster size and dirent count both depend on it.
			sectorsPerCluster = SectorsPerCluster(variant, sizeBytes, params.SectorSize)
			if variant == 32 {
				numberOfDirents = 0
				rootDirSectors = 0
			}
			fatSize = fatSizeSectors(variant, params.SectorCount, reservedSectorCount, numberOfFATs, rootDirSectors, sectorsPerCluster, params.SectorSize)
			firstDataSector = reservedSectorCount + numberOfFATs*fatSize + rootDirSectors
			totalClusters = (params.SectorCount - firstDataSector) / sectorsPerCluster
		}
	}

	buildParams := bootrecord.BuildParams{
		OEMName:             "FATDISK ",
		SectorSize:          params.SectorSize,
		SectorsPerCluster:   sectorsPerCluster,
		ReservedSectorCount: reservedSectorCount,
		NumberOfFATs:        numberOfFATs,
		NumberOfDirents:     numberOfDirents,
		TotalSectors:        params.SectorCount,
		MediaType:           0xF8,
		SectorsPerTrack:     63,
		NumHeads:            255,
		FATSizeSectors:      fatSize,
		Variant:             variant,
		VolumeID:            params.VolumeID,
		VolumeLabel:         params.VolumeLabel,
		RootCluster:         2,
		FSInfoSector:        1,
		BackupBootSector:    6,
	}

	br, err := bootrecord.Build(buildParams)
	if err != nil {
		return nil, err
	}

	sector0, err := br.Encode()
	if err != nil {
		return nil, err
	}
	if err := cache.Write(0, sector0); err != nil {
		return nil, err
	}

	table, err := fat.Load(cache, br)
	if err != nil {
		return nil, err
	}
	if err := table.SetReservedCell(0, table.EndOfChainMarker()); err != nil {
		return nil, err
	}
	if err := table.SetReservedCell(1, table.EndOfChainMarker()); err != nil {
		return nil, err
	}
	if variant == 32 {
		if err := table.SetNext(2, table.EndOfChainMarker()); err != nil {
			return nil, err
		}
	}

	if params.PartitionIndex >= 0 {
		if diskStore == nil {
			return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "format: partition_index set but no whole-disk store was supplied")
		}
		if err := writePartitionEntry(diskStore, params, br); err != nil {
			return nil, err
		}
	}

	return &Result{BootRecord: br, FAT: table}, nil
}

func checkVariantFits(variant int, totalClusters uint) error {
	inferred := bootrecord.DetermineVariant(totalClusters)
	if inferred != variant {
		return disko.NewDriverErrorWithMessage(
			disko.EINVAL,
			fmt.Sprintf("requested FAT%d but the computed cluster count (%d) implies FAT%d", variant, totalClusters, inferred),
		)
	}
	return nil
}

func zeroPartition(cache *sectorcache.Cache, params Params) error {
	sectorSize := params.SectorSize
	zeroSector := make([]byte, sectorSize)

	if params.ZeroSectors {
		for s := uint(0); s < params.SectorCount; s++ {
			if err := cache.Write(s, zeroSector); err != nil {
				return err
			}
		}
		return nil
	}

	if err := cache.Write(0, zeroSector); err != nil {
		return err
	}
	lastSector := params.SectorCount - 1
	if lastSector != 0 {
		if err := cache.Write(lastSector, zeroSector); err != nil {
			return err
		}
	}
	return nil
}

func writeBootloader(cache *sectorcache.Cache, params Params) error {
	sectorSize := int(params.SectorSize)
	padded := make([]byte, minBootloaderSectors*sectorSize)
	copy(padded, params.BootloaderImage)
	if len(params.BootloaderImage) > len(padded) {
		padded = append(padded, params.BootloaderImage[len(padded):]...)
	}
	// Round up to a whole number of sectors.
	if rem := len(padded) % sectorSize; rem != 0 {
		padded = append(padded, make([]byte, sectorSize-rem)...)
	}
	return cache.Write(0, padded)
}

// writePartitionEntry patches the disk-absolute partition table (sector 0 of
// the whole disk, not of the filesystem) with this format's location and
// variant. It reads and rewrites only the 512-byte sector containing the
// table, preserving the other three entries and the disk's own boot code.
func writePartitionEntry(diskStore *store.Store, params Params, br *bootrecord.BootRecord) error {
	if params.PartitionIndex < 0 || params.PartitionIndex >= mbr.NumPartitions {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("partition index %d out of range [0, %d)", params.PartitionIndex, mbr.NumPartitions))
	}

	sector0, err := diskStore.Read(0, bootrecord.SectorSize512)
	if err != nil {
		return err
	}

	table, err := mbr.ReadAll(sector0)
	if err != nil {
		table = &mbr.Table{}
	}

	entry := &table.Entries[params.PartitionIndex]
	osID := params.OSID
	if osID == 0 {
		osID = osIDForVariant(br.Variant)
	}
	entry.SetOSID(osID)
	entry.SetLBA(uint32(params.SectorStart))
	entry.SetSectorsInPartition(uint32(params.SectorCount))
	entry.SetCHS(0, 0, 0, 0, 0, 0) // CHS fields are "meaningless" (spec.md §9); LBA is authoritative

	if err := table.WriteAll(sector0); err != nil {
		return err
	}
	return diskStore.Write(0, sector0)
}

func osIDForVariant(variant int) byte {
	switch variant {
	case 12:
		return mbr.OSIDFAT12
	case 16:
		return mbr.OSIDFAT16LBA
	default:
		return mbr.OSIDFAT32LBA
	}
}
