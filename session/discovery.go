package session

import (
	"bytes"
	"fmt"
	"log/slog"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/internal/store"
	"github.com/goblinhack/fatdisk/mbr"
)

func errInvalidPartitionIndex(i int) error {
	return disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("partition index %d out of range [0, %d)", i, mbr.NumPartitions))
}

func errNoFilesystemFound() error {
	return disko.NewDriverErrorWithMessage(disko.EINVAL, "no FAT filesystem found: no partition table entry or offset 0 decoded and hunt mode found nothing")
}

// huntStep and huntLimit are spec.md §6's discovery parameters: scan from
// offset 0 in 256-byte steps up to 16 MiB.
const (
	huntStep  = 256
	huntLimit = 16 * 1024 * 1024
)

// resolveBaseOffset implements spec.md §6's discovery algorithm: an explicit
// offset or partition index wins outright; otherwise the four MBR entries
// are probed in order, then offset 0 itself (an unpartitioned image), and
// failing that, a hunt scan runs if enabled. The returned hintedVariant is
// the OS-ID-derived FAT variant (C4) when the filesystem was located via a
// partition table entry, or 0 when it wasn't (explicit offset, offset 0, or
// found by hunting) -- bootrecord.Decode treats it as
// authoritative over its own geometry-inferred guess (spec.md §3).
func resolveBaseOffset(diskStore *store.Store, baseOffset int64, partitionIndex int, opts Options, logger *slog.Logger) (offset int64, resolvedIndex int, hintedVariant int, err error) {
	if baseOffset != NoBaseOffset {
		return baseOffset, partitionIndex, 0, nil
	}

	sector0, err := diskStore.Read(0, bootrecord.SectorSize512)
	if err != nil {
		return 0, NoPartitionIndex, 0, err
	}

	if partitionIndex != NoPartitionIndex {
		table, err := mbr.ReadAll(sector0)
		if err != nil {
			return 0, NoPartitionIndex, 0, err
		}
		if partitionIndex < 0 || partitionIndex >= mbr.NumPartitions {
			return 0, NoPartitionIndex, 0, errInvalidPartitionIndex(partitionIndex)
		}
		entry := &table.Entries[partitionIndex]
		return int64(entry.LBA()) * bootrecord.SectorSize512, partitionIndex, mbr.VariantForOSID(entry.OSID()), nil
	}

	table, err := mbr.ReadAll(sector0)
	if err == nil {
		for i := range table.Entries {
			entry := &table.Entries[i]
			if entry.Empty() || !mbr.IsFATOSID(entry.OSID()) {
				continue
			}
			variant := mbr.VariantForOSID(entry.OSID())
			partitionOffset := int64(entry.LBA()) * bootrecord.SectorSize512
			if probeBootSector(diskStore, partitionOffset, variant) {
				logger.Debug("discovered filesystem via partition table", "partition", i, "offset", partitionOffset)
				return partitionOffset, i, variant, nil
			}
		}
	}

	// An unpartitioned image carries its boot record at offset 0 itself.
	if probeBootSector(diskStore, 0, 0) {
		logger.Debug("discovered filesystem at offset 0 (no partition table)")
		return 0, NoPartitionIndex, 0, nil
	}

	if opts.HuntForBootSector {
		if huntOffset, ok := hunt(diskStore, logger); ok {
			return huntOffset, NoPartitionIndex, 0, nil
		}
	}

	return 0, NoPartitionIndex, 0, errNoFilesystemFound()
}

// probeBootSector reports whether a plausible boot record decodes at offset.
func probeBootSector(diskStore *store.Store, offset int64, hintedVariant int) bool {
	sector, err := diskStore.Read(offset, bootrecord.SectorSize512)
	if err != nil {
		return false
	}
	_, err = bootrecord.Decode(bytes.NewReader(sector), hintedVariant)
	return err == nil
}

// hunt scans from offset 0 in huntStep increments up to huntLimit for a
// plausible boot sector, the fallback when the partition table yields
// nothing (spec.md §6). There is no partition entry here, so no OS-ID hint
// is available.
func hunt(diskStore *store.Store, logger *slog.Logger) (int64, bool) {
	limit := diskStore.TotalSize()
	if limit > huntLimit {
		limit = huntLimit
	}
	for offset := int64(0); offset+bootrecord.SectorSize512 <= limit; offset += huntStep {
		if probeBootSector(diskStore, offset, 0) {
			logger.Debug("discovered filesystem by hunting", "offset", offset)
			return offset, true
		}
	}
	return 0, false
}
