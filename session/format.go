package session

import (
	"fmt"
	"log/slog"
	"os"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/format"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
	"github.com/goblinhack/fatdisk/internal/store"
	"github.com/goblinhack/fatdisk/walk"
)

// FormatParams is spec.md §6's format parameter bundle: "{size_bytes,
// partition_index, base_offset, volume_name, sector_start, sector_end,
// os_id, zero_sectors_flag, bootloader_bytes | none}".
type FormatParams struct {
	SizeBytes int64

	// PartitionIndex selects which of the four MBR entries records this
	// filesystem's location; -1 skips the partition table (an unpartitioned
	// image).
	PartitionIndex int
	SectorSize     uint

	VolumeName string
	VolumeID   uint32

	// SectorStart/SectorEnd bound the filesystem's own region on the backing
	// file; SectorEnd == 0 means "use every sector up to SizeBytes".
	SectorStart uint
	SectorEnd   uint

	OSID byte

	ZeroSectors bool

	// BootloaderBytes, if non-nil, is embedded per spec.md §4.10 step 2.
	BootloaderBytes []byte

	// Variant pins FAT12/16/32; 0 autodetects from the computed geometry.
	Variant int
}

// Format creates (or truncates) the file at path, synthesizes a fresh
// filesystem per params, and returns a Session ready to use -- spec.md §6's
// `format(path, params) → session | error`.
func Format(path string, params FormatParams, opts Options) (*Session, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Verbosity}))

	if params.SizeBytes <= 0 {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "format: size_bytes must be positive")
	}
	sectorSize := params.SectorSize
	if sectorSize == 0 {
		sectorSize = bootrecord.SectorSize512
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, fmt.Sprintf("format: open %s: %v", path, err))
	}

	existingSize := int64(0)
	if info, statErr := file.Stat(); statErr == nil {
		existingSize = info.Size()
	}

	diskStore := store.New(file, existingSize, 0)
	if err := diskStore.Resize(params.SizeBytes); err != nil {
		file.Close()
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, err.Error())
	}

	sectorStart := params.SectorStart
	sectorEnd := params.SectorEnd
	if sectorEnd == 0 {
		sectorEnd = uint(params.SizeBytes) / sectorSize
	}
	if sectorEnd <= sectorStart {
		file.Close()
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "format: sector_end must be past sector_start")
	}
	sectorCount := sectorEnd - sectorStart

	partitionBytes := int64(sectorCount) * int64(sectorSize)
	partitionStore := store.New(file, partitionBytes, int64(sectorStart)*int64(sectorSize))
	cache := sectorcache.New(partitionStore, sectorSize, sectorCount)

	var diskStoreForMBR *store.Store
	if params.PartitionIndex >= 0 {
		diskStoreForMBR = diskStore
	}

	result, err := format.Format(cache, diskStoreForMBR, format.Params{
		SectorSize:      sectorSize,
		SectorStart:     sectorStart,
		SectorCount:     sectorCount,
		Variant:         params.Variant,
		VolumeLabel:     params.VolumeName,
		VolumeID:        params.VolumeID,
		PartitionIndex:  params.PartitionIndex,
		OSID:            params.OSID,
		ZeroSectors:     params.ZeroSectors,
		BootloaderImage: params.BootloaderBytes,
	})
	if err != nil {
		file.Close()
		return nil, err
	}

	walker := walk.New(cache, result.BootRecord, result.FAT, logger, opts.maxChainClusters())

	return &Session{
		file:           file,
		diskStore:      diskStore,
		cache:          cache,
		boot:           result.BootRecord,
		table:          result.FAT,
		walker:         walker,
		baseOffset:     int64(sectorStart) * int64(sectorSize),
		partitionIndex: params.PartitionIndex,
		logger:         logger,
		opts:           opts,
	}, nil
}
