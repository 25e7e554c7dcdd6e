package format_test

import (
	"io"
	"testing"

	"github.com/xaionaro-go/bytesextra"

	"github.com/goblinhack/fatdisk/dirent"
	"github.com/goblinhack/fatdisk/format"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
	"github.com/goblinhack/fatdisk/internal/store"
	"github.com/goblinhack/fatdisk/mbr"
)

type seekerAt struct{ rws io.ReadWriteSeeker }

func (s *seekerAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rws, p)
}

func (s *seekerAt) WriteAt(p []byte, off int64) (int, error) {
	if _, err := s.rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.rws.Write(p)
}

const sectorSize = 512

// newDiskAndPartition builds a whole-disk store of diskTotalSectors sectors
// plus a sector cache scoped to the partition starting at partitionStart
// (its own sector 0), the same layering a session would set up: a whole-disk
// store.Store for the MBR, and a per-partition store.Store (nonzero
// BaseOffset) wrapped in a sector cache for everything else.
func newDiskAndPartition(t *testing.T, diskTotalSectors, partitionStart, partitionSectors uint) (*store.Store, *sectorcache.Cache) {
	t.Helper()
	totalBytes := int(diskTotalSectors) * sectorSize
	backing := &seekerAt{rws: bytesextra.NewReadWriteSeeker(make([]byte, totalBytes))}

	diskStore := store.New(backing, int64(totalBytes), 0)
	partitionBytes := int64(partitionSectors) * sectorSize
	partitionStore := store.New(backing, partitionBytes, int64(partitionStart)*sectorSize)
	partitionCache := sectorcache.New(partitionStore, sectorSize, partitionSectors)
	return diskStore, partitionCache
}

func TestFormatUnpartitionedFAT12Floppy(t *testing.T) {
	_, cache := newDiskAndPartition(t, 2880, 0, 2880) // 1.44M floppy geometry

	result, err := format.Format(cache, nil, format.Params{
		SectorSize:     sectorSize,
		SectorCount:    2880,
		Variant:        12,
		VolumeLabel:    "TESTFLOP",
		PartitionIndex: -1,
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if result.BootRecord.Variant != 12 {
		t.Fatalf("expected FAT12, got FAT%d", result.BootRecord.Variant)
	}

	free, err := result.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}
	if free == 0 {
		t.Fatalf("expected a freshly formatted volume to have free clusters")
	}

	block, err := dirent.LoadFixedRoot(cache, result.BootRecord)
	if err != nil {
		t.Fatalf("LoadFixedRoot: %v", err)
	}
	if len(block.Entries()) != 0 {
		t.Fatalf("expected an empty root directory, got %d entries", len(block.Entries()))
	}
}

func TestFormatWritesPartitionTableEntry(t *testing.T) {
	const partitionStart = 2048
	const partitionSectors = 131072 // plenty for a small FAT16 volume

	diskStore, cache := newDiskAndPartition(t, partitionStart+partitionSectors, partitionStart, partitionSectors)

	_, err := format.Format(cache, diskStore, format.Params{
		SectorSize:     sectorSize,
		SectorStart:    partitionStart,
		SectorCount:    partitionSectors,
		Variant:        16,
		VolumeLabel:    "TESTPART",
		PartitionIndex: 0,
	})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	sector0, err := diskStore.Read(0, sectorSize)
	if err != nil {
		t.Fatalf("reading sector 0: %v", err)
	}
	table, err := mbr.ReadAll(sector0)
	if err != nil {
		t.Fatalf("mbr.ReadAll: %v", err)
	}
	entry := &table.Entries[0]
	if entry.Empty() {
		t.Fatalf("expected partition entry 0 to be populated")
	}
	if entry.LBA() != partitionStart {
		t.Fatalf("expected LBA %d, got %d", partitionStart, entry.LBA())
	}
	if !mbr.IsFATOSID(entry.OSID()) {
		t.Fatalf("expected a FAT OS-ID, got 0x%02x", entry.OSID())
	}
}

func TestFormatRejectsVariantClusterCountMismatch(t *testing.T) {
	const tooManySectorsForFAT12 = 20000
	_, cache := newDiskAndPartition(t, tooManySectorsForFAT12, 0, tooManySectorsForFAT12)

	_, err := format.Format(cache, nil, format.Params{
		SectorSize:     sectorSize,
		SectorCount:    tooManySectorsForFAT12,
		Variant:        12,
		PartitionIndex: -1,
	})
	if err == nil {
		t.Fatalf("expected an error formatting a FAT12 volume this large")
	}
}
