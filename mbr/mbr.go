// Package mbr implements the partition table (C4): the four 16-byte MBR
// partition entries at offset 0x1BE, used both for filesystem discovery and
// during formatting.
//
// The teacher module has no MBR code of its own; this package is grounded
// directly on original_source/disk.h's part_t struct and PART_BASE constant,
// using the teacher's binary.Read-based decode idiom (drivers/fat/common.go)
// for how the bytes get turned into a Go struct.
package mbr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	disko "github.com/goblinhack/fatdisk"
)

// PartitionTableOffset is the byte offset of the four partition entries
// within sector 0, per original_source/disk.h's PART_BASE.
const PartitionTableOffset = 0x1BE

const NumPartitions = 4

const entrySize = 16

// OS-ID values for the FAT family. Extended partitions (0x05, 0x0F) and every
// non-FAT OS-ID are out of scope (spec.md Non-goals).
const (
	OSIDFAT12        = 0x01
	OSIDFAT16Small   = 0x04
	OSIDExtendedCHS  = 0x05
	OSIDFAT16        = 0x06
	OSIDFAT32CHS     = 0x0B
	OSIDFAT32LBA     = 0x0C
	OSIDFAT16LBA     = 0x0E
	OSIDExtendedLBA  = 0x0F
)

// IsFATOSID reports whether osID names one of the FAT12/16/32 variants this
// engine understands.
func IsFATOSID(osID byte) bool {
	switch osID {
	case OSIDFAT12, OSIDFAT16Small, OSIDFAT16, OSIDFAT32CHS, OSIDFAT32LBA, OSIDFAT16LBA:
		return true
	default:
		return false
	}
}

// VariantForOSID returns the FAT variant (12/16/32) implied by osID, or 0 if
// osID doesn't name a FAT partition type.
func VariantForOSID(osID byte) int {
	switch osID {
	case OSIDFAT12:
		return 12
	case OSIDFAT16Small, OSIDFAT16, OSIDFAT16LBA:
		return 16
	case OSIDFAT32CHS, OSIDFAT32LBA:
		return 32
	default:
		return 0
	}
}

// rawEntry is the packed, little-endian, 16-byte on-disk layout.
type rawEntry struct {
	Bootable           uint8
	StartHead          uint8
	StartSector        uint8
	StartCylinder      uint8
	OSID               uint8
	EndHead            uint8
	EndSector          uint8
	EndCylinder        uint8
	LBA                uint32
	SectorsInPartition uint32
}

// Entry is one of the four MBR partition entries.
type Entry struct {
	raw rawEntry
}

// Empty reports whether the entry is all zero bytes, meaning "absent" per
// spec.md §3.
func (e *Entry) Empty() bool {
	return e.raw == rawEntry{}
}

// Bootable reports whether the 0x80 active flag is set.
func (e *Entry) Bootable() bool { return e.raw.Bootable == 0x80 }

func (e *Entry) SetBootable(b bool) {
	if b {
		e.raw.Bootable = 0x80
	} else {
		e.raw.Bootable = 0x00
	}
}

func (e *Entry) OSID() byte    { return e.raw.OSID }
func (e *Entry) SetOSID(id byte) { e.raw.OSID = id }

// LBA is the number of sectors from the start of the disk to the start of
// the partition; this is also the filesystem's base offset in sectors.
func (e *Entry) LBA() uint32 { return e.raw.LBA }
func (e *Entry) SetLBA(lba uint32) { e.raw.LBA = lba }

func (e *Entry) SectorsInPartition() uint32 { return e.raw.SectorsInPartition }
func (e *Entry) SetSectorsInPartition(n uint32) { e.raw.SectorsInPartition = n }

// SetCHS stores the "meaningless" (spec.md §9) CHS geometry fields. They're
// preserved for format-fidelity and never consulted by the engine on reads.
func (e *Entry) SetCHS(startHead, startSector, startCylinder, endHead, endSector, endCylinder uint8) {
	e.raw.StartHead = startHead
	e.raw.StartSector = startSector
	e.raw.StartCylinder = startCylinder
	e.raw.EndHead = endHead
	e.raw.EndSector = endSector
	e.raw.EndCylinder = endCylinder
}

// Table holds the four partition entries found at PartitionTableOffset.
type Table struct {
	Entries [NumPartitions]Entry
}

// ReadAll decodes the four partition entries from the 512-byte sector 0
// image. sector must be at least PartitionTableOffset+64 bytes.
func ReadAll(sector []byte) (*Table, error) {
	if len(sector) < PartitionTableOffset+NumPartitions*entrySize {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "sector too short to contain a partition table")
	}

	table := &Table{}
	region := bytes.NewReader(sector[PartitionTableOffset:])
	for i := 0; i < NumPartitions; i++ {
		if err := binary.Read(region, binary.LittleEndian, &table.Entries[i].raw); err != nil {
			return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("decoding partition entry %d: %s", i, err))
		}
	}
	return table, nil
}

// WriteAll encodes the four partition entries into sector, overwriting bytes
// [PartitionTableOffset, PartitionTableOffset+64). The caller is responsible
// for writing this out to disk *after* the boot sector, since a boot-sector
// write zeroes the partition region (spec.md §4.4).
func (t *Table) WriteAll(sector []byte) error {
	if len(sector) < PartitionTableOffset+NumPartitions*entrySize {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, "sector too short to contain a partition table")
	}

	var buf bytes.Buffer
	for i := range t.Entries {
		if err := binary.Write(&buf, binary.LittleEndian, &t.Entries[i].raw); err != nil {
			return disko.NewDriverErrorWithMessage(disko.EIO, fmt.Sprintf("encoding partition entry %d: %s", i, err))
		}
	}
	copy(sector[PartitionTableOffset:], buf.Bytes())
	return nil
}

// FirstFATPartition returns the index and entry of the first nonempty entry
// whose OS-ID names a FAT variant, used during discovery (spec.md §6).
func (t *Table) FirstFATPartition() (int, *Entry, bool) {
	for i := range t.Entries {
		e := &t.Entries[i]
		if !e.Empty() && IsFATOSID(e.OSID()) {
			return i, e, true
		}
	}
	return -1, nil, false
}

// Summary writes a human-readable table of the four entries, in the style of
// original_source/disk.c's partition_table_print.
func (t *Table) Summary(w io.Writer) {
	fmt.Fprintln(w, "# boot head  sec  cyl os_id head  sec  cyl        lba       sectors")
	for i, e := range t.Entries {
		if e.Empty() {
			fmt.Fprintf(w, "%d  -    -     -    -    -     -     -    -  (empty)\n", i)
			continue
		}
		boot := " "
		if e.Bootable() {
			boot = "*"
		}
		fmt.Fprintf(
			w, "%d  %s  0x%02x  %3d  %3d 0x%02x  0x%02x  %3d  %3d  %10d  %10d\n",
			i, boot,
			e.raw.StartHead, e.raw.StartSector, e.raw.StartCylinder,
			e.OSID(),
			e.raw.EndHead, e.raw.EndSector, e.raw.EndCylinder,
			e.LBA(), e.SectorsInPartition(),
		)
	}
}
