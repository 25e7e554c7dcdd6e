// Package fat implements the FAT table (C5): an in-memory copy of the
// primary FAT supporting next/set_next/alloc/count_free and end-of-chain
// tests, writing back only the sectors that actually changed.
//
// Cell packing and the allocation scan are grounded on original_source/fat.c
// (cluster_next, cluster_next_set, cluster_alloc) -- the one place the
// source language's bit-fiddling must be reproduced exactly, per
// SPEC_FULL.md -- re-expressed in the shape of soypat-fat's
// clusterstat/put_clusterstat functions instead of raw pointer arithmetic.
package fat

import (
	"fmt"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
)

// EndOfChain sentinels. The FAT32 value is the deliberate, non-standard
// 0x0FF8FFF8 widening documented in spec.md §9 as an open question to be
// preserved exactly, not "fixed" to the more common 0x0FFFFFF8.
const (
	EOC12 = uint32(0x0FFF)
	EOC16 = uint32(0xFFFF)
	EOC32 = uint32(0x0FF8FFF8)
)

// eocThreshold12/16/32 are the read-side "is this an end-of-chain cell"
// cutoffs from spec.md §3.
const (
	eocThreshold12 = uint32(0xFF0)
	eocThreshold16 = uint32(0xFFF0)
	eocThreshold32 = uint32(0x0FF8FFF8)
)

// Table is the in-memory primary FAT.
type Table struct {
	cache      *sectorcache.Cache
	br         *bootrecord.BootRecord
	variant    int
	startSector uint
	sizeBytes  uint
	sectorSize uint
	totalClusters uint32

	data          []byte
	lastAllocated uint32
}

// Load reads the primary FAT into memory from the sector cache.
func Load(cache *sectorcache.Cache, br *bootrecord.BootRecord) (*Table, error) {
	t := &Table{
		cache:         cache,
		br:            br,
		variant:       br.Variant,
		startSector:   br.ReservedSectorCount(),
		sizeBytes:     br.FATSizeBytes(),
		sectorSize:    br.SectorSize(),
		totalClusters: uint32(br.TotalClusters()),
		lastAllocated: 2,
	}

	numSectors := t.sizeBytes / t.sectorSize
	data, err := cache.Read(t.startSector, numSectors)
	if err != nil {
		return nil, err
	}
	t.data = data
	return t, nil
}

// minCluster/maxClusterExclusive bound the range of valid data-cluster IDs:
// [2, totalClusters+2).
func (t *Table) minCluster() uint32 { return 2 }
func (t *Table) maxClusterExclusive() uint32 { return t.totalClusters + 2 }

// IsValidCluster reports whether cluster names an in-range data cluster
// (neither reserved, free, nor an end-of-chain marker).
func (t *Table) IsValidCluster(cluster uint32) bool {
	return cluster >= t.minCluster() && cluster < t.maxClusterExclusive()
}

// IsEndOfChain reports whether value is one of the variant's end-of-chain
// sentinels (spec.md §3: "any cluster number in the variant-specific
// reserved high range").
func (t *Table) IsEndOfChain(value uint32) bool {
	switch t.variant {
	case 12:
		return value >= eocThreshold12
	case 16:
		return value >= eocThreshold16
	default:
		return value >= eocThreshold32
	}
}

// EndOfChainMarker returns the sentinel value this table writes when marking
// a cluster as the end of a chain.
func (t *Table) EndOfChainMarker() uint32 {
	switch t.variant {
	case 12:
		return EOC12
	case 16:
		return EOC16
	default:
		return EOC32
	}
}

func (t *Table) cellByteOffset(cluster uint32) (offset uint, width uint) {
	switch t.variant {
	case 12:
		return (uint(cluster) + uint(cluster)/2) % t.sizeBytes, 2
	case 16:
		return (uint(cluster) * 2) % t.sizeBytes, 2
	default:
		return (uint(cluster) * 4) % t.sizeBytes, 4
	}
}

// Next returns the FAT cell value for cluster: the number of the next
// cluster in the chain, 0 if free, or an end-of-chain sentinel.
func (t *Table) Next(cluster uint32) (uint32, error) {
	if cluster < t.minCluster() {
		return 0, disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("cluster %d is reserved, not a data cluster", cluster))
	}

	offset, _ := t.cellByteOffset(cluster)

	switch t.variant {
	case 12:
		cell := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8
		if cluster&1 != 0 {
			return cell >> 4, nil
		}
		return cell & 0x0FFF, nil
	case 16:
		return uint32(t.data[offset]) | uint32(t.data[offset+1])<<8, nil
	default:
		v := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8 |
			uint32(t.data[offset+2])<<16 | uint32(t.data[offset+3])<<24
		return v & 0x0FFFFFFF, nil
	}
}

// SetNext writes value into cluster's FAT cell, preserving the neighbouring
// cell's bits for FAT12 (spec.md Invariant F-1), and publishes exactly the
// sectors whose bytes changed through the sector cache.
func (t *Table) SetNext(cluster uint32, value uint32) error {
	if cluster < t.minCluster() {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("cluster %d is reserved, not a data cluster", cluster))
	}

	offset, width := t.cellByteOffset(cluster)

	switch t.variant {
	case 12:
		old := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8
		var newCell uint32
		if cluster&1 != 0 {
			newCell = (old & 0x000F) | ((value & 0x0FFF) << 4)
		} else {
			newCell = (old & 0xF000) | (value & 0x0FFF)
		}
		t.data[offset] = byte(newCell)
		t.data[offset+1] = byte(newCell >> 8)
	case 16:
		t.data[offset] = byte(value)
		t.data[offset+1] = byte(value >> 8)
	default:
		old := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8 |
			uint32(t.data[offset+2])<<16 | uint32(t.data[offset+3])<<24
		newCell := (old & 0xF0000000) | (value & 0x0FFFFFFF)
		t.data[offset] = byte(newCell)
		t.data[offset+1] = byte(newCell >> 8)
		t.data[offset+2] = byte(newCell >> 16)
		t.data[offset+3] = byte(newCell >> 24)
	}

	return t.flushByteRange(offset, width)
}

// flushByteRange writes back only the sectors covering [offset, offset+width),
// exactly mirroring original_source/fat.c's cluster_next_set sector-range
// computation, except here the sector cache also double-checks for a no-op
// write (C2's write-through-on-dirty policy).
func (t *Table) flushByteRange(offset, width uint) error {
	firstSector := offset / t.sectorSize
	lastSector := (offset + width - 1) / t.sectorSize
	count := lastSector - firstSector + 1

	sectorStart := firstSector * t.sectorSize
	sectorEnd := (lastSector + 1) * t.sectorSize
	chunk := t.data[sectorStart:sectorEnd]

	return t.cache.Write(t.startSector+firstSector, chunk)
}

// Flush republishes the entire in-memory FAT through the sector cache. The
// cache's own dirty comparison means this is a no-op for sectors SetNext
// already wrote; it exists as a safety net at session close (spec.md §5's
// durability ordering step 3).
func (t *Table) Flush() error {
	return t.cache.Write(t.startSector, t.data)
}

// Alloc finds a free cluster without marking it used. Per spec.md §4.5, this
// is a two-phase claim: the caller must SetNext(c, EndOfChainMarker()) to
// claim it, then link any predecessor.
//
// The scan is sequential, resuming from the last cluster returned, and -- per
// the REDESIGN FLAGS note replacing original_source/fat.c's `goto redo` --
// performs at most one full scan of cluster space, split into two explicit
// bounded passes instead of a backward jump.
func (t *Table) Alloc() (uint32, error) {
	low := t.minCluster()
	high := t.maxClusterExclusive()

	start := t.lastAllocated
	if start < low || start >= high {
		start = low
	}

	if c, err := t.scanRange(start, high); err != nil {
		return 0, err
	} else if c != 0 {
		t.lastAllocated = c
		return c, nil
	}

	if start > low {
		if c, err := t.scanRange(low, start); err != nil {
			return 0, err
		} else if c != 0 {
			t.lastAllocated = c
			return c, nil
		}
	}

	return 0, disko.NewDriverError(disko.ENOSPC)
}

func (t *Table) scanRange(from, to uint32) (uint32, error) {
	root := t.br.RootCluster()
	for c := from; c < to; c++ {
		if t.variant == 32 && root != 0 && c == root {
			continue
		}
		v, err := t.Next(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return c, nil
		}
	}
	return 0, nil
}

// CountFree mirrors Alloc's scan without mutating anything.
func (t *Table) CountFree() (uint64, error) {
	root := t.br.RootCluster()
	var free uint64
	for c := t.minCluster(); c < t.maxClusterExclusive(); c++ {
		if t.variant == 32 && root != 0 && c == root {
			continue
		}
		v, err := t.Next(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			free++
		}
	}
	return free, nil
}

// Chain returns every cluster in the chain starting at head, in order. It
// stops at the first end-of-chain marker; encountering an invalid
// (non-EOC, non-data) cluster mid-chain is reported as corrupt metadata
// (spec.md Error kind 3), with the partial chain returned alongside the
// error so callers can still act on what was read so far (scenario 6:
// "remove truncates the chain at the first bad cell").
func (t *Table) Chain(head uint32) ([]uint32, error) {
	if head == 0 {
		return nil, disko.NewDriverErrorWithMessage(disko.EUCLEAN, "cluster chain head is 0 (free), corrupt metadata")
	}
	if !t.IsValidCluster(head) {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("invalid cluster %d cannot start a chain", head))
	}

	chain := []uint32{}
	current := head
	for !t.IsEndOfChain(current) {
		chain = append(chain, current)

		next, err := t.Next(current)
		if err != nil {
			return chain, err
		}

		if next == 0 {
			return chain, disko.NewDriverErrorWithMessage(
				disko.EUCLEAN,
				fmt.Sprintf("cluster %d followed by free cluster 0, corrupt metadata", current),
			)
		}
		if !t.IsValidCluster(next) && !t.IsEndOfChain(next) {
			return chain, disko.NewDriverErrorWithMessage(
				disko.EUCLEAN,
				fmt.Sprintf("cluster %d followed by out-of-range cluster %d, corrupt metadata", current, next),
			)
		}

		current = next
	}

	return chain, nil
}

// FreeChain marks every cluster in chain as free (FAT cell 0), refusing to
// free the FAT32 root cluster (spec.md §3: "never marked free even during
// deletions rooted there").
func (t *Table) FreeChain(chain []uint32) error {
	root := t.br.RootCluster()
	for _, c := range chain {
		if t.variant == 32 && root != 0 && c == root {
			continue
		}
		if err := t.SetNext(c, 0); err != nil {
			return err
		}
	}
	return nil
}

// SetReservedCell writes value into one of the two reserved FAT cells
// (index 0 or 1), used only by the formatter (C10) to stamp the
// conventional end-of-chain markers those cells carry on a freshly
// formatted volume. Every other caller goes through SetNext, which refuses
// cluster numbers below 2.
func (t *Table) SetReservedCell(index uint32, value uint32) error {
	if index > 1 {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("%d is not a reserved FAT cell index", index))
	}

	offset, width := t.cellByteOffset(index)
	switch t.variant {
	case 12:
		old := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8
		var newCell uint32
		if index&1 != 0 {
			newCell = (old & 0x000F) | ((value & 0x0FFF) << 4)
		} else {
			newCell = (old & 0xF000) | (value & 0x0FFF)
		}
		t.data[offset] = byte(newCell)
		t.data[offset+1] = byte(newCell >> 8)
	case 16:
		t.data[offset] = byte(value)
		t.data[offset+1] = byte(value >> 8)
	default:
		old := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8 |
			uint32(t.data[offset+2])<<16 | uint32(t.data[offset+3])<<24
		newCell := (old & 0xF0000000) | (value & 0x0FFFFFFF)
		t.data[offset] = byte(newCell)
		t.data[offset+1] = byte(newCell >> 8)
		t.data[offset+2] = byte(newCell >> 16)
		t.data[offset+3] = byte(newCell >> 24)
	}

	return t.flushByteRange(offset, width)
}

// TotalClusters returns the number of data clusters on the volume.
func (t *Table) TotalClusters() uint32 { return t.totalClusters }

// Variant returns 12, 16, or 32.
func (t *Table) Variant() int { return t.variant }
