package dirent

import (
	"fmt"
	"time"

	"github.com/boljen/go-bitmap"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/fat"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
)

// DefaultMaxChainClusters bounds how many clusters a directory's chain is
// allowed to span before Load refuses to follow it further, guarding against
// a corrupt cyclic chain turning a directory listing into an infinite loop
// (spec.md §9 "loop protection", surfaced as session.Options.MaxDirentChainClusters).
const DefaultMaxChainClusters = 1024

// Entry is one named directory member, already assembled from its
// short-name slot and any long-name fragments preceding it.
type Entry struct {
	LongName     string // empty if the entry has no valid VFAT long name
	ShortName    [8]byte
	ShortExt     [3]byte
	Attr         uint8
	FirstCluster uint32
	Size         uint32
	Created      time.Time
	Modified     time.Time
	Accessed     time.Time

	slotIndex     int // index of the short-name slot in the block's slot stream
	fragmentCount int // number of fragment slots immediately preceding it
}

func (e *Entry) IsDir() bool       { return e.Attr&AttrDirectory != 0 }
func (e *Entry) IsVolumeID() bool  { return e.Attr&AttrVolumeID != 0 }
func (e *Entry) IsReadOnly() bool  { return e.Attr&AttrReadOnly != 0 }
func (e *Entry) IsHidden() bool    { return e.Attr&AttrHidden != 0 }

// DisplayName returns the long name if one is present, otherwise the 8.3
// short name rendered as "BASE.EXT".
func (e *Entry) DisplayName() string {
	if e.LongName != "" {
		return e.LongName
	}
	return ShortNameToDisplay(e.ShortName, e.ShortExt)
}

// Block is one directory's contiguous dirent slot stream: either the FAT12/16
// fixed root region, or an ordinary cluster chain (every FAT32 directory,
// including its root, and every FAT12/16 subdirectory).
type Block struct {
	cache *sectorcache.Cache
	br    *bootrecord.BootRecord

	isFixedRoot bool
	startSector uint // fixed-root only
	chain       []uint32 // cluster chain, in order; nil for fixed root

	data []byte // the full slot stream, len == numSlots()*SlotSize
}

func (b *Block) numSlots() int { return len(b.data) / SlotSize }

func (b *Block) slot(i int) Slot { return Slot(b.data[i*SlotSize : (i+1)*SlotSize]) }

// LoadFixedRoot reads the FAT12/16 root directory region, which has a fixed
// size and never grows.
func LoadFixedRoot(cache *sectorcache.Cache, br *bootrecord.BootRecord) (*Block, error) {
	startSector := br.RootDirSector()
	sizeBytes := br.RootDirSizeBytes()
	numSectors := (sizeBytes + br.SectorSize() - 1) / br.SectorSize()

	data, err := cache.Read(startSector, numSectors)
	if err != nil {
		return nil, err
	}

	return &Block{
		cache:       cache,
		br:          br,
		isFixedRoot: true,
		startSector: startSector,
		data:        data[:sizeBytes],
	}, nil
}

// LoadChain reads a directory whose contents live in an ordinary cluster
// chain: the FAT32 root, or any subdirectory on any variant. maxChainLength
// caps how many clusters may be followed (0 uses DefaultMaxChainClusters).
func LoadChain(cache *sectorcache.Cache, br *bootrecord.BootRecord, table *fat.Table, firstCluster uint32, maxChainLength int) (*Block, error) {
	if maxChainLength <= 0 {
		maxChainLength = DefaultMaxChainClusters
	}

	chain, err := table.Chain(firstCluster)
	if err != nil {
		return nil, err
	}
	if len(chain) > maxChainLength {
		return nil, disko.NewDriverErrorWithMessage(
			disko.EUCLEAN,
			fmt.Sprintf("directory cluster chain exceeds %d clusters, refusing to follow (possible cycle)", maxChainLength),
		)
	}

	clusterSize := br.ClusterSize()
	data := make([]byte, 0, len(chain)*int(clusterSize))
	for _, cluster := range chain {
		sector := br.ClusterToSector(cluster)
		buf, err := cache.Read(sector, br.SectorsPerCluster())
		if err != nil {
			return nil, err
		}
		data = append(data, buf...)
	}

	return &Block{
		cache: cache,
		br:    br,
		chain: chain,
		data:  data,
	}, nil
}

// Entries decodes every live entry in the block, pairing VFAT fragment runs
// with the short-name slot that follows them. A fragment run with a bad
// checksum, wrong ordinal sequence, or that isn't immediately followed by a
// short-name slot is dropped silently and the short name alone is used,
// mirroring how real FAT readers degrade a corrupt long name.
func (b *Block) Entries() []Entry {
	var entries []Entry
	var pending []Fragment

	for i := 0; i < b.numSlots(); i++ {
		s := b.slot(i)

		if s.IsAbsent() {
			break
		}
		if s.IsDeleted() {
			pending = pending[:0]
			continue
		}

		if s.IsFragment() {
			pending = append(pending, DecodeFragment(s))
			continue
		}

		short := DecodeShort(s)
		name11 := [11]byte{}
		copy(name11[0:8], short.Name[:])
		copy(name11[8:11], short.Ext[:])

		entry := Entry{
			ShortName:     short.Name,
			ShortExt:      short.Ext,
			Attr:          short.Attr,
			FirstCluster:  short.FirstCluster(),
			Size:          short.FileSize,
			Created:       TimestampFromParts(short.CreateDate, short.CreateTime, short.CreateTimeTenths),
			Modified:      TimestampFromParts(short.WriteDate, short.WriteTime, 0),
			Accessed:      TimestampFromParts(short.LastAccessDate, 0, 0),
			slotIndex:     i,
			fragmentCount: len(pending),
		}

		if len(pending) > 0 {
			if name, ok := AssembleLongName(pending); ok && ChecksumShortName(name11) == pending[0].Checksum {
				entry.LongName = name
			} else {
				entry.fragmentCount = 0
			}
		}

		entries = append(entries, entry)
		pending = pending[:0]
	}

	return entries
}

// FindFree scans for a run of n contiguous slots that are each absent or
// deleted, using a bitmap over the block's slot stream (SPEC_FULL.md's
// DOMAIN STACK wiring of github.com/boljen/go-bitmap into the directory
// block, alongside its use in the sector cache). Returns the starting slot
// index and true, or false if no such run exists in the current size.
func (b *Block) FindFree(n int) (int, bool) {
	total := b.numSlots()
	free := bitmap.NewSlice(total)
	for i := 0; i < total; i++ {
		s := b.slot(i)
		free.Set(i, s.IsAbsent() || s.IsDeleted())
	}

	run := 0
	for i := 0; i < total; i++ {
		if free.Get(i) {
			run++
			if run == n {
				return i - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Grow extends a cluster-chain directory by one cluster, zeroing it and
// linking it onto the chain's tail. It is an error to call Grow on the
// FAT12/16 fixed root, which never grows (spec.md §3).
func (b *Block) Grow(table *fat.Table) error {
	if b.isFixedRoot {
		return disko.NewDriverErrorWithMessage(disko.ENOSPC, "the FAT12/16 root directory has a fixed size and cannot grow")
	}

	newCluster, err := table.Alloc()
	if err != nil {
		return err
	}
	if err := table.SetNext(newCluster, table.EndOfChainMarker()); err != nil {
		return err
	}
	if len(b.chain) > 0 {
		if err := table.SetNext(b.chain[len(b.chain)-1], newCluster); err != nil {
			return err
		}
	}
	b.chain = append(b.chain, newCluster)

	clusterSize := int(b.br.ClusterSize())
	zeroed := make([]byte, clusterSize)
	sector := b.br.ClusterToSector(newCluster)
	if err := b.cache.Write(sector, zeroed); err != nil {
		return err
	}

	b.data = append(b.data, zeroed...)
	return nil
}

// WriteBack publishes the entire in-memory slot stream through the sector
// cache.
func (b *Block) WriteBack() error {
	if b.isFixedRoot {
		return b.cache.Write(b.startSector, b.data)
	}
	offset := 0
	for _, cluster := range b.chain {
		sector := b.br.ClusterToSector(cluster)
		n := int(b.br.ClusterSize())
		if err := b.cache.Write(sector, b.data[offset:offset+n]); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// AddEntry writes a new short-name entry (preceded by VFAT fragments when
// name doesn't already fit as a bare 8.3 name) into the first free run large
// enough to hold it, growing the directory via table when necessary. It
// returns the slot index of the short-name entry, for later lookup/removal.
func (b *Block) AddEntry(table *fat.Table, name string, attr uint8, firstCluster uint32, size uint32, now time.Time) (int, error) {
	name11, fits := EncodeShortName(name)
	var fragments []Fragment
	if !fits {
		fragments = EncodeFragments(name, ChecksumShortName(name11))
	}
	needed := len(fragments) + 1

	start, ok := b.FindFree(needed)
	for !ok {
		if b.isFixedRoot {
			return 0, disko.NewDriverError(disko.ENOSPC)
		}
		if err := b.Grow(table); err != nil {
			return 0, err
		}
		start, ok = b.FindFree(needed)
	}

	for i, f := range fragments {
		f.EncodeInto(b.slot(start + i))
	}

	shortSlot := start + len(fragments)
	date, clock, tenths := EncodeTimestamp(now)
	entry := ShortEntry{
		Attr:             attr,
		CreateTimeTenths: tenths,
		CreateTime:       clock,
		CreateDate:       date,
		LastAccessDate:   date,
		WriteTime:        clock,
		WriteDate:        date,
		FileSize:         size,
	}
	copy(entry.Name[:], name11[0:8])
	copy(entry.Ext[:], name11[8:11])
	entry.SetFirstCluster(firstCluster)
	entry.EncodeInto(b.slot(shortSlot))

	return shortSlot, nil
}

// RemoveEntry marks an entry's short-name slot, and any fragments
// immediately preceding it, as deleted. slotIndex and fragmentCount come
// from an Entry previously returned by Entries.
func (b *Block) RemoveEntry(slotIndex, fragmentCount int) {
	b.slot(slotIndex).MarkDeleted()
	for i := 1; i <= fragmentCount; i++ {
		b.slot(slotIndex - i).MarkDeleted()
	}
}

// Remove is RemoveEntry taking the Entry itself, for callers (outside this
// package) that only have the Entry value Entries returned -- its slot
// bookkeeping fields are unexported but still reachable from methods
// defined in this package regardless of where the value travelled through.
func (b *Block) Remove(e Entry) {
	b.RemoveEntry(e.slotIndex, e.fragmentCount)
}

// WriteDotEntries stamps the "." and ".." entries into a freshly allocated,
// zeroed subdirectory cluster: slot 0 points at selfCluster, slot 1 at
// parentCluster. Callers must only use this immediately after creating a
// brand-new one-cluster directory, before any other entry is added.
func (b *Block) WriteDotEntries(selfCluster, parentCluster uint32, now time.Time) error {
	if b.numSlots() < 2 {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, "directory cluster too small to hold . and ..")
	}

	date, clock, tenths := EncodeTimestamp(now)
	base := ShortEntry{
		Attr:             AttrDirectory,
		CreateTimeTenths: tenths,
		CreateTime:       clock,
		CreateDate:       date,
		LastAccessDate:   date,
		WriteTime:        clock,
		WriteDate:        date,
	}

	dot := base
	dot.Name = [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dot.Ext = [3]byte{' ', ' ', ' '}
	dot.SetFirstCluster(selfCluster)
	dot.EncodeInto(b.slot(0))

	dotdot := base
	dotdot.Name = [8]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' '}
	dotdot.Ext = [3]byte{' ', ' ', ' '}
	dotdot.SetFirstCluster(parentCluster)
	dotdot.EncodeInto(b.slot(1))

	return nil
}

// Chain returns the directory's cluster chain, or nil for the fixed root.
func (b *Block) Chain() []uint32 { return append([]uint32(nil), b.chain...) }
