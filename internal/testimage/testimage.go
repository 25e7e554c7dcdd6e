// Package testimage builds small, procedurally-constructed in-memory FAT
// images for use by other packages' tests. It plays the role the teacher's
// testing/images.go played (wrapping a []byte in an io.ReadWriteSeeker via
// github.com/xaionaro-go/bytesextra) but builds its fixture from
// bootrecord.Build instead of decompressing a checked-in RLE image, since
// this module carries no compressed fixture corpus (see DESIGN.md).
package testimage

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/fat"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
	"github.com/goblinhack/fatdisk/internal/store"
)

// Params describes the minimal geometry needed to synthesize a usable test
// image; callers fill in only what their test cares about and leave the
// rest at sensible defaults via New's fallbacks.
type Params struct {
	SectorSize          uint
	SectorsPerCluster   uint
	ReservedSectorCount uint
	NumberOfFATs        uint
	NumberOfDirents     uint
	TotalSectors        uint
	Variant             int
	VolumeLabel         string
}

// Image bundles every layer a test needs: the raw backing bytes (for
// post-hoc assertions), and the store/cache/bootrecord/FAT stack built on
// top of them.
type Image struct {
	Bytes []byte

	Store  *store.Store
	Cache  *sectorcache.Cache
	Boot   *bootrecord.BootRecord
	FAT    *fat.Table
}

// seekerAt adapts an io.ReadWriteSeeker (what bytesextra.NewReadWriteSeeker
// returns) to io.ReaderAt/io.WriterAt, which internal/store requires. It's
// not safe for concurrent use, which is fine: every test here is
// single-threaded, matching spec.md §5.
type seekerAt struct {
	rws io.ReadWriteSeeker
}

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

func fillDefaults(p Params) Params {
	if p.SectorSize == 0 {
		p.SectorSize = 512
	}
	if p.SectorsPerCluster == 0 {
		p.SectorsPerCluster = 1
	}
	if p.ReservedSectorCount == 0 {
		p.ReservedSectorCount = 1
	}
	if p.NumberOfFATs == 0 {
		p.NumberOfFATs = 1
	}
	if p.Variant == 0 {
		p.Variant = 16
	}
	if p.Variant != 32 && p.NumberOfDirents == 0 {
		p.NumberOfDirents = 16
	}
	if p.TotalSectors == 0 {
		p.TotalSectors = 2048
	}
	if p.VolumeLabel == "" {
		p.VolumeLabel = "TESTDISK"
	}
	return p
}

// New builds a fresh, formatted-from-scratch image: boot sector, an empty
// FAT with the conventional reserved-cell markers, and (for FAT12/16) a
// zeroed root directory region.
func New(p Params) (*Image, error) {
	p = fillDefaults(p)

	totalBytes := int(p.TotalSectors) * int(p.SectorSize)
	imageBytes := make([]byte, totalBytes)

	stream := bytesextra.NewReadWriteSeeker(imageBytes)
	backing := &seekerAt{rws: stream}

	st := store.New(backing, int64(totalBytes), 0)
	cache := sectorcache.New(st, p.SectorSize, p.TotalSectors)

	// Work out the FAT size in sectors the way format.Format will: start
	// from a rough estimate and grow by one sector until big enough, since
	// the precise bits-per-cell * cluster-count relationship is circular.
	bitsPerCell := 16
	if p.Variant == 12 {
		bitsPerCell = 12
	} else if p.Variant == 32 {
		bitsPerCell = 32
	}

	rootDirSectors := uint(0)
	if p.Variant != 32 {
		rootDirSectors = (p.NumberOfDirents*32 + p.SectorSize - 1) / p.SectorSize
	}

	fatSizeSectors := uint(1)
	for {
		firstDataSector := p.ReservedSectorCount + p.NumberOfFATs*fatSizeSectors + rootDirSectors
		if firstDataSector >= p.TotalSectors {
			fatSizeSectors = 1
			break
		}
		totalClusters := (p.TotalSectors - firstDataSector) / p.SectorsPerCluster
		neededBytes := (uint(bitsPerCell)*totalClusters + 7) / 8
		neededSectors := (neededBytes + p.SectorSize - 1) / p.SectorSize
		if neededSectors <= fatSizeSectors {
			break
		}
		fatSizeSectors++
	}

	buildParams := bootrecord.BuildParams{
		OEMName:             "FATDISK ",
		SectorSize:          p.SectorSize,
		SectorsPerCluster:   p.SectorsPerCluster,
		ReservedSectorCount: p.ReservedSectorCount,
		NumberOfFATs:        p.NumberOfFATs,
		NumberOfDirents:     p.NumberOfDirents,
		TotalSectors:        p.TotalSectors,
		MediaType:           0xF8,
		SectorsPerTrack:     63,
		NumHeads:            255,
		FATSizeSectors:      fatSizeSectors,
		Variant:             p.Variant,
		VolumeID:            0x12345678,
		VolumeLabel:         p.VolumeLabel,
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
	if p.Variant == 32 {
		if err := table.SetNext(2, table.EndOfChainMarker()); err != nil {
			return nil, err
		}
	}

	return &Image{
		Bytes: imageBytes,
		Store: st,
		Cache: cache,
		Boot:  br,
		FAT:   table,
	}, nil
}
