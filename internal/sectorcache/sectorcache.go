// Package sectorcache implements the sector cache (C2): an in-memory mapping
// of absolute sector number to sector bytes, write-through on dirty sectors,
// bulk-invalidated on close. It sits directly on top of internal/store (C1).
package sectorcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/internal/store"
)

// Cache is a key-value container keyed by absolute sector index. It never
// grows past the sector count it was created with; internal/store is the
// only layer that knows how to resize the underlying image (format does
// that before a Cache is constructed over it).
type Cache struct {
	backing      *store.Store
	sectorSize   uint
	totalSectors uint

	loaded bitmap.Bitmap
	dirty  bitmap.Bitmap
	data   []byte
}

// New creates a sector cache over `backing`, with `totalSectors` sectors of
// `sectorSize` bytes each. No sectors are loaded until first touched.
func New(backing *store.Store, sectorSize uint, totalSectors uint) *Cache {
	return &Cache{
		backing:      backing,
		sectorSize:   sectorSize,
		totalSectors: totalSectors,
		loaded:       bitmap.NewSlice(int(totalSectors)),
		dirty:        bitmap.NewSlice(int(totalSectors)),
		data:         make([]byte, uint64(sectorSize)*uint64(totalSectors)),
	}
}

func (c *Cache) checkBounds(sector uint, count uint) error {
	if sector+count > c.totalSectors {
		return disko.NewDriverErrorWithMessage(
			disko.EIO,
			fmt.Sprintf(
				"sector range [%d, %d) out of bounds [0, %d)",
				sector, sector+count, c.totalSectors,
			),
		)
	}
	return nil
}

func (c *Cache) slice(sector uint, count uint) []byte {
	start := uint64(sector) * uint64(c.sectorSize)
	end := start + uint64(count)*uint64(c.sectorSize)
	return c.data[start:end]
}

func (c *Cache) loadSector(sector uint) error {
	if c.loaded.Get(int(sector)) {
		return nil
	}

	buf, err := c.backing.Read(int64(sector)*int64(c.sectorSize), int(c.sectorSize))
	if err != nil {
		return err
	}
	copy(c.slice(sector, 1), buf)
	c.loaded.Set(int(sector), true)
	c.dirty.Set(int(sector), false)
	return nil
}

// Read returns a fresh buffer of count*sectorSize bytes starting at sector.
// Each requested sector is served from the cache when present, otherwise
// fetched from the backing store and inserted.
func (c *Cache) Read(sector uint, count uint) ([]byte, error) {
	if err := c.checkBounds(sector, count); err != nil {
		return nil, err
	}

	for i := uint(0); i < count; i++ {
		if err := c.loadSector(sector + i); err != nil {
			return nil, err
		}
	}

	out := make([]byte, count*c.sectorSize)
	copy(out, c.slice(sector, count))
	return out, nil
}

// Write compares each sector in [sector, sector+count) against its cached
// image and forwards only the sectors that actually differ to the backing
// store; unloaded sectors are inserted and forwarded unconditionally.
func (c *Cache) Write(sector uint, data []byte) error {
	count := uint(len(data)) / c.sectorSize
	if uint(len(data))%c.sectorSize != 0 {
		return fmt.Errorf("write of %d bytes is not a multiple of the sector size (%d)", len(data), c.sectorSize)
	}
	if err := c.checkBounds(sector, count); err != nil {
		return err
	}

	for i := uint(0); i < count; i++ {
		sectorIdx := sector + i
		newSectorData := data[i*c.sectorSize : (i+1)*c.sectorSize]

		if !c.loaded.Get(int(sectorIdx)) {
			// Never seen this sector: take it on faith and forward it.
			copy(c.slice(sectorIdx, 1), newSectorData)
			c.loaded.Set(int(sectorIdx), true)
			c.dirty.Set(int(sectorIdx), true)
			if err := c.backing.Write(int64(sectorIdx)*int64(c.sectorSize), newSectorData); err != nil {
				return err
			}
			c.dirty.Set(int(sectorIdx), false)
			continue
		}

		existing := c.slice(sectorIdx, 1)
		if bytesEqual(existing, newSectorData) {
			continue
		}

		copy(existing, newSectorData)
		if err := c.backing.Write(int64(sectorIdx)*int64(c.sectorSize), newSectorData); err != nil {
			c.dirty.Set(int(sectorIdx), true)
			return err
		}
		c.dirty.Set(int(sectorIdx), false)
	}
	return nil
}

// WriteUncached bypasses the cache entirely: used for bulk file-body writes
// where re-reading the old content first would be wasted work.
func (c *Cache) WriteUncached(sector uint, data []byte) error {
	count := uint(len(data)) / c.sectorSize
	if uint(len(data))%c.sectorSize != 0 {
		return fmt.Errorf("write of %d bytes is not a multiple of the sector size (%d)", len(data), c.sectorSize)
	}
	if err := c.checkBounds(sector, count); err != nil {
		return err
	}
	if err := c.backing.Write(int64(sector)*int64(c.sectorSize), data); err != nil {
		return err
	}

	// If any of these sectors happened to be cached, keep the cache coherent
	// rather than leaving it stale.
	for i := uint(0); i < count; i++ {
		sectorIdx := sector + i
		if c.loaded.Get(int(sectorIdx)) {
			copy(c.slice(sectorIdx, 1), data[i*c.sectorSize:(i+1)*c.sectorSize])
			c.dirty.Set(int(sectorIdx), false)
		}
	}
	return nil
}

// Destroy frees all buffers. Idempotent.
func (c *Cache) Destroy() {
	c.data = nil
	c.loaded = bitmap.NewSlice(int(c.totalSectors))
	c.dirty = bitmap.NewSlice(int(c.totalSectors))
}

// IsEmpty reports whether Destroy has released the cache's buffers
// (invariant I-4: cache empty after close). A live cache reports false even
// before any sector has been loaded.
func (c *Cache) IsEmpty() bool {
	return c.data == nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
