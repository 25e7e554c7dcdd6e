// Package session implements the glue layer the CLI collaborator drives: it
// opens a backing file, discovers or pins a filesystem's base offset, and
// exposes the list/find/hexdump/cat/extract/remove/add/format operations as
// methods on a single Session. Grounded on the teacher's former driver/driver.go
// (the one place everything else -- store, cache, boot record, FAT -- used to
// get wired together) and on original_source/main.c's open-probe-act-close
// shape.
package session

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/fat"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
	"github.com/goblinhack/fatdisk/internal/store"
	"github.com/goblinhack/fatdisk/walk"
)

// DefaultMaxDirentChainClusters bounds how many clusters a directory's
// dirent chain may span before the walker refuses to keep following it
// (spec.md §4.6's loop-protection cap).
const DefaultMaxDirentChainClusters = 1024

// NoBaseOffset and NoPartitionIndex are the "let discovery decide" sentinels
// for Open's base_offset/partition_index parameters.
const (
	NoBaseOffset     = -1
	NoPartitionIndex = -1
)

// Options configures a session (spec.md's REDESIGN FLAGS note: global mutable
// option booleans become fields here instead).
type Options struct {
	// HuntForBootSector enables the 256-byte-step scan (spec.md §6) when the
	// partition table yields no usable FAT filesystem.
	HuntForBootSector bool

	// MaxDirentChainClusters caps directory chain length; <= 0 uses
	// DefaultMaxDirentChainClusters.
	MaxDirentChainClusters int

	// Verbosity sets the session logger's level; the CLI's -v/-vv flags map
	// onto this.
	Verbosity slog.Level
}

func (o Options) maxChainClusters() int {
	if o.MaxDirentChainClusters <= 0 {
		return DefaultMaxDirentChainClusters
	}
	return o.MaxDirentChainClusters
}

// Session owns every handle a live filesystem needs: the open backing file,
// the whole-disk store (for the partition table), the partition-scoped
// sector cache, the decoded boot record, the loaded FAT, and a walker built
// on top of them.
type Session struct {
	file *os.File

	diskStore *store.Store
	cache     *sectorcache.Cache
	boot      *bootrecord.BootRecord
	table     *fat.Table
	walker    *walk.Walker

	baseOffset     int64
	partitionIndex int

	logger   *slog.Logger
	opts     Options
	poisoned error // non-nil once a Host I/O or invalid-image error has hit this session
	closed   bool
}

// Open opens path read-write, discovers (or pins) the filesystem's base
// offset, decodes its boot record, and loads its FAT. baseOffset and
// partitionIndex may be NoBaseOffset/NoPartitionIndex to let discovery pick.
func Open(path string, baseOffset int64, partitionIndex int, opts Options) (*Session, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Verbosity}))

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, fmt.Sprintf("open %s: %v", path, err))
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, fmt.Sprintf("stat %s: %v", path, err))
	}

	diskStore := store.New(file, info.Size(), 0)

	resolvedOffset, resolvedIndex, hintedVariant, err := resolveBaseOffset(diskStore, baseOffset, partitionIndex, opts, logger)
	if err != nil {
		file.Close()
		return nil, err
	}

	fsSize := info.Size() - resolvedOffset
	if fsSize <= 0 {
		file.Close()
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, "base offset is past the end of the backing file")
	}

	fsStore := store.New(file, fsSize, resolvedOffset)
	sector0, err := fsStore.Read(0, bootrecord.SectorSize512)
	if err != nil {
		file.Close()
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, err.Error())
	}
	br, err := bootrecord.Decode(bytes.NewReader(sector0), hintedVariant)
	if err != nil {
		file.Close()
		return nil, err
	}

	cache := sectorcache.New(fsStore, br.SectorSize(), br.TotalSectors())

	table, err := fat.Load(cache, br)
	if err != nil {
		file.Close()
		return nil, err
	}

	walker := walk.New(cache, br, table, logger, opts.maxChainClusters())

	return &Session{
		file:           file,
		diskStore:      diskStore,
		cache:          cache,
		boot:           br,
		table:          table,
		walker:         walker,
		baseOffset:     resolvedOffset,
		partitionIndex: resolvedIndex,
		logger:         logger,
		opts:           opts,
	}, nil
}

// Close flushes the FAT and releases every cache. The session must not be
// used afterward.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.table.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.cache.Destroy()
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = disko.NewDriverErrorWithMessage(disko.EIO, err.Error())
	}
	return firstErr
}

// checkUsable refuses any operation on a closed or poisoned session
// (spec.md §7's propagation policy: Host I/O and invalid-image errors poison
// the session and it must be closed).
func (s *Session) checkUsable() error {
	if s.closed {
		return disko.NewDriverErrorWithMessage(disko.EINVAL, "session is closed")
	}
	if s.poisoned != nil {
		return disko.NewDriverErrorWithMessage(disko.EIO, fmt.Sprintf("session is poisoned by a prior error: %v", s.poisoned))
	}
	return nil
}

// poison marks the session unusable when err is a fatal kind (Host I/O or
// invalid image), per spec.md §7. It returns err unchanged so callers can
// write `return s.poison(err)`.
func (s *Session) poison(err error) error {
	if err == nil {
		return nil
	}
	var driverErr *disko.DriverError
	if de, ok := err.(*disko.DriverError); ok {
		driverErr = de
	}
	if driverErr != nil && (driverErr.ErrnoCode == disko.EIO || driverErr.ErrnoCode == disko.EINVAL) {
		s.poisoned = err
	}
	return err
}

// BootRecord exposes the decoded boot record for read-only diagnostics.
func (s *Session) BootRecord() *bootrecord.BootRecord { return s.boot }

// FAT exposes the loaded FAT table for read-only diagnostics.
func (s *Session) FAT() *fat.Table { return s.table }

// BaseOffset is the filesystem's resolved byte offset on the backing file.
func (s *Session) BaseOffset() int64 { return s.baseOffset }

// PartitionIndex is the MBR entry this session was opened from, or
// NoPartitionIndex if it was opened unpartitioned or by explicit offset.
func (s *Session) PartitionIndex() int { return s.partitionIndex }

func (s *Session) rootArgs() (cluster uint32, isFixedRoot bool) {
	if s.boot.Variant == 32 {
		return s.boot.RootCluster(), false
	}
	return 0, true
}
