// Package store implements the backing store (C1): byte-addressable
// read/write at absolute offsets over a file or block device, with an
// internal base-offset adjustment so everything above it can talk in
// filesystem-relative bytes.
package store

import (
	"fmt"
	"io"

	disko "github.com/goblinhack/fatdisk"
)

// Store is a thin wrapper around an [io.ReaderAt]/[io.WriterAt] pair (usually
// the same *os.File) that adds a base offset and total-size bookkeeping. It
// does no caching of its own -- that's C2's job, layered on top in
// internal/sectorcache.
//
// Every higher layer addresses bytes relative to the filesystem's base
// offset; Store adds BaseOffset before talking to the underlying stream,
// exactly as a partition's filesystem addresses sector 0 as its own first
// sector regardless of where the partition starts on the physical disk.
type Store struct {
	// BaseOffset is the byte offset from the start of the underlying stream
	// that corresponds to filesystem-relative offset 0. Nonzero when the
	// filesystem lives inside a partition.
	BaseOffset int64

	stream io.ReaderAt
	writer io.WriterAt
	size   int64
}

// New wraps a stream that supports both [io.ReaderAt] and [io.WriterAt].
// size is the total number of addressable bytes, exclusive of BaseOffset.
func New(stream interface {
	io.ReaderAt
	io.WriterAt
}, size int64, baseOffset int64) *Store {
	return &Store{
		BaseOffset: baseOffset,
		stream:     stream,
		writer:     stream,
		size:       size,
	}
}

// TotalSize returns the number of addressable bytes in the store, i.e. the
// size of the filesystem region, not of the underlying stream.
func (s *Store) TotalSize() int64 {
	return s.size
}

func (s *Store) checkBounds(offset int64, length int) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("negative offset or length: offset=%d length=%d", offset, length)
	}
	if offset+int64(length) > s.size {
		return disko.NewDriverErrorWithMessage(
			disko.EIO,
			fmt.Sprintf(
				"read/write of %d bytes at offset %d extends past end of store (%d bytes)",
				length, offset, s.size,
			),
		)
	}
	return nil
}

// Read returns length bytes starting at the filesystem-relative offset.
func (s *Store) Read(offset int64, length int) ([]byte, error) {
	if err := s.checkBounds(offset, length); err != nil {
		return nil, err
	}

	buffer := make([]byte, length)
	n, err := s.stream.ReadAt(buffer, s.BaseOffset+offset)
	if err != nil && err != io.EOF {
		return nil, disko.NewDriverErrorWithMessage(disko.EIO, err.Error())
	}
	if n < length {
		return nil, disko.NewDriverErrorWithMessage(
			disko.EIO,
			fmt.Sprintf("short read: wanted %d bytes, got %d", length, n),
		)
	}
	return buffer, nil
}

// Write writes data at the filesystem-relative offset.
func (s *Store) Write(offset int64, data []byte) error {
	if err := s.checkBounds(offset, len(data)); err != nil {
		return err
	}

	n, err := s.writer.WriteAt(data, s.BaseOffset+offset)
	if err != nil {
		return disko.NewDriverErrorWithMessage(disko.EIO, err.Error())
	}
	if n < len(data) {
		return disko.NewDriverErrorWithMessage(
			disko.EIO,
			fmt.Sprintf("short write: wanted to write %d bytes, wrote %d", len(data), n),
		)
	}
	return nil
}

// Resize grows or shrinks the store's addressable size. Growing pads with
// null bytes; shrinking requires the underlying stream to implement
// [disko.Truncator] (e.g. *os.File or an in-memory bytesextra stream).
func (s *Store) Resize(newSize int64) error {
	if newSize == s.size {
		return nil
	}

	if newSize > s.size {
		padding := make([]byte, newSize-s.size)
		oldSize := s.size
		n, err := s.writer.WriteAt(padding, s.BaseOffset+oldSize)
		if err != nil {
			return disko.NewDriverErrorWithMessage(disko.EIO, err.Error())
		}
		if n < len(padding) {
			return disko.NewDriverErrorWithMessage(
				disko.EIO,
				fmt.Sprintf("short write: wanted to write %d bytes, wrote %d", len(padding), n),
			)
		}
		s.size = newSize
		return nil
	}

	truncator, ok := s.stream.(disko.Truncator)
	if !ok {
		return fmt.Errorf(
			"can't shrink store from %d to %d bytes: underlying stream doesn't support truncation",
			s.size, newSize,
		)
	}
	if err := truncator.Truncate(s.BaseOffset + newSize); err != nil {
		return err
	}
	s.size = newSize
	return nil
}
