package session

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/walk"
)

// Info writes a one-line geometry summary (spec.md §6's `info`), the short
// form of SUPPLEMENTED FEATURES' info/summary split.
func (s *Session) Info(w io.Writer) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	br := s.boot
	fmt.Fprintf(w, "FAT%d, %d bytes/sector, %d sectors/cluster, %d total sectors, volume %q\n",
		br.Variant, br.SectorSize(), br.SectorsPerCluster(), br.TotalSectors(), br.VolumeLabel())
	return nil
}

// Summary writes a fuller geometry + free-space dump when verbose is set,
// restoring original_source/command.c's disk_summary/disk_info split
// (SUPPLEMENTED FEATURES).
func (s *Session) Summary(w io.Writer, verbose bool) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := s.Info(w); err != nil {
		return err
	}
	if !verbose {
		return nil
	}

	br := s.boot
	free, err := s.table.CountFree()
	if err != nil {
		return s.poison(err)
	}
	fmt.Fprintf(w, "  reserved sectors:   %d\n", br.ReservedSectorCount())
	fmt.Fprintf(w, "  FAT size (sectors): %d\n", br.FATSizeSectors())
	fmt.Fprintf(w, "  root dir sector:    %d\n", br.RootDirSector())
	fmt.Fprintf(w, "  first data sector:  %d\n", br.FirstDataSector())
	fmt.Fprintf(w, "  total clusters:     %d\n", br.TotalClusters())
	fmt.Fprintf(w, "  free clusters:      %d\n", free)
	fmt.Fprintf(w, "  base offset:        %d\n", s.baseOffset)
	if s.partitionIndex != NoPartitionIndex {
		fmt.Fprintf(w, "  partition index:    %d\n", s.partitionIndex)
	}
	return nil
}

func (s *Session) newFilter(pattern string) (*walk.Filter, error) {
	if pattern == "" {
		pattern = "*"
	}
	f, err := walk.NewFilter(pattern)
	if err != nil {
		return nil, disko.NewDriverErrorWithMessage(disko.EINVAL, fmt.Sprintf("invalid filter %q: %v", pattern, err))
	}
	return f, nil
}

func (s *Session) walkWith(opts *walk.Options) (*walk.Result, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	cluster, isFixedRoot := s.rootArgs()
	result, err := s.walker.Walk(cluster, isFixedRoot, opts)
	if err != nil {
		return nil, s.poison(err)
	}
	return result, nil
}

// requireMatch turns a zero-count result from a filter-driven operation into
// a user-input error (spec.md §7: "a filter matched nothing when a match was
// required").
func requireMatch(result *walk.Result, verb, pattern string) (int, error) {
	if result.Count == 0 {
		return 0, disko.NewDriverErrorWithMessage(disko.ENOENT, fmt.Sprintf("%s: no entry matched %q", verb, pattern))
	}
	return result.Count, nil
}

// List writes one line per matching entry to w and returns how many matched.
func (s *Session) List(w io.Writer, pattern string) (int, error) {
	filter, err := s.newFilter(pattern)
	if err != nil {
		return 0, err
	}
	result, err := s.walkWith(&walk.Options{Filter: filter, List: true, ListWriter: w})
	if err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Find locates matching entries; walkWholeTree continues past the first hit
// instead of stopping there (spec.md §4.8's find-vs-find-all distinction).
func (s *Session) Find(pattern string, walkWholeTree bool) ([]walk.Match, int, error) {
	filter, err := s.newFilter(pattern)
	if err != nil {
		return nil, 0, err
	}
	result, err := s.walkWith(&walk.Options{Filter: filter, Find: true, WalkWholeTree: walkWholeTree})
	if err != nil {
		return nil, 0, err
	}
	count, err := requireMatch(result, "find", pattern)
	return result.Matches, count, err
}

// Hexdump dumps matching files' contents to w in the classic 16-byte/line
// framing (walk.Walker's hexdump dispatch).
func (s *Session) Hexdump(w io.Writer, pattern string) (int, error) {
	filter, err := s.newFilter(pattern)
	if err != nil {
		return 0, err
	}
	result, err := s.walkWith(&walk.Options{Filter: filter, Hexdump: true, HexdumpWriter: w})
	if err != nil {
		return 0, err
	}
	return requireMatch(result, "hexdump", pattern)
}

// Cat writes matching files' raw contents to w.
func (s *Session) Cat(w io.Writer, pattern string) (int, error) {
	filter, err := s.newFilter(pattern)
	if err != nil {
		return 0, err
	}
	result, err := s.walkWith(&walk.Options{Filter: filter, Cat: true, CatWriter: w})
	if err != nil {
		return 0, err
	}
	return requireMatch(result, "cat", pattern)
}

// Extract writes matching files onto the host filesystem under destDir
// (empty means the current directory), the `-o` override from SUPPLEMENTED
// FEATURES.
func (s *Session) Extract(pattern, destDir string) (int, error) {
	filter, err := s.newFilter(pattern)
	if err != nil {
		return 0, err
	}
	result, err := s.walkWith(&walk.Options{
		Filter:  filter,
		Extract: true,
		DestDir: destDir,
		WriteHostFile: func(destPath string, data []byte) error {
			return os.WriteFile(destPath, data, 0o644)
		},
	})
	if err != nil {
		return 0, err
	}
	return requireMatch(result, "extract", pattern)
}

// Remove deletes matching files/directories and frees their clusters.
// Removing the root directory (the walk root itself, never surfaced as an
// entry of its own parent) is refused outright -- spec.md scenario 5 -- by
// rejecting the patterns "", "/" and "." before any walk starts.
func (s *Session) Remove(pattern string) (int, error) {
	if pattern == "" || pattern == "/" || pattern == "." {
		return 0, disko.NewDriverErrorWithMessage(disko.EINVAL, "refusing to remove the root directory")
	}
	filter, err := s.newFilter(pattern)
	if err != nil {
		return 0, err
	}
	result, err := s.walkWith(&walk.Options{Filter: filter, Remove: true})
	if err != nil {
		return 0, err
	}
	return requireMatch(result, "remove", pattern)
}

// Add copies hostPath into the image at dosPath. When hostPath is a regular
// file this is identical to AddFile; when it's a directory, its whole tree is
// mirrored under dosPath (spec.md §1's "ingestion... copy files and
// directory trees in"), each file added as its own AddFile call so an
// out-of-space error aborts only the file in progress (spec.md §7) and
// leaves everything added before it on disk.
func (s *Session) Add(hostPath, dosPath string) (int, error) {
	info, err := os.Stat(hostPath)
	if err != nil {
		return 0, disko.NewDriverErrorWithMessage(disko.ENOENT, fmt.Sprintf("add: %v", err))
	}
	if !info.IsDir() {
		return s.addFile(hostPath, dosPath)
	}

	total := 0
	walkErr := filepath.WalkDir(hostPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(hostPath, p)
		if err != nil {
			return err
		}
		count, err := s.addFile(p, path.Join(dosPath, filepath.ToSlash(rel)))
		total += count
		return err
	})
	if walkErr != nil {
		if _, ok := walkErr.(*disko.DriverError); ok {
			return total, walkErr
		}
		return total, disko.NewDriverErrorWithMessage(disko.EIO, fmt.Sprintf("add: %v", walkErr))
	}
	return total, nil
}

// AddFile always treats hostPath as a single file, even when add's
// directory-tree mirroring would otherwise apply -- spec.md §6: "like add
// but treats the host path as a single file renamed to dos_path".
func (s *Session) AddFile(hostPath, dosPath string) (int, error) {
	return s.addFile(hostPath, dosPath)
}

func (s *Session) addFile(hostPath, dosPath string) (int, error) {
	if err := s.checkUsable(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return 0, disko.NewDriverErrorWithMessage(disko.ENOENT, fmt.Sprintf("add: %v", err))
	}

	if dosPath == "" {
		dosPath = path.Base(hostPath)
	}

	cluster, isFixedRoot := s.rootArgs()
	count, err := s.walker.AddFile(cluster, isFixedRoot, dosPath, data, time.Now())
	if err != nil {
		return 0, s.poison(err)
	}
	return count, nil
}
