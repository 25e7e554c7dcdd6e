package walk

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/dirent"
	"github.com/goblinhack/fatdisk/fat"
	"github.com/goblinhack/fatdisk/fileio"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
)

// Match is one filter hit, carrying enough to act on or report it.
type Match struct {
	Path  string
	Entry dirent.Entry
}

// Options parameterizes one traversal -- the "action record" of spec.md
// §4.8, minus the `add` fields, which live on their own in add.go.
type Options struct {
	Filter *Filter

	List    bool
	Find    bool
	Hexdump bool
	Cat     bool
	Extract bool
	Remove  bool

	// WalkWholeTree, when set with Find, keeps matching after the first hit
	// instead of stopping at it (spec.md §4.8's find-vs-find-all distinction).
	WalkWholeTree bool

	// DestDir overrides the host directory Extract writes into (the
	// SUPPLEMENTED FEATURES `-o` flag).
	DestDir string

	ListWriter    io.Writer
	HexdumpWriter io.Writer
	CatWriter     io.Writer

	// WriteHostFile is how Extract places a file on the host filesystem; it
	// receives the destination path (already joined with DestDir) and the
	// file's bytes.
	WriteHostFile func(destPath string, data []byte) error
}

// Result is what a traversal returns: how many entries were affected, any
// filter hits (populated when Find is set), and a non-fatal per-entry error
// aggregate.
type Result struct {
	Count   int
	Matches []Match
	Errors  *multierror.Error
}

// Walker holds the filesystem handles a traversal needs.
type Walker struct {
	cache            *sectorcache.Cache
	br               *bootrecord.BootRecord
	table            *fat.Table
	logger           *slog.Logger
	maxChainClusters int
}

// New builds a Walker. maxChainClusters <= 0 uses dirent.DefaultMaxChainClusters.
func New(cache *sectorcache.Cache, br *bootrecord.BootRecord, table *fat.Table, logger *slog.Logger, maxChainClusters int) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{cache: cache, br: br, table: table, logger: logger, maxChainClusters: maxChainClusters}
}

// Walk traverses the directory rooted at rootCluster (rootCluster == 0 and
// isFixedRoot == true selects the FAT12/16 fixed root region) and dispatches
// opts' actions against every matching entry.
func (w *Walker) Walk(rootCluster uint32, isFixedRoot bool, opts *Options) (*Result, error) {
	var block *dirent.Block
	var err error
	if isFixedRoot {
		block, err = dirent.LoadFixedRoot(w.cache, w.br)
	} else {
		block, err = dirent.LoadChain(w.cache, w.br, w.table, rootCluster, w.maxChainClusters)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{}
	stop := false
	w.walkDir(block, "", rootCluster, opts, result, &stop)
	return result, nil
}

func (w *Walker) walkDir(block *dirent.Block, pathPrefix string, currentCluster uint32, opts *Options, result *Result, stop *bool) {
	for _, entry := range block.Entries() {
		if *stop {
			return
		}

		name := entry.DisplayName()
		if name == "." || name == ".." {
			continue
		}

		fullPath := joinPath(pathPrefix, name)
		matched := opts.Filter == nil || opts.Filter.Match(fullPath, name)
		removed := false

		if matched {
			w.dispatch(fullPath, entry, opts, result)
			if opts.Find && !opts.WalkWholeTree && len(result.Matches) > 0 {
				*stop = true
				return
			}
			if opts.Remove {
				if err := w.removeOne(entry); err != nil {
					result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
				} else {
					block.Remove(entry)
					removed = true
					result.Count++
					if err := block.WriteBack(); err != nil {
						result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
					}
				}
			}
		}

		if removed || !entry.IsDir() {
			continue
		}
		if entry.FirstCluster != 0 && entry.FirstCluster == currentCluster {
			continue // refuses next_cluster == current_cluster (spec.md §4.8 loop protection)
		}

		if !w.shouldRecurse(opts, fullPath) {
			continue
		}

		child, err := dirent.LoadChain(w.cache, w.br, w.table, entry.FirstCluster, w.maxChainClusters)
		if err != nil {
			w.logger.Warn("skipping unreadable subdirectory", "path", fullPath, "error", err)
			result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
			continue
		}

		w.walkDir(child, fullPath, entry.FirstCluster, opts, result, stop)
	}
}

func (w *Walker) shouldRecurse(opts *Options, fullPath string) bool {
	if opts.Filter == nil || !opts.Filter.IsLiteral() {
		return true
	}
	return opts.Filter.IsPrefixOfFilter(fullPath)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func (w *Walker) dispatch(fullPath string, entry dirent.Entry, opts *Options, result *Result) {
	if opts.List {
		result.Count++
		if opts.ListWriter != nil {
			fmt.Fprintf(opts.ListWriter, "%s %10d %s\n", entry.FileMode(), entry.Size, fullPath)
		}
	}

	if opts.Find {
		result.Matches = append(result.Matches, Match{Path: fullPath, Entry: entry})
		result.Count++
	}

	if opts.Hexdump && !entry.IsDir() {
		if err := w.hexdump(fullPath, entry, opts); err != nil {
			result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
			return
		}
		result.Count++
	}

	if opts.Cat && !entry.IsDir() {
		data, err := fileio.ReadBody(w.cache, w.br, w.table, entry.FirstCluster, entry.Size)
		if err != nil {
			result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
			return
		}
		if opts.CatWriter != nil {
			opts.CatWriter.Write(data)
		}
		result.Count++
	}

	if opts.Extract && !entry.IsDir() {
		data, err := fileio.ReadBody(w.cache, w.br, w.table, entry.FirstCluster, entry.Size)
		if err != nil {
			result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
			return
		}
		destName := path.Base(fullPath)
		destPath := destName
		if opts.DestDir != "" {
			destPath = opts.DestDir + "/" + destName
		}
		if opts.WriteHostFile != nil {
			if err := opts.WriteHostFile(destPath, data); err != nil {
				result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", fullPath, err))
				return
			}
		}
		result.Count++
	}
}

// removeOne frees an entry's file/subtree body. Refusing to touch the
// FAT32 root is handled one level up: the root directory entry is never
// surfaced by Entries() on its own parent (it has none), so a remove
// targeting it can only arrive via an explicit caller bypass, which
// session.Remove is responsible for rejecting (spec.md scenario 5).
func (w *Walker) removeOne(entry dirent.Entry) error {
	if entry.IsDir() {
		return w.removeSubtree(entry.FirstCluster)
	}
	return fileio.DeleteBody(w.logger, w.table, entry.FirstCluster)
}

func (w *Walker) removeSubtree(cluster uint32) error {
	if cluster == 0 {
		return nil
	}
	block, err := dirent.LoadChain(w.cache, w.br, w.table, cluster, w.maxChainClusters)
	if err != nil {
		return err
	}
	for _, child := range block.Entries() {
		name := child.DisplayName()
		if name == "." || name == ".." {
			continue
		}
		if child.FirstCluster != 0 && child.FirstCluster == cluster {
			continue
		}
		if err := w.removeOne(child); err != nil {
			return err
		}
	}
	chain, chainErr := w.table.Chain(cluster)
	if err := w.table.FreeChain(chain); err != nil {
		return err
	}
	return chainErr
}

// hexdump writes entry's body in the classic 16-bytes-per-line, offset +
// ASCII-gutter format (original_source/command.c's hexdump framing --
// SPEC_FULL.md's SUPPLEMENTED FEATURES).
func (w *Walker) hexdump(fullPath string, entry dirent.Entry, opts *Options) error {
	data, err := fileio.ReadBody(w.cache, w.br, w.table, entry.FirstCluster, entry.Size)
	if err != nil {
		return err
	}
	if opts.HexdumpWriter == nil {
		return nil
	}

	for offset := 0; offset < len(data); offset += 16 {
		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[offset:end]

		var hex strings.Builder
		var ascii strings.Builder
		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(&hex, "%02x ", line[i])
				if line[i] >= 0x20 && line[i] < 0x7F {
					ascii.WriteByte(line[i])
				} else {
					ascii.WriteByte('.')
				}
			} else {
				hex.WriteString("   ")
			}
		}
		fmt.Fprintf(opts.HexdumpWriter, "%08x  %s |%s|\n", offset, hex.String(), ascii.String())
	}
	return nil
}
