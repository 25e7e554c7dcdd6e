// Package fileio implements file body I/O (C9): placing a file's bytes onto
// a freshly allocated cluster chain in batched contiguous-run writes, and
// reading a chain's bytes back, stopping at the first broken link.
//
// The batched-run write is grounded on drivers/common/clusterio.go's
// ClusterStream.Read/Write, adapted from a streaming io.Reader/io.Writer
// interface to a one-shot whole-body call since the caller (walk's `add`
// dispatch) always has the entire body in memory already.
package fileio

import (
	"fmt"
	"log/slog"

	disko "github.com/goblinhack/fatdisk"
	"github.com/goblinhack/fatdisk/bootrecord"
	"github.com/goblinhack/fatdisk/fat"
	"github.com/goblinhack/fatdisk/internal/sectorcache"
)

// WriteBody allocates a cluster chain for data and writes it in maximal
// contiguous runs. A zero-length data returns headCluster == 0 and no
// cluster is allocated (spec.md Boundary B-2); this is the resolution
// recorded in DESIGN.md for the tension between spec.md §4.9 step 1's
// "empty files still occupy one cluster" parenthetical and the Boundaries
// section's explicit "no allocated cluster chain" -- the testable boundary
// wins.
func WriteBody(cache *sectorcache.Cache, br *bootrecord.BootRecord, table *fat.Table, data []byte) (headCluster uint32, err error) {
	if len(data) == 0 {
		return 0, nil
	}

	clusterSize := int(br.ClusterSize())
	k := (len(data) + clusterSize - 1) / clusterSize

	clusters := make([]uint32, 0, k)
	defer func() {
		if err != nil && len(clusters) > 0 {
			table.FreeChain(clusters)
		}
	}()

	for i := 0; i < k; i++ {
		var c uint32
		c, err = table.Alloc()
		if err != nil {
			return 0, err
		}
		if err = table.SetNext(c, table.EndOfChainMarker()); err != nil {
			return 0, err
		}
		if len(clusters) > 0 {
			if err = table.SetNext(clusters[len(clusters)-1], c); err != nil {
				return 0, err
			}
		}
		clusters = append(clusters, c)
	}

	padded := make([]byte, k*clusterSize)
	copy(padded, data)

	if writeErr := writeRuns(cache, br, clusters, padded, clusterSize); writeErr != nil {
		err = writeErr
		return 0, err
	}

	return clusters[0], nil
}

// writeRuns scans clusters for maximal runs of consecutive cluster numbers
// and issues one uncached bulk write per run, per spec.md §4.9 steps 3-4.
func writeRuns(cache *sectorcache.Cache, br *bootrecord.BootRecord, clusters []uint32, padded []byte, clusterSize int) error {
	i := 0
	for i < len(clusters) {
		j := i + 1
		for j < len(clusters) && clusters[j] == clusters[j-1]+1 {
			j++
		}

		sector := br.ClusterToSector(clusters[i])
		chunk := padded[i*clusterSize : j*clusterSize]
		if err := cache.WriteUncached(sector, chunk); err != nil {
			return err
		}

		i = j
	}
	return nil
}

// ReadBody follows the cluster chain starting at firstCluster and returns up
// to size bytes. It reads clusters lazily, one at a time, so a broken link
// discovered after the first cluster aborts with the bytes read so far
// still attached to the returned error -- this is what makes scenario 6
// ("extraction aborts with a corrupt metadata error after the first cluster
// is read") possible: the caller decides whether a partial result is usable.
func ReadBody(cache *sectorcache.Cache, br *bootrecord.BootRecord, table *fat.Table, firstCluster uint32, size uint32) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	clusterSize := int(br.ClusterSize())
	needed := (int(size) + clusterSize - 1) / clusterSize

	out := make([]byte, 0, size)
	current := firstCluster

	for i := 0; i < needed; i++ {
		if !table.IsValidCluster(current) {
			return truncate(out, size), disko.NewDriverErrorWithMessage(
				disko.EUCLEAN,
				fmt.Sprintf("file body references invalid cluster %d", current),
			)
		}

		sector := br.ClusterToSector(current)
		buf, err := cache.Read(sector, br.SectorsPerCluster())
		if err != nil {
			return truncate(out, size), err
		}
		out = append(out, buf...)

		if i == needed-1 {
			break
		}

		next, err := table.Next(current)
		if err != nil {
			return truncate(out, size), err
		}
		if !table.IsValidCluster(next) {
			return truncate(out, size), disko.NewDriverErrorWithMessage(
				disko.EUCLEAN,
				fmt.Sprintf("cluster %d followed by invalid cluster %d, corrupt metadata", current, next),
			)
		}
		current = next
	}

	return truncate(out, size), nil
}

func truncate(b []byte, size uint32) []byte {
	if uint32(len(b)) > size {
		return b[:size]
	}
	return b
}

// DeleteBody frees every cluster in a file's chain. It tolerates a broken
// chain: table.Chain already returns the partial chain alongside an error,
// and this frees exactly that partial chain, matching scenario 6's "remove
// truncates the chain at the first bad cell (frees only what it reached) and
// reports success". A chain error with nothing to free (a zero or
// out-of-range head) is a genuine failure and is still propagated; a chain
// error reached after at least one cluster was freed is logged and
// swallowed, since the removal itself did everything it could.
func DeleteBody(logger *slog.Logger, table *fat.Table, firstCluster uint32) error {
	if firstCluster == 0 {
		return nil
	}
	chain, chainErr := table.Chain(firstCluster)
	if err := table.FreeChain(chain); err != nil {
		return err
	}
	if chainErr == nil {
		return nil
	}
	if len(chain) == 0 {
		return chainErr
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("freed truncated cluster chain on corrupt metadata",
		"head", firstCluster, "clusters_freed", len(chain), "error", chainErr)
	return nil
}
