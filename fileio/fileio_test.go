package fileio_test

import (
	"bytes"
	"testing"

	"github.com/goblinhack/fatdisk/fileio"
	"github.com/goblinhack/fatdisk/internal/testimage"
)

func TestWriteReadBodyRoundTrip(t *testing.T) {
	img, err := testimage.New(testimage.Params{Variant: 16, SectorsPerCluster: 1})
	if err != nil {
		t.Fatalf("testimage.New: %v", err)
	}

	data := bytes.Repeat([]byte("hello world "), 500) // spans several clusters
	head, err := fileio.WriteBody(img.Cache, img.Boot, img.FAT, data)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	if head == 0 {
		t.Fatalf("expected a nonzero head cluster for nonempty data")
	}

	got, err := fileio.ReadBody(img.Cache, img.Boot, img.FAT, head, uint32(len(data)))
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestWriteBodyEmptyFileAllocatesNoCluster(t *testing.T) {
	img, err := testimage.New(testimage.Params{Variant: 16})
	if err != nil {
		t.Fatalf("testimage.New: %v", err)
	}

	head, err := fileio.WriteBody(img.Cache, img.Boot, img.FAT, nil)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	if head != 0 {
		t.Fatalf("expected head cluster 0 for an empty file, got %d", head)
	}
}

func TestWriteBodyExactClusterSizeUsesOneCluster(t *testing.T) {
	img, err := testimage.New(testimage.Params{Variant: 16, SectorsPerCluster: 1})
	if err != nil {
		t.Fatalf("testimage.New: %v", err)
	}

	data := bytes.Repeat([]byte{0x41}, int(img.Boot.ClusterSize()))
	head, err := fileio.WriteBody(img.Cache, img.Boot, img.FAT, data)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	next, err := img.FAT.Next(head)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !img.FAT.IsEndOfChain(next) {
		t.Fatalf("expected a file of exactly one cluster's worth of data to occupy a single cluster")
	}
}

func TestDeleteBodyFreesClusters(t *testing.T) {
	img, err := testimage.New(testimage.Params{Variant: 16, SectorsPerCluster: 1})
	if err != nil {
		t.Fatalf("testimage.New: %v", err)
	}

	data := bytes.Repeat([]byte{0x41}, int(img.Boot.ClusterSize())*3)
	head, err := fileio.WriteBody(img.Cache, img.Boot, img.FAT, data)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	freeBefore, err := img.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}

	if err := fileio.DeleteBody(nil, img.FAT, head); err != nil {
		t.Fatalf("DeleteBody: %v", err)
	}

	freeAfter, err := img.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}
	if freeAfter != freeBefore+3 {
		t.Fatalf("expected 3 clusters freed, got delta %d", freeAfter-freeBefore)
	}
}

func TestDeleteBodyOnCorruptChainFreesWhatItReachedAndSucceeds(t *testing.T) {
	img, err := testimage.New(testimage.Params{Variant: 16, SectorsPerCluster: 1})
	if err != nil {
		t.Fatalf("testimage.New: %v", err)
	}

	data := bytes.Repeat([]byte{0x41}, int(img.Boot.ClusterSize())*3)
	head, err := fileio.WriteBody(img.Cache, img.Boot, img.FAT, data)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	middle, err := img.FAT.Next(head)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	// Corrupt the chain: point the middle cluster at an out-of-range cell,
	// simulating scenario 6's damaged metadata.
	if err := img.FAT.SetNext(middle, img.FAT.TotalClusters()+1000); err != nil {
		t.Fatalf("SetNext: %v", err)
	}

	freeBefore, err := img.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}

	if err := fileio.DeleteBody(nil, img.FAT, head); err != nil {
		t.Fatalf("DeleteBody should report success after freeing a truncated chain, got: %v", err)
	}

	freeAfter, err := img.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}
	// Only head and middle were reached before the break; the third cluster
	// is now unreachable and stays allocated, matching "frees only what it
	// reached" rather than scanning the whole table for orphans.
	if freeAfter != freeBefore+2 {
		t.Fatalf("expected 2 clusters freed (head, middle), got delta %d", freeAfter-freeBefore)
	}
}
