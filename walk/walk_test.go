package walk_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/goblinhack/fatdisk/internal/testimage"
	"github.com/goblinhack/fatdisk/walk"
)

func newWalker(t *testing.T) (*walk.Walker, *testimage.Image) {
	t.Helper()
	img, err := testimage.New(testimage.Params{Variant: 16, SectorsPerCluster: 1})
	if err != nil {
		t.Fatalf("testimage.New: %v", err)
	}
	return walk.New(img.Cache, img.Boot, img.FAT, nil, 0), img
}

func TestAddFileCreatesIntermediateDirectories(t *testing.T) {
	w, _ := newWalker(t)
	now := time.Now()

	count, err := w.AddFile(0, true, "a/b/hello.txt", []byte("hi"), now)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 entries created (a, a/b, hello.txt), got %d", count)
	}

	var buf bytes.Buffer
	result, err := w.Walk(0, true, &walk.Options{List: true, ListWriter: &buf})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Count != 3 {
		t.Fatalf("expected 3 listed entries, got %d:\n%s", result.Count, buf.String())
	}
}

func TestAddFileThenCat(t *testing.T) {
	w, _ := newWalker(t)
	now := time.Now()

	if _, err := w.AddFile(0, true, "a/b/hello.txt", []byte("hi there"), now); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	filter, err := walk.NewFilter("a/b/hello.txt")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	var buf bytes.Buffer
	result, err := w.Walk(0, true, &walk.Options{Cat: true, Filter: filter, CatWriter: &buf})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("expected 1 match, got %d", result.Count)
	}
	if buf.String() != "hi there" {
		t.Fatalf("unexpected cat output: %q", buf.String())
	}
}

func TestRemoveSubtreeFreesClusters(t *testing.T) {
	w, img := newWalker(t)
	now := time.Now()

	data := bytes.Repeat([]byte{0x41}, int(img.Boot.ClusterSize())*2)
	if _, err := w.AddFile(0, true, "a/b/big.bin", data, now); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	freeBefore, err := img.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}

	filter, err := walk.NewFilter("a")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	result, err := w.Walk(0, true, &walk.Options{Remove: true, Filter: filter})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("expected 1 removal at the top level, got %d", result.Count)
	}

	freeAfter, err := img.FAT.CountFree()
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}
	if freeAfter <= freeBefore {
		t.Fatalf("expected clusters to be freed by removing the subtree: before=%d after=%d", freeBefore, freeAfter)
	}

	listResult, err := w.Walk(0, true, &walk.Options{List: true})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if listResult.Count != 0 {
		t.Fatalf("expected the tree to be empty after removing its only top-level entry, got %d", listResult.Count)
	}
}

func TestAddFileNoOpOverExistingDirectory(t *testing.T) {
	w, _ := newWalker(t)
	now := time.Now()

	if _, err := w.AddFile(0, true, "a/b.txt", []byte("x"), now); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	// "a" is a directory; attempting to add a file literally named "a" must
	// be a no-op (spec.md §4.8 "cannot shadow a directory").
	count, err := w.AddFile(0, true, "a", []byte("y"), now)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected a no-op when adding a file over an existing directory, got count=%d", count)
	}
}
