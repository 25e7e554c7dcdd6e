package dirent

import (
	"testing"
	"time"
)

// newTestBlock builds a bare in-memory fixed-root block (no cache, no
// bootrecord) large enough for the add/remove/gather tests below, which
// never call WriteBack or Grow.
func newTestBlock(numSlots int) *Block {
	return &Block{
		isFixedRoot: true,
		data:        make([]byte, numSlots*SlotSize),
	}
}

func TestBlockAddAndGatherShortName(t *testing.T) {
	b := newTestBlock(8)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	slot, err := b.AddEntry(nil, "HELLO.TXT", AttrArchive, 5, 123, now)
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if slot != 0 {
		t.Fatalf("expected entry at slot 0, got %d", slot)
	}

	entries := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].DisplayName() != "HELLO.TXT" {
		t.Fatalf("unexpected name %q", entries[0].DisplayName())
	}
	if entries[0].FirstCluster != 5 || entries[0].Size != 123 {
		t.Fatalf("unexpected metadata: %+v", entries[0])
	}
}

func TestBlockAddLongNameUsesFragments(t *testing.T) {
	b := newTestBlock(16)
	now := time.Now()

	longName := "a rather long filename.txt"
	_, err := b.AddEntry(nil, longName, AttrArchive, 10, 0, now)
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	entries := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].DisplayName() != longName {
		t.Fatalf("expected long name %q, got %q", longName, entries[0].DisplayName())
	}
}

func TestBlockRemoveEntryFreesSlots(t *testing.T) {
	b := newTestBlock(8)
	now := time.Now()

	if _, err := b.AddEntry(nil, "A.TXT", AttrArchive, 1, 0, now); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	entries := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry before removal, got %d", len(entries))
	}

	b.RemoveEntry(entries[0].slotIndex, entries[0].fragmentCount)

	if got := b.Entries(); len(got) != 0 {
		t.Fatalf("expected 0 entries after removal, got %d", len(got))
	}

	start, ok := b.FindFree(1)
	if !ok || start != 0 {
		t.Fatalf("expected slot 0 to be free again after removal, got start=%d ok=%v", start, ok)
	}
}

func TestBlockFindFreeFailsWhenFull(t *testing.T) {
	b := newTestBlock(4)
	now := time.Now()

	names := []string{"A.TXT", "B.TXT", "C.TXT", "D.TXT"}
	for _, name := range names {
		if _, err := b.AddEntry(nil, name, AttrArchive, 1, 0, now); err != nil {
			t.Fatalf("AddEntry(%s): %v", name, err)
		}
	}
	if _, ok := b.FindFree(1); ok {
		t.Fatalf("expected no free slots once the block is full")
	}
}
