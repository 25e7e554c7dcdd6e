package dirent

import "testing"

func TestEncodeShortNameFitsAlready(t *testing.T) {
	name11, fits := EncodeShortName("README.TXT")
	if !fits {
		t.Fatalf("expected README.TXT to fit as-is")
	}
	if got := ShortNameToDisplay([8]byte{name11[0], name11[1], name11[2], name11[3], name11[4], name11[5], name11[6], name11[7]}, [3]byte{name11[8], name11[9], name11[10]}); got != "README.TXT" {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestEncodeShortNameTruncatesLongNames(t *testing.T) {
	name11, fits := EncodeShortName("a rather long filename.txt")
	if fits {
		t.Fatalf("expected a long name to require truncation")
	}
	base := string(name11[0:8])
	if base[6] != '~' || base[7] != '1' {
		t.Fatalf("expected ~1 suffix in base, got %q", base)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	long := "a rather long filename that needs several fragments.txt"
	name11, _ := EncodeShortName(long)
	checksum := ChecksumShortName(name11)

	fragments := EncodeFragments(long, checksum)
	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments for a name this long, got %d", len(fragments))
	}
	if !fragments[0].IsLast {
		t.Fatalf("expected the first on-disk fragment to carry the last-flag")
	}

	got, ok := AssembleLongName(fragments)
	if !ok {
		t.Fatalf("expected fragments to assemble cleanly")
	}
	if got != long {
		t.Fatalf("round trip mismatch: got %q want %q", got, long)
	}
}

func TestAssembleLongNameRejectsInconsistentChecksum(t *testing.T) {
	fragments := EncodeFragments("a rather long filename needing fragments.txt", 0x42)
	if len(fragments) < 2 {
		t.Fatalf("test requires a multi-fragment name")
	}
	fragments[1].Checksum = 0x99
	if _, ok := AssembleLongName(fragments); ok {
		t.Fatalf("expected a fragment group with an inconsistent checksum to fail reassembly")
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	date := EncodeDate(2023, 11, 5)
	clock := EncodeTime(13, 45, 30)
	ts := TimestampFromParts(date, clock, 0)
	if ts.Year() != 2023 || ts.Month() != 11 || ts.Day() != 5 {
		t.Fatalf("date round trip mismatch: %v", ts)
	}
	if ts.Hour() != 13 || ts.Minute() != 45 || ts.Second() != 30 {
		t.Fatalf("time round trip mismatch: %v", ts)
	}
}

func TestSlotStateTransitions(t *testing.T) {
	buf := make([]byte, SlotSize)
	s := Slot(buf)
	if !s.IsAbsent() {
		t.Fatalf("zeroed slot should be absent")
	}
	s.MarkDeleted()
	if !s.IsDeleted() || s.IsAbsent() {
		t.Fatalf("expected deleted state after MarkDeleted")
	}
	s.MarkAbsent()
	if !s.IsAbsent() {
		t.Fatalf("expected absent state after MarkAbsent")
	}
}

func TestEscapedE5FirstByte(t *testing.T) {
	var e ShortEntry
	e.Name = [8]byte{0xE5, 'B', 'C', ' ', ' ', ' ', ' ', ' '}
	buf := make([]byte, SlotSize)
	s := Slot(buf)
	e.EncodeInto(s)
	if s[0] != slotEscapedE5 {
		t.Fatalf("expected first byte 0xE5 to be escaped to 0x05 on disk, got 0x%02x", s[0])
	}
	decoded := DecodeShort(s)
	if decoded.Name[0] != 0xE5 {
		t.Fatalf("expected decode to restore 0xE5, got 0x%02x", decoded.Name[0])
	}
}
