package dirent

import (
	"strings"
	"unicode/utf16"
)

// ChecksumShortName computes the VFAT checksum of an 11-byte 8.3 name,
// stored in every fragment belonging to that short-name entry so a reader
// can detect a long name left orphaned by an out-of-order short-name
// deletion (spec.md §4.7).
func ChecksumShortName(name11 [11]byte) byte {
	var sum byte
	for _, b := range name11 {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}

// isLegalShortNameByte reports whether b is legal in an 8.3 name component;
// during generation sanitizeComponent drops spaces and replaces every other
// illegal byte with '_'.
func isLegalShortNameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case strings.IndexByte("!#$%&'()-@^_`{}~", b) >= 0:
		return true
	default:
		return false
	}
}

// EncodeShortName builds the 11-byte 8.3 name for longName, following
// spec.md §4.7's minimal generation rule: uppercase, strip the extension at
// the last '.', and truncate the base to 6 chars plus a literal "~1" tail
// when the base is longer than 8 bytes or needed character replacement or
// space removal (no collision disambiguation beyond "~1", by spec). A name
// that differs only by case, or whose extension alone needed replacement or
// truncation, gets no "~1". fits reports whether longName already was a
// valid, untouched 8.3 name.
func EncodeShortName(longName string) (name11 [11]byte, fits bool) {
	for i := range name11 {
		name11[i] = ' '
	}

	base, ext := splitExt(longName)
	upperBase := strings.ToUpper(base)
	upperExt := strings.ToUpper(ext)

	cleanBase, baseChanged := sanitizeComponent(upperBase)
	cleanExt, extChanged := sanitizeComponent(upperExt)

	fits = !baseChanged && !extChanged && len(cleanBase) <= 8 && len(cleanExt) <= 3 &&
		base == upperBase && ext == upperExt

	if fits {
		copy(name11[0:8], cleanBase)
		copy(name11[8:11], cleanExt)
		return name11, true
	}

	if len(cleanBase) > 8 || baseChanged || len(base) > 8 {
		if len(cleanBase) > 6 {
			cleanBase = cleanBase[:6]
		}
		cleanBase += "~1"
	}
	if len(cleanBase) > 8 {
		cleanBase = cleanBase[:8]
	}
	if len(cleanExt) > 3 {
		cleanExt = cleanExt[:3]
	}

	copy(name11[0:8], cleanBase)
	copy(name11[8:11], cleanExt)
	return name11, false
}

func splitExt(name string) (base, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

func sanitizeComponent(s string) (clean string, changed bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' {
			changed = true
			continue
		}
		if isLegalShortNameByte(c) {
			b.WriteByte(c)
			continue
		}
		changed = true
		b.WriteByte('_')
	}
	return b.String(), changed
}

// ShortNameToDisplay renders an 11-byte 8.3 name (as stored in
// ShortEntry.Name/Ext) back into "BASE.EXT" display form, omitting the dot
// when there is no extension.
func ShortNameToDisplay(name [8]byte, ext [3]byte) string {
	base := strings.TrimRight(string(name[:]), " ")
	e := strings.TrimRight(string(ext[:]), " ")
	if e == "" {
		return base
	}
	return base + "." + e
}

////////////////////////////////////////////////////////////////////////////
// Long-name fragment group encode/decode.

// EncodeFragments splits longName into the ordered sequence of VFAT
// fragments needed to store it, each stamped with checksum (the owning
// short-name entry's ChecksumShortName result). Fragments are returned in
// on-disk write order: highest ordinal (with the 0x40 last-flag) first,
// ordinal 1 last, matching spec.md §4.7's "fragments precede the short-name
// entry, highest ordinal first".
func EncodeFragments(longName string, checksum byte) []Fragment {
	units := utf16.Encode([]rune(longName))

	const perFragment = 13
	n := (len(units) + perFragment - 1) / perFragment
	if n == 0 {
		n = 1
	}

	fragments := make([]Fragment, n)
	for i := 0; i < n; i++ {
		var u [13]uint16
		for j := 0; j < perFragment; j++ {
			srcIdx := i*perFragment + j
			switch {
			case srcIdx < len(units):
				u[j] = units[srcIdx]
			case srcIdx == len(units):
				u[j] = 0x0000
			default:
				u[j] = 0xFFFF
			}
		}
		fragments[i] = Fragment{
			Ordinal:  i + 1,
			Checksum: checksum,
			Units:    u,
		}
	}
	fragments[n-1].IsLast = true

	// Reverse into on-disk write order (highest ordinal first).
	out := make([]Fragment, n)
	for i, f := range fragments {
		out[n-1-i] = f
	}
	return out
}

// AssembleLongName reconstructs a long name from fragments already sorted
// into on-disk order (highest ordinal, i.e. IsLast, first) -- the order
// they're encountered walking a directory stream forward. It returns false
// if the fragments don't form a complete, contiguous, same-checksum group.
func AssembleLongName(fragments []Fragment) (string, bool) {
	if len(fragments) == 0 {
		return "", false
	}

	checksum := fragments[0].Checksum
	expectedOrdinal := len(fragments)
	if !fragments[0].IsLast || fragments[0].Ordinal != expectedOrdinal {
		return "", false
	}

	var units []uint16
	for i, f := range fragments {
		wantOrdinal := expectedOrdinal - i
		if f.Ordinal != wantOrdinal || f.Checksum != checksum {
			return "", false
		}
		if i > 0 && f.IsLast {
			return "", false
		}
	}
	// Ordinal 1 (the last fragment in on-disk order) holds the start of the
	// name, so code units are gathered in ascending ordinal.
	for i := len(fragments) - 1; i >= 0; i-- {
		for _, u := range fragments[i].Units {
			if u == 0x0000 || u == 0xFFFF {
				goto done
			}
			units = append(units, u)
		}
	}
done:
	return string(utf16.Decode(units)), true
}
