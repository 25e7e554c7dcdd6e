package dirent

import (
	"os"

	disko "github.com/goblinhack/fatdisk"
)

// FileMode synthesizes an os.FileMode for e from its FAT attribute flags,
// since a dirent carries no Unix permission bits of its own. Grounded on
// the teacher's AttrFlagsToFileMode (drivers/fat/dirent.go), wiring
// disko's S_I* constants (flags.go) the way that function did. FAT has no
// way to mark a file executable, so the executable bits are always clear
// for regular files.
func (e *Entry) FileMode() os.FileMode {
	readBits := disko.S_IRUSR | disko.S_IRGRP | disko.S_IROTH
	writeBits := disko.S_IWUSR | disko.S_IWGRP | disko.S_IWOTH
	execBits := disko.S_IXUSR | disko.S_IXGRP | disko.S_IXOTH

	if e.IsDir() {
		// Unix directories need their execute bit set to be traversable.
		return os.ModeDir | os.FileMode(readBits|writeBits|execBits)
	}

	if e.Attr&AttrReadOnly != 0 {
		return os.FileMode(readBits)
	}
	return os.FileMode(readBits | writeBits)
}
