package session_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goblinhack/fatdisk/session"
)

func formatTempImage(t *testing.T, sizeBytes int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.fat")

	s, err := session.Format(path, session.FormatParams{
		SizeBytes:      sizeBytes,
		PartitionIndex: -1,
		VolumeName:     "TESTVOL",
	}, session.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	return path
}

func TestFormatThenOpenRoundTrips(t *testing.T) {
	path := formatTempImage(t, 2880*512) // 1.44M floppy-sized

	s, err := session.Open(path, session.NoBaseOffset, session.NoPartitionIndex, session.Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 12, s.BootRecord().Variant)

	var buf bytes.Buffer
	require.NoError(t, s.Info(&buf))
	assert.Contains(t, buf.String(), "FAT12")
}

func TestAddListCatRemoveRoundTrip(t *testing.T) {
	path := formatTempImage(t, 16*1024*1024) // big enough for FAT16

	hostFile := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(hostFile, []byte("hello, fat\n"), 0o644))

	s, err := session.Open(path, session.NoBaseOffset, session.NoPartitionIndex, session.Options{})
	require.NoError(t, err)
	defer s.Close()

	count, err := s.AddFile(hostFile, "docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // "docs" dir + the file

	var listBuf bytes.Buffer
	listCount, err := s.List(&listBuf, "*")
	require.NoError(t, err)
	assert.Equal(t, 2, listCount)

	var catBuf bytes.Buffer
	catCount, err := s.Cat(&catBuf, "docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, catCount)
	assert.Equal(t, "hello, fat\n", catBuf.String())

	removeCount, err := s.Remove("docs")
	require.NoError(t, err)
	assert.Equal(t, 1, removeCount)

	listCount, err = s.List(&listBuf, "*")
	require.NoError(t, err)
	assert.Equal(t, 0, listCount)
}

func TestFindRequiresAMatch(t *testing.T) {
	path := formatTempImage(t, 4 * 1024 * 1024)

	s, err := session.Open(path, session.NoBaseOffset, session.NoPartitionIndex, session.Options{})
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Find("nothing-here", false)
	assert.Error(t, err)
}

func TestRemoveRefusesRootPath(t *testing.T) {
	path := formatTempImage(t, 4 * 1024 * 1024)

	s, err := session.Open(path, session.NoBaseOffset, session.NoPartitionIndex, session.Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Remove("/")
	assert.Error(t, err)
}

func TestOperationsFailAfterClose(t *testing.T) {
	path := formatTempImage(t, 4 * 1024 * 1024)

	s, err := session.Open(path, session.NoBaseOffset, session.NoPartitionIndex, session.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.List(&bytes.Buffer{}, "*")
	assert.Error(t, err)
}
