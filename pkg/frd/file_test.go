package frd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, run, ls uint32, orbits map[uint32][]byte, order []uint32) string {
	t.Helper()
	w, dir := newTestWriter(t, run)
	require.NoError(t, w.OpenFile(ls))
	for _, id := range order {
		require.NoError(t, w.WriteOrbit(id, orbits[id]))
	}
	require.NoError(t, w.Finalize())
	return FilePath(dir, run, ls)
}

func TestFile_ReadBack(t *testing.T) {
	orbits := map[uint32][]byte{
		262144: bytes.Repeat([]byte{1}, 236),
		262145: bytes.Repeat([]byte{2}, 472),
		262149: bytes.Repeat([]byte{3}, 236),
	}
	order := []uint32{262144, 262145, 262149}
	path := writeTestFile(t, 100, 1, orbits, order)

	f, err := Open(path)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, f.Close())
	}()

	assert.Equal(t, path, f.Path())
	h := f.Header()
	assert.Equal(t, uint32(3), h.EventCount)
	assert.Equal(t, uint32(100), h.RunNumber)
	assert.Equal(t, uint32(1), h.Lumisection)
	assert.Equal(t, uint64(f.Size()), h.FileSize)
	assert.NoError(t, f.Verify())

	r := f.NewReader()
	offset := int64(FileHeaderSize)
	for _, id := range order {
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, id, ev.Header.EventID)
		assert.Equal(t, offset, ev.Offset)
		assert.Equal(t, orbits[id], ev.Data)
		assert.Equal(t, uint32(1), ev.Header.Lumisection)
		offset += ev.Header.RecordSize()
	}
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpen_Invalid(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "nope"))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("short", func(t *testing.T) {
		path := filepath.Join(dir, "short")
		require.NoError(t, os.WriteFile(path, []byte("RAW_0002"), 0644))
		_, err := Open(path)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("bad tag", func(t *testing.T) {
		path := filepath.Join(dir, "badtag")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, 64), 0644))
		_, err := Open(path)
		assert.ErrorIs(t, err, ErrBadVersionTag)
	})
}

func TestVerify_DetectsCorruption(t *testing.T) {
	orbits := map[uint32][]byte{1: bytes.Repeat([]byte{9}, 236), 2: bytes.Repeat([]byte{8}, 236)}
	order := []uint32{1, 2}

	t.Run("trailing bytes", func(t *testing.T) {
		path := writeTestFile(t, 1, 0, orbits, order)
		fd, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = fd.Write([]byte{0})
		require.NoError(t, err)
		require.NoError(t, fd.Close())

		f, err := Open(path)
		require.NoError(t, err)
		defer f.Close()
		assert.ErrorIs(t, f.Verify(), ErrSizeMismatch)
	})

	t.Run("event count", func(t *testing.T) {
		path := writeTestFile(t, 1, 0, orbits, order)
		patchFile(t, path, 12, func(b []byte) { binary.LittleEndian.PutUint32(b, 5) })

		f, err := Open(path)
		require.NoError(t, err)
		defer f.Close()
		assert.ErrorIs(t, f.Verify(), ErrCountMismatch)
	})

	t.Run("truncated record", func(t *testing.T) {
		path := writeTestFile(t, 1, 0, orbits, order)
		info, err := os.Stat(path)
		require.NoError(t, err)
		newSize := info.Size() - 10
		require.NoError(t, os.Truncate(path, newSize))
		patchFile(t, path, 24, func(b []byte) { binary.LittleEndian.PutUint64(b, uint64(newSize)) })

		f, err := Open(path)
		require.NoError(t, err)
		defer f.Close()
		assert.ErrorIs(t, f.Verify(), ErrTruncated)
	})

	t.Run("source id", func(t *testing.T) {
		path := writeTestFile(t, 1, 0, orbits, order)
		patchFile(t, path, FileHeaderSize+24, func(b []byte) { binary.LittleEndian.PutUint32(b, 7) })

		f, err := Open(path)
		require.NoError(t, err)
		defer f.Close()
		assert.ErrorIs(t, f.Verify(), ErrBadRecord)
	})

	t.Run("orbit outside lumisection", func(t *testing.T) {
		path := writeTestFile(t, 1, 0, map[uint32][]byte{262144: {1}}, []uint32{262144})

		f, err := Open(path)
		require.NoError(t, err)
		defer f.Close()
		assert.ErrorIs(t, f.Verify(), ErrBadRecord)
	})
}

func TestVerify_PlaceholderHeaderFails(t *testing.T) {
	w, dir := newTestWriter(t, 3)
	require.NoError(t, w.OpenFile(0))
	require.NoError(t, w.WriteOrbit(1, []byte{1, 2, 3}))
	require.NoError(t, w.Abandon())

	f, err := Open(FilePath(dir, 3, 0))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint64(0), f.Header().FileSize)
	assert.ErrorIs(t, f.Verify(), ErrSizeMismatch)
}

func patchFile(t *testing.T, path string, offset int64, patch func([]byte)) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	patch(raw[offset:])
	require.NoError(t, os.WriteFile(path, raw, 0644))
}
