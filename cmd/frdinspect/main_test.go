package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/l1scouting/pkg/frd"
)

func writeRaw(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	w, err := frd.NewWriter(dir, 42)
	require.NoError(t, err)
	require.NoError(t, w.OpenFile(0))
	require.NoError(t, w.WriteOrbit(3, bytes.Repeat([]byte{1}, 236)))
	require.NoError(t, w.WriteOrbit(4, bytes.Repeat([]byte{2}, 472)))
	require.NoError(t, w.Finalize())
	return frd.FilePath(dir, 42, 0)
}

func TestRun_PrintsHeaderAndRecords(t *testing.T) {
	path := writeRaw(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-records", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "run=42 ls=0 events=2")
	assert.Contains(t, out, "header_size=32 data_type=20")
	assert.Contains(t, out, "offset=32 orbit=3 bytes=236 source=2")
	assert.Contains(t, out, "orbit=4 bytes=472")
}

func TestRun_ReportsBrokenFile(t *testing.T) {
	path := writeRaw(t)
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = fd.Write([]byte{0, 0})
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{path}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), path)
}

func TestRun_NoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage")
}
