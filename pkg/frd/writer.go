package frd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const defaultBufferSize = 1 << 20

// FinalizedFileInfo describes a file whose header has been patched and closed.
type FinalizedFileInfo struct {
	Path        string
	RunNumber   uint32
	Lumisection uint32
	EventCount  uint32
	FileSize    int64
}

// DirectorySyncer syncs a directory path to stable storage.
type DirectorySyncer interface {
	SyncDir(dir string) error
}

// DirectorySyncFunc adapts a function to act as a DirectorySyncer.
type DirectorySyncFunc func(dir string) error

// SyncDir implements DirectorySyncer.
func (f DirectorySyncFunc) SyncDir(dir string) error {
	return f(dir)
}

type WriterOption func(*Writer)

// WithOnFileFinalized registers fn to be called after every successful Finalize.
// IMP: the callback runs in the write path, don't block in it.
func WithOnFileFinalized(fn func(info FinalizedFileInfo)) WriterOption {
	return func(w *Writer) {
		if fn != nil {
			w.finalizedCallback = fn
		}
	}
}

// WithSyncOnFinalize fsyncs the file and its directory when a file is finalized.
func WithSyncOnFinalize(enabled bool) WriterOption {
	return func(w *Writer) {
		w.syncOnFinalize = enabled
	}
}

// WithDirectorySyncer overrides the directory syncer used with WithSyncOnFinalize.
func WithDirectorySyncer(syncer DirectorySyncer) WriterOption {
	return func(w *Writer) {
		if syncer != nil {
			w.dirSyncer = syncer
		}
	}
}

// WithBufferSize sets the size of the write buffer in front of each file.
func WithBufferSize(size int) WriterOption {
	return func(w *Writer) {
		if size > 0 {
			w.bufferSize = size
		}
	}
}

// WithLogger sets the logger used by the writer.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// outputFile is the state of the single file open for the active lumisection.
type outputFile struct {
	path        string
	fd          *os.File
	bw          *bufio.Writer
	lumisection uint32
	eventCount  uint32
	// bytes written so far, header placeholder included.
	offset int64
}

// Writer produces one FRD v2 file per lumisection for a single run.
// At most one file is open at a time. Writer is not safe for concurrent use.
type Writer struct {
	dir        string
	run        uint32
	bufferSize int

	syncOnFinalize    bool
	dirSyncer         DirectorySyncer
	finalizedCallback func(FinalizedFileInfo)
	logger            *slog.Logger

	current   *outputFile
	finalized int
	scratch   [EventHeaderSize]byte
}

// NewWriter returns a Writer placing files for run into dir, creating dir if needed.
func NewWriter(dir string, run uint32, opts ...WriterOption) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	w := &Writer{
		dir:               dir,
		run:               run,
		bufferSize:        defaultBufferSize,
		dirSyncer:         DirectorySyncFunc(syncDir),
		finalizedCallback: func(FinalizedFileInfo) {},
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "frd-writer")
	return w, nil
}

// OpenFile creates the file for lumisection and reserves the 32 byte header.
// Any existing file with the same name is truncated.
func (w *Writer) OpenFile(lumisection uint32) error {
	if w.current != nil {
		return fmt.Errorf("%w: lumisection %d while %d is active", ErrFileOpen, lumisection, w.current.lumisection)
	}

	path := FilePath(w.dir, w.run, lumisection)
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileModePerm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	f := &outputFile{
		path:        path,
		fd:          fd,
		bw:          bufio.NewWriterSize(fd, w.bufferSize),
		lumisection: lumisection,
	}
	if _, err := f.bw.Write(placeholderHeader()); err != nil {
		_ = fd.Close()
		return fmt.Errorf("write header placeholder %s: %w", path, err)
	}
	f.offset = FileHeaderSize
	w.current = f

	w.logger.Info("opened file",
		slog.String("path", path),
		slog.Uint64("run", uint64(w.run)),
		slog.Uint64("lumisection", uint64(lumisection)),
	)
	return nil
}

// WriteOrbit appends one orbit record carrying data to the open file.
func (w *Writer) WriteOrbit(orbitID uint32, data []byte) error {
	f := w.current
	if f == nil {
		return fmt.Errorf("%w: write orbit %d", ErrNoOpenFile, orbitID)
	}

	hdr := NewEventHeader(w.run, f.lumisection, orbitID, len(data)).EncodeTo(w.scratch[:])
	if _, err := f.bw.Write(hdr); err != nil {
		return fmt.Errorf("write orbit %d header to %s at offset %d: %w", orbitID, f.path, f.offset, err)
	}
	if _, err := f.bw.Write(data); err != nil {
		return fmt.Errorf("write orbit %d data to %s at offset %d: %w", orbitID, f.path, f.offset, err)
	}
	f.offset += int64(EventHeaderSize + len(data))
	f.eventCount++
	return nil
}

// Finalize rewrites the header of the open file with its final event count and size,
// then closes it.
func (w *Writer) Finalize() error {
	f := w.current
	if f == nil {
		return fmt.Errorf("%w: finalize", ErrNoOpenFile)
	}
	w.current = nil

	info, err := w.finalizeFile(f)
	if err != nil {
		_ = f.fd.Close()
		return err
	}

	w.finalized++
	w.logger.Info("finalized file",
		slog.String("path", info.Path),
		slog.Uint64("lumisection", uint64(info.Lumisection)),
		slog.Uint64("event_count", uint64(info.EventCount)),
		slog.Int64("file_size", info.FileSize),
	)
	w.finalizedCallback(info)
	return nil
}

func (w *Writer) finalizeFile(f *outputFile) (FinalizedFileInfo, error) {
	if err := f.bw.Flush(); err != nil {
		return FinalizedFileInfo{}, fmt.Errorf("flush %s: %w", f.path, err)
	}

	size, err := f.fd.Seek(0, io.SeekCurrent)
	if err != nil {
		return FinalizedFileInfo{}, fmt.Errorf("tell %s: %w", f.path, err)
	}
	if size != f.offset {
		w.logger.Warn("file position differs from written byte count",
			slog.String("path", f.path),
			slog.Int64("position", size),
			slog.Int64("written", f.offset),
		)
	}

	hdr := NewFileHeader(w.run, f.lumisection, f.eventCount, uint64(size))
	if _, err := f.fd.Seek(0, io.SeekStart); err != nil {
		return FinalizedFileInfo{}, fmt.Errorf("seek %s to header: %w", f.path, err)
	}
	if _, err := f.fd.Write(hdr.Encode()); err != nil {
		return FinalizedFileInfo{}, fmt.Errorf("rewrite header of %s: %w", f.path, err)
	}

	if w.syncOnFinalize {
		if err := f.fd.Sync(); err != nil {
			return FinalizedFileInfo{}, fmt.Errorf("fsync %s: %w", f.path, err)
		}
	}
	if err := f.fd.Close(); err != nil {
		return FinalizedFileInfo{}, fmt.Errorf("close %s: %w", f.path, err)
	}
	if w.syncOnFinalize {
		if err := w.dirSyncer.SyncDir(w.dir); err != nil {
			return FinalizedFileInfo{}, fmt.Errorf("fsync output directory: %w", err)
		}
	}

	return FinalizedFileInfo{
		Path:        f.path,
		RunNumber:   w.run,
		Lumisection: f.lumisection,
		EventCount:  f.eventCount,
		FileSize:    size,
	}, nil
}

// Abandon flushes and closes the open file without patching its header,
// leaving the placeholder in place. It is a no-op when nothing is open.
func (w *Writer) Abandon() error {
	f := w.current
	if f == nil {
		return nil
	}
	w.current = nil

	w.logger.Warn("abandoning file with placeholder header",
		slog.String("path", f.path),
		slog.Uint64("lumisection", uint64(f.lumisection)),
		slog.Uint64("orbits_written", uint64(f.eventCount)),
	)
	flushErr := f.bw.Flush()
	closeErr := f.fd.Close()
	return errors.Join(flushErr, closeErr)
}

// HasOpenFile reports whether a file is currently open.
func (w *Writer) HasOpenFile() bool {
	return w.current != nil
}

// Lumisection returns the lumisection of the open file.
func (w *Writer) Lumisection() (uint32, bool) {
	if w.current == nil {
		return 0, false
	}
	return w.current.lumisection, true
}

// EventCount returns the number of orbits written to the open file.
func (w *Writer) EventCount() uint32 {
	if w.current == nil {
		return 0
	}
	return w.current.eventCount
}

// Offset returns the number of bytes written to the open file, header included.
func (w *Writer) Offset() int64 {
	if w.current == nil {
		return 0
	}
	return w.current.offset
}

// FinalizedCount returns how many files this writer has finalized.
func (w *Writer) FinalizedCount() int {
	return w.finalized
}

// Run returns the run number stamped into every file and record.
func (w *Writer) Run() uint32 {
	return w.run
}

// syncDir fsyncs a directory so that newly created entries survive a crash.
// On Linux, fsync on the file alone does not guarantee the directory entry
// is durable.
func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}
