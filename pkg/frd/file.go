package frd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Event is one orbit record read back from a finalized file.
type Event struct {
	Header EventHeader
	// Data is a view into the mapped file; copy it to keep it past Close.
	Data []byte
	// Offset of the record header within the file.
	Offset int64
}

// File is a read-only, memory-mapped FRD v2 file.
type File struct {
	path     string
	fd       *os.File
	mmapData mmap.MMap
	header   FileHeader
}

// Open maps the file at path and decodes its header.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("stat error: %w", err)
	}
	if stat.Size() < FileHeaderSize {
		_ = fd.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTruncated, path, stat.Size())
	}

	mmapData, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("mmap error: %w", err)
	}

	header, err := DecodeFileHeader(mmapData[:FileHeaderSize])
	if err != nil {
		_ = mmapData.Unmap()
		_ = fd.Close()
		return nil, fmt.Errorf("failed to decode header of %s: %w", path, err)
	}

	return &File{
		path:     path,
		fd:       fd,
		mmapData: mmapData,
		header:   header,
	}, nil
}

// Header returns the decoded file header.
func (f *File) Header() FileHeader {
	return f.header
}

// Path returns the path the file was opened from.
func (f *File) Path() string {
	return f.path
}

// Size returns the actual length of the file in bytes.
func (f *File) Size() int64 {
	return int64(len(f.mmapData))
}

// Close unmaps and closes the file.
func (f *File) Close() error {
	unmapErr := f.mmapData.Unmap()
	closeErr := f.fd.Close()
	return errors.Join(unmapErr, closeErr)
}

// Reader iterates over the orbit records of a File in order.
// Reader is not safe for concurrent use.
type Reader struct {
	file       *File
	readOffset int64
}

// NewReader returns a Reader positioned at the first record.
func (f *File) NewReader() *Reader {
	return &Reader{file: f, readOffset: FileHeaderSize}
}

// Next returns the next record, or io.EOF once the end of the file is reached.
func (r *Reader) Next() (Event, error) {
	data := r.file.mmapData
	end := int64(len(data))
	if r.readOffset >= end {
		return Event{}, io.EOF
	}
	if r.readOffset+EventHeaderSize > end {
		return Event{}, fmt.Errorf("%w: record header at offset %d", ErrTruncated, r.readOffset)
	}

	hdr, err := DecodeEventHeader(data[r.readOffset : r.readOffset+EventHeaderSize])
	if err != nil {
		return Event{}, err
	}
	if hdr.PayloadLength < sourceIDSize {
		return Event{}, fmt.Errorf("%w: payload length %d at offset %d", ErrBadRecord, hdr.PayloadLength, r.readOffset)
	}

	start := r.readOffset + EventHeaderSize
	stop := start + int64(hdr.DataLength())
	if stop > end {
		return Event{}, fmt.Errorf("%w: record at offset %d needs %d bytes, %d left",
			ErrTruncated, r.readOffset, hdr.RecordSize(), end-r.readOffset)
	}

	ev := Event{Header: hdr, Data: data[start:stop], Offset: r.readOffset}
	r.readOffset = stop
	return ev, nil
}

// Verify checks that the header agrees with the file contents: the stored size
// equals the file length, the event count equals the number of records, and
// every record carries the run, lumisection and source id of the file.
func (f *File) Verify() error {
	if f.header.FileSize != uint64(f.Size()) {
		return fmt.Errorf("%w: header says %d, file is %d bytes", ErrSizeMismatch, f.header.FileSize, f.Size())
	}

	var count uint32
	r := f.NewReader()
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := f.checkRecord(ev); err != nil {
			return err
		}
		count++
	}

	if count != f.header.EventCount {
		return fmt.Errorf("%w: header says %d, found %d", ErrCountMismatch, f.header.EventCount, count)
	}
	return nil
}

func (f *File) checkRecord(ev Event) error {
	h := ev.Header
	switch {
	case h.RunNumber != f.header.RunNumber:
		return fmt.Errorf("%w: run %d at offset %d, file run %d", ErrBadRecord, h.RunNumber, ev.Offset, f.header.RunNumber)
	case h.Lumisection != f.header.Lumisection:
		return fmt.Errorf("%w: lumisection %d at offset %d, file lumisection %d", ErrBadRecord, h.Lumisection, ev.Offset, f.header.Lumisection)
	case h.EventID>>LumisectionShift != f.header.Lumisection:
		return fmt.Errorf("%w: orbit %d at offset %d outside lumisection %d", ErrBadRecord, h.EventID, ev.Offset, f.header.Lumisection)
	case h.SourceID != CaloSourceID:
		return fmt.Errorf("%w: source id %d at offset %d", ErrBadRecord, h.SourceID, ev.Offset)
	}
	return nil
}
