package frd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

var (
	ErrNoOpenFile    = errors.New("no FRD file is open")
	ErrFileOpen      = errors.New("an FRD file is already open")
	ErrBadVersionTag = errors.New("invalid FRD version tag")
	ErrTruncated     = errors.New("FRD data truncated")
	ErrSizeMismatch  = errors.New("FRD header file size does not match file length")
	ErrCountMismatch = errors.New("FRD header event count does not match records")
	ErrBadRecord     = errors.New("FRD orbit record inconsistent with file header")
)

const (
	// FileHeaderSize is the encoded size of the v2 file header.
	FileHeaderSize = 32
	// EventHeaderSize covers the fixed record fields including the trailing source id.
	EventHeaderSize = 28

	// DataTypeCaloRaw identifies calorimeter scouting raw data.
	DataTypeCaloRaw uint16 = 20
	// EventVersion is the FRD event header version written for every orbit record.
	EventVersion uint16 = 6
	// CaloSourceID is the fixed source identifier of the calorimeter scouting board.
	CaloSourceID uint32 = 2

	// LumisectionShift gives the lumisection of an orbit: orbit >> 18.
	LumisectionShift = 18

	// sourceIDSize is counted in the payload length field.
	sourceIDSize = 4

	fileModePerm = 0644
)

// VersionTag is the first 8 bytes of every v2 file. "RAW_0002".
var VersionTag = [8]byte{'R', 'A', 'W', '_', '0', '0', '0', '2'}

/* File Header Layout (little-endian):
┌──────────────────────────────────────────────┐
│ 0..7    version tag "RAW_0002"               │
│ 8..9    u16 header size (32)                 │
│ 10..11  u16 data type (20)                   │
│ 12..15  u32 event (orbit) count              │
│ 16..19  u32 run number                       │
│ 20..23  u32 lumisection                      │
│ 24..31  u64 file size in bytes               │
└──────────────────────────────────────────────┘
*/

// FileHeader is the decoded form of the 32 byte header at offset 0.
type FileHeader struct {
	// at 8
	HeaderSize uint16
	// at 10
	DataType uint16
	// at 12
	EventCount uint32
	// at 16
	RunNumber uint32
	// at 20
	Lumisection uint32
	// at 24
	FileSize uint64
}

// NewFileHeader returns a header with the constant fields filled in.
func NewFileHeader(run, lumisection, eventCount uint32, fileSize uint64) FileHeader {
	return FileHeader{
		HeaderSize:  FileHeaderSize,
		DataType:    DataTypeCaloRaw,
		EventCount:  eventCount,
		RunNumber:   run,
		Lumisection: lumisection,
		FileSize:    fileSize,
	}
}

// Encode serializes the header into a new 32 byte slice.
func (h FileHeader) Encode() []byte {
	return h.EncodeTo(nil)
}

// EncodeTo serializes the header into buf, allocating if buf is shorter than 32 bytes.
func (h FileHeader) EncodeTo(buf []byte) []byte {
	if len(buf) < FileHeaderSize {
		buf = make([]byte, FileHeaderSize)
	} else {
		buf = buf[:FileHeaderSize]
	}
	copy(buf[0:8], VersionTag[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.HeaderSize)
	binary.LittleEndian.PutUint16(buf[10:12], h.DataType)
	binary.LittleEndian.PutUint32(buf[12:16], h.EventCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.RunNumber)
	binary.LittleEndian.PutUint32(buf[20:24], h.Lumisection)
	binary.LittleEndian.PutUint64(buf[24:32], h.FileSize)
	return buf
}

// DecodeFileHeader parses the first 32 bytes of buf.
func DecodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, FileHeaderSize, len(buf))
	}
	if !bytes.Equal(buf[0:8], VersionTag[:]) {
		return FileHeader{}, fmt.Errorf("%w: %q", ErrBadVersionTag, buf[0:8])
	}
	return FileHeader{
		HeaderSize:  binary.LittleEndian.Uint16(buf[8:10]),
		DataType:    binary.LittleEndian.Uint16(buf[10:12]),
		EventCount:  binary.LittleEndian.Uint32(buf[12:16]),
		RunNumber:   binary.LittleEndian.Uint32(buf[16:20]),
		Lumisection: binary.LittleEndian.Uint32(buf[20:24]),
		FileSize:    binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// placeholderHeader is what a file starts with until it is finalized.
func placeholderHeader() []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:8], VersionTag[:])
	return buf
}

/* Orbit Record Layout (little-endian):
┌──────────────────────────────────────────────┐
│ 0..1    u16 version (6)                      │
│ 2..3    u16 flags (0)                        │
│ 4..7    u32 run number                       │
│ 8..11   u32 lumisection                      │
│ 12..15  u32 event id (orbit number)          │
│ 16..19  u32 payload length (orbit bytes + 4) │
│ 20..23  u32 checksum (always 0)              │
│ 24..27  u32 source id (2)                    │
│ 28..    orbit bytes                          │
└──────────────────────────────────────────────┘
*/

// EventHeader is the fixed part of one orbit record.
type EventHeader struct {
	Version     uint16
	Flags       uint16
	RunNumber   uint32
	Lumisection uint32
	EventID     uint32
	// PayloadLength counts the source id plus the orbit bytes.
	PayloadLength uint32
	Checksum      uint32
	SourceID      uint32
}

// NewEventHeader returns the record header for an orbit carrying dataLen bytes.
func NewEventHeader(run, lumisection, orbitID uint32, dataLen int) EventHeader {
	return EventHeader{
		Version:       EventVersion,
		RunNumber:     run,
		Lumisection:   lumisection,
		EventID:       orbitID,
		PayloadLength: uint32(dataLen + sourceIDSize),
		SourceID:      CaloSourceID,
	}
}

// DataLength is the number of orbit bytes that follow the header.
func (h EventHeader) DataLength() int {
	if h.PayloadLength < sourceIDSize {
		return 0
	}
	return int(h.PayloadLength - sourceIDSize)
}

// RecordSize is the total encoded size of the record.
func (h EventHeader) RecordSize() int64 {
	return int64(EventHeaderSize) + int64(h.DataLength())
}

// EncodeTo serializes the header into buf, allocating if buf is shorter than 28 bytes.
func (h EventHeader) EncodeTo(buf []byte) []byte {
	if len(buf) < EventHeaderSize {
		buf = make([]byte, EventHeaderSize)
	} else {
		buf = buf[:EventHeaderSize]
	}
	binary.LittleEndian.PutUint16(buf[0:2], h.Version)
	binary.LittleEndian.PutUint16(buf[2:4], h.Flags)
	binary.LittleEndian.PutUint32(buf[4:8], h.RunNumber)
	binary.LittleEndian.PutUint32(buf[8:12], h.Lumisection)
	binary.LittleEndian.PutUint32(buf[12:16], h.EventID)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLength)
	binary.LittleEndian.PutUint32(buf[20:24], h.Checksum)
	binary.LittleEndian.PutUint32(buf[24:28], h.SourceID)
	return buf
}

// DecodeEventHeader parses the fixed record header at the start of buf.
func DecodeEventHeader(buf []byte) (EventHeader, error) {
	if len(buf) < EventHeaderSize {
		return EventHeader{}, io.ErrUnexpectedEOF
	}
	return EventHeader{
		Version:       binary.LittleEndian.Uint16(buf[0:2]),
		Flags:         binary.LittleEndian.Uint16(buf[2:4]),
		RunNumber:     binary.LittleEndian.Uint32(buf[4:8]),
		Lumisection:   binary.LittleEndian.Uint32(buf[8:12]),
		EventID:       binary.LittleEndian.Uint32(buf[12:16]),
		PayloadLength: binary.LittleEndian.Uint32(buf[16:20]),
		Checksum:      binary.LittleEndian.Uint32(buf[20:24]),
		SourceID:      binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}

// FileName returns the base name of the calorimeter raw file for a run and lumisection.
func FileName(run, lumisection uint32) string {
	return fmt.Sprintf("run%d_ls%04d_index000000.raw_1", run, lumisection)
}

// FilePath joins dir with FileName.
func FilePath(dir string, run, lumisection uint32) string {
	return filepath.Join(dir, FileName(run, lumisection))
}

// LumisectionOf returns the lumisection an orbit number belongs to.
func LumisectionOf(orbitID uint32) uint32 {
	return orbitID >> LumisectionShift
}
