package scouting

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrTruncatedStream = errors.New("truncated fragment stream")
	ErrOutOfOrderOrbit = errors.New("orbit number decreased")
	ErrNegativeOrbit   = errors.New("negative orbit number")
)

const (
	// PayloadWords is the number of 32-bit words in a calorimeter block.
	PayloadWords = 56
	// PayloadSize is the calorimeter block size in bytes.
	PayloadSize = PayloadWords * 4
	// FragmentSize is header tag + bx + orbit + payload.
	FragmentSize = 4 + 4 + 4 + PayloadSize

	defaultReadBufferSize = 64 * 1024
)

/* Fragment Layout (little-endian):
┌──────────────────────────────────┐
│ 0..3     header tag (opaque)     │
│ 4..7     i32 bunch crossing id   │
│ 8..11    i32 orbit number        │
│ 12..235  56 x u32 calo payload   │
└──────────────────────────────────┘
*/

// Fragment is one fixed-size calorimeter block from the input stream.
type Fragment struct {
	HeaderTag     [4]byte
	BunchCrossing int32
	OrbitID       int32
	Payload       [PayloadSize]byte
}

// DecodeFragment parses a fragment from the first FragmentSize bytes of buf.
func DecodeFragment(buf []byte) (Fragment, error) {
	if len(buf) < FragmentSize {
		return Fragment{}, fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedStream, len(buf), FragmentSize)
	}
	var f Fragment
	copy(f.HeaderTag[:], buf[0:4])
	f.BunchCrossing = int32(binary.LittleEndian.Uint32(buf[4:8]))
	f.OrbitID = int32(binary.LittleEndian.Uint32(buf[8:12]))
	copy(f.Payload[:], buf[12:FragmentSize])
	return f, nil
}

// AppendTo appends the fragment in its wire layout to buf.
func (f *Fragment) AppendTo(buf []byte) []byte {
	buf = append(buf, f.HeaderTag[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.BunchCrossing))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.OrbitID))
	return append(buf, f.Payload[:]...)
}

// Bytes returns the fragment in its wire layout.
func (f *Fragment) Bytes() []byte {
	return f.AppendTo(make([]byte, 0, FragmentSize))
}

// FragmentReader pulls fragments from a byte stream.
// FragmentReader is not safe for concurrent use.
type FragmentReader struct {
	r      *bufio.Reader
	buf    [FragmentSize]byte
	offset int64
	count  int64
}

// NewFragmentReader wraps r. Reads block for as long as r blocks.
func NewFragmentReader(r io.Reader) *FragmentReader {
	return &FragmentReader{r: bufio.NewReaderSize(r, defaultReadBufferSize)}
}

// Next reads exactly one fragment. It returns io.EOF when the stream ends on a
// fragment boundary and ErrTruncatedStream when it ends inside a fragment.
func (fr *FragmentReader) Next() (Fragment, error) {
	n, err := io.ReadFull(fr.r, fr.buf[:])
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Fragment{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			at := fr.offset
			fr.offset += int64(n)
			return Fragment{}, fmt.Errorf("%w: got %d of %d bytes at stream offset %d",
				ErrTruncatedStream, n, FragmentSize, at)
		default:
			return Fragment{}, fmt.Errorf("read fragment at stream offset %d: %w", fr.offset, err)
		}
	}

	f, err := DecodeFragment(fr.buf[:])
	if err != nil {
		return Fragment{}, err
	}
	fr.offset += FragmentSize
	fr.count++
	return f, nil
}

// Offset returns the number of bytes consumed from the stream.
func (fr *FragmentReader) Offset() int64 {
	return fr.offset
}

// Count returns the number of complete fragments read.
func (fr *FragmentReader) Count() int64 {
	return fr.count
}
