package scouting

import (
	"fmt"
	"log/slog"
)

// OrbitSink receives completed orbits.
type OrbitSink interface {
	WriteOrbit(orbitID uint32, data []byte) error
}

// OrbitOpenFunc is called with the id of every newly opened orbit, after the
// previous orbit has been flushed and before the new orbit's first fragment is
// buffered.
type OrbitOpenFunc func(orbitID int32) error

// OrbitAssembler concatenates consecutive fragments that share an orbit number.
//
// All fragments in the buffer have the same orbit number, and an orbit is
// flushed before any fragment of a later orbit is buffered. A fragment with a
// smaller orbit number than the open one is rejected with ErrOutOfOrderOrbit.
type OrbitAssembler struct {
	sink   OrbitSink
	onOpen OrbitOpenFunc
	logger *slog.Logger

	started   bool
	orbitID   int32
	buf       []byte
	fragments int
	flushed   int64
}

// NewOrbitAssembler returns an assembler flushing into sink. onOpen may be nil.
func NewOrbitAssembler(sink OrbitSink, onOpen OrbitOpenFunc, logger *slog.Logger) *OrbitAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	if onOpen == nil {
		onOpen = func(int32) error { return nil }
	}
	return &OrbitAssembler{
		sink:   sink,
		onOpen: onOpen,
		logger: logger.With("component", "orbit-assembler"),
		buf:    make([]byte, 0, 64*FragmentSize),
	}
}

// IsNewOrbit reports whether f would open a new orbit.
func (a *OrbitAssembler) IsNewOrbit(f *Fragment) bool {
	return !a.started || f.OrbitID != a.orbitID
}

// Accept adds f to the open orbit, or flushes the open orbit and opens a new
// one when f carries a larger orbit number. It reports whether a new orbit was
// opened.
func (a *OrbitAssembler) Accept(f *Fragment) (bool, error) {
	if f.OrbitID < 0 {
		return false, fmt.Errorf("%w: %d", ErrNegativeOrbit, f.OrbitID)
	}

	if a.started && f.OrbitID == a.orbitID {
		a.append(f)
		return false, nil
	}

	if a.started {
		if f.OrbitID < a.orbitID {
			return false, fmt.Errorf("%w: %d -> %d", ErrOutOfOrderOrbit, a.orbitID, f.OrbitID)
		}
		if gap := int64(f.OrbitID) - int64(a.orbitID); gap > 1 {
			a.logger.Warn("orbit gap",
				slog.Int("previous", int(a.orbitID)),
				slog.Int("next", int(f.OrbitID)),
				slog.Int64("missing", gap-1),
			)
		}
		if err := a.Flush(); err != nil {
			return false, err
		}
	}

	if err := a.onOpen(f.OrbitID); err != nil {
		return false, err
	}

	a.started = true
	a.orbitID = f.OrbitID
	a.append(f)
	return true, nil
}

func (a *OrbitAssembler) append(f *Fragment) {
	a.buf = f.AppendTo(a.buf)
	a.fragments++
}

// Flush hands the open orbit to the sink and empties the buffer.
// It is a no-op when the buffer is empty.
func (a *OrbitAssembler) Flush() error {
	if len(a.buf) == 0 {
		return nil
	}
	if err := a.sink.WriteOrbit(uint32(a.orbitID), a.buf); err != nil {
		return fmt.Errorf("flush orbit %d (%d fragments): %w", a.orbitID, a.fragments, err)
	}
	a.logger.Debug("flushed orbit",
		slog.Int("orbit", int(a.orbitID)),
		slog.Int("fragments", a.fragments),
		slog.Int("bytes", len(a.buf)),
	)
	a.Reset()
	a.flushed++
	return nil
}

// Reset drops the buffered orbit without writing it. The orbit number is kept
// so ordering is still enforced against it.
func (a *OrbitAssembler) Reset() {
	a.buf = a.buf[:0]
	a.fragments = 0
}

// OrbitID returns the number of the open orbit and whether any orbit was opened.
func (a *OrbitAssembler) OrbitID() (int32, bool) {
	return a.orbitID, a.started
}

// Pending returns the number of buffered bytes.
func (a *OrbitAssembler) Pending() int {
	return len(a.buf)
}

// Flushed returns the number of orbits handed to the sink.
func (a *OrbitAssembler) Flushed() int64 {
	return a.flushed
}
