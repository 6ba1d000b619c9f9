package scouting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/unijord/l1scouting/pkg/frd"
)

// Summary describes a finished or aborted run.
type Summary struct {
	State     State
	Fragments int64
	// Orbits counts the orbits accepted into the output.
	Orbits    int64
	BytesRead int64
	Files     []frd.FinalizedFileInfo
}

// Converter drives the fragment stream through the orbit assembler and the
// lumisection router into the FRD writer.
//
// A run is single pass: one fragment is read and fully handled before the next.
// Any fatal condition ends the run in StateAborted. Converter is not safe for
// concurrent use.
type Converter struct {
	cfg    Config
	logger *slog.Logger

	reader    *FragmentReader
	writer    *frd.Writer
	assembler *OrbitAssembler
	router    *LumisectionRouter

	state  State
	orbits int64
	files  []frd.FinalizedFileInfo
}

// NewConverter prepares a run reading fragments from r. The input named in
// cfg is ignored; use Convert to open it from the configuration.
func NewConverter(r io.Reader, cfg Config) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Converter{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "converter", "run", cfg.RunNumber),
		reader: NewFragmentReader(r),
		state:  StateIdle,
	}

	w, err := frd.NewWriter(cfg.OutputDir, cfg.RunNumber,
		frd.WithLogger(cfg.Logger),
		frd.WithSyncOnFinalize(cfg.SyncOnFinalize),
		frd.WithOnFileFinalized(func(info frd.FinalizedFileInfo) {
			c.files = append(c.files, info)
		}),
	)
	if err != nil {
		return nil, err
	}
	c.writer = w
	c.router = NewLumisectionRouter(w)
	c.assembler = NewOrbitAssembler(w, c.router.Route, cfg.Logger)
	return c, nil
}

// Convert opens the input named in cfg and runs the conversion to completion.
func Convert(ctx context.Context, cfg Config) (Summary, error) {
	var in io.Reader = os.Stdin
	if !cfg.IsStdin() {
		fd, err := os.Open(cfg.Input)
		if err != nil {
			return Summary{State: StateAborted}, fmt.Errorf("open input: %w", err)
		}
		defer fd.Close()
		in = fd
	}

	c, err := NewConverter(in, cfg)
	if err != nil {
		return Summary{State: StateAborted}, err
	}
	return c.Run(ctx)
}

// Run reads the stream until it ends, the orbit budget is used up, or a fatal
// error occurs. The context is checked between fragments only; a read that is
// blocked on the input is not interrupted.
func (c *Converter) Run(ctx context.Context) (Summary, error) {
	if c.state != StateIdle {
		return c.summary(), fmt.Errorf("converter already ran, state %s", c.state)
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.abort(err)
		}

		f, err := c.reader.Next()
		if errors.Is(err, io.EOF) {
			return c.finish("end of stream")
		}
		if err != nil {
			return c.abort(err)
		}

		if c.state == StateIdle {
			if err := c.transition(StateStreaming); err != nil {
				return c.abort(err)
			}
		}

		// the orbit that used up the budget is complete once another one starts.
		if c.state == StateDraining && c.assembler.IsNewOrbit(&f) {
			return c.finish("orbit budget reached")
		}

		opened, err := c.assembler.Accept(&f)
		if err != nil {
			return c.abort(err)
		}
		if opened {
			c.orbitOpened(f.OrbitID)
		}
		if c.state == StateStreaming && c.budgetReached() {
			if err := c.transition(StateDraining); err != nil {
				return c.abort(err)
			}
		}
	}
}

func (c *Converter) orbitOpened(orbitID int32) {
	c.orbits++
	if c.cfg.ProgressEvery > 0 && c.orbits%c.cfg.ProgressEvery == 0 {
		c.logger.Info("processed orbits",
			slog.Int64("orbits", c.orbits),
			slog.Int("orbit", int(orbitID)),
		)
	}
}

func (c *Converter) budgetReached() bool {
	return c.cfg.MaxOrbits > 0 && c.orbits >= c.cfg.MaxOrbits
}

// finish flushes the open orbit and finalizes the open file.
func (c *Converter) finish(reason string) (Summary, error) {
	if err := c.assembler.Flush(); err != nil {
		return c.abort(err)
	}
	if c.writer.HasOpenFile() {
		if err := c.writer.Finalize(); err != nil {
			return c.abort(err)
		}
	}
	if err := c.transition(StateFinished); err != nil {
		return c.abort(err)
	}

	c.logger.Info("finish",
		slog.String("reason", reason),
		slog.Int64("orbits", c.orbits),
		slog.Int64("max_orbits", c.cfg.MaxOrbits),
		slog.Int64("fragments", c.reader.Count()),
		slog.Int("files", len(c.files)),
	)
	return c.summary(), nil
}

// abort ends the run. The open file keeps its placeholder header unless
// FinalizeOnAbort is set, in which case the orbit in progress is dropped and
// the file is finalized with the orbits already written.
func (c *Converter) abort(cause error) (Summary, error) {
	c.state = StateAborted

	orbitID, _ := c.assembler.OrbitID()
	ls, _ := c.router.Active()
	err := fmt.Errorf("run %d aborted at stream offset %d (orbit %d, lumisection %d): %w",
		c.cfg.RunNumber, c.reader.Offset(), orbitID, ls, cause)

	var closeErr error
	if c.cfg.FinalizeOnAbort && c.writer.HasOpenFile() {
		c.assembler.Reset()
		closeErr = c.writer.Finalize()
	} else {
		closeErr = c.writer.Abandon()
	}
	if closeErr != nil {
		err = errors.Join(err, closeErr)
	}

	c.logger.Error("run aborted",
		slog.String("error", err.Error()),
		slog.Int64("orbits", c.orbits),
		slog.Int64("stream_offset", c.reader.Offset()),
	)
	return c.summary(), err
}

func (c *Converter) transition(to State) error {
	if !isAllowedTransition(c.state, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", c.state, to)
	}
	c.logger.Debug("state transition",
		slog.String("from", c.state.String()),
		slog.String("to", to.String()),
	)
	c.state = to
	return nil
}

func (c *Converter) summary() Summary {
	files := make([]frd.FinalizedFileInfo, len(c.files))
	copy(files, c.files)
	return Summary{
		State:     c.state,
		Fragments: c.reader.Count(),
		Orbits:    c.orbits,
		BytesRead: c.reader.Offset(),
		Files:     files,
	}
}

// State returns the current state of the run.
func (c *Converter) State() State {
	return c.state
}
