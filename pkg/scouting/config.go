package scouting

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
)

// StdinInput names the standard input stream as the fragment source.
const StdinInput = "stdin"

const defaultProgressEvery = 1000

var (
	// ErrMissingInput is returned when no input source is configured.
	ErrMissingInput = errors.New("input source is required")
	// ErrMissingOutputDir is returned when no output directory is configured.
	ErrMissingOutputDir = errors.New("output directory is required")
	// ErrInvalidMaxOrbits is returned when the orbit budget is negative.
	ErrInvalidMaxOrbits = errors.New("max_orbits must not be negative")
)

// Config holds the settings of one conversion run.
type Config struct {
	// Input is a file path or StdinInput.
	Input string `toml:"input"`

	// OutputDir receives one file per lumisection.
	OutputDir string `toml:"output_dir"`

	// RunNumber is stamped into every file and record, whatever the input says.
	RunNumber uint32 `toml:"run_number"`

	// MaxOrbits bounds the number of orbits written. 0 means no bound.
	MaxOrbits int64 `toml:"max_orbits"`

	// FinalizeOnAbort patches and closes the open file when the run aborts,
	// dropping the orbit in progress. When false the file keeps its
	// placeholder header.
	FinalizeOnAbort bool `toml:"finalize_on_abort"`

	// SyncOnFinalize fsyncs each finalized file and the output directory.
	SyncOnFinalize bool `toml:"sync_on_finalize"`

	// ProgressEvery logs progress each time this many orbits were opened.
	ProgressEvery int64 `toml:"progress_every"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Logger *slog.Logger `toml:"-"`
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Input:         StdinInput,
		ProgressEvery: defaultProgressEvery,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks that a run can be started with cfg.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return ErrMissingInput
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return ErrMissingOutputDir
	}
	if c.MaxOrbits < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxOrbits, c.MaxOrbits)
	}
	return nil
}

// IsStdin reports whether the input is the standard input stream.
func (c Config) IsStdin() bool {
	return c.Input == StdinInput || c.Input == "-"
}
