// Command scouting2raw converts a calorimeter scouting fragment stream into
// per-lumisection FRD v2 raw files.
//
//	scouting2raw [flags] <input|stdin> <output dir> <run number> <max orbits>
//
// The positional arguments override the values of a -config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/unijord/l1scouting/pkg/logging"
	"github.com/unijord/l1scouting/pkg/scouting"
)

const (
	exitOK    = 0
	exitFatal = 1
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "scouting2raw: %v\n", err)
		return exitFatal
	}

	cfg.Logger = logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: stderr,
	})

	summary, err := scouting.Convert(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "scouting2raw: %v\n", err)
		return exitFatal
	}
	for _, f := range summary.Files {
		fmt.Fprintf(stderr, "%s ls=%d orbits=%d bytes=%d\n", f.Path, f.Lumisection, f.EventCount, f.FileSize)
	}
	return exitOK
}

func parseArgs(args []string, stderr io.Writer) (scouting.Config, error) {
	fs := flag.NewFlagSet("scouting2raw", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: scouting2raw [flags] <input|stdin> <output dir> <run number> <max orbits>")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "TOML configuration file")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "log format: text or json")
	finalizeOnAbort := fs.Bool("finalize-on-abort", false, "finalize the open file when the run aborts")
	syncOnFinalize := fs.Bool("sync", false, "fsync each file when it is finalized")
	progressEvery := fs.Int64("progress-every", 0, "log progress every N orbits (0 keeps the configured value)")

	if err := fs.Parse(args); err != nil {
		return scouting.Config{}, err
	}

	cfg := scouting.DefaultConfig()
	if *configPath != "" {
		loaded, err := scouting.LoadConfig(*configPath)
		if err != nil {
			return scouting.Config{}, err
		}
		cfg = loaded
	}

	rest := fs.Args()
	if len(rest) != 0 && len(rest) != 4 {
		fs.Usage()
		return scouting.Config{}, fmt.Errorf("expected 4 positional arguments, got %d", len(rest))
	}
	if len(rest) == 4 {
		run, err := strconv.ParseUint(rest[2], 10, 32)
		if err != nil {
			return scouting.Config{}, fmt.Errorf("invalid run number %q: %w", rest[2], err)
		}
		maxOrbits, err := strconv.ParseInt(rest[3], 10, 64)
		if err != nil {
			return scouting.Config{}, fmt.Errorf("invalid max orbits %q: %w", rest[3], err)
		}
		cfg.Input = rest[0]
		cfg.OutputDir = rest[1]
		cfg.RunNumber = uint32(run)
		cfg.MaxOrbits = maxOrbits
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "finalize-on-abort":
			cfg.FinalizeOnAbort = *finalizeOnAbort
		case "sync":
			cfg.SyncOnFinalize = *syncOnFinalize
		case "progress-every":
			if *progressEvery > 0 {
				cfg.ProgressEvery = *progressEvery
			}
		}
	})

	if err := cfg.Validate(); err != nil {
		return scouting.Config{}, err
	}
	return cfg, nil
}
