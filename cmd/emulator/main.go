package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/mod/semver"
	"golang.org/x/term"

	"github.com/maceip/friscy-sub000/internal/bridge"
	"github.com/maceip/friscy-sub000/internal/emulator"
)

// version is the build/version string reported by -version, following
// the module's own semver tags.
const version = "v0.1.0"

func main() {
	if err := run(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries the guest's own exit code out of run so main can
// os.Exit with it instead of the generic failure code 1.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("guest exited with code %d", e.code) }

func run() error {
	rootfs := flag.String("rootfs", "", "Tar file to load as the initial guest filesystem")
	exportTar := flag.String("export-tar", "", "Write the final guest filesystem to this tar file on exit")
	verbosity := flag.String("v", "info", "Log level: debug, info, warn, error")
	configFile := flag.String("config", "", "Optional YAML file overriding JIT thresholds/guest env")
	showProgress := flag.Bool("progress", false, "Show a progress bar while ingesting -rootfs")
	showVersion := flag.Bool("version", false, "Print version and exit")
	hotPage := flag.Uint64("hot-threshold", 0, "Base page hit count before a page becomes compile-eligible (0: package default)")
	hotRegion := flag.Uint64("optimize-threshold", 0, "Base region hit count before a region becomes compile-eligible (0: package default)")
	compileBudget := flag.Float64("compile-budget", 200, "Compiled regions per second the JIT may submit")
	maxConcurrent := flag.Int64("max-concurrent-compiles", 4, "Maximum compiles in flight at once")
	dumpRegion := flag.Uint64("dump-region", 0, "Guest address whose compiled region to export as a standalone .wasm file on exit (0: disabled)")
	dumpRegionOut := flag.String("dump-region-out", "region.wasm", "Output path for -dump-region")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] ENTRY_BINARY [ARG...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run a RISC-V64 Linux binary under the JIT-translating emulator.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version, semverValidity(version))
		return nil
	}

	level := slog.LevelInfo
	switch *verbosity {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return fmt.Errorf("entry binary required")
	}
	entryPath, guestArgs := args[0], args[1:]

	cfg := emulator.Config{
		CompilesPerSecond:     *compileBudget,
		MaxConcurrentCompiles: *maxConcurrent,
		HotPageThreshold:      *hotPage,
		HotRegionThreshold:    *hotRegion,
	}
	var env []string
	if *configFile != "" {
		fc, err := emulator.LoadFileConfig(*configFile)
		if err != nil {
			return err
		}
		cfg = fc.ApplyTo(cfg)
		env = fc.Env
	}

	net := bridge.NewNetworkRPC()
	netStop := make(chan struct{})
	defer close(netStop)
	go net.Serve(bridge.NopAdaptor{}, netStop)

	em, err := emulator.New(cfg, net)
	if err != nil {
		return err
	}

	if *rootfs != "" {
		f, err := os.Open(*rootfs)
		if err != nil {
			return fmt.Errorf("open -rootfs: %w", err)
		}
		defer f.Close()

		var r io.Reader = f
		if *showProgress {
			fi, _ := f.Stat()
			bar := progressbar.DefaultBytes(fi.Size(), "loading rootfs")
			r = io.TeeReader(f, bar)
		}
		if err := em.LoadRootfs(r); err != nil {
			return fmt.Errorf("load -rootfs: %w", err)
		}
	}

	if err := em.Start(entryPath, guestArgs, env); err != nil {
		return fmt.Errorf("start %s: %w", entryPath, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		restoreFd := int(os.Stdin.Fd())
		oldState, err := term.MakeRaw(restoreFd)
		if err == nil {
			defer term.Restore(restoreFd, oldState)
		}
	}
	go pumpStdio(em, stop)

	code, err := em.Run()
	if err != nil {
		return fmt.Errorf("run %s: %w", entryPath, err)
	}

	if *dumpRegion != 0 {
		data, ok, derr := em.JIT.Export(*dumpRegion)
		if derr != nil {
			return fmt.Errorf("dump-region %#x: %w", *dumpRegion, derr)
		}
		if !ok {
			slog.Warn("dump-region: no compiled module at that address", "addr", *dumpRegion)
		} else if err := os.WriteFile(*dumpRegionOut, data, 0o644); err != nil {
			return fmt.Errorf("write -dump-region-out: %w", err)
		}
	}

	if *exportTar != "" {
		f, err := os.Create(*exportTar)
		if err != nil {
			return fmt.Errorf("create -export-tar: %w", err)
		}
		defer f.Close()
		if err := em.ExportRootfs(f); err != nil {
			return fmt.Errorf("export -export-tar: %w", err)
		}
	}

	if code != 0 {
		return &exitError{code: int(code)}
	}
	return nil
}

// pumpStdio forwards the host's stdin into the guest and the guest's
// stdout/stderr rings back out to the host terminal, until stop closes.
func pumpStdio(em *emulator.Emulator, stop <-chan struct{}) {
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				em.FeedStdin(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	out := make([]byte, 4096)
	errb := make([]byte, 4096)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := em.DrainStdout(out); n > 0 {
				os.Stdout.Write(out[:n])
			}
			if n := em.DrainStderr(errb); n > 0 {
				os.Stderr.Write(errb[:n])
			}
		}
	}
}

func semverValidity(v string) string {
	if semver.IsValid(v) {
		return "(" + semver.Canonical(v) + ")"
	}
	return "(invalid version string)"
}
