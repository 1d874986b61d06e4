// Package emulator wires ArenaMemory, VFS, JITManager, SyscallLayer,
// DynLoader and WorkerBridge into the single Emulator value that drives
// one guest process from a loaded ELF image to exit, per the Design
// Notes' rejection of package-level globals: every piece of emulator
// state is a field on Emulator (or reachable from one), never a
// package var, so multiple Emulators can run in one test binary.
//
// Grounded on cmd/cc/main.go's run() function, which does the same
// construct-then-execute wiring for the teacher's hypervisor-backed
// Instance.
package emulator

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/bridge"
	"github.com/maceip/friscy-sub000/internal/dynload"
	"github.com/maceip/friscy-sub000/internal/execloop"
	"github.com/maceip/friscy-sub000/internal/jit"
	"github.com/maceip/friscy-sub000/internal/syslayer"
	"github.com/maceip/friscy-sub000/internal/vfs"
)

// FileConfig is the shape of an optional -config FILE.yaml override,
// the same "small struct, yaml.Unmarshal straight into it" idiom the
// teacher uses for its own bundle/device config files.
type FileConfig struct {
	HotPageThreshold       uint64   `yaml:"hot_page_threshold"`
	HotRegionThreshold     uint64   `yaml:"hot_region_threshold"`
	CompileBudgetPerSecond float64  `yaml:"compile_budget_per_second"`
	MaxConcurrentCompiles  int64    `yaml:"max_concurrent_compiles"`
	Env                    []string `yaml:"env"`
}

// LoadFileConfig reads and parses a YAML config file at path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("emulator: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("emulator: parse config: %w", err)
	}
	return fc, nil
}

// ApplyTo merges fc's non-zero fields onto cfg, returning the result.
func (fc FileConfig) ApplyTo(cfg Config) Config {
	if fc.HotPageThreshold != 0 {
		cfg.HotPageThreshold = fc.HotPageThreshold
	}
	if fc.HotRegionThreshold != 0 {
		cfg.HotRegionThreshold = fc.HotRegionThreshold
	}
	if fc.CompileBudgetPerSecond != 0 {
		cfg.CompilesPerSecond = fc.CompileBudgetPerSecond
	}
	if fc.MaxConcurrentCompiles != 0 {
		cfg.MaxConcurrentCompiles = fc.MaxConcurrentCompiles
	}
	return cfg
}

// Config are the tunables a caller (the CLI, or a test) may override;
// the zero value of every field means "use the default".
type Config struct {
	CompilesPerSecond     float64
	MaxConcurrentCompiles int64
	HotPageThreshold      uint64
	HotRegionThreshold    uint64
}

func (c Config) withDefaults() Config {
	if c.CompilesPerSecond == 0 {
		c.CompilesPerSecond = 200
	}
	if c.MaxConcurrentCompiles == 0 {
		c.MaxConcurrentCompiles = 4
	}
	return c
}

// Emulator owns every piece of state one guest process's lifetime
// touches: the flat guest address space, the virtual filesystem, the
// JIT region manager, the syscall layer's scheduler, the ELF loader,
// and the WorkerBridge channels to the foreground.
type Emulator struct {
	Arena   *arena.Arena
	FS      *vfs.FS
	JIT     *jit.Manager
	Loader  *dynload.Loader
	Sched   *syslayer.Scheduler
	Loop    *execloop.Loop

	Control *bridge.Control
	Stdout  *bridge.StdoutRing
	Stderr  *bridge.StdoutRing
	Stdin   *bridge.StdinFile
	Net     *bridge.NetworkRPC
}

// New builds an Emulator with a fresh arena and filesystem, ready for
// LoadRootfs and Start. net may be nil when the entry binary is known
// not to touch sockets (most test setups); socket syscalls then fail
// with ENOSYS instead of blocking forever on an unserved channel.
func New(cfg Config, net *bridge.NetworkRPC) (*Emulator, error) {
	cfg = cfg.withDefaults()

	e := &Emulator{
		FS:      vfs.New(),
		Sched:   syslayer.NewScheduler(),
		Control: bridge.NewControl(),
		Stdout:  bridge.NewStdoutRing(),
		Stderr:  bridge.NewStdoutRing(),
		Stdin:   bridge.NewStdinFile(),
		Net:     net,
	}

	var err error
	e.Arena, err = arena.New(func(addr, length uint64) {
		if e.JIT != nil {
			e.JIT.Invalidate(addr, length)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("emulator: %w", err)
	}

	// The compiled path never calls back into Go for a syscall (see
	// internal/jit/exec.go's SyscallFunc doc): ExecutionLoop detects
	// Result.Syscall itself and dispatches through syslayer directly,
	// so this callback is installed only to satisfy NewManager's
	// signature and is never invoked.
	e.JIT = jit.NewManager(e.Arena, func(uint64, uint64) uint64 { return 0 }, cfg.CompilesPerSecond, cfg.MaxConcurrentCompiles)
	e.JIT.SetThresholds(cfg.HotPageThreshold, cfg.HotRegionThreshold)
	e.Loader = dynload.New(e.Arena, e.FS)
	e.Loop = execloop.New(e.Arena, e.JIT, e.Sched)

	return e, nil
}

// LoadRootfs ingests a ustar stream as the guest filesystem's initial
// contents, ahead of Start.
func (e *Emulator) LoadRootfs(r io.Reader) error {
	return e.FS.LoadTar(r)
}

// ExportRootfs serializes the current filesystem tree back to ustar,
// for --export-tar.
func (e *Emulator) ExportRootfs(w io.Writer) error {
	return e.FS.ExportTar(w)
}

// installStdio puts the bridge's stdin/stdout/stderr handles at fds
// 0/1/2 of a fresh process's fd table, ahead of the first Dispatch.
func (e *Emulator) installStdio(ctx *syslayer.Context) {
	ctx.Fds.Set(0, e.Stdin)
	ctx.Fds.Set(1, bridge.NewStdoutFile(e.Stdout))
	ctx.Fds.Set(2, bridge.NewStdoutFile(e.Stderr))
}

// Start loads path as the initial program image (argv[0] is path
// itself, by convention) and registers its pid-1 thread with the
// scheduler, but does not run it — call Run for that.
func (e *Emulator) Start(path string, args, env []string) error {
	argv := append([]string{path}, args...)
	entry, sp, err := e.Loader.Exec(path, argv, env)
	if err != nil {
		return err
	}

	ctx := syslayer.NewContext(e.Arena, e.FS, e.Loader, e.Sched)
	ctx.Net = e.Net
	e.installStdio(ctx)

	thread := &syslayer.Thread{Ctx: ctx, PC: entry, Running: true}
	thread.Regs[2] = sp // sp = x2, per the RISC-V integer ABI
	e.Sched.Add(thread)
	return nil
}

// Run drives the loaded program to completion, returning its exit
// code. Feed/Drain may be called concurrently from another goroutine
// while Run is in progress (Stdin/Stdout/Stderr are each safe for
// concurrent single-writer/single-reader use).
func (e *Emulator) Run() (int32, error) {
	code, err := e.Loop.Run()
	e.Control.SignalExit(code)
	return code, err
}

// FeedStdin appends foreground-supplied bytes to the guest's stdin and
// wakes any thread parked waiting for them.
func (e *Emulator) FeedStdin(data []byte) {
	e.Stdin.Feed(data)
	e.Sched.WakeStdin()
}

// DrainStdout copies up to len(p) bytes of guest stdout output into p,
// for the foreground to forward to the real terminal or a pipe.
func (e *Emulator) DrainStdout(p []byte) int { return e.Stdout.Read(p) }

// DrainStderr is DrainStdout's stderr counterpart.
func (e *Emulator) DrainStderr(p []byte) int { return e.Stderr.Read(p) }
