package bridge

import (
	"sync"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// ControlOp is the control channel's operation word, per spec.md §4.9.
type ControlOp int32

const (
	ControlNone ControlOp = iota
	ControlStdinRequest
	ControlResize
	ControlExit
)

const (
	statusIdle = iota
	statusPending
)

// Control is the 4 KiB control channel's stand-in: a small header (op,
// status, lengths) plus a payload area, used for stdin requests, resize
// events, and exit signalling between the worker and the foreground.
type Control struct {
	status atomicbitops.Uint32

	mu     sync.Mutex
	op     ControlOp
	rows   uint16
	cols   uint16
	exitCode int32
}

func NewControl() *Control { return &Control{} }

// SignalResize records a terminal resize event for the foreground to
// forward into the guest's ioctl(TIOCGWINSZ) surface.
func (c *Control) SignalResize(rows, cols uint16) {
	c.mu.Lock()
	c.op = ControlResize
	c.rows, c.cols = rows, cols
	c.mu.Unlock()
	c.status.Store(statusPending)
}

// SignalExit records that the guest process has exited, for the
// foreground's event loop to notice and stop polling.
func (c *Control) SignalExit(code int32) {
	c.mu.Lock()
	c.op = ControlExit
	c.exitCode = code
	c.mu.Unlock()
	c.status.Store(statusPending)
}

// Poll drains any pending control message. ok is false when the
// channel is idle.
func (c *Control) Poll() (op ControlOp, rows, cols uint16, exitCode int32, ok bool) {
	if c.status.Load() == statusIdle {
		return ControlNone, 0, 0, 0, false
	}
	c.mu.Lock()
	op, rows, cols, exitCode = c.op, c.rows, c.cols, c.exitCode
	c.mu.Unlock()
	c.status.Store(statusIdle)
	return op, rows, cols, exitCode, true
}
