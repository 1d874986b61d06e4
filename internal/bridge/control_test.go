package bridge

import "testing"

func TestControlPollIdleByDefault(t *testing.T) {
	c := NewControl()
	if _, _, _, _, ok := c.Poll(); ok {
		t.Fatalf("Poll() on a fresh Control reported a pending message")
	}
}

func TestControlSignalResize(t *testing.T) {
	c := NewControl()
	c.SignalResize(24, 80)

	op, rows, cols, _, ok := c.Poll()
	if !ok {
		t.Fatalf("Poll() after SignalResize reported idle")
	}
	if op != ControlResize || rows != 24 || cols != 80 {
		t.Fatalf("Poll() = %v, %d, %d, want ControlResize, 24, 80", op, rows, cols)
	}
	if _, _, _, _, ok := c.Poll(); ok {
		t.Fatalf("Poll() after drain still reported pending")
	}
}

func TestControlSignalExit(t *testing.T) {
	c := NewControl()
	c.SignalExit(7)

	op, _, _, code, ok := c.Poll()
	if !ok || op != ControlExit || code != 7 {
		t.Fatalf("Poll() = %v, %d, %v, want ControlExit, 7, true", op, code, ok)
	}
}
