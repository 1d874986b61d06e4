package bridge

import "testing"

func TestStdinFileWouldBlockWhenEmpty(t *testing.T) {
	f := NewStdinFile()
	buf := make([]byte, 16)
	n, wouldBlock := f.Read(buf)
	if n != 0 || !wouldBlock {
		t.Fatalf("Read() on empty StdinFile = %d, %v, want 0, true", n, wouldBlock)
	}
	if f.Pending() {
		t.Fatalf("Pending() true on empty StdinFile")
	}
}

func TestStdinFileFeedThenRead(t *testing.T) {
	f := NewStdinFile()
	f.Feed([]byte("abc"))
	if !f.Pending() {
		t.Fatalf("Pending() false after Feed")
	}

	buf := make([]byte, 2)
	n, wouldBlock := f.Read(buf)
	if n != 2 || wouldBlock {
		t.Fatalf("first Read() = %d, %v, want 2, false", n, wouldBlock)
	}
	if string(buf[:n]) != "ab" {
		t.Fatalf("first Read() content = %q", buf[:n])
	}

	n, wouldBlock = f.Read(buf)
	if n != 1 || wouldBlock || buf[0] != 'c' {
		t.Fatalf("second Read() = %d, %v, %q, want 1, false, 'c'", n, wouldBlock, buf[:n])
	}

	if f.Pending() {
		t.Fatalf("Pending() true after fully draining buffer")
	}
}
