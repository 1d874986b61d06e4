package bridge

// StdoutFile is the fd-1 or fd-2 handle installed in the guest's fd
// table, backed by a StdoutRing. The emulator gives stdout and stderr
// a ring each, and the foreground drains both.
type StdoutFile struct {
	ring *StdoutRing
}

func NewStdoutFile(ring *StdoutRing) *StdoutFile { return &StdoutFile{ring: ring} }

func (f *StdoutFile) Write(p []byte) int { return f.ring.Write(p) }
