package arena

import "testing"

func TestReadWriteRoundTrip(t *testing.T) {
	a, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	addr := uint64(PageSize)
	if err := a.SetPageAttrs(addr, PageSize, Read|Write); err != nil {
		t.Fatalf("SetPageAttrs: %v", err)
	}

	if err := WriteT[uint64](a, addr, 0xdeadbeefcafef00d); err != nil {
		t.Fatalf("WriteT: %v", err)
	}
	got, err := ReadT[uint64](a, addr)
	if err != nil {
		t.Fatalf("ReadT: %v", err)
	}
	if got != 0xdeadbeefcafef00d {
		t.Fatalf("got 0x%x, want 0xdeadbeefcafef00d", got)
	}
}

func TestProtectionFault(t *testing.T) {
	a, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	addr := uint64(PageSize)
	if err := a.SetPageAttrs(addr, PageSize, Read); err != nil {
		t.Fatalf("SetPageAttrs: %v", err)
	}
	if err := WriteT[uint32](a, addr, 1); err == nil {
		t.Fatal("expected protection fault writing to read-only page")
	} else if _, ok := err.(*ProtectionFault); !ok {
		t.Fatalf("expected *ProtectionFault, got %T: %v", err, err)
	}
}

func TestSetPageAttrsInvalidatesExecOnWriteGrant(t *testing.T) {
	var gotAddr, gotLen uint64
	calls := 0
	a, err := New(func(addr, length uint64) {
		calls++
		gotAddr, gotLen = addr, length
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	addr := uint64(PageSize)
	if err := a.SetPageAttrs(addr, PageSize, Read|Exec); err != nil {
		t.Fatalf("SetPageAttrs exec: %v", err)
	}
	if calls != 0 {
		t.Fatalf("unexpected invalidate on initial exec grant")
	}

	if err := a.SetPageAttrs(addr, PageSize, Read|Write); err != nil {
		t.Fatalf("SetPageAttrs write: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one invalidate call, got %d", calls)
	}
	if gotAddr != addr || gotLen != PageSize {
		t.Fatalf("invalidate range = [0x%x, +0x%x), want [0x%x, +0x%x)", gotAddr, gotLen, addr, uint64(PageSize))
	}
}

func TestMMapAllocateBumpIsMonotonic(t *testing.T) {
	a, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	first, err := a.MMapAllocate(4096, 0)
	if err != nil {
		t.Fatalf("MMapAllocate: %v", err)
	}
	second, err := a.MMapAllocate(4096, 0)
	if err != nil {
		t.Fatalf("MMapAllocate: %v", err)
	}
	if second <= first {
		t.Fatalf("bump allocator not monotonic: first=0x%x second=0x%x", first, second)
	}
}

func TestMMapAllocateHighHintFails(t *testing.T) {
	a, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := a.MMapAllocate(4096, Size+PageSize); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory for above-arena hint, got %v", err)
	}
}
