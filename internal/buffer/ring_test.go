package buffer

import "testing"

func TestRingOverwritesOldest(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Push(i)
	}

	got := ring.Last(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []int{3, 4, 5} {
		if got[i] != want {
			t.Fatalf("entry %d: expected %d, got %d", i, want, got[i])
		}
	}
}

func TestRingLastReturnsNewest(t *testing.T) {
	ring := NewRing[string](4)
	ring.Push("a")
	ring.Push("b")
	ring.Push("c")

	got := ring.Last(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c], got %v", got)
	}
}

func TestRingReset(t *testing.T) {
	ring := NewRing[int](2)
	ring.Push(1)
	ring.Reset()
	if ring.Len() != 0 {
		t.Fatalf("expected empty ring, got %d", ring.Len())
	}
	if ring.Last(0) != nil {
		t.Fatalf("expected nil list after reset")
	}
	ring.Push(7)
	if got := ring.Last(1); len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected [7], got %v", got)
	}
}

func TestRingZeroCapacity(t *testing.T) {
	ring := NewRing[int](0)
	if ring.Cap() != 1 {
		t.Fatalf("expected capacity 1, got %d", ring.Cap())
	}
}
