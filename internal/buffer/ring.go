package buffer

// Ring is a fixed-capacity FIFO that overwrites its oldest entry once full.
// It is not safe for concurrent use; callers hold their own lock.
type Ring[T any] struct {
	entries []T
	head    int
	size    int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

func (r *Ring[T]) Push(entry T) {
	if r == nil || len(r.entries) == 0 {
		return
	}
	tail := (r.head + r.size) % len(r.entries)
	r.entries[tail] = entry
	if r.size < len(r.entries) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.size
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Last returns up to n of the newest entries, oldest first. n <= 0 returns everything.
func (r *Ring[T]) Last(n int) []T {
	if r == nil || r.size == 0 {
		return nil
	}
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.head+offset+i)%len(r.entries)]
	}
	return out
}

func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.head = 0
	r.size = 0
}
