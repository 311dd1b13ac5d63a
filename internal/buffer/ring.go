package buffer

// Ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type Ring[T any] struct {
	entries []T
	next    int
	filled  bool
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		entries: make([]T, 0, capacity),
	}
}

func (r *Ring[T]) Add(entry T) {
	if r == nil {
		return
	}
	if !r.filled {
		r.entries = append(r.entries, entry)
		if len(r.entries) == cap(r.entries) {
			r.filled = true
		}
		return
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// List returns the buffered entries oldest first.
func (r *Ring[T]) List() []T {
	if r == nil || len(r.entries) == 0 {
		return nil
	}
	out := make([]T, 0, len(r.entries))
	if r.filled {
		out = append(out, r.entries[r.next:]...)
		out = append(out, r.entries[:r.next]...)
		return out
	}
	return append(out, r.entries...)
}

// Last returns up to count entries from the newest end, oldest first.
func (r *Ring[T]) Last(count int) []T {
	all := r.List()
	if count <= 0 || count >= len(all) {
		return all
	}
	return all[len(all)-count:]
}
