package session

import "github.com/ashureev/chatrelay/internal/domain"

// turnRing is a fixed-size circular buffer of turns. When full, appending
// overwrites the oldest turn. It is not safe for concurrent use; the owning
// entry's mutex guards it.
type turnRing struct {
	buf  []domain.Turn
	head int // next write position
	n    int // number of stored turns
}

func newTurnRing(size int) *turnRing {
	if size <= 0 {
		size = DefaultMaxTurns
	}
	return &turnRing{buf: make([]domain.Turn, size)}
}

// Push appends a turn, dropping the oldest when at capacity.
func (r *turnRing) Push(t domain.Turn) {
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// Last returns up to k most recent turns, oldest first. k <= 0 returns all.
func (r *turnRing) Last(k int) []domain.Turn {
	if k <= 0 || k > r.n {
		k = r.n
	}
	out := make([]domain.Turn, k)
	start := (r.head - k + len(r.buf)) % len(r.buf)
	for i := 0; i < k; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
