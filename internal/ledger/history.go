package ledger

import "github.com/oddslab/bookmon/internal/model"

// historyRing is a fixed-capacity ring of book snapshots. When full, the
// oldest entry is overwritten. Not safe for concurrent use on its own; the
// ledger's lock covers it.
type historyRing struct {
	buf   []model.BookSnapshot
	head  int // next write position
	count int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity < 1 {
		capacity = 1
	}
	return &historyRing{buf: make([]model.BookSnapshot, capacity)}
}

func (r *historyRing) push(s model.BookSnapshot) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// items returns the retained snapshots oldest first.
func (r *historyRing) items() []model.BookSnapshot {
	out := make([]model.BookSnapshot, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
