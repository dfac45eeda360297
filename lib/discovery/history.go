package discovery

import "sync"

// history is a fixed-size ring of publish records.
type history struct {
	mu    sync.Mutex
	buf   []PublishRecord
	start int
	size  int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]PublishRecord, capacity)}
}

func (h *history) add(r PublishRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := (h.start + h.size) % len(h.buf)
	h.buf[idx] = r
	if h.size < len(h.buf) {
		h.size++
	} else {
		h.start = (h.start + 1) % len(h.buf)
	}
}

// last returns the newest limit records oldest first, or all when limit <= 0.
func (h *history) last(limit int) []PublishRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PublishRecord, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}
