package engine

import "sync"

// turnstile lets workers apply extractor updates one at a time in the
// sequence the capture loop assigned. Host-pair streams are shared by both
// senders of a conversation, so per-worker FIFO order alone cannot keep
// them in capture order.
type turnstile struct {
	mu   sync.Mutex
	cond sync.Cond
	next uint64
}

func newTurnstile() *turnstile {
	t := &turnstile{}
	t.cond.L = &t.mu
	return t
}

// enter blocks until seq holds the turn.
func (t *turnstile) enter(seq uint64) {
	t.mu.Lock()
	for t.next != seq {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// leave passes the turn to the next sequence number.
func (t *turnstile) leave() {
	t.mu.Lock()
	t.next++
	t.mu.Unlock()
	t.cond.Broadcast()
}
