package wallet

import "sync"

// NonceTracker hands out a gap-free, strictly increasing sequence of
// nonces for one address. Grounded on the teacher's internal/risk/engine.go
// practice of guarding a small piece of hot mutable state behind a single
// mutex rather than a channel or atomic.
//
// Spec invariant: over any interleaving of concurrent execute() calls,
// nonces issued at step 8 of the execution contract never repeat and never
// skip.
type NonceTracker struct {
	mu   sync.Mutex
	next uint64
}

// NewNonceTracker seeds the tracker from the chain's reported pending
// nonce at startup.
func NewNonceTracker(pendingNonce uint64) *NonceTracker {
	return &NonceTracker{next: pendingNonce}
}

// Next returns the next nonce to use and advances the counter.
func (nt *NonceTracker) Next() uint64 {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n := nt.next
	nt.next++
	return n
}

// Reset recovers the tracker after a failed broadcast or a restart,
// re-synchronizing against the chain's latest confirmed nonce. It never
// moves the counter backwards below what the chain reports, so an
// in-flight Next() that already consumed a higher value is never reissued.
func (nt *NonceTracker) Reset(chainNonce uint64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if chainNonce > nt.next {
		nt.next = chainNonce
	}
}

// Peek returns the next nonce that would be issued, without consuming it.
func (nt *NonceTracker) Peek() uint64 {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return nt.next
}
