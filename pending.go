package dbsock

import "sync"

// ResponseFunc receives the fields of a response
type ResponseFunc func(fields *Fields)

type pendingRequest struct {
	seq       uint64
	onSuccess ResponseFunc
	onFailure ResponseFunc
}

// pendingTable holds requests awaiting a response, in the order they were sent
type pendingTable struct {
	mu      sync.Mutex
	entries []pendingRequest
}

func (t *pendingTable) add(p pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, p)
}

// take removes and returns the entry for seq. The table is rebuilt from a snapshot so that
// callbacks issuing new requests never observe a half-updated table.
func (t *pendingTable) take(seq uint64) (pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var found pendingRequest
	ok := false
	remaining := make([]pendingRequest, 0, len(t.entries))
	for _, p := range t.entries {
		if !ok && p.seq == seq {
			found, ok = p, true
			continue
		}
		remaining = append(remaining, p)
	}
	if ok {
		t.entries = remaining
	}
	return found, ok
}

// drain removes and returns every entry
func (t *pendingTable) drain() []pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.entries
	t.entries = nil
	return entries
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
