package dbsock

import (
	"fmt"
	"testing"
)

func seqs(t *pendingTable) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := make([]uint64, len(t.entries))
	for i, p := range t.entries {
		s[i] = p.seq
	}
	return s
}

func TestPendingTable(t *testing.T) {
	var tab pendingTable
	for seq := uint64(0); seq < 4; seq++ {
		tab.add(pendingRequest{seq: seq})
	}
	assertEq(t, 4, tab.len())

	p, ok := tab.take(2)
	assertEq(t, true, ok)
	assertEq(t, uint64(2), p.seq)
	assertEq(t, "[0 1 3]", fmtSeqs(seqs(&tab)))

	// A second response for the same request finds nothing
	_, ok = tab.take(2)
	assertEq(t, false, ok)
	_, ok = tab.take(100)
	assertEq(t, false, ok)
	assertEq(t, 3, tab.len())

	tab.add(pendingRequest{seq: 4})
	assertEq(t, "[0 1 3 4]", fmtSeqs(seqs(&tab)))

	drained := tab.drain()
	assertEq(t, 4, len(drained))
	assertEq(t, 0, tab.len())
	assertEq(t, 0, len(tab.drain()))
}

func TestPendingTakeDuringCallback(t *testing.T) {
	var tab pendingTable
	called := 0
	tab.add(pendingRequest{seq: 0, onSuccess: func(*Fields) {
		called++
		// Registering a request from within a continuation must not deadlock
		tab.add(pendingRequest{seq: 1})
	}})
	p, ok := tab.take(0)
	assertEq(t, true, ok)
	p.onSuccess(nil)
	assertEq(t, 1, called)
	assertEq(t, "[1]", fmtSeqs(seqs(&tab)))
}

func fmtSeqs(s []uint64) string {
	return fmt.Sprint(s)
}
