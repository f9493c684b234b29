package channel

import (
	"sync"

	"codraft/internal/protocol"
)

// fakeConn records published intents. Like the real connection it drops
// publishes while disconnected.
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	intents   []protocol.Intent
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true}
}

func (f *fakeConn) Publish(intent protocol.Intent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return
	}
	f.intents = append(f.intents, intent)
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakeConn) published() []protocol.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Intent, len(f.intents))
	copy(out, f.intents)
	return out
}

func (f *fakeConn) edits() []protocol.EditIntent {
	var out []protocol.EditIntent
	for _, intent := range f.published() {
		if edit, ok := intent.(protocol.EditIntent); ok {
			out = append(out, edit)
		}
	}
	return out
}

func (f *fakeConn) saves() []protocol.SaveIntent {
	var out []protocol.SaveIntent
	for _, intent := range f.published() {
		if save, ok := intent.(protocol.SaveIntent); ok {
			out = append(out, save)
		}
	}
	return out
}
