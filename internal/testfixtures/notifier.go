package testfixtures

import (
	"context"
	"sync"

	"github.com/example/activities-management/internal/notify"
)

// RecordingNotifier captures notifications in memory.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

// Notify records events.
func (n *RecordingNotifier) Notify(_ context.Context, events ...notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

// Events returns a copy of everything recorded so far.
func (n *RecordingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

// EntityIDs returns the entity ids of recorded events of the given type.
func (n *RecordingNotifier) EntityIDs(eventType notify.EventType) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, event := range n.events {
		if event.Type == eventType {
			ids = append(ids, event.EntityID)
		}
	}
	return ids
}

// Reset discards recorded events.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}
