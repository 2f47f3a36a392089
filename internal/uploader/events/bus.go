// Package events provides the named broadcast signals the upload core
// emits, so the login screen, the queue and any alerting layer can react to
// the same condition uniformly.
package events

import "sync"

// Topic names a broadcast channel.
type Topic string

const (
	// AuthExpired signals that the bearer credential is no longer usable.
	AuthExpired Topic = "auth.expired"

	// UploadFailed signals a terminal upload failure that needs user
	// attention (background transfers are not requeued automatically).
	UploadFailed Topic = "upload.failed"
)

// Event is one broadcast notification. Title and Body are short,
// user-facing strings; both may be empty for signal-only topics such as
// AuthExpired.
type Event struct {
	Topic Topic
	Title string
	Body  string
}

// Bus is an in-process publish/subscribe hub. Publish never blocks: a
// subscriber whose buffer is full misses the event, which is acceptable for
// advisory signals.
type Bus struct {
	mu   sync.Mutex
	subs map[Topic][]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe returns a buffered channel that receives every event published
// on the given topic after this call.
func (b *Bus) Subscribe(topic Topic) <-chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers e to all current subscribers of its topic.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := append([]chan Event(nil), b.subs[e.Topic]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
