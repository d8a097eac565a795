package notify

import "sync"

// Event topics published between components.
const (
	TopicAttachmentsCleared = "attachments:cleared"
	TopicThreadCreated      = "thread:created"
	TopicFileAttached       = "file:attached"
)

// Event is a published message. Payload depends on the topic.
type Event struct {
	Topic   string
	Payload interface{}
}

// Bus is a synchronous in-process publish/subscribe hub. The zero value is
// ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Event)
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string]map[int]func(Event))
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Event))
	}
	b.nextID++
	id := b.nextID
	b.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers an event to every current subscriber of topic. A nil Bus
// drops the event.
func (b *Bus) Publish(topic string, payload interface{}) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, fn := range handlers {
		fn(ev)
	}
}
