package store

import "sync"

// ChangeEvent is published on every MetaStore mutation so the presentation
// layer can re-render (spec.md §6 "Observable outputs"). Record is nil when
// the upload was removed. This is the Go-channel equivalent of the source's
// "narrow observer interface with subscribe(fn) -> unsubscribe" (spec.md §9);
// diffing is left to the subscriber, same as the source.
type ChangeEvent struct {
	UploadID string
	Record   *UploadRecord
}

// broadcaster fans out ChangeEvents to any number of subscribers without
// letting a slow subscriber block a mutation.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan ChangeEvent
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe returns a channel of future change events and an unsubscribe
// function. The channel is buffered; if a subscriber falls behind, the
// oldest unread event is dropped rather than blocking mutations.
func (b *broadcaster) Subscribe() (<-chan ChangeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan ChangeEvent, 32)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (b *broadcaster) publish(ev ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop the oldest queued event to make
			// room rather than block the mutation that triggered this.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
