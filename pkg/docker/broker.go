package docker

import "sync"

// statusBroker fans container status changes out to every subscriber.
// Subscribers which are not keeping up will miss updates rather than
// blocking the publisher.
type statusBroker struct {
	mu          sync.Mutex
	subscribers map[chan *dockerContainerStatus]struct{}
	closed      bool
}

func newStatusBroker() *statusBroker {
	return &statusBroker{subscribers: make(map[chan *dockerContainerStatus]struct{})}
}

func (b *statusBroker) Subscribe() chan *dockerContainerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *dockerContainerStatus, 10)
	if b.closed {
		close(ch)
		return ch
	}

	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *statusBroker) Unsubscribe(ch chan *dockerContainerStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

func (b *statusBroker) Publish(msg *dockerContainerStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *statusBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan *dockerContainerStatus]struct{})
	b.closed = true
}
