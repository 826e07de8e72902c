package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/event"
	"github.com/stretchr/testify/assert"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls map[string][]uuid.UUID
}

func (b *recordingBroadcaster) record(kind string, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[kind] = append(b.calls[kind], id)
	return nil
}

func (b *recordingBroadcaster) count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls[kind])
}

func (b *recordingBroadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	return b.record("update", id)
}

func (b *recordingBroadcaster) BroadcastDownloadProgress(id uuid.UUID) error {
	return b.record("progress", id)
}

func (b *recordingBroadcaster) BroadcastDownloadComplete(id uuid.UUID) error {
	return b.record("complete", id)
}

func startActivity(t *testing.T, debounce time.Duration, maxWait time.Duration) (event.EventCoordinator, *recordingBroadcaster) {
	bus := event.New()
	rec := &recordingBroadcaster{calls: make(map[string][]uuid.UUID)}
	service := newActivityService(rec, bus)
	service.debounceTime = debounce
	service.maxTime = maxWait

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = service.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return bus, rec
}

func TestActivity_UpdatesAreImmediate(t *testing.T) {
	bus, rec := startActivity(t, time.Hour, time.Hour)

	id := uuid.New()
	bus.Dispatch(event.DownloadUpdateEvent, id)
	bus.Dispatch(event.DownloadUpdateEvent, id)

	assert.Eventually(t, func() bool { return rec.count("update") == 2 }, time.Second, time.Millisecond*5)
}

func TestActivity_ProgressIsDebounced(t *testing.T) {
	bus, rec := startActivity(t, time.Millisecond*50, time.Second)

	id := uuid.New()
	for range 10 {
		bus.Dispatch(event.DownloadProgressEvent, id)
	}

	assert.Eventually(t, func() bool { return rec.count("progress") == 1 }, time.Second, time.Millisecond*5)
	time.Sleep(time.Millisecond * 100)
	assert.Equal(t, 1, rec.count("progress"))
}

func TestActivity_MaxTimerBoundsDebounce(t *testing.T) {
	bus, rec := startActivity(t, time.Millisecond*100, time.Millisecond*150)

	id := uuid.New()
	stop := time.After(time.Millisecond * 400)
	ticker := time.NewTicker(time.Millisecond * 20)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			bus.Dispatch(event.DownloadProgressEvent, id)
		case <-stop:
			break loop
		}
	}

	// The debounce timer never expires while events keep arriving, so every
	// broadcast seen so far was forced by the max timer.
	assert.GreaterOrEqual(t, rec.count("progress"), 2)
}

func TestActivity_CompleteDropsPendingProgress(t *testing.T) {
	bus, rec := startActivity(t, time.Millisecond*100, time.Millisecond*200)

	id := uuid.New()
	bus.Dispatch(event.DownloadProgressEvent, id)
	bus.Dispatch(event.DownloadCompleteEvent, id)

	assert.Eventually(t, func() bool { return rec.count("complete") == 1 }, time.Second, time.Millisecond*5)
	time.Sleep(time.Millisecond * 300)
	assert.Equal(t, 0, rec.count("progress"))
}
