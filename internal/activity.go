package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/pkg/logger"
)

const (
	PROGRESS_DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	PROGRESS_MAX_TIMER_DURATION time.Duration = time.Second * 2
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadProgress(uuid.UUID) error
		BroadcastDownloadComplete(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	// activityService listens for download events on the event bus and forwards
	// them to the broadcaster. Progress events arrive rapidly and are debounced per
	// task, whereas status updates and completions are broadcast immediately.
	activityService struct {
		mu             sync.Mutex
		broadcaster    broadcaster
		messageChan    event.HandlerChannel
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
		debounceTime   time.Duration
		maxTime        time.Duration
	}
)

func newActivityService(broadcaster broadcaster, eventBus event.EventHandler) *activityService {
	messageChan := make(event.HandlerChannel, 100)
	eventBus.RegisterHandlerChannel(messageChan,
		event.DownloadUpdateEvent, event.DownloadProgressEvent, event.DownloadCompleteEvent)

	return &activityService{
		broadcaster:    broadcaster,
		messageChan:    messageChan,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
		debounceTime:   PROGRESS_DEBOUNCE_DURATION,
		maxTime:        PROGRESS_MAX_TIMER_DURATION,
	}
}

func (service *activityService) Run(ctx context.Context) error {
	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-service.messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			service.stopTimers()
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	switch ev.Event {
	case event.DownloadProgressEvent:
		service.scheduleEventBroadcast(eventKey{ev: ev.Event, id: resourceID}, service.broadcaster.BroadcastDownloadProgress)
	case event.DownloadUpdateEvent:
		return service.broadcaster.BroadcastDownloadUpdate(resourceID)
	case event.DownloadCompleteEvent:
		// Any pending progress broadcast is stale now that the task is finished
		service.cancelScheduled(eventKey{ev: event.DownloadProgressEvent, id: resourceID})
		return service.broadcaster.BroadcastDownloadComplete(resourceID)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service.mu.Lock()
	defer service.mu.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(service.debounceTime, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(service.maxTime, broadcaster)
	}
}

func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	if !service.cancelScheduled(resourceKey) {
		// Another timer (or a completion) beat us to it
		return
	}

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.WARNING, "Broadcast of %s for %s failed: %v\n", resourceKey.ev, resourceKey.id, err)
	}
}

// cancelScheduled stops and removes any timers for the key provided,
// returning true if there were any.
func (service *activityService) cancelScheduled(resourceKey eventKey) bool {
	service.mu.Lock()
	defer service.mu.Unlock()

	found := false
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
		found = true
	}

	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
		found = true
	}

	return found
}

func (service *activityService) stopTimers() {
	service.mu.Lock()
	defer service.mu.Unlock()

	for key, t := range service.debounceTimers {
		t.Stop()
		delete(service.debounceTimers, key)
	}
	for key, t := range service.maxTimers {
		t.Stop()
		delete(service.maxTimers, key)
	}
}
