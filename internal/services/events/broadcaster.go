// -----------------------------------------------------------------------
// Progress Broadcaster - per-task pub/sub with durable log and heartbeat
// -----------------------------------------------------------------------

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

const (
	// subscriberBuffer bounds the per-subscriber channel. A full buffer
	// drops events for that subscriber; the durable log still receives
	// every event and can be replayed.
	subscriberBuffer = 1000

	// DefaultReplayLimit is the history window handed to a new observer.
	DefaultReplayLimit = 10

	defaultHeartbeatInterval = 12 * time.Second
)

type subscriber struct {
	id string
	ch chan *models.ProgressEvent
}

// Broadcaster implements ProgressBroadcaster: every published event is
// appended to the durable log, then fanned out to the task's live
// subscribers. A heartbeat loop keeps idle subscriptions detectable.
type Broadcaster struct {
	store  interfaces.ProgressStorage
	logger arbor.ILogger

	mu          sync.RWMutex
	subscribers map[string][]*subscriber // keyed by task id

	heartbeatInterval time.Duration
	stopHeartbeat     chan struct{}
	closeOnce         sync.Once
}

// NewBroadcaster creates a broadcaster and starts its heartbeat loop.
func NewBroadcaster(store interfaces.ProgressStorage, heartbeatInterval time.Duration, logger arbor.ILogger) interfaces.ProgressBroadcaster {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	b := &Broadcaster{
		store:             store,
		logger:            logger,
		subscribers:       make(map[string][]*subscriber),
		heartbeatInterval: heartbeatInterval,
		stopHeartbeat:     make(chan struct{}),
	}

	go b.heartbeatLoop()

	return b
}

// Publish appends the event to the durable log and delivers it to the
// task's current subscribers. The durable append always happens, even with
// no subscribers, so late observers can replay.
func (b *Broadcaster) Publish(ctx context.Context, event *models.ProgressEvent) error {
	if event == nil || event.TaskID == "" {
		return fmt.Errorf("event with task ID is required")
	}

	if err := b.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to persist progress event: %w", err)
	}

	b.fanOut(event)
	return nil
}

// fanOut delivers an event to the task's subscribers. The read lock is held
// across the sends so Unsubscribe cannot close a channel mid-delivery.
func (b *Broadcaster) fanOut(event *models.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.TaskID] {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer; it can recover the gap via Replay
			b.logger.Warn().
				Str("task_id", event.TaskID).
				Str("subscriber", sub.id).
				Str("event_type", string(event.Type)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// Subscribe registers a live observer for a task's event stream.
func (b *Broadcaster) Subscribe(taskID string) (string, <-chan *models.ProgressEvent) {
	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan *models.ProgressEvent, subscriberBuffer),
	}

	b.mu.Lock()
	b.subscribers[taskID] = append(b.subscribers[taskID], sub)
	count := len(b.subscribers[taskID])
	b.mu.Unlock()

	b.logger.Debug().
		Str("task_id", taskID).
		Str("subscriber", sub.id).
		Int("subscriber_count", count).
		Msg("Progress subscriber added")

	return sub.id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(taskID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[taskID]
	for i, sub := range subs {
		if sub.id == subID {
			b.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			if len(b.subscribers[taskID]) == 0 {
				delete(b.subscribers, taskID)
			}
			b.logger.Debug().
				Str("task_id", taskID).
				Str("subscriber", subID).
				Msg("Progress subscriber removed")
			return
		}
	}
}

// Replay returns up to limit persisted events for a task, oldest first.
func (b *Broadcaster) Replay(ctx context.Context, taskID string, limit int) ([]*models.ProgressEvent, error) {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}
	return b.store.GetEventsByTask(ctx, taskID, limit)
}

// heartbeatLoop injects a heartbeat event into every live subscription so
// transports can detect silently-dead connections. Heartbeats are not
// persisted to the durable log.
func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopHeartbeat:
			return
		case <-ticker.C:
			b.mu.RLock()
			for taskID, subs := range b.subscribers {
				hb := models.NewProgressEvent(taskID, models.EventHeartbeat)
				for _, sub := range subs {
					select {
					case sub.ch <- hb:
					default:
					}
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Close stops the heartbeat loop and closes all subscriber channels.
func (b *Broadcaster) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopHeartbeat)

		b.mu.Lock()
		for taskID, subs := range b.subscribers {
			for _, sub := range subs {
				close(sub.ch)
			}
			delete(b.subscribers, taskID)
		}
		b.mu.Unlock()
	})
	return nil
}
