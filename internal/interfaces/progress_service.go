package interfaces

import (
	"context"

	"github.com/ternarybob/auspex/internal/models"
)

// ProgressBroadcaster fans task progress events out to live subscribers and
// appends every event to the durable log for replay. Ordering is guaranteed
// within one task's stream only.
type ProgressBroadcaster interface {
	// Publish appends the event to the durable log and delivers it to all
	// current subscribers of the event's task. Slow subscribers may drop
	// events; the durable log always receives them.
	Publish(ctx context.Context, event *models.ProgressEvent) error

	// Subscribe returns a live event channel for the task plus a
	// subscription id for Unsubscribe. The channel is closed on
	// Unsubscribe or broadcaster shutdown.
	Subscribe(taskID string) (string, <-chan *models.ProgressEvent)

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(taskID, subID string)

	// Replay returns up to limit persisted events for the task, oldest
	// first. A subscriber wanting history calls Replay then Subscribe and
	// deduplicates by sequence.
	Replay(ctx context.Context, taskID string, limit int) ([]*models.ProgressEvent, error)

	// Close stops the heartbeat loop and closes all subscriber channels.
	Close() error
}
