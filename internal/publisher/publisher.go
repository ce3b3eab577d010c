// Package publisher defines the interface for sending crawl notifications
// (page archived, run completed) to an external topic. Implementations live
// in subpackages; the archiver runs fine without one configured.
package publisher

import "context"

// Publisher sends crawl event notifications.
type Publisher interface {
	// Publish sends the payload tagged with an event name and returns the
	// server-assigned message ID.
	Publish(ctx context.Context, event string, payload any) (string, error)

	// Close cleans up any client connections and resources.
	Close() error
}

// Event names carried on published messages.
const (
	EventPageArchived = "page-archived"
	EventRunCompleted = "run-completed"
)

// NoOp discards every notification. It is the default when no publisher is
// configured.
type NoOp struct{}

// Publish does nothing and reports an empty message ID.
func (NoOp) Publish(_ context.Context, _ string, _ any) (string, error) { return "", nil }

// Close does nothing.
func (NoOp) Close() error { return nil }
