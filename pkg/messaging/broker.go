package messaging

import (
	"context"
)

// Channel names, one per logical event category. The payload on every
// channel is an event id only: a wake hint, never a data carrier.
// Delivery is best-effort; workers fall back to polling the ledger.
const (
	ChannelRecordEvents = "recordflow:events:record"
	ChannelSlotEvents   = "recordflow:events:slot"
)

// Broker defines the interface for the signal channel
type Broker interface {
	Publish(ctx context.Context, channel string, eventID string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan string, error)
	Close() error
}
