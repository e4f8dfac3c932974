package broker

import "context"

// MessageQueue carries device events into the service and metric
// records out to the collector side. Key selects the partition, so
// messages sharing a key (device id) keep their order.
type MessageQueue interface {
	Publish(ctx context.Context, key, data []byte) error
	Consume(ctx context.Context, handler func([]byte) error) error
	Close() error
}
