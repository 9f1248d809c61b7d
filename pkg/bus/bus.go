// Package bus is the at-least-once publish/subscribe transport between the
// event, ticket and order components. Delivery may duplicate and reorder
// messages; handlers must be idempotent.
package bus

import (
	"context"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
)

// Handler processes one message. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, env domain.Envelope) error

type Publisher interface {
	Publish(ctx context.Context, topic string, env domain.Envelope) error
}

type Subscriber interface {
	Subscribe(group string, topics []string, h Handler) error
}

// Bus is started once all groups are subscribed and runs until ctx is done.
type Bus interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
}

// Inbox remembers which messages a consumer group already processed.
type Inbox interface {
	Process(ctx context.Context, group, messageID string, action func(ctx context.Context) error) error
}
