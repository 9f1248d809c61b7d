package bus

import (
	"context"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
)

// Deduplicate runs h at most once per message id within group. Messages
// without an id are passed through.
func Deduplicate(inbox Inbox, group string, h Handler) Handler {
	return func(ctx context.Context, env domain.Envelope) error {
		if env.ID == "" {
			return h(ctx, env)
		}

		return inbox.Process(ctx, group, env.ID, func(ctx context.Context) error {
			return h(ctx, env)
		})
	}
}
