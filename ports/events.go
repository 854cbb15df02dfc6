package ports

import (
	"context"

	"github.com/pivot-protocol/walletcore/core"
)

// EventPublisher broadcasts wallet lifecycle events to interested consumers.
type EventPublisher interface {
	PublishLogout(ctx context.Context, address string, reason string) error
	PublishConnection(ctx context.Context, state core.ConnectionState) error
	PublishTransaction(ctx context.Context, record core.TransactionRecord) error
}
