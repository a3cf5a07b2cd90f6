package router

import (
	"context"

	"github.com/mohitkumar/flock/server/model"
)

// Router delivers outbound requests to remote clients. The physical
// delivery mechanism (client polling, push) is behind this interface;
// inbound responses re-enter through the engine's DeliverResponse.
type Router interface {
	EnqueueRequest(ctx context.Context, req model.Request) error
	// Poll drains up to batchSize pending requests for one client.
	Poll(ctx context.Context, clientId string, batchSize int) ([]model.Request, error)
}
