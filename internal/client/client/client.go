package client

import (
	"context"

	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
)

// Client delivers mutations to the remote authority.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	// Push returns the remote's answer, which may be a conflict. Transport
	// failures match common.ErrNetwork or common.ErrTimeout.
	Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error)
}
