package transfer

import (
	"context"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/mesh"
	"github.com/danmuck/isogather/internal/partition"
)

// Receiver is the collector end of a channel. Receive is called once per
// planned identity; a returned error is a *failure.PartitionError.
type Receiver interface {
	Receive(ctx context.Context, id partition.Identity) (mesh.Fragment, error)
}

// Sender is the worker end of a channel.
type Sender interface {
	Send(ctx context.Context, f mesh.Fragment) error
	Fail(ctx context.Context, pe *failure.PartitionError) error
}

var (
	_ Receiver = (*Arena)(nil)
	_ Receiver = (*Hub)(nil)
	_ Receiver = (*RelayReceiver)(nil)
	_ Sender   = (*Link)(nil)
	_ Sender   = (*RelaySender)(nil)
)
