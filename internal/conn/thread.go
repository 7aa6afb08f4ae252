package conn

import (
	"context"

	"go.uber.org/multierr"

	"github.com/procwire/procwire/internal/poll"
	"github.com/procwire/procwire/internal/task"
)

// ConnectionThread bundles a connection with the access side's poller so
// callers can open channels already registered for readiness-driven I/O.
type ConnectionThread struct {
	Connection
	poller *poll.Poller
}

// NewConnectionThread wraps conn. The poller must belong to the process
// holding the connection's access task.
func NewConnectionThread(c Connection, p *poll.Poller) *ConnectionThread {
	return &ConnectionThread{Connection: c, poller: p}
}

// Poller exposes the bundled poller.
func (t *ConnectionThread) Poller() *poll.Poller { return t.poller }

// OpenAsyncChannel opens one channel with its access end registered.
func (t *ConnectionThread) OpenAsyncChannel(ctx context.Context) (AsyncChannel, error) {
	chans, err := t.OpenAsyncChannels(ctx, 1)
	if err != nil {
		return AsyncChannel{}, err
	}
	return chans[0], nil
}

// OpenAsyncChannels opens n channels and registers every access end with
// the poller. Like OpenChannels, a failure anywhere leaves nothing open.
func (t *ConnectionThread) OpenAsyncChannels(ctx context.Context, n int) ([]AsyncChannel, error) {
	chans, err := t.OpenChannels(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]AsyncChannel, len(chans))
	for i, ch := range chans {
		afd, err := t.poller.Register(ctx, ch.Access)
		if err != nil {
			for _, done := range out[:i] {
				err = multierr.Append(err, done.Access.Close(ctx))
				err = multierr.Append(err, t.remoteClose(ctx, done.Remote))
			}
			err = multierr.Append(err, t.accessClose(ctx, ch.Access))
			err = multierr.Append(err, t.remoteClose(ctx, ch.Remote))
			for _, rest := range chans[i+1:] {
				err = multierr.Append(err, t.accessClose(ctx, rest.Access))
				err = multierr.Append(err, t.remoteClose(ctx, rest.Remote))
			}
			return nil, err
		}
		out[i] = AsyncChannel{Access: afd, Remote: ch.Remote}
	}
	return out, nil
}

func (t *ConnectionThread) accessClose(ctx context.Context, fd *task.FD) error {
	return t.AccessTask().Close(ctx, fd)
}

func (t *ConnectionThread) remoteClose(ctx context.Context, fd *task.FD) error {
	return t.RemoteTask().Close(ctx, fd)
}
