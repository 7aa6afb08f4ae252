package conn

import (
	"context"

	"github.com/procwire/procwire/internal/task"
)

// Rebind completes a connection migration started by PrepFDTransfer: given
// the destination task and the transferred machinery descriptor now living
// in that task's table, it produces the rebound connection.
type Rebind func(t task.Task, fd *task.FD) (Connection, error)

// Connection is standing machinery for opening channels between an access
// task and a remote task.
type Connection interface {
	// AccessTask is the side the caller drives directly.
	AccessTask() task.Task
	// RemoteTask is the side channels are established into.
	RemoteTask() task.Task

	// OpenChannels establishes n channels at once. Either all n are
	// returned or none exist: on failure every descriptor created along
	// the way has been closed.
	OpenChannels(ctx context.Context, n int) ([]Channel, error)
	// OpenChannel establishes a single channel.
	OpenChannel(ctx context.Context) (Channel, error)

	// PrepFDTransfer surrenders the remote-side machinery descriptor so
	// the caller can move it into another task, and returns the Rebind
	// that completes the migration. The connection is invalid from this
	// point on; OpenChannels fails with ErrConnectionMoved.
	PrepFDTransfer(ctx context.Context) (*task.FD, Rebind, error)

	// ForTask rebinds the connection to a task sharing the current remote
	// task's descriptor table. The original connection is invalidated.
	ForTask(ctx context.Context, t task.Task) (Connection, error)

	// Close releases the connection's machinery descriptors. Channels
	// already opened stay open.
	Close(ctx context.Context) error
}
