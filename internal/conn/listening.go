package conn

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/conc"
	"github.com/procwire/procwire/internal/infrastructure/logging"
	"github.com/procwire/procwire/internal/infrastructure/monitoring"
	"github.com/procwire/procwire/internal/shared/id"
	"github.com/procwire/procwire/internal/task"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const listenBacklog = 128

// ListeningConnection opens channels by connecting fresh sockets from the
// access task to a Unix socket the remote task listens on. Each open is
// one connect paired with one accept. Opens within a batch race freely,
// so the pairing is a bijection between connects and accepts, not a
// submission-order promise: a channel's two ends may belong to streams
// established by different opens, but every end is matched exactly once.
type ListeningConnection struct {
	id      id.ConnectionID
	access  task.Task
	remote  task.Task
	addr    string
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	listener *task.FD
	moved    bool

	channelsOpened atomic.Int64
}

// NewListeningConnection creates the listening socket at addr in the
// remote task and wraps it.
func NewListeningConnection(ctx context.Context, access, remote task.Task, addr string, log *logging.Logger, metrics *monitoring.Metrics) (*ListeningConnection, error) {
	if log == nil {
		log = logging.NewNop()
	}
	lfd, err := remote.Socket(ctx, unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := remote.Bind(ctx, lfd, addr); err != nil {
		return nil, multierr.Append(err, remote.Close(ctx, lfd))
	}
	if err := remote.Listen(ctx, lfd, listenBacklog); err != nil {
		return nil, multierr.Append(err, remote.Close(ctx, lfd))
	}
	return &ListeningConnection{
		id:      id.NewConnectionID(),
		access:  access,
		remote:  remote,
		addr:    addr,
		log:     log,
		metrics: metrics,
		listener: lfd,
	}, nil
}

func (c *ListeningConnection) ID() id.ConnectionID   { return c.id }
func (c *ListeningConnection) AccessTask() task.Task { return c.access }
func (c *ListeningConnection) RemoteTask() task.Task { return c.remote }

// Addr returns the Unix socket path the remote side listens on.
func (c *ListeningConnection) Addr() string { return c.addr }

func (c *ListeningConnection) OpenChannel(ctx context.Context) (Channel, error) {
	chans, err := c.OpenChannels(ctx, 1)
	if err != nil {
		return Channel{}, err
	}
	return chans[0], nil
}

func (c *ListeningConnection) OpenChannels(ctx context.Context, n int) ([]Channel, error) {
	if n <= 0 {
		return nil, nil
	}
	c.mu.Lock()
	if c.moved {
		c.mu.Unlock()
		return nil, ErrConnectionMoved
	}
	listener := c.listener
	c.mu.Unlock()
	if listener == nil {
		return nil, task.ErrClosed
	}

	// Opens race freely; every descriptor is tracked so a failure
	// anywhere unwinds the whole batch. Each open accepts only after its
	// own connect succeeded, so accepts never outnumber the pending
	// connections and none can block forever.
	var createdMu sync.Mutex
	var created []*task.FD
	track := func(fd *task.FD) {
		createdMu.Lock()
		created = append(created, fd)
		createdMu.Unlock()
	}
	chans, err := conc.MakeN(ctx, n, func(ctx context.Context, i int) (Channel, error) {
		sock, err := c.access.Socket(ctx, unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			return Channel{}, err
		}
		track(sock)
		if err := c.access.Connect(ctx, sock, c.addr); err != nil {
			return Channel{}, err
		}
		accepted, err := c.remote.Accept(ctx, listener)
		if err != nil {
			return Channel{}, err
		}
		track(accepted)
		return Channel{Access: sock, Remote: accepted}, nil
	})
	if err != nil {
		c.closeAll(ctx, created)
		return nil, err
	}

	c.channelsOpened.Add(int64(n))
	c.metrics.ObserveChannels("listen", n)
	return chans, nil
}

// closeAll unwinds a failed batch, closing each descriptor with the task
// that owns it. Handles already invalidated are skipped.
func (c *ListeningConnection) closeAll(ctx context.Context, fds []*task.FD) {
	var err error
	for _, fd := range fds {
		if fd.Valid() {
			err = multierr.Append(err, fd.Owner().Close(ctx, fd))
		}
	}
	if err != nil {
		c.log.Warn("unwinding failed channel batch", zap.Error(err))
	}
}

// ChannelsOpened reports how many channels this connection has opened.
func (c *ListeningConnection) ChannelsOpened() int64 {
	return c.channelsOpened.Load()
}

// PrepFDTransfer surrenders the listening socket itself; rebinding hands
// accepting duty to another task while the address stays the same.
func (c *ListeningConnection) PrepFDTransfer(ctx context.Context) (*task.FD, Rebind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moved {
		return nil, nil, ErrConnectionMoved
	}
	if c.listener == nil {
		return nil, nil, task.ErrClosed
	}
	c.moved = true
	surrendered := c.listener
	c.listener = nil
	rebind := func(t task.Task, fd *task.FD) (Connection, error) {
		return &ListeningConnection{
			id:       id.NewConnectionID(),
			access:   c.access,
			remote:   t,
			addr:     c.addr,
			log:      c.log,
			metrics:  c.metrics,
			listener: fd,
		}, nil
	}
	return surrendered, rebind, nil
}

func (c *ListeningConnection) ForTask(ctx context.Context, t task.Task) (Connection, error) {
	fd, rebind, err := c.PrepFDTransfer(ctx)
	if err != nil {
		return nil, err
	}
	moved, err := fd.Move(t)
	if err != nil {
		c.mu.Lock()
		c.moved = false
		c.listener = fd
		c.mu.Unlock()
		return nil, err
	}
	return rebind(t, moved)
}

func (c *ListeningConnection) Close(ctx context.Context) error {
	c.mu.Lock()
	listener := c.listener
	c.listener = nil
	c.mu.Unlock()
	if listener == nil || !listener.Valid() {
		return nil
	}
	if err := c.remote.Close(ctx, listener); err != nil {
		c.log.Warn("closing listener failed", zap.String("addr", c.addr), zap.Error(err))
		return err
	}
	return nil
}
