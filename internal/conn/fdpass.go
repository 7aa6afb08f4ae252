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

// Stats is a snapshot of one connection's transfer activity.
type Stats struct {
	ChannelsOpened int64
	// Transfers counts SCM_RIGHTS batches sent; handle moves between
	// tasks sharing a table do not appear here.
	Transfers int64
	FDsPassed int64
}

// FDPassConnection opens channels by creating socketpairs in the access
// task and delivering the remote ends. Tasks sharing a descriptor table
// get their ends by pure handle move; otherwise all ends of a batch
// travel in one SCM_RIGHTS message over a standing transfer socketpair.
type FDPassConnection struct {
	id      id.ConnectionID
	access  task.Task
	remote  task.Task
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	accessSock *task.FD
	remoteSock *task.FD
	moved      bool

	// xferMu serializes send+receive exchanges on the transfer pair.
	// Interleaved batches would consume each other's rights messages.
	xferMu sync.Mutex

	channelsOpened atomic.Int64
	transfers      atomic.Int64
	fdsPassed      atomic.Int64
}

// NewFDPassConnection wraps an existing connected socketpair spanning the
// two tasks: accessSock in the access task's table, remoteSock in the
// remote task's table.
func NewFDPassConnection(access task.Task, accessSock *task.FD, remote task.Task, remoteSock *task.FD, log *logging.Logger, metrics *monitoring.Metrics) *FDPassConnection {
	if log == nil {
		log = logging.NewNop()
	}
	return &FDPassConnection{
		id:         id.NewConnectionID(),
		access:     access,
		remote:     remote,
		log:        log,
		metrics:    metrics,
		accessSock: accessSock,
		remoteSock: remoteSock,
	}
}

// NewFDPassConnectionPair builds the standing transfer socketpair itself,
// which requires the two tasks to share a descriptor table. Connections
// into tasks with separate tables start from an existing spanning pair.
func NewFDPassConnectionPair(ctx context.Context, access, remote task.Task, log *logging.Logger, metrics *monitoring.Metrics) (*FDPassConnection, error) {
	a, b, err := access.Socketpair(ctx, unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	rb, err := b.Move(remote)
	if err != nil {
		err = multierr.Append(err, access.Close(ctx, a))
		return nil, multierr.Append(err, access.Close(ctx, b))
	}
	return NewFDPassConnection(access, a, remote, rb, log, metrics), nil
}

func (c *FDPassConnection) ID() id.ConnectionID  { return c.id }
func (c *FDPassConnection) AccessTask() task.Task { return c.access }
func (c *FDPassConnection) RemoteTask() task.Task { return c.remote }

// Stats returns a snapshot of the connection's counters.
func (c *FDPassConnection) Stats() Stats {
	return Stats{
		ChannelsOpened: c.channelsOpened.Load(),
		Transfers:      c.transfers.Load(),
		FDsPassed:      c.fdsPassed.Load(),
	}
}

type chanPair struct {
	access *task.FD
	donor  *task.FD
}

func (c *FDPassConnection) OpenChannel(ctx context.Context) (Channel, error) {
	chans, err := c.OpenChannels(ctx, 1)
	if err != nil {
		return Channel{}, err
	}
	return chans[0], nil
}

func (c *FDPassConnection) OpenChannels(ctx context.Context, n int) ([]Channel, error) {
	if n <= 0 {
		return nil, nil
	}
	c.mu.Lock()
	if c.moved {
		c.mu.Unlock()
		return nil, ErrConnectionMoved
	}
	accessSock, remoteSock := c.accessSock, c.remoteSock
	c.mu.Unlock()
	if accessSock == nil {
		return nil, task.ErrClosed
	}

	// Create the batch of socketpairs in parallel, tracking every
	// descriptor so a failure anywhere unwinds them all.
	var createdMu sync.Mutex
	var created []*task.FD
	pairs, err := conc.MakeN(ctx, n, func(ctx context.Context, i int) (chanPair, error) {
		a, b, err := c.access.Socketpair(ctx, unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			return chanPair{}, err
		}
		createdMu.Lock()
		created = append(created, a, b)
		createdMu.Unlock()
		return chanPair{access: a, donor: b}, nil
	})
	if err != nil {
		c.closeAll(ctx, created)
		return nil, err
	}

	var chans []Channel
	if task.SameFDTable(c.access, c.remote) {
		chans, err = c.moveBatch(pairs)
	} else {
		chans, err = c.transferBatch(ctx, accessSock, remoteSock, pairs)
	}
	if err != nil {
		c.closeAll(ctx, created)
		return nil, err
	}

	c.channelsOpened.Add(int64(n))
	c.metrics.ObserveChannels("fdpass", n)
	return chans, nil
}

// moveBatch delivers remote ends by handle move. No message traffic, no
// descriptor duplication: the tables are one table.
func (c *FDPassConnection) moveBatch(pairs []chanPair) ([]Channel, error) {
	chans := make([]Channel, len(pairs))
	for i, p := range pairs {
		moved, err := p.donor.Move(c.remote)
		if err != nil {
			return nil, err
		}
		chans[i] = Channel{Access: p.access, Remote: moved}
	}
	return chans, nil
}

// transferBatch delivers all remote ends of the batch in one SCM_RIGHTS
// message and requires the receipt to have exactly that shape. The
// sender's copies are closed only after the receiver holds its own.
func (c *FDPassConnection) transferBatch(ctx context.Context, accessSock, remoteSock *task.FD, pairs []chanPair) ([]Channel, error) {
	donors := make([]*task.FD, len(pairs))
	for i, p := range pairs {
		donors[i] = p.donor
	}

	c.xferMu.Lock()
	if _, err := c.access.Sendmsg(ctx, accessSock, []byte{0}, donors); err != nil {
		c.xferMu.Unlock()
		return nil, err
	}

	buf := make([]byte, 1)
	_, ctrls, err := c.remote.Recvmsg(ctx, remoteSock, buf, len(donors))
	c.xferMu.Unlock()
	if err != nil {
		return nil, err
	}
	received, terr := expectRights(ctrls, len(donors))
	if terr != nil {
		for _, fd := range received {
			err = multierr.Append(err, c.remote.Close(ctx, fd))
		}
		if err != nil {
			c.log.Warn("cleanup after bad transfer failed", zap.Error(err))
		}
		return nil, terr
	}

	var cerr error
	for _, d := range donors {
		cerr = multierr.Append(cerr, c.access.Close(ctx, d))
	}
	if cerr != nil {
		c.log.Warn("closing donated descriptors failed", zap.Error(cerr))
	}

	c.transfers.Add(1)
	c.fdsPassed.Add(int64(len(donors)))

	chans := make([]Channel, len(pairs))
	for i, p := range pairs {
		chans[i] = Channel{Access: p.access, Remote: received[i]}
	}
	return chans, nil
}

// expectRights enforces the strict batch shape: one SCM_RIGHTS control
// message carrying exactly want descriptors, and nothing else.
func expectRights(ctrls []task.Control, want int) ([]*task.FD, *TransferError) {
	if len(ctrls) != 1 {
		var got int
		for _, c := range ctrls {
			got += len(c.FDs)
		}
		return collectFDs(ctrls), &TransferError{Want: want, Got: got, Reason: ""}
	}
	ctrl := ctrls[0]
	if ctrl.Level != unix.SOL_SOCKET || ctrl.Type != unix.SCM_RIGHTS {
		return nil, &TransferError{Want: want, Reason: "unexpected control message kind"}
	}
	if len(ctrl.FDs) != want {
		return ctrl.FDs, &TransferError{Want: want, Got: len(ctrl.FDs)}
	}
	return ctrl.FDs, nil
}

func collectFDs(ctrls []task.Control) []*task.FD {
	var fds []*task.FD
	for _, c := range ctrls {
		fds = append(fds, c.FDs...)
	}
	return fds
}

func (c *FDPassConnection) PrepFDTransfer(ctx context.Context) (*task.FD, Rebind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moved {
		return nil, nil, ErrConnectionMoved
	}
	if c.remoteSock == nil {
		return nil, nil, task.ErrClosed
	}
	c.moved = true
	surrendered := c.remoteSock
	c.remoteSock = nil
	rebind := func(t task.Task, fd *task.FD) (Connection, error) {
		return NewFDPassConnection(c.access, c.accessSock, t, fd, c.log, c.metrics), nil
	}
	return surrendered, rebind, nil
}

func (c *FDPassConnection) ForTask(ctx context.Context, t task.Task) (Connection, error) {
	fd, rebind, err := c.PrepFDTransfer(ctx)
	if err != nil {
		return nil, err
	}
	moved, err := fd.Move(t)
	if err != nil {
		c.mu.Lock()
		c.moved = false
		c.remoteSock = fd
		c.mu.Unlock()
		return nil, err
	}
	return rebind(t, moved)
}

func (c *FDPassConnection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.moved {
		// The rebound connection owns the transfer sockets now; closing
		// them here would sever it.
		c.accessSock, c.remoteSock = nil, nil
		c.mu.Unlock()
		return nil
	}
	accessSock, remoteSock := c.accessSock, c.remoteSock
	c.accessSock, c.remoteSock = nil, nil
	c.mu.Unlock()

	var err error
	if accessSock != nil && accessSock.Valid() {
		err = multierr.Append(err, c.access.Close(ctx, accessSock))
	}
	if remoteSock != nil && remoteSock.Valid() {
		err = multierr.Append(err, c.remote.Close(ctx, remoteSock))
	}
	return err
}

// closeAll unwinds a set of descriptors after a failed batch. Handles
// already invalidated along the way are skipped.
func (c *FDPassConnection) closeAll(ctx context.Context, fds []*task.FD) {
	var err error
	for _, fd := range fds {
		if fd.Valid() {
			err = multierr.Append(err, c.access.Close(ctx, fd))
		}
	}
	if err != nil {
		c.log.Warn("unwinding failed channel batch", zap.Error(err))
	}
}
