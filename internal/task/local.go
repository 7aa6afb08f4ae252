package task

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/infrastructure/logging"
	"github.com/procwire/procwire/internal/infrastructure/monitoring"
	"github.com/procwire/procwire/internal/shared/id"
	"go.uber.org/zap"
)

// LocalTask executes syscalls directly in this process. All LocalTasks in
// one process naturally share the process descriptor table, but each can be
// given a distinct FDTableID to model tasks in separate processes; handles
// then refuse the cheap Move path and descriptors travel over sockets like
// they would between real processes.
type LocalTask struct {
	id      id.TaskID
	table   FDTableID
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewLocalTask creates a task with a fresh descriptor-table identity.
func NewLocalTask(log *logging.Logger, metrics *monitoring.Metrics) *LocalTask {
	return NewLocalTaskSharing(NewFDTableID(), log, metrics)
}

// NewLocalTaskSharing creates a task bound to an existing table identity.
// Tasks constructed with the same FDTableID can exchange descriptors with
// Move instead of message passing.
func NewLocalTaskSharing(table FDTableID, log *logging.Logger, metrics *monitoring.Metrics) *LocalTask {
	if log == nil {
		log = logging.NewNop()
	}
	return &LocalTask{
		id:      id.NewTaskID(),
		table:   table,
		log:     log,
		metrics: metrics,
	}
}

func (t *LocalTask) ID() id.TaskID      { return t.id }
func (t *LocalTask) FDTable() FDTableID { return t.table }

func (t *LocalTask) observe(op string, start time.Time, err error) {
	t.metrics.ObserveSyscall(op, time.Since(start), err)
}

// checkOwned returns the raw descriptor if fd is a live handle owned by a
// task in this table.
func (t *LocalTask) checkOwned(fd *FD) (int, error) {
	raw, err := fd.Raw()
	if err != nil {
		return -1, err
	}
	if fd.Owner().FDTable() != t.table {
		return -1, ErrForeignFD
	}
	return raw, nil
}

// waitIO blocks until raw is ready for the given poll events or ctx is
// cancelled. Polling in short slices keeps cancellation responsive without
// a wakeup pipe.
func waitIO(ctx context.Context, raw int, events int16) error {
	fds := []unix.PollFd{{Fd: int32(raw), Events: events}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, 100)
		if err != nil && err != unix.EINTR {
			return os.NewSyscallError("poll", err)
		}
		if n > 0 {
			return nil
		}
	}
}

func (t *LocalTask) Socketpair(ctx context.Context, domain, typ, proto int) (*FD, *FD, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	pair, err := unix.Socketpair(domain, typ|unix.SOCK_CLOEXEC, proto)
	t.observe("socketpair", start, err)
	if err != nil {
		return nil, nil, os.NewSyscallError("socketpair", err)
	}
	return NewFD(t, pair[0]), NewFD(t, pair[1]), nil
}

func (t *LocalTask) Socket(ctx context.Context, domain, typ, proto int) (*FD, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := unix.Socket(domain, typ|unix.SOCK_CLOEXEC, proto)
	t.observe("socket", start, err)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return NewFD(t, raw), nil
}

func (t *LocalTask) Bind(ctx context.Context, fd *FD, addr string) error {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	sa := &unix.SockaddrUnix{Name: addr}
	err = unix.Bind(raw, sa)
	t.observe("bind", start, err)
	if err != nil {
		return os.NewSyscallError("bind", err)
	}
	return nil
}

func (t *LocalTask) Listen(ctx context.Context, fd *FD, backlog int) error {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	err = unix.Listen(raw, backlog)
	t.observe("listen", start, err)
	if err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func (t *LocalTask) Connect(ctx context.Context, fd *FD, addr string) error {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	sa := &unix.SockaddrUnix{Name: addr}
	for {
		err = unix.Connect(raw, sa)
		if err != unix.EINTR {
			break
		}
	}
	t.observe("connect", start, err)
	if err != nil {
		return os.NewSyscallError("connect", err)
	}
	return nil
}

func (t *LocalTask) Accept(ctx context.Context, fd *FD) (*FD, error) {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return nil, err
	}
	for {
		nfd, _, err := unix.Accept4(raw, unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			t.observe("accept", start, nil)
			return NewFD(t, nfd), nil
		case unix.EAGAIN:
			if werr := waitIO(ctx, raw, unix.POLLIN); werr != nil {
				return nil, werr
			}
		case unix.EINTR:
		default:
			t.observe("accept", start, err)
			return nil, os.NewSyscallError("accept", err)
		}
	}
}

func (t *LocalTask) SetNonblock(ctx context.Context, fd *FD) error {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	err = unix.SetNonblock(raw, true)
	t.observe("fcntl", start, err)
	if err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	return nil
}

func (t *LocalTask) Read(ctx context.Context, fd *FD, p []byte) (int, error) {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(raw, p)
		switch err {
		case nil:
			t.observe("read", start, nil)
			if n == 0 && len(p) > 0 {
				return 0, ErrHangup
			}
			return n, nil
		case unix.EAGAIN:
			if werr := waitIO(ctx, raw, unix.POLLIN); werr != nil {
				return 0, werr
			}
		case unix.EINTR:
		default:
			t.observe("read", start, err)
			return 0, os.NewSyscallError("read", err)
		}
	}
}

func (t *LocalTask) Write(ctx context.Context, fd *FD, p []byte) (int, error) {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Write(raw, p)
		switch err {
		case nil:
			t.observe("write", start, nil)
			return n, nil
		case unix.EAGAIN:
			if werr := waitIO(ctx, raw, unix.POLLOUT); werr != nil {
				return 0, werr
			}
		case unix.EINTR:
		case unix.EPIPE:
			t.observe("write", start, err)
			return 0, ErrHangup
		default:
			t.observe("write", start, err)
			return 0, os.NewSyscallError("write", err)
		}
	}
}

func (t *LocalTask) Sendmsg(ctx context.Context, over *FD, p []byte, rights []*FD) (int, error) {
	start := time.Now()
	raw, err := t.checkOwned(over)
	if err != nil {
		return 0, err
	}
	raws := make([]int, len(rights))
	for i, r := range rights {
		rraw, err := t.checkOwned(r)
		if err != nil {
			return 0, err
		}
		raws[i] = rraw
	}
	var oob []byte
	if len(raws) > 0 {
		oob = unix.UnixRights(raws...)
	}
	for {
		n, err := unix.SendmsgN(raw, p, oob, nil, 0)
		switch err {
		case nil:
			t.observe("sendmsg", start, nil)
			t.metrics.ObserveFDTransfer(len(raws))
			return n, nil
		case unix.EAGAIN:
			if werr := waitIO(ctx, raw, unix.POLLOUT); werr != nil {
				return 0, werr
			}
		case unix.EINTR:
		case unix.EPIPE:
			t.observe("sendmsg", start, err)
			return 0, ErrHangup
		default:
			t.observe("sendmsg", start, err)
			return 0, os.NewSyscallError("sendmsg", err)
		}
	}
}

func (t *LocalTask) Recvmsg(ctx context.Context, over *FD, p []byte, maxRights int) (int, []Control, error) {
	start := time.Now()
	raw, err := t.checkOwned(over)
	if err != nil {
		return 0, nil, err
	}
	var oob []byte
	if maxRights > 0 {
		oob = make([]byte, unix.CmsgSpace(maxRights*4))
	}
	for {
		n, oobn, rflags, _, err := unix.Recvmsg(raw, p, oob, unix.MSG_CMSG_CLOEXEC)
		switch err {
		case nil:
			t.observe("recvmsg", start, nil)
			if n == 0 && oobn == 0 && len(p) > 0 {
				return 0, nil, ErrHangup
			}
			ctrls, perr := t.parseControls(oob[:oobn])
			if perr != nil {
				return n, nil, perr
			}
			if rflags&(unix.MSG_CTRUNC|unix.MSG_TRUNC) != 0 {
				// The kernel dropped part of the message and already
				// closed any overflow descriptors. What survived must
				// not surface as a smaller well-formed batch.
				t.closeControls(ctx, ctrls)
				return n, nil, ErrControlTruncated
			}
			return n, ctrls, nil
		case unix.EAGAIN:
			if werr := waitIO(ctx, raw, unix.POLLIN); werr != nil {
				return 0, nil, werr
			}
		case unix.EINTR:
		default:
			t.observe("recvmsg", start, err)
			return 0, nil, os.NewSyscallError("recvmsg", err)
		}
	}
}

// closeControls discards the descriptors of a batch that cannot be
// handed out.
func (t *LocalTask) closeControls(ctx context.Context, ctrls []Control) {
	for _, c := range ctrls {
		for _, fd := range c.FDs {
			if err := t.Close(ctx, fd); err != nil {
				t.log.Warn("discarding truncated rights batch", zap.Error(err))
			}
		}
	}
}

func (t *LocalTask) parseControls(oob []byte) ([]Control, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, os.NewSyscallError("cmsg", err)
	}
	ctrls := make([]Control, 0, len(msgs))
	for _, m := range msgs {
		c := Control{Level: int(m.Header.Level), Type: int(m.Header.Type)}
		if m.Header.Level == unix.SOL_SOCKET && m.Header.Type == unix.SCM_RIGHTS {
			raws, err := unix.ParseUnixRights(&m)
			if err != nil {
				return nil, os.NewSyscallError("cmsg", err)
			}
			for _, r := range raws {
				c.FDs = append(c.FDs, NewFD(t, r))
			}
		}
		ctrls = append(ctrls, c)
	}
	return ctrls, nil
}

func (t *LocalTask) Close(ctx context.Context, fd *FD) error {
	start := time.Now()
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	raw, err = fd.invalidate()
	if err != nil {
		return err
	}
	err = unix.Close(raw)
	t.observe("close", start, err)
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

// Exit on a local task is a no-op beyond logging: the task is this process,
// and this process is still needed.
func (t *LocalTask) Exit(ctx context.Context, status int) error {
	t.log.Debug("local task exit requested", zap.String("task_id", string(t.id)), zap.Int("status", status))
	return nil
}
