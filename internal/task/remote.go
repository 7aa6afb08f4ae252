package task

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/conc"
	"github.com/procwire/procwire/internal/infrastructure/logging"
	"github.com/procwire/procwire/internal/infrastructure/monitoring"
	"github.com/procwire/procwire/internal/shared/id"
	"github.com/procwire/procwire/internal/wire"
	"go.uber.org/zap"
)

// RemoteTask drives syscalls in another process over a framed control
// connection. Requests are tagged with a sequence identifier and replies
// may arrive in any order; each in-flight call parks on its own future
// while exactly one caller at a time reads replies off the connection and
// dispatches them. There is no dedicated reader goroutine: whoever is
// still waiting does the reading.
type RemoteTask struct {
	id      id.TaskID
	table   FDTableID
	log     *logging.Logger
	metrics *monitoring.Metrics

	conn  io.ReadWriteCloser
	codec wire.Codec
	gen   *id.Generator

	sendMu sync.Mutex

	readGate conc.Gate

	mu      sync.Mutex
	pending map[string]*conc.Promise[wire.Response]
	broken  error

	hello *conc.Event
}

// NewRemoteTask wraps a control connection to a remote agent. The agent's
// descriptor table gets a fresh identity; use NewRemoteTaskSharing when two
// control connections lead into the same process.
func NewRemoteTask(conn io.ReadWriteCloser, codec wire.Codec, log *logging.Logger, metrics *monitoring.Metrics) *RemoteTask {
	return NewRemoteTaskSharing(NewFDTableID(), conn, codec, log, metrics)
}

// NewRemoteTaskSharing wraps a control connection to an agent whose
// descriptor table is already known under an existing identity.
func NewRemoteTaskSharing(table FDTableID, conn io.ReadWriteCloser, codec wire.Codec, log *logging.Logger, metrics *monitoring.Metrics) *RemoteTask {
	if log == nil {
		log = logging.NewNop()
	}
	if codec == (wire.Codec{}) {
		codec = wire.DefaultCodec()
	}
	t := &RemoteTask{
		id:      id.NewTaskID(),
		table:   table,
		log:     log,
		metrics: metrics,
		conn:    conn,
		codec:   codec,
		gen:     id.NewGenerator(),
		pending: make(map[string]*conc.Promise[wire.Response]),
	}
	t.hello = conc.NewEvent(t.sayHello)
	return t
}

func (t *RemoteTask) ID() id.TaskID      { return t.id }
func (t *RemoteTask) FDTable() FDTableID { return t.table }

// sayHello performs the version handshake. It runs at most once per task,
// lazily, before the first real syscall.
func (t *RemoteTask) sayHello(ctx context.Context) error {
	resp, err := t.call(ctx, &wire.Request{Op: wire.OpHello})
	if err != nil {
		return err
	}
	if resp.Version != wire.ProtocolVersion {
		return &wire.DecodeError{Reason: "protocol version mismatch"}
	}
	t.log.Debug("agent handshake complete", zap.String("task_id", string(t.id)))
	return nil
}

func (t *RemoteTask) checkOwned(fd *FD) (int, error) {
	raw, err := fd.Raw()
	if err != nil {
		return -1, err
	}
	if fd.Owner().FDTable() != t.table {
		return -1, ErrForeignFD
	}
	return raw, nil
}

// call sends one request and waits for its reply, taking a turn reading
// the connection whenever no other caller is already doing so.
func (t *RemoteTask) call(ctx context.Context, req *wire.Request) (wire.Response, error) {
	var zero wire.Response

	req.Version = wire.ProtocolVersion
	req.Seq = t.gen.GenerateWithPrefix("req")

	fut, prom := conc.NewFuture[wire.Response]()

	t.mu.Lock()
	if t.broken != nil {
		err := t.broken
		t.mu.Unlock()
		return zero, err
	}
	t.pending[req.Seq] = prom
	t.mu.Unlock()

	t.sendMu.Lock()
	n, err := t.codec.WriteValue(t.conn, req)
	t.sendMu.Unlock()
	if err != nil {
		t.mu.Lock()
		delete(t.pending, req.Seq)
		t.mu.Unlock()
		if errors.Is(err, unix.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
			err = ErrHangup
		}
		return zero, err
	}
	t.metrics.ObserveFrame("send", n)

	for {
		if fut.Done() {
			return fut.Get(ctx)
		}
		leader, err := t.readGate.Enter(ctx)
		if err != nil {
			return zero, err
		}
		if !leader {
			t.metrics.ObserveGateWait()
			continue
		}
		if fut.Done() {
			t.readGate.Leave()
			return fut.Get(ctx)
		}
		rerr := t.readOne()
		t.readGate.Leave()
		if rerr != nil {
			return zero, rerr
		}
	}
}

// readOne reads a single reply frame and fulfills the matching promise.
// Any read failure poisons the whole connection: every in-flight and
// future call fails the same way.
func (t *RemoteTask) readOne() error {
	var resp wire.Response
	n, err := t.codec.ReadValue(t.conn, &resp)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrHangup
		}
		t.fail(err)
		return err
	}
	t.metrics.ObserveFrame("recv", n)
	t.mu.Lock()
	prom, ok := t.pending[resp.Seq]
	if ok {
		delete(t.pending, resp.Seq)
	}
	t.mu.Unlock()
	if !ok {
		t.log.Warn("reply for unknown request", zap.String("seq", resp.Seq))
		return nil
	}
	prom.Send(resp)
	return nil
}

// fail marks the connection broken and wakes every parked caller.
func (t *RemoteTask) fail(err error) {
	t.mu.Lock()
	if t.broken == nil {
		t.broken = err
	}
	stuck := t.pending
	t.pending = make(map[string]*conc.Promise[wire.Response])
	t.mu.Unlock()
	for _, prom := range stuck {
		prom.Throw(err)
	}
}

// syscall runs the handshake if needed, issues the request, and maps the
// agent's errno back into an error.
func (t *RemoteTask) syscall(ctx context.Context, name string, req *wire.Request) (wire.Response, error) {
	var zero wire.Response
	if req.Op != wire.OpHello {
		if err := t.hello.Wait(ctx); err != nil {
			return zero, err
		}
	}
	start := time.Now()
	resp, err := t.call(ctx, req)
	if err != nil {
		t.metrics.ObserveSyscall(name, time.Since(start), err)
		return zero, err
	}
	if resp.Errno != 0 {
		serr := os.NewSyscallError(name, unix.Errno(resp.Errno))
		t.metrics.ObserveSyscall(name, time.Since(start), serr)
		return zero, serr
	}
	t.metrics.ObserveSyscall(name, time.Since(start), nil)
	return resp, nil
}

func (t *RemoteTask) Socketpair(ctx context.Context, domain, typ, proto int) (*FD, *FD, error) {
	resp, err := t.syscall(ctx, "socketpair", &wire.Request{
		Op: wire.OpSocketpair, Domain: domain, Type: typ, Proto: proto,
	})
	if err != nil {
		return nil, nil, err
	}
	return NewFD(t, resp.Ret), NewFD(t, resp.Ret2), nil
}

func (t *RemoteTask) Socket(ctx context.Context, domain, typ, proto int) (*FD, error) {
	resp, err := t.syscall(ctx, "socket", &wire.Request{
		Op: wire.OpSocket, Domain: domain, Type: typ, Proto: proto,
	})
	if err != nil {
		return nil, err
	}
	return NewFD(t, resp.Ret), nil
}

func (t *RemoteTask) Bind(ctx context.Context, fd *FD, addr string) error {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	_, err = t.syscall(ctx, "bind", &wire.Request{Op: wire.OpBind, FD: raw, Addr: addr})
	return err
}

func (t *RemoteTask) Listen(ctx context.Context, fd *FD, backlog int) error {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	_, err = t.syscall(ctx, "listen", &wire.Request{Op: wire.OpListen, FD: raw, Backlog: backlog})
	return err
}

func (t *RemoteTask) Connect(ctx context.Context, fd *FD, addr string) error {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	_, err = t.syscall(ctx, "connect", &wire.Request{Op: wire.OpConnect, FD: raw, Addr: addr})
	return err
}

func (t *RemoteTask) Accept(ctx context.Context, fd *FD) (*FD, error) {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return nil, err
	}
	resp, err := t.syscall(ctx, "accept", &wire.Request{Op: wire.OpAccept, FD: raw})
	if err != nil {
		return nil, err
	}
	return NewFD(t, resp.Ret), nil
}

func (t *RemoteTask) SetNonblock(ctx context.Context, fd *FD) error {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	_, err = t.syscall(ctx, "fcntl", &wire.Request{Op: wire.OpSetNonblock, FD: raw})
	return err
}

func (t *RemoteTask) Read(ctx context.Context, fd *FD, p []byte) (int, error) {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return 0, err
	}
	resp, err := t.syscall(ctx, "read", &wire.Request{Op: wire.OpRead, FD: raw, Len: len(p)})
	if err != nil {
		return 0, err
	}
	if resp.Ret == 0 && len(p) > 0 {
		return 0, ErrHangup
	}
	copy(p, resp.Data)
	return resp.Ret, nil
}

func (t *RemoteTask) Write(ctx context.Context, fd *FD, p []byte) (int, error) {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return 0, err
	}
	resp, err := t.syscall(ctx, "write", &wire.Request{Op: wire.OpWrite, FD: raw, Data: p})
	if err != nil {
		return 0, err
	}
	return resp.Ret, nil
}

func (t *RemoteTask) Sendmsg(ctx context.Context, over *FD, p []byte, rights []*FD) (int, error) {
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
	resp, err := t.syscall(ctx, "sendmsg", &wire.Request{
		Op: wire.OpSendRights, FD: raw, Data: p, Rights: raws,
	})
	if err != nil {
		return 0, err
	}
	t.metrics.ObserveFDTransfer(len(raws))
	return resp.Ret, nil
}

func (t *RemoteTask) Recvmsg(ctx context.Context, over *FD, p []byte, maxRights int) (int, []Control, error) {
	raw, err := t.checkOwned(over)
	if err != nil {
		return 0, nil, err
	}
	resp, err := t.syscall(ctx, "recvmsg", &wire.Request{
		Op: wire.OpRecvRights, FD: raw, Len: len(p), Count: maxRights,
	})
	if err != nil {
		return 0, nil, err
	}
	if resp.Ret == 0 && len(resp.Controls) == 0 && len(p) > 0 {
		return 0, nil, ErrHangup
	}
	copy(p, resp.Data)
	ctrls := make([]Control, 0, len(resp.Controls))
	for _, m := range resp.Controls {
		c := Control{Level: m.Level, Type: m.Type}
		for _, rfd := range m.FDs {
			c.FDs = append(c.FDs, NewFD(t, rfd))
		}
		ctrls = append(ctrls, c)
	}
	return resp.Ret, ctrls, nil
}

func (t *RemoteTask) Close(ctx context.Context, fd *FD) error {
	raw, err := t.checkOwned(fd)
	if err != nil {
		return err
	}
	if _, err := fd.invalidate(); err != nil {
		return err
	}
	_, err = t.syscall(ctx, "close", &wire.Request{Op: wire.OpClose, FD: raw})
	return err
}

// Exit tells the agent to terminate. The agent exits without replying, so
// the connection hanging up is the expected outcome and reported as
// success. Any later call on this task fails.
func (t *RemoteTask) Exit(ctx context.Context, status int) error {
	_, err := t.syscall(ctx, "exit", &wire.Request{Op: wire.OpExit, Status: status})
	if errors.Is(err, ErrHangup) {
		err = nil
	}
	if err != nil {
		return err
	}
	t.log.Debug("remote task exited", zap.String("task_id", string(t.id)), zap.Int("status", status))
	return t.conn.Close()
}
