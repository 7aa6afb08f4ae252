package agent

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/infrastructure/logging"
	"github.com/procwire/procwire/internal/infrastructure/monitoring"
	"github.com/procwire/procwire/internal/task"
	"github.com/procwire/procwire/internal/wire"
	"go.uber.org/zap"
)

// Agent serves syscall requests arriving on one control stream.
type Agent struct {
	exec    *task.LocalTask
	codec   wire.Codec
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// New builds an agent executing against this process's descriptor table.
func New(codec wire.Codec, log *logging.Logger, metrics *monitoring.Metrics) *Agent {
	if log == nil {
		log = logging.NewNop()
	}
	if codec == (wire.Codec{}) {
		codec = wire.DefaultCodec()
	}
	return &Agent{
		exec:    task.NewLocalTask(log, metrics),
		codec:   codec,
		log:     log,
		metrics: metrics,
	}
}

// Serve reads requests from conn until the peer hangs up, ctx is
// cancelled, or an OpExit arrives. It returns the requested exit status
// for OpExit and zero otherwise.
func (a *Agent) Serve(ctx context.Context, conn io.ReadWriteCloser) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	reply := func(resp wire.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		n, err := a.codec.WriteValue(conn, &resp)
		if err != nil {
			a.log.Warn("reply write failed", zap.String("seq", resp.Seq), zap.Error(err))
			return
		}
		a.metrics.ObserveFrame("send", n)
	}

	for {
		var req wire.Request
		n, err := a.codec.ReadValue(conn, &req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.log.Debug("control stream hung up")
				return 0, nil
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, err
		}
		a.metrics.ObserveFrame("recv", n)
		if req.Op == wire.OpExit {
			a.log.Info("exit requested", zap.Int("status", req.Status))
			conn.Close()
			return req.Status, nil
		}
		go func(req wire.Request) {
			reply(a.handle(ctx, req))
		}(req)
	}
}

// handle executes one request and shapes its reply. Syscall failures
// travel back as errnos, never as a dropped connection.
func (a *Agent) handle(ctx context.Context, req wire.Request) wire.Response {
	resp := wire.Response{Seq: req.Seq}
	switch req.Op {
	case wire.OpHello:
		if req.Version != wire.ProtocolVersion {
			resp.Error = "unsupported protocol version"
			resp.Errno = int(unix.EPROTO)
			return resp
		}
		resp.Version = wire.ProtocolVersion

	case wire.OpSocketpair:
		fa, fb, err := a.exec.Socketpair(ctx, req.Domain, req.Type, req.Proto)
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret, _ = fa.Raw()
		resp.Ret2, _ = fb.Raw()

	case wire.OpSocket:
		fd, err := a.exec.Socket(ctx, req.Domain, req.Type, req.Proto)
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret, _ = fd.Raw()

	case wire.OpBind:
		if err := a.exec.Bind(ctx, a.wrap(req.FD), req.Addr); err != nil {
			return a.failure(resp, err)
		}

	case wire.OpListen:
		if err := a.exec.Listen(ctx, a.wrap(req.FD), req.Backlog); err != nil {
			return a.failure(resp, err)
		}

	case wire.OpConnect:
		if err := a.exec.Connect(ctx, a.wrap(req.FD), req.Addr); err != nil {
			return a.failure(resp, err)
		}

	case wire.OpAccept:
		fd, err := a.exec.Accept(ctx, a.wrap(req.FD))
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret, _ = fd.Raw()

	case wire.OpSetNonblock:
		if err := a.exec.SetNonblock(ctx, a.wrap(req.FD)); err != nil {
			return a.failure(resp, err)
		}

	case wire.OpRead:
		buf := make([]byte, req.Len)
		n, err := a.exec.Read(ctx, a.wrap(req.FD), buf)
		if errors.Is(err, task.ErrHangup) {
			return resp
		}
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret = n
		resp.Data = buf[:n]

	case wire.OpWrite:
		n, err := a.exec.Write(ctx, a.wrap(req.FD), req.Data)
		if errors.Is(err, task.ErrHangup) {
			resp.Errno = int(unix.EPIPE)
			return resp
		}
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret = n

	case wire.OpSendRights:
		rights := make([]*task.FD, len(req.Rights))
		for i, r := range req.Rights {
			rights[i] = a.wrap(r)
		}
		n, err := a.exec.Sendmsg(ctx, a.wrap(req.FD), req.Data, rights)
		if errors.Is(err, task.ErrHangup) {
			resp.Errno = int(unix.EPIPE)
			return resp
		}
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret = n

	case wire.OpRecvRights:
		buf := make([]byte, req.Len)
		n, ctrls, err := a.exec.Recvmsg(ctx, a.wrap(req.FD), buf, req.Count)
		if errors.Is(err, task.ErrHangup) {
			return resp
		}
		if err != nil {
			return a.failure(resp, err)
		}
		resp.Ret = n
		resp.Data = buf[:n]
		for _, c := range ctrls {
			msg := wire.ControlMsg{Level: c.Level, Type: c.Type}
			for _, fd := range c.FDs {
				raw, rerr := fd.Raw()
				if rerr != nil {
					continue
				}
				msg.FDs = append(msg.FDs, raw)
			}
			resp.Controls = append(resp.Controls, msg)
		}

	case wire.OpClose:
		if err := a.exec.Close(ctx, a.wrap(req.FD)); err != nil {
			return a.failure(resp, err)
		}

	default:
		resp.Errno = int(unix.ENOSYS)
		resp.Error = "unknown operation: " + string(req.Op)
	}
	return resp
}

// wrap adopts a raw descriptor number named by the driver into a handle
// the executor accepts. The driver owns the descriptor's lifetime.
func (a *Agent) wrap(raw int) *task.FD {
	return task.NewFD(a.exec, raw)
}

// failure maps an executor error into an errno reply.
func (a *Agent) failure(resp wire.Response, err error) wire.Response {
	var errno unix.Errno
	if errors.As(err, &errno) {
		resp.Errno = int(errno)
	} else {
		resp.Errno = int(unix.EIO)
	}
	resp.Error = err.Error()
	return resp
}
