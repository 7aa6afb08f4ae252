package poll

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/task"
)

// AsyncFD is a registered non-blocking descriptor. Its I/O methods run the
// syscall immediately and park on readiness only when the kernel reports
// the descriptor is not ready; readiness bits are edge-published by the
// poller and consumed on EAGAIN.
type AsyncFD struct {
	p     *Poller
	owner *task.LocalTask
	fd    *task.FD
	raw   int

	mu       sync.Mutex
	readable bool
	writable bool
	hangup   bool
}

// FD returns the underlying descriptor handle.
func (a *AsyncFD) FD() *task.FD { return a.fd }

// publish records readiness observed by the poller.
func (a *AsyncFD) publish(events uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if events&(unix.EPOLLIN|unix.EPOLLERR) != 0 {
		a.readable = true
	}
	if events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
		a.writable = true
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		a.hangup = true
		a.readable = true
		a.writable = true
	}
}

func (a *AsyncFD) consumeReadable() {
	a.mu.Lock()
	a.readable = false
	a.mu.Unlock()
}

func (a *AsyncFD) consumeWritable() {
	a.mu.Lock()
	a.writable = false
	a.mu.Unlock()
}

// WaitReadable parks until the descriptor may be readable or has hung up.
func (a *AsyncFD) WaitReadable(ctx context.Context) error {
	return a.p.wait(ctx, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.readable || a.hangup
	})
}

// WaitWritable parks until the descriptor may be writable or has hung up.
func (a *AsyncFD) WaitWritable(ctx context.Context) error {
	return a.p.wait(ctx, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.writable || a.hangup
	})
}

// Read reads into p, parking on readiness instead of blocking the thread.
// End of stream is reported as ErrHangup.
func (a *AsyncFD) Read(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := unix.Read(a.raw, p)
		switch err {
		case nil:
			if n == 0 && len(p) > 0 {
				return 0, task.ErrHangup
			}
			return n, nil
		case unix.EAGAIN:
			a.consumeReadable()
			if werr := a.WaitReadable(ctx); werr != nil {
				return 0, werr
			}
		case unix.EINTR:
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

// Write writes p fully, parking on readiness whenever the socket buffer
// fills up.
func (a *AsyncFD) Write(ctx context.Context, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(a.raw, p[total:])
		switch err {
		case nil:
			total += n
		case unix.EAGAIN:
			a.consumeWritable()
			if werr := a.WaitWritable(ctx); werr != nil {
				return total, werr
			}
		case unix.EINTR:
		case unix.EPIPE, unix.ECONNRESET:
			return total, task.ErrHangup
		default:
			return total, os.NewSyscallError("write", err)
		}
	}
	return total, nil
}

// Accept takes one pending connection, parking until one arrives. The
// accepted descriptor is blocking and owned by the same task as the
// listener; register it separately for readiness-driven I/O.
func (a *AsyncFD) Accept(ctx context.Context) (*task.FD, error) {
	for {
		nfd, _, err := unix.Accept4(a.raw, unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return task.NewFD(a.owner, nfd), nil
		case unix.EAGAIN:
			a.consumeReadable()
			if werr := a.WaitReadable(ctx); werr != nil {
				return nil, werr
			}
		case unix.EINTR:
		default:
			return nil, os.NewSyscallError("accept", err)
		}
	}
}

// Connect starts a connection to a Unix socket path and parks until it
// resolves. The outcome is read back with SO_ERROR.
func (a *AsyncFD) Connect(ctx context.Context, addr string) error {
	sa := &unix.SockaddrUnix{Name: addr}
	err := unix.Connect(a.raw, sa)
	switch err {
	case nil:
		return nil
	case unix.EINPROGRESS, unix.EAGAIN, unix.EINTR:
	default:
		return os.NewSyscallError("connect", err)
	}
	a.consumeWritable()
	if werr := a.WaitWritable(ctx); werr != nil {
		return werr
	}
	soerr, err := unix.GetsockoptInt(a.raw, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soerr != 0 {
		return os.NewSyscallError("connect", unix.Errno(soerr))
	}
	// An unconnected socket reports EPOLLHUP; forget anything published
	// before the connection existed. Real hangups re-publish as edges.
	a.mu.Lock()
	a.hangup = false
	a.mu.Unlock()
	return nil
}

// Close deregisters the descriptor and closes it.
func (a *AsyncFD) Close(ctx context.Context) error {
	a.p.unregister(a.raw)
	return a.owner.Close(ctx, a.fd)
}
