package poll

import (
	"context"
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/conc"
	"github.com/procwire/procwire/internal/infrastructure/logging"
	"github.com/procwire/procwire/internal/task"
	"go.uber.org/zap"
)

// ErrNotLocal is returned when a descriptor registered with the poller is
// not held in this process's descriptor table. Readiness of a descriptor
// in another process is that process's business.
var ErrNotLocal = errors.New("descriptor is not in this process's table")

// ErrPollerClosed is returned for operations on a closed poller.
var ErrPollerClosed = errors.New("poller is closed")

// pollTick bounds one epoll_wait turn so the driving waiter can notice
// cancellation and hand the gate over.
const pollTick = 50 // milliseconds

// Poller multiplexes readiness for any number of registered descriptors
// over a single epoll instance.
type Poller struct {
	log *logging.Logger

	gate conc.Gate

	mu      sync.Mutex
	epfd    int
	watched map[int]*AsyncFD
	closed  bool
}

// NewPoller creates an empty poller.
func NewPoller(log *logging.Logger) (*Poller, error) {
	if log == nil {
		log = logging.NewNop()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Poller{
		log:     log,
		epfd:    epfd,
		watched: make(map[int]*AsyncFD),
	}, nil
}

// Register switches fd to non-blocking mode and starts watching it. The
// descriptor must live in this process's table; ownership stays with the
// caller and the returned AsyncFD borrows it.
func (p *Poller) Register(ctx context.Context, fd *task.FD) (*AsyncFD, error) {
	owner, ok := fd.Owner().(*task.LocalTask)
	if !ok {
		return nil, ErrNotLocal
	}
	if err := owner.SetNonblock(ctx, fd); err != nil {
		return nil, err
	}
	raw, err := fd.Raw()
	if err != nil {
		return nil, err
	}

	afd := &AsyncFD{p: p, owner: owner, fd: fd, raw: raw}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPollerClosed
	}
	p.watched[raw] = afd
	p.mu.Unlock()

	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(raw),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, raw, &ev); err != nil {
		p.mu.Lock()
		delete(p.watched, raw)
		p.mu.Unlock()
		return nil, os.NewSyscallError("epoll_ctl", err)
	}
	return afd, nil
}

// unregister stops watching a descriptor. Safe to call more than once.
func (p *Poller) unregister(raw int) {
	p.mu.Lock()
	_, ok := p.watched[raw]
	if ok {
		delete(p.watched, raw)
	}
	closed := p.closed
	p.mu.Unlock()
	if !ok || closed {
		return
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, raw, nil); err != nil {
		p.log.Warn("epoll deregistration failed", zap.Int("fd", raw), zap.Error(err))
	}
}

// wait parks until ready reports true for some published readiness state,
// taking turns driving epoll_wait with every other parked waiter.
func (p *Poller) wait(ctx context.Context, ready func() bool) error {
	for {
		if ready() {
			return nil
		}
		leader, err := p.gate.Enter(ctx)
		if err != nil {
			return err
		}
		if !leader {
			continue
		}
		if ready() {
			p.gate.Leave()
			return nil
		}
		err = p.pollOnce(ctx)
		p.gate.Leave()
		if err != nil {
			return err
		}
	}
}

// pollOnce runs one bounded epoll_wait turn and publishes the events it
// observed.
func (p *Poller) pollOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPollerClosed
	}
	epfd := p.epfd
	p.mu.Unlock()

	events := make([]unix.EpollEvent, 16)
	n, err := unix.EpollWait(epfd, events, pollTick)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return os.NewSyscallError("epoll_wait", err)
	}
	for _, ev := range events[:n] {
		p.mu.Lock()
		afd := p.watched[int(ev.Fd)]
		p.mu.Unlock()
		if afd == nil {
			continue
		}
		afd.publish(ev.Events)
	}
	return nil
}

// Close tears down the epoll instance. Registered descriptors stay open;
// waiting on them afterwards fails with ErrPollerClosed.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	epfd := p.epfd
	p.mu.Unlock()
	if err := unix.Close(epfd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}
