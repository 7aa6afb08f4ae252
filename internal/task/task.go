package task

import (
	"context"

	"github.com/google/uuid"

	"github.com/procwire/procwire/internal/shared/id"
)

// FDTableID identifies one descriptor table. Tasks whose FDTableIDs are
// equal see the same descriptor numbers.
type FDTableID string

// NewFDTableID allocates a fresh descriptor-table identity.
func NewFDTableID() FDTableID {
	return FDTableID("fdt_" + uuid.NewString())
}

// Control is one received ancillary control message. FDs is populated for
// SCM_RIGHTS messages only; other kinds carry just their level and type so
// callers can reject unexpected shapes.
type Control struct {
	Level int
	Type  int
	FDs   []*FD
}

// Task is an isolated execution context: its own descriptor table, able to
// perform syscalls and exchange messages with ancillary descriptor data.
// Every operation suspends the caller until the syscall completes and
// honors cancellation of ctx while waiting.
type Task interface {
	ID() id.TaskID
	FDTable() FDTableID

	Socketpair(ctx context.Context, domain, typ, proto int) (*FD, *FD, error)
	Socket(ctx context.Context, domain, typ, proto int) (*FD, error)
	Bind(ctx context.Context, fd *FD, addr string) error
	Listen(ctx context.Context, fd *FD, backlog int) error
	Connect(ctx context.Context, fd *FD, addr string) error
	Accept(ctx context.Context, fd *FD) (*FD, error)
	SetNonblock(ctx context.Context, fd *FD) error

	Read(ctx context.Context, fd *FD, p []byte) (int, error)
	Write(ctx context.Context, fd *FD, p []byte) (int, error)

	// Sendmsg sends p with the given descriptors attached as one
	// SCM_RIGHTS control message. The descriptors stay owned by the
	// sender until the receiver has taken them.
	Sendmsg(ctx context.Context, over *FD, p []byte, rights []*FD) (int, error)

	// Recvmsg receives up to len(p) bytes and up to maxRights attached
	// descriptors. It reports every control message observed so callers
	// can enforce the expected shape.
	Recvmsg(ctx context.Context, over *FD, p []byte, maxRights int) (int, []Control, error)

	Close(ctx context.Context, fd *FD) error

	// Exit terminates the task. A hangup while waiting for the reply is
	// success: the task is gone, which is the point.
	Exit(ctx context.Context, status int) error
}

// SameFDTable reports whether two tasks share one descriptor table, i.e.
// descriptor handles are valid and identical across both.
func SameFDTable(a, b Task) bool {
	return a.FDTable() == b.FDTable()
}
