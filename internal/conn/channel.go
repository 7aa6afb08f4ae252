package conn

import (
	"github.com/procwire/procwire/internal/poll"
	"github.com/procwire/procwire/internal/task"
)

// Channel is one established byte stream: a connected socketpair with the
// access end in the access task's table and the remote end in the remote
// task's table. Both ends are owned by the caller once returned.
type Channel struct {
	Access *task.FD
	Remote *task.FD
}

// AsyncChannel is a Channel whose access end is registered for
// readiness-driven I/O.
type AsyncChannel struct {
	Access *poll.AsyncFD
	Remote *task.FD
}
