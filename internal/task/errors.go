package task

import "errors"

// ErrHangup reports that the peer closed the connection mid-operation.
// Operations whose semantics are "terminate", such as Exit, treat it as
// success; everything else surfaces it.
var ErrHangup = errors.New("peer hung up")

// ErrClosed reports use of a descriptor handle that is no longer valid,
// either closed or moved away.
var ErrClosed = errors.New("file descriptor handle is invalid")

// ErrDifferentTable reports an identifier move between tasks that do not
// share a descriptor table.
var ErrDifferentTable = errors.New("tasks do not share a descriptor table")

// ErrForeignFD reports a descriptor handle used with a task that does not
// own it.
var ErrForeignFD = errors.New("file descriptor belongs to another task")

// ErrControlTruncated reports that the kernel truncated an incoming
// ancillary payload (MSG_CTRUNC): the sender passed more descriptors than
// the receive buffer allowed for. The descriptors that survived are
// closed rather than surfaced as a smaller batch.
var ErrControlTruncated = errors.New("ancillary data truncated by kernel")
