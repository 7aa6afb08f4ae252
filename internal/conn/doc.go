// Package conn establishes byte-stream channels between a local access
// task and a possibly remote task.
//
// A Connection is the standing machinery for opening channels: each open
// yields a fresh socketpair-backed channel with one end in each task's
// descriptor table. When both tasks share a table the remote end moves by
// pure handle transfer with no message traffic; otherwise a whole batch
// of descriptor ends travels in a single SCM_RIGHTS message over the
// connection's transfer socket, and the receiver enforces that exactly
// the expected batch arrived.
//
// Connections themselves migrate: PrepFDTransfer surrenders the remote
// end of the machinery so a caller can move it into another task and
// rebind, invalidating the original connection.
package conn
