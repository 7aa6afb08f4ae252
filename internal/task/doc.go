// Package task provides the syscall and descriptor substrate the channel
// protocol runs on.
//
// A Task is an isolated execution context with its own descriptor table.
// Two implementations exist:
//   - LocalTask performs syscalls in-process via golang.org/x/sys/unix.
//     Several LocalTasks may share one descriptor table.
//   - RemoteTask drives syscalls in a separate agent process over the
//     control protocol in package wire. Its descriptor numbers belong to
//     the agent's table.
//
// An FD is exclusively owned by one Task at a time. Ownership moves (Move
// within a shared table, SCM_RIGHTS transfer across tables); it is never
// implicitly duplicated, and closing is the owner's responsibility.
package task
