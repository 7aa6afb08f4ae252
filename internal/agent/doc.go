// Package agent implements the serving side of the control protocol: a
// loop that reads framed syscall requests off a control stream, executes
// them against this process's descriptor table, and writes framed replies.
//
// Each request runs on its own goroutine, so a syscall blocked on I/O
// never stalls unrelated requests and replies go back in completion
// order, not arrival order. The driver side correlates them by sequence
// identifier.
package agent
