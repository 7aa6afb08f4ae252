// Package conc provides the cooperative synchronization primitives the
// channel-establishment protocol is built on.
//
// The primitives coordinate many concurrent logical tasks (goroutines)
// that share resources such as a response stream or an epoll descriptor:
//   - Gate: leader/follower election for exactly-once work among waiters
//   - Event: one-shot completion built by retrying a fallible action under a Gate
//   - Future/Promise: one-shot value handoff with many waiters
//   - FIFOFuture/FIFOPromise: adds retrieval acknowledgment and bound cancellation
//   - Coroutine: a resumable routine that absorbs cancellation instead of unwinding
//   - Dynvar: dynamic-scope value propagation over context.Context
//   - MakeN/RunAll: fan-out with cancel-on-first-failure
//
// All blocking operations take a context.Context and honor its
// cancellation. Internal critical sections are short and never held across
// a wait.
package conc
