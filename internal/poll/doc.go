// Package poll layers readiness-driven I/O over descriptors owned by an
// in-process task. Registered descriptors are switched to non-blocking
// mode and watched by one shared epoll instance.
//
// There is no dedicated polling goroutine. Whoever is waiting on a
// descriptor takes a turn driving epoll_wait while everyone else parks
// behind a gate; when the driver observes events it publishes them and
// steps aside, and the released waiters re-check their own descriptor.
package poll
