// Package monitoring provides Prometheus metrics for procwire.
//
// Metrics cover the syscall substrate (calls issued, failures, latency),
// the control wire (frames and bytes in each direction), and the channel
// protocol (channels opened per transport, descriptor transfers).
//
// A nil *Metrics is valid and records nothing, so library types can carry
// an optional metrics handle without nil checks at every call site.
package monitoring
