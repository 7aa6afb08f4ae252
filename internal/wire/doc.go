// Package wire defines the control protocol between a driver process and a
// syscall agent.
//
// The protocol is a stream of length-prefixed frames over a connected Unix
// stream socket. Each frame body is a sonic-encoded JSON Request or
// Response; bodies above a configurable threshold are snappy-compressed,
// signalled by a flag byte in the frame header.
//
// The control protocol never carries descriptors itself. Descriptor
// transfer between tables uses SCM_RIGHTS ancillary data on task-owned
// sockets, outside this package.
//
// Frame layout:
//
//	[4 bytes big-endian body length][1 byte flags][body]
//
// A malformed frame or body is a DecodeError and is fatal for the stream;
// the protocol has no resynchronization point.
package wire
