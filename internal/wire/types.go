package wire

// Op names one syscall the agent can perform on the driver's behalf.
type Op string

const (
	// OpHello is the handshake exchanged once per control stream before
	// any syscall traffic.
	OpHello Op = "hello"

	OpSocketpair  Op = "socketpair"
	OpSocket      Op = "socket"
	OpBind        Op = "bind"
	OpListen      Op = "listen"
	OpConnect     Op = "connect"
	OpAccept      Op = "accept"
	OpRead        Op = "read"
	OpWrite       Op = "write"
	OpSendRights  Op = "send_rights"
	OpRecvRights  Op = "recv_rights"
	OpSetNonblock Op = "set_nonblock"
	OpClose       Op = "close"
	OpExit        Op = "exit"
)

// ProtocolVersion is sent in both directions of the hello exchange.
// Mismatched peers fail the handshake rather than guess.
const ProtocolVersion = 1

// Request is one syscall request from the driver to the agent. Descriptor
// numbers refer to the agent's descriptor table.
type Request struct {
	// Seq correlates the response; responses may arrive out of order
	// relative to unrelated requests.
	Seq string `json:"seq"`
	Op  Op     `json:"op"`

	// Version is set on OpHello only.
	Version int `json:"version,omitempty"`

	// FD is the primary descriptor argument.
	FD int `json:"fd,omitempty"`

	// Socket creation arguments.
	Domain int `json:"domain,omitempty"`
	Type   int `json:"type,omitempty"`
	Proto  int `json:"proto,omitempty"`

	// Addr is a Unix socket path for bind/connect.
	Addr    string `json:"addr,omitempty"`
	Backlog int    `json:"backlog,omitempty"`

	// Data carries write payloads.
	Data []byte `json:"data,omitempty"`
	// Len is the read length for OpRead.
	Len int `json:"len,omitempty"`

	// Rights are descriptor numbers to pass as SCM_RIGHTS (OpSendRights);
	// Count is the expected batch size for OpRecvRights.
	Rights []int `json:"rights,omitempty"`
	Count  int   `json:"count,omitempty"`

	// Status is the exit status for OpExit.
	Status int `json:"status,omitempty"`
}

// ControlMsg is one ancillary control message relayed by the agent.
// Descriptor numbers are present only for SCM_RIGHTS messages.
type ControlMsg struct {
	Level int   `json:"level"`
	Type  int   `json:"type"`
	FDs   []int `json:"fds,omitempty"`
}

// Response is the agent's reply to one Request.
type Response struct {
	Seq string `json:"seq"`

	// Version echoes the agent's protocol version on OpHello.
	Version int `json:"version,omitempty"`

	// Ret is the primary integer result (new fd, byte count).
	Ret int `json:"ret,omitempty"`
	// Ret2 is the second descriptor for socketpair.
	Ret2 int `json:"ret2,omitempty"`

	// Data carries read payloads.
	Data []byte `json:"data,omitempty"`

	// Controls mirror the ancillary payload received by OpRecvRights, one
	// entry per control message observed, rights or not.
	Controls []ControlMsg `json:"controls,omitempty"`

	// Errno is the syscall errno on failure, zero on success. Error adds
	// detail for failures with no errno.
	Errno int    `json:"errno,omitempty"`
	Error string `json:"error,omitempty"`
}
