package conn

import (
	"errors"
	"fmt"
)

// ErrConnectionMoved is returned by operations on a connection whose
// remote machinery has been surrendered to PrepFDTransfer or ForTask.
var ErrConnectionMoved = errors.New("connection has been rebound to another task")

// TransferError reports a descriptor batch that arrived in the wrong
// shape: wrong number of descriptors, wrong number of control messages,
// or an unexpected control message kind. The transfer socket is no longer
// in a known state after one of these.
type TransferError struct {
	Want, Got int
	Reason    string
}

func (e *TransferError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("descriptor transfer: %s", e.Reason)
	}
	return fmt.Sprintf("descriptor transfer: expected %d descriptors, got %d", e.Want, e.Got)
}
