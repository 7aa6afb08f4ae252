package conc

import "errors"

// ErrAlreadyFulfilled is returned when a Promise is set a second time. It is
// always surfaced to the caller, never swallowed.
var ErrAlreadyFulfilled = errors.New("promise already fulfilled")

// ErrCoroutineBusy is returned by Coroutine.Run when another driver is
// already active.
var ErrCoroutineBusy = errors.New("coroutine already being driven")
