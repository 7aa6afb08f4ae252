package agent_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/procwire/procwire/internal/agent"
	"github.com/procwire/procwire/internal/wire"
)

func controlPair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	a := os.NewFile(uintptr(pair[0]), "driver")
	b := os.NewFile(uintptr(pair[1]), "agent")
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestServeHelloAndUnknownOp(t *testing.T) {
	driver, serving := controlPair(t)
	codec := wire.DefaultCodec()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = agent.New(codec, nil, nil).Serve(context.Background(), serving)
	}()

	_, err := codec.WriteValue(driver, &wire.Request{Seq: "h1", Op: wire.OpHello, Version: wire.ProtocolVersion})
	require.NoError(t, err)
	var resp wire.Response
	_, err = codec.ReadValue(driver, &resp)
	require.NoError(t, err)
	assert.Equal(t, "h1", resp.Seq)
	assert.Equal(t, wire.ProtocolVersion, resp.Version)
	assert.Zero(t, resp.Errno)

	_, err = codec.WriteValue(driver, &wire.Request{Seq: "u1", Op: "frobnicate"})
	require.NoError(t, err)
	_, err = codec.ReadValue(driver, &resp)
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.Seq)
	assert.Equal(t, int(unix.ENOSYS), resp.Errno)

	driver.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop on hangup")
	}
}

func TestServeRejectsVersionMismatch(t *testing.T) {
	driver, serving := controlPair(t)
	codec := wire.DefaultCodec()

	go func() {
		_, _ = agent.New(codec, nil, nil).Serve(context.Background(), serving)
	}()

	_, err := codec.WriteValue(driver, &wire.Request{Seq: "h1", Op: wire.OpHello, Version: 99})
	require.NoError(t, err)
	var resp wire.Response
	_, err = codec.ReadValue(driver, &resp)
	require.NoError(t, err)
	assert.Equal(t, int(unix.EPROTO), resp.Errno)
}

func TestServeExitReturnsStatus(t *testing.T) {
	driver, serving := controlPair(t)
	codec := wire.DefaultCodec()

	status := make(chan int, 1)
	go func() {
		s, err := agent.New(codec, nil, nil).Serve(context.Background(), serving)
		assert.NoError(t, err)
		status <- s
	}()

	_, err := codec.WriteValue(driver, &wire.Request{Seq: "e1", Op: wire.OpExit, Status: 7})
	require.NoError(t, err)

	select {
	case s := <-status:
		assert.Equal(t, 7, s)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit")
	}
}
