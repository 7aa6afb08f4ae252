package conn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procwire/procwire/internal/poll"
	"github.com/procwire/procwire/internal/task"
)

func TestConnectionThreadAsyncChannels(t *testing.T) {
	ctx := context.Background()
	access := task.NewLocalTask(nil, nil)
	remote := task.NewLocalTask(nil, nil)

	p, err := poll.NewPoller(nil)
	require.NoError(t, err)
	defer p.Close()

	ct := NewConnectionThread(spanTables(t, ctx, access, remote), p)
	defer ct.Close(ctx)
	assert.Same(t, p, ct.Poller())

	chans, err := ct.OpenAsyncChannels(ctx, 4)
	require.NoError(t, err)
	require.Len(t, chans, 4)

	for _, ch := range chans {
		// The access end parks on readiness; the remote end feeds it.
		got := make(chan string, 1)
		fail := make(chan error, 1)
		go func() {
			buf := make([]byte, 8)
			n, err := ch.Access.Read(ctx, buf)
			if err != nil {
				fail <- err
				return
			}
			got <- string(buf[:n])
		}()

		time.Sleep(10 * time.Millisecond)
		_, err := remote.Write(ctx, ch.Remote, []byte("async"))
		require.NoError(t, err)

		select {
		case s := <-got:
			assert.Equal(t, "async", s)
		case err := <-fail:
			t.Fatalf("async read failed: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatal("async read never woke up")
		}
	}

	for _, ch := range chans {
		require.NoError(t, ch.Access.Close(ctx))
		require.NoError(t, remote.Close(ctx, ch.Remote))
	}
}
