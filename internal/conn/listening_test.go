package conn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procwire/procwire/internal/task"
)

func TestListeningOpenChannels(t *testing.T) {
	ctx := context.Background()
	access := task.NewLocalTask(nil, nil)
	remote := task.NewLocalTask(nil, nil)
	addr := filepath.Join(t.TempDir(), "conn.sock")

	c, err := NewListeningConnection(ctx, access, remote, addr, nil, nil)
	require.NoError(t, err)
	defer c.Close(ctx)
	assert.Equal(t, addr, c.Addr())

	chans, err := c.OpenChannels(ctx, 3)
	require.NoError(t, err)
	require.Len(t, chans, 3)

	// Opens race, so a channel's two ends may come from different
	// streams. What holds is the bijection: every byte written on an
	// access end arrives on exactly one accepted end.
	assertChannelBijection(t, ctx, access, remote, chans)
	closeChannels(ctx, access, remote, chans)

	assert.Equal(t, int64(3), c.ChannelsOpened())
}

// assertChannelBijection writes one distinct byte per access end and
// collects one byte per accepted end: the two sets must match exactly.
func assertChannelBijection(t *testing.T, ctx context.Context, access, remote task.Task, chans []Channel) {
	t.Helper()
	sent := make([]byte, 0, len(chans))
	for i, ch := range chans {
		msg := byte('a' + i)
		_, err := access.Write(ctx, ch.Access, []byte{msg})
		require.NoError(t, err)
		sent = append(sent, msg)
	}
	got := make([]byte, 0, len(chans))
	for _, ch := range chans {
		buf := make([]byte, 4)
		n, err := remote.Read(ctx, ch.Remote, buf)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		got = append(got, buf[0])
	}
	assert.ElementsMatch(t, sent, got)
}

func TestListeningOpenChannelsConcurrent(t *testing.T) {
	ctx := context.Background()
	access := task.NewLocalTask(nil, nil)
	remote := task.NewLocalTask(nil, nil)
	addr := filepath.Join(t.TempDir(), "conn.sock")

	c, err := NewListeningConnection(ctx, access, remote, addr, nil, nil)
	require.NoError(t, err)
	defer c.Close(ctx)

	results := make(chan []Channel, 2)
	fail := make(chan error, 2)
	for _, n := range []int{3, 5} {
		go func(n int) {
			chans, err := c.OpenChannels(ctx, n)
			if err != nil {
				fail <- err
				return
			}
			results <- chans
		}(n)
	}

	var all []Channel
	for i := 0; i < 2; i++ {
		select {
		case chans := <-results:
			all = append(all, chans...)
		case err := <-fail:
			t.Fatalf("batch failed: %v", err)
		}
	}
	require.Len(t, all, 8)
	assertChannelBijection(t, ctx, access, remote, all)
	closeChannels(ctx, access, remote, all)

	assert.Equal(t, int64(8), c.ChannelsOpened())
}

func TestListeningForTask(t *testing.T) {
	ctx := context.Background()
	access := task.NewLocalTask(nil, nil)
	remote := task.NewLocalTask(nil, nil)
	successor := task.NewLocalTaskSharing(remote.FDTable(), nil, nil)
	addr := filepath.Join(t.TempDir(), "conn.sock")

	c, err := NewListeningConnection(ctx, access, remote, addr, nil, nil)
	require.NoError(t, err)

	rebound, err := c.ForTask(ctx, successor)
	require.NoError(t, err)
	defer rebound.Close(ctx)

	_, err = c.OpenChannels(ctx, 1)
	assert.ErrorIs(t, err, ErrConnectionMoved)

	ch, err := rebound.OpenChannel(ctx)
	require.NoError(t, err)
	echoChannel(t, ctx, access, successor, ch)

	chans, err := rebound.OpenChannels(ctx, 2)
	require.NoError(t, err)
	assertChannelBijection(t, ctx, access, successor, chans)
	closeChannels(ctx, access, successor, append(chans, ch))
}

func TestListeningCloseStopsOpens(t *testing.T) {
	ctx := context.Background()
	access := task.NewLocalTask(nil, nil)
	remote := task.NewLocalTask(nil, nil)
	addr := filepath.Join(t.TempDir(), "conn.sock")

	c, err := NewListeningConnection(ctx, access, remote, addr, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	_, err = c.OpenChannels(ctx, 1)
	assert.ErrorIs(t, err, task.ErrClosed)
}
