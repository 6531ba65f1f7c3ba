package clientreg

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct{ id int }

func (f *fakeChannel) WriteMessage(ctx context.Context, msg wire.Message) error { return nil }
func (f *fakeChannel) ReadMessage(ctx context.Context) (wire.Message, error)   { return wire.Message{}, nil }
func (f *fakeChannel) Close() error                                            { return nil }

func TestSetThenChannelReturnsIt(t *testing.T) {
	r := New(discardLogger(), time.Second)
	defer r.Stop()

	ch := &fakeChannel{id: 1}
	r.Set(1, ch)
	got, ok := r.Channel(1)
	require.True(t, ok)
	require.Same(t, ch, got)
}

func TestAwaitReturnsImmediatelyWhenConnected(t *testing.T) {
	r := New(discardLogger(), time.Second)
	defer r.Stop()

	ch := &fakeChannel{}
	r.Set(5, ch)
	got, err := r.Await(context.Background(), 5)
	require.NoError(t, err)
	require.Same(t, ch, got)
}

func TestAwaitUnblocksOnReconnectWithinGracePeriod(t *testing.T) {
	r := New(discardLogger(), 2*time.Second)
	defer r.Stop()

	ch := &fakeChannel{}
	r.Set(9, ch)
	r.OnDisconnect(9)

	done := make(chan struct{})
	var gotErr error
	go func() {
		_, gotErr = r.Await(context.Background(), 9)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	newCh := &fakeChannel{}
	r.Set(9, newCh)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after reconnect")
	}
	require.NoError(t, gotErr)
}

func TestAwaitErrorsAfterGracePeriodExpires(t *testing.T) {
	r := New(discardLogger(), 30*time.Millisecond)
	defer r.Stop()

	ch := &fakeChannel{}
	r.Set(3, ch)
	r.OnDisconnect(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := r.Await(ctx, 3)
	require.Error(t, err)
}

func TestAwaitNoChannelEverReturnsErrNoChannel(t *testing.T) {
	r := New(discardLogger(), time.Second)
	defer r.Stop()
	_, err := r.Await(context.Background(), 99)
	require.ErrorIs(t, err, ErrNoChannel)
}

func TestRemoveWakesPendingAwaits(t *testing.T) {
	r := New(discardLogger(), 5*time.Second)
	defer r.Stop()

	ch := &fakeChannel{}
	r.Set(4, ch)
	r.OnDisconnect(4)

	done := make(chan error, 1)
	go func() {
		_, err := r.Await(context.Background(), 4)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	r.Remove(4)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after Remove")
	}
}

func TestStatsReportsActiveAndGraceCounts(t *testing.T) {
	r := New(discardLogger(), 5*time.Second)
	defer r.Stop()

	r.Set(1, &fakeChannel{})
	r.Set(2, &fakeChannel{})
	r.OnDisconnect(2)

	s := r.Stats()
	require.Equal(t, 1, s.ActiveClients)
	require.Equal(t, 1, s.GracePeriodEntries)
}
