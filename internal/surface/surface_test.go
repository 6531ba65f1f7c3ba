package surface

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/region"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTree struct {
	flushedAll   bool
	flushedRects []region.Rect
	cleared      bool
}

func (f *fakeTree) FlushAll(c canvas.Canvas)                       { f.flushedAll = true }
func (f *fakeTree) FlushRect(c canvas.Canvas, rect region.Rect)     { f.flushedRects = append(f.flushedRects, rect) }
func (f *fakeTree) Clear()                                         { f.cleared = true }
func (f *fakeTree) IsEmpty() bool                                  { return true }

func newTestRegistry(t *testing.T, max int) (*Registry, *fakeTree) {
	t.Helper()
	tr := &fakeTree{}
	reg := NewRegistry(discardLogger(), max)
	c := canvas.NewSoftCanvas(discardLogger(), canvas.Format32bpp, 64, 64, 64*4, make([]byte, 64*64*4))
	_, err := reg.Create(Primary, 64, 64, 64*4, canvas.Format32bpp, c, func() Tree { return tr }, false)
	require.NoError(t, err)
	return reg, tr
}

func TestCreatePrimaryTwiceFails(t *testing.T) {
	reg, _ := newTestRegistry(t, 4)
	c := canvas.NewSoftCanvas(discardLogger(), canvas.Format32bpp, 64, 64, 64*4, make([]byte, 64*64*4))
	_, err := reg.Create(Primary, 64, 64, 64*4, canvas.Format32bpp, c, func() Tree { return &fakeTree{} }, false)
	require.ErrorIs(t, err, ErrPrimaryExists)
}

func TestCreateRespectsMaxSurfaces(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	c := canvas.NewSoftCanvas(discardLogger(), canvas.Format32bpp, 64, 64, 64*4, make([]byte, 64*64*4))
	_, err := reg.Create(1, 64, 64, 64*4, canvas.Format32bpp, c, func() Tree { return &fakeTree{} }, false)
	require.ErrorIs(t, err, ErrMaxSurfaces)
}

func TestNotifyPrimaryCreatedFiresOnce(t *testing.T) {
	tr := &fakeTree{}
	reg := NewRegistry(discardLogger(), 4)
	calls := 0
	reg.NotifyPrimaryCreated = func() { calls++ }
	c := canvas.NewSoftCanvas(discardLogger(), canvas.Format32bpp, 64, 64, 64*4, make([]byte, 64*64*4))
	_, err := reg.Create(Primary, 64, 64, 64*4, canvas.Format32bpp, c, func() Tree { return tr }, false)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDestroyWaitsForDependencyRing(t *testing.T) {
	reg, tr := newTestRegistry(t, 4)
	s, err := reg.Lookup(Primary)
	require.NoError(t, err)

	s.AddDependent()
	done := make(chan error, 1)
	go func() { done <- reg.Destroy(context.Background(), Primary) }()

	select {
	case <-done:
		t.Fatal("destroy returned before dependency ring drained")
	default:
	}

	s.RemoveDependent()
	require.NoError(t, <-done)
	require.True(t, tr.flushedAll)
	require.True(t, tr.cleared)
	require.Equal(t, 0, reg.Len())
}

func TestDestroyContextCancelled(t *testing.T) {
	reg, _ := newTestRegistry(t, 4)
	s, err := reg.Lookup(Primary)
	require.NoError(t, err)
	s.AddDependent()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = reg.Destroy(ctx, Primary)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFlushDrivesRect(t *testing.T) {
	reg, tr := newTestRegistry(t, 4)
	rect := region.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	require.NoError(t, reg.Flush(Primary, rect))
	require.Equal(t, []region.Rect{rect}, tr.flushedRects)
}

func TestLookupUnknownReturnsErrNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t, 4)
	_, err := reg.Lookup(99)
	require.ErrorIs(t, err, ErrNotFound)
}
