package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/cache"
	"github.com/spicectl/displaycore/internal/region"
	"github.com/spicectl/displaycore/internal/tree"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCanvas() canvas.Canvas {
	return canvas.NewSoftCanvas(discardLogger(), canvas.Format32bpp, 64, 64, 64*4, make([]byte, 64*64*4))
}

func opaqueDrawable(r region.Rect) *tree.Drawable {
	return &tree.Drawable{Effect: tree.EffectOpaque, Region: region.FromRect(r), Bbox: r}
}

// chanSource is a CommandSource backed by a channel, for driving Run
// deterministically from a test.
type chanSource struct {
	mu     sync.Mutex
	queue  []Command
	closed bool
}

func (s *chanSource) push(c Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, c)
}

func (s *chanSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *chanSource) Next() (Command, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		if s.closed {
			return Command{}, false, errSourceClosed
		}
		return Command{}, false, nil
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, true, nil
}

var errSourceClosed = errors.New("source closed")

type fakeGauge struct{ n int }

func (g *fakeGauge) Len() int { return g.n }

func TestDispatchAddsFromTree(t *testing.T) {
	tr := tree.New()
	src := &chanSource{}
	l := &Loop{
		Trees:  map[uint32]*tree.Tree{0: tr},
		Source: src,
	}

	src.push(Command{Kind: KindAdd, SurfaceID: 0, Drawable: opaqueDrawable(region.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})})
	src.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := l.Run(ctx)
	require.ErrorIs(t, err, errSourceClosed)
	require.Equal(t, 1, tr.Len())
}

func TestDispatchRemovesFromTree(t *testing.T) {
	tr := tree.New()
	h := tr.Add(opaqueDrawable(region.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}))
	require.Equal(t, 1, tr.Len())

	src := &chanSource{}
	l := &Loop{
		Trees:  map[uint32]*tree.Tree{0: tr},
		Source: src,
	}
	src.push(Command{Kind: KindRemove, SurfaceID: 0, Handle: h})
	src.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := l.Run(ctx)
	require.ErrorIs(t, err, errSourceClosed)
	require.Equal(t, 0, tr.Len())
}

func TestBackpressureBlocksUntilPipeDrains(t *testing.T) {
	tr := tree.New()
	src := &chanSource{}
	gauge := &fakeGauge{n: MaxPipeSize}
	l := &Loop{
		Trees:  map[uint32]*tree.Tree{0: tr},
		Source: src,
		Pipes:  []PipeGauge{gauge},
	}

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	src.push(Command{Kind: KindAdd, SurfaceID: 0, Drawable: opaqueDrawable(region.Rect{X1: 0, Y1: 0, X2: 5, Y2: 5})})
	src.close()

	// The pipe never drains below MaxPipeSize in this test, so Run
	// should still be blocked on the context deadline rather than
	// having dispatched anything.
	select {
	case err := <-done:
		t.Fatalf("Run returned early (%v) despite the pipe staying full", err)
	case <-time.After(300 * time.Millisecond):
	}
	require.Equal(t, 0, tr.Len())

	gauge.n = 0 // drain the pipe
	err := <-done
	require.ErrorIs(t, err, errSourceClosed)
	require.Equal(t, 1, tr.Len())
}

func TestHandleOOMEvictsOldestItemsAndForceFreesDict(t *testing.T) {
	tr := tree.New()
	for i := 0; i < 5; i++ {
		x := int32(i * 10)
		tr.Add(opaqueDrawable(region.Rect{X1: x, Y1: 0, X2: x + 5, Y2: 5}))
	}
	require.Equal(t, 5, tr.Len())

	dict := cache.NewDictionary(1 << 20)
	dict.Put(1, make([]byte, 1024))

	flushCalls := 0
	l := &Loop{
		Trees:            map[uint32]*tree.Tree{0: tr},
		Canvases:         map[uint32]canvas.Canvas{0: newTestCanvas()},
		Dict:             dict,
		OnFlushResources: func() { flushCalls++ },
	}

	report := l.HandleOOM()
	require.Equal(t, 5, report.ItemsEvicted)
	require.Equal(t, 0, tr.Len())
	require.Greater(t, report.GLZBytesFreed, 0)
	require.Equal(t, 0, dict.Size())
	require.Equal(t, MaxFlushResourceCalls, report.FlushCalls)
	require.Equal(t, MaxFlushResourceCalls, flushCalls)
}

func TestHandleOOMCapsEvictionAtMax(t *testing.T) {
	tr := tree.New()
	for i := 0; i < MaxEvictedItems+10; i++ {
		x := int32(i * 3)
		tr.Add(opaqueDrawable(region.Rect{X1: x, Y1: 0, X2: x + 1, Y2: 1}))
	}
	l := &Loop{
		Trees:    map[uint32]*tree.Tree{0: tr},
		Canvases: map[uint32]canvas.Canvas{0: newTestCanvas()},
	}
	report := l.HandleOOM()
	require.Equal(t, MaxEvictedItems, report.ItemsEvicted)
	require.Equal(t, 10, tr.Len())
}
