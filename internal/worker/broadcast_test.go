package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/compress"
	"github.com/spicectl/displaycore/internal/pipe"
	"github.com/spicectl/displaycore/internal/region"
	"github.com/spicectl/displaycore/internal/stream"
	"github.com/spicectl/displaycore/internal/tree"
	"github.com/spicectl/displaycore/internal/wire"
)

func trackedDrawable(id uint64, r region.Rect) *tree.Drawable {
	return &tree.Drawable{ID: id, Effect: tree.EffectOpaque, Region: region.FromRect(r), Bbox: r}
}

func newTestClient() *ClientOutbound {
	return &ClientOutbound{
		Pipe:  pipe.New(false),
		Lossy: pipe.NewLossyTracker(),
		Bufs:  compress.NewBufferList(),
	}
}

type recordingSender struct{ sent []*pipe.Item }

func (s *recordingSender) Send(ctx context.Context, it *pipe.Item) error {
	s.sent = append(s.sent, it)
	return nil
}

// drain closes p and runs it to completion against a recording sender,
// returning every item it delivered in order.
func drain(t *testing.T, p *pipe.Pipe) []*pipe.Item {
	t.Helper()
	p.Close()
	s := &recordingSender{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pipe.Run(ctx, p, s))
	return s.sent
}

// TestBroadcastAddPopulatesDrawPayload proves dispatch's right half of
// spec.md §2's pipeline actually runs: a pipe-tracked drawable reaches
// the client's pipe as a compressed draw item, not just the tree, and
// that item encodes to a wire.Message end to end.
func TestBroadcastAddPopulatesDrawPayload(t *testing.T) {
	tr := tree.New()
	canv := newTestCanvas()
	cl := newTestClient()

	l := &Loop{
		Trees:    map[uint32]*tree.Tree{0: tr},
		Canvases: map[uint32]canvas.Canvas{0: canv},
		Chooser:  compress.NewChooser("auto-lz", nil, 1<<20, 80),
		Detector: stream.NewDetector(),
		Clients:  []*ClientOutbound{cl},
		GetImage: func(surfaceID uint32, rect region.Rect) (*canvas.Image, error) {
			return canv.ReadBits(rect), nil
		},
	}
	l.Detector.OnPromote = l.onStreamPromote

	d := trackedDrawable(3, region.Rect{X1: 0, Y1: 0, X2: 8, Y2: 8})
	l.dispatch(Command{Kind: KindAdd, SurfaceID: 0, Drawable: d, Hints: compress.Hints{LossyAllowed: true}})

	require.Equal(t, 1, tr.Len())
	items := drain(t, cl.Pipe)
	require.Len(t, items, 1)

	popped := items[0]
	require.Equal(t, pipe.KindDraw, popped.Kind)
	dp, ok := popped.Payload.(*wire.DrawPayload)
	require.True(t, ok, "payload should be a *wire.DrawPayload")
	require.NotZero(t, dp.Width)
	require.NotEmpty(t, dp.Compressed.Data)

	msg, err := wire.EncodeDrawItem(popped)
	require.NoError(t, err)
	require.Equal(t, uint16(wire.MsgDrawCopy), msg.Header.Type)
}

// TestBroadcastRemoveCrossRemovesPipeItems proves a remove command
// reaches every client pipe, not just the tree (spec.md §4.7).
func TestBroadcastRemoveCrossRemovesPipeItems(t *testing.T) {
	tr := tree.New()
	canv := newTestCanvas()
	cl := newTestClient()

	l := &Loop{
		Trees:    map[uint32]*tree.Tree{0: tr},
		Canvases: map[uint32]canvas.Canvas{0: canv},
		Clients:  []*ClientOutbound{cl},
		GetImage: func(surfaceID uint32, rect region.Rect) (*canvas.Image, error) {
			return canv.ReadBits(rect), nil
		},
	}

	d := trackedDrawable(9, region.Rect{X1: 0, Y1: 0, X2: 4, Y2: 4})
	h := tr.Add(d)
	l.broadcastAdd(0, d, compress.Hints{}, nil)
	require.Equal(t, 1, cl.Pipe.Len())

	l.dispatch(Command{Kind: KindRemove, SurfaceID: 0, Handle: h})
	require.Equal(t, 0, cl.Pipe.Len())
}

// TestStreamPromotionSendsOneCreateItem covers spec.md §8 scenario 3:
// exactly one stream-create item per client, however many matching
// frames follow past the promotion threshold.
func TestStreamPromotionSendsOneCreateItem(t *testing.T) {
	tr := tree.New()
	canv := newTestCanvas()
	cl := newTestClient()

	l := &Loop{
		Trees:    map[uint32]*tree.Tree{0: tr},
		Canvases: map[uint32]canvas.Canvas{0: canv},
		Detector: stream.NewDetector(),
		Clients:  []*ClientOutbound{cl},
		GetImage: func(surfaceID uint32, rect region.Rect) (*canvas.Image, error) {
			return canv.ReadBits(rect), nil
		},
	}
	l.Detector.OnPromote = l.onStreamPromote

	bbox := region.Rect{X1: 0, Y1: 0, X2: 96, Y2: 96} // the smallest area stream.MinStreamableArea accepts
	start := time.Unix(1700000000, 0)
	for i := 0; i < 30; i++ {
		d := trackedDrawable(uint64(i+1), bbox)
		cand := &stream.Candidate{
			Bbox: bbox, SourceWidth: 96, SourceHeight: 96,
			HighGraduality: true, IsOpaqueBitmapPut: true, OnPrimarySurface: true,
			At: start.Add(time.Duration(i) * 20 * time.Millisecond),
		}
		l.dispatch(Command{Kind: KindAdd, SurfaceID: 0, Drawable: d, StreamCandidate: cand})
	}

	items := drain(t, cl.Pipe)
	streamCreates := 0
	streamData := 0
	for _, it := range items {
		switch it.Kind {
		case pipe.KindStreamCreate:
			streamCreates++
		case pipe.KindStreamData:
			streamData++
		}
	}
	require.Equal(t, 1, streamCreates, "exactly one stream-create item should reach the client")
	require.Greater(t, streamData, 0, "frames past promotion should go out as stream-data")
}
