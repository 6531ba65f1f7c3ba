package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeConcurrentIncrements(t *testing.T) {
	tr := NewTree()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Inc("draws.total")
		}()
	}
	wg.Wait()
	require.Equal(t, int64(100), tr.Get("draws.total"))
}

func TestCodecStats(t *testing.T) {
	tr := NewTree()
	jpeg := tr.Codec("jpeg")
	jpeg.RecordFrame(1000, 200)
	jpeg.RecordFrame(1000, 180)

	snap := tr.Snapshot()
	require.Equal(t, int64(2), snap["jpeg.frames"])
	require.Equal(t, int64(2000), snap["jpeg.orig_bytes"])
	require.Equal(t, int64(380), snap["jpeg.comp_bytes"])
}
