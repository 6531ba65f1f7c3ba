package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddHitMovesToFront(t *testing.T) {
	c, err := New("pixmap", 1024)
	require.NoError(t, err)
	defer c.Destroy()

	ok, needsSync := c.Add(1, 0, 100, 64, false, 1, []byte("a"))
	require.True(t, ok)
	require.False(t, needsSync)

	present, lossy := c.Hit(1, 100, 2)
	require.True(t, present)
	require.False(t, lossy)
	require.Equal(t, 1, c.Len())
}

func TestAddStaleGenerationNeedsSync(t *testing.T) {
	c, err := New("pixmap", 1024)
	require.NoError(t, err)
	defer c.Destroy()

	ok, needsSync := c.Add(1, 1, 100, 64, false, 1, nil)
	require.False(t, ok)
	require.True(t, needsSync)
}

func TestEvictionRefusesInFlightEntry(t *testing.T) {
	c, err := New("pixmap", 128)
	require.NoError(t, err)
	defer c.Destroy()

	ok, _ := c.Add(1, 0, 1, 128, false, 5, []byte("a"))
	require.True(t, ok)

	// Channel 1 still has an in-flight read at serial 5 on entry 1; a
	// same-channel Add that would need to evict it must fail rather
	// than silently dropping data the channel is mid-read on.
	ok, needsSync := c.Add(1, 0, 2, 128, false, 5, []byte("b"))
	require.False(t, ok)
	require.False(t, needsSync)
	require.Equal(t, 1, c.Len())
}

func TestEvictionEvictsOldestWhenNotInFlight(t *testing.T) {
	var evicted []uint64
	c, err := New("pixmap", 128)
	require.NoError(t, err)
	defer c.Destroy()
	c.OnEvict = func(_ ChannelID, id uint64) { evicted = append(evicted, id) }

	ok, _ := c.Add(1, 0, 1, 128, false, 1, []byte("a"))
	require.True(t, ok)

	ok, needsSync := c.Add(1, 0, 2, 128, false, 2, []byte("b"))
	require.True(t, ok)
	require.False(t, needsSync)
	require.Equal(t, []uint64{1}, evicted)
	require.Equal(t, 1, c.Len())
}

func TestResetBumpsGenerationAndReturnsWaits(t *testing.T) {
	c, err := New("pixmap", 1024)
	require.NoError(t, err)
	defer c.Destroy()

	c.Add(1, 0, 1, 8, false, 1, []byte("a"))
	c.Add(2, 0, 2, 8, false, 7, []byte("b"))

	waits := c.Reset(1, 9)
	require.Equal(t, uint64(1), c.Generation())
	require.Equal(t, 0, c.Len())
	require.Len(t, waits.Waits, 1)
	require.Equal(t, ChannelID(2), waits.Waits[0].Channel)
	require.Equal(t, uint64(7), waits.Waits[0].Serial)
}

func TestFreezeOnlyOnce(t *testing.T) {
	c, err := New("pixmap", 1024)
	require.NoError(t, err)
	defer c.Destroy()

	require.True(t, c.Freeze())
	require.False(t, c.Freeze())
}
