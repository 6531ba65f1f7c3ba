package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDictionaryPutLookup(t *testing.T) {
	d := NewDictionary(1024)
	off := d.Put(1, []byte("hello world"))
	require.Equal(t, uint64(0), off)

	plain, ok := d.Lookup(1)
	require.True(t, ok)
	require.Equal(t, []byte("hello world"), plain)
}

func TestDictionaryEvictionDropsOldEntries(t *testing.T) {
	d := NewDictionary(8)
	d.Put(1, []byte("aaaaaaaa")) // exactly fills the window
	d.Release(1)
	d.Put(2, []byte("bbbbbbbb")) // forces entry 1 out of the window

	_, ok := d.Lookup(1)
	require.False(t, ok)
	plain, ok := d.Lookup(2)
	require.True(t, ok)
	require.Equal(t, []byte("bbbbbbbb"), plain)
}

func TestDictionaryRetainReleaseRefcount(t *testing.T) {
	d := NewDictionary(1024)
	d.Put(1, []byte("x"))
	d.Retain(1)
	d.Release(1)
	_, ok := d.Lookup(1)
	require.True(t, ok, "one retain should still be outstanding")

	d.Release(1)
	_, ok = d.entries.Load(1)
	require.False(t, ok)
}
