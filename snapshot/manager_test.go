package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdsAreMonotonic(t *testing.T) {
	m := NewManager[string]()
	require.Equal(t, uint64(0), m.Add("a"))
	require.Equal(t, uint64(1), m.Add("b"))

	_, ok := m.Revert(1)
	require.True(t, ok)
	// Ids never repeat, even after a revert freed the slot.
	require.Equal(t, uint64(2), m.Add("c"))
}

func TestRevertDiscardsYounger(t *testing.T) {
	m := NewManager[string]()
	id0 := m.Add("zero")
	id1 := m.Add("one")
	id2 := m.Add("two")

	capture, ok := m.Revert(id1)
	require.True(t, ok)
	require.Equal(t, "one", capture)

	// id1 and id2 are gone, id0 survives.
	_, ok = m.Revert(id2)
	require.False(t, ok)
	_, ok = m.Revert(id1)
	require.False(t, ok)
	capture, ok = m.Revert(id0)
	require.True(t, ok)
	require.Equal(t, "zero", capture)
}

func TestRevertUnknownId(t *testing.T) {
	m := NewManager[string]()
	m.Add("a")
	_, ok := m.Revert(99)
	require.False(t, ok)
	// Nothing was discarded by the failed revert.
	require.Equal(t, 1, m.Len())
}

func TestClear(t *testing.T) {
	m := NewManager[string]()
	m.Add("a")
	m.Clear()
	require.Zero(t, m.Len())
	// The counter keeps counting.
	require.Equal(t, uint64(1), m.Add("b"))
}
