package cheat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shuttlelabs/shuttle/types"
)

func TestImpersonation(t *testing.T) {
	c := NewController()
	addr := types.HexToAddress("0xcb77aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	require.False(t, c.IsImpersonated(addr))
	c.Impersonate(addr)
	require.True(t, c.IsImpersonated(addr))
	c.StopImpersonating(addr)
	require.False(t, c.IsImpersonated(addr))
}

func TestAutoImpersonate(t *testing.T) {
	c := NewController()
	addr := types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	c.SetAutoImpersonate(true)
	require.True(t, c.IsImpersonated(addr))
	c.SetAutoImpersonate(false)
	require.False(t, c.IsImpersonated(addr))
}

func TestLoggingToggle(t *testing.T) {
	c := NewController()
	require.True(t, c.LoggingEnabled())
	c.SetLoggingEnabled(false)
	require.False(t, c.LoggingEnabled())
}
