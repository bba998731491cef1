package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressHexRoundTrip(t *testing.T) {
	hex := "0xcb7700112233445566778899aabbccddeeff00112233"
	addr := HexToAddress(hex)
	require.Equal(t, hex, addr.Hex())

	var decoded Address
	require.NoError(t, decoded.UnmarshalText([]byte(hex)))
	require.Equal(t, addr, decoded)
}

func TestAddressJSON(t *testing.T) {
	addr := HexToAddress("0xcb7700112233445566778899aabbccddeeff00112233")
	raw, err := json.Marshal(addr)
	require.NoError(t, err)
	var back Address
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, addr, back)
}

func TestAddressUnmarshalRejectsWrongLength(t *testing.T) {
	var addr Address
	require.Error(t, addr.UnmarshalText([]byte("0x001122")))
	// A classic 20-byte address is not a valid extended address either.
	require.Error(t, addr.UnmarshalText([]byte("0x00112233445566778899aabbccddeeff00112233")))
}

func TestCore20RoundTrip(t *testing.T) {
	addr := HexToAddress("0xcb7700112233445566778899aabbccddeeff00112233")
	core := addr.Core20()
	back := FromCore20(core)
	require.Equal(t, addr.Core20(), back.Core20())
	require.Equal(t, byte(0), back[0]) // prefix is not preserved by design of FromCore20
}

func TestMarkerString(t *testing.T) {
	addr := HexToAddress("0xcb7700112233445566778899aabbccddeeff00112233")
	m := NewMarker(addr, 7)
	require.Equal(t, addr.Hex()+"#7", m.String())
}
