package rpcapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shuttlelabs/shuttle/types"
)

func TestEvmMineOptionsBareTimestamp(t *testing.T) {
	var opts EvmMineOptions
	require.NoError(t, json.Unmarshal([]byte(`1700000000`), &opts))
	require.NotNil(t, opts.Timestamp)
	require.Equal(t, uint64(1_700_000_000), *opts.Timestamp)
	require.Nil(t, opts.Blocks)
}

func TestEvmMineOptionsHexTimestamp(t *testing.T) {
	var opts EvmMineOptions
	require.NoError(t, json.Unmarshal([]byte(`"0x655f0e00"`), &opts))
	require.NotNil(t, opts.Timestamp)
	require.Equal(t, uint64(0x655f0e00), *opts.Timestamp)
}

func TestEvmMineOptionsObject(t *testing.T) {
	var opts EvmMineOptions
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": 123, "blocks": 4}`), &opts))
	require.Equal(t, uint64(123), *opts.Timestamp)
	require.Equal(t, uint64(4), *opts.Blocks)
}

func TestEvmMineOptionsNullFields(t *testing.T) {
	var opts EvmMineOptions
	require.NoError(t, json.Unmarshal([]byte(`{}`), &opts))
	require.Nil(t, opts.Timestamp)
	require.Nil(t, opts.Blocks)
}

func TestFilterCriteriaSingleAddress(t *testing.T) {
	var crit FilterCriteria
	raw := `{"address": "0xcb7700112233445566778899aabbccddeeff00112233"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &crit))
	require.Len(t, crit.Addresses, 1)
	require.Equal(t, types.HexToAddress("0xcb7700112233445566778899aabbccddeeff00112233"), crit.Addresses[0])
}

func TestFilterCriteriaAddressArrayAndTopics(t *testing.T) {
	var crit FilterCriteria
	raw := `{
		"address": ["0xcb7700112233445566778899aabbccddeeff00112233"],
		"topics": [
			"0x0000000000000000000000000000000000000000000000000000000000000001",
			null,
			["0x0000000000000000000000000000000000000000000000000000000000000002",
			 "0x0000000000000000000000000000000000000000000000000000000000000003"]
		]
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &crit))
	require.Len(t, crit.Addresses, 1)
	require.Len(t, crit.Topics, 3)
	require.Len(t, crit.Topics[0], 1)
	require.Nil(t, crit.Topics[1])
	require.Len(t, crit.Topics[2], 2)
	require.Equal(t, [32]byte{31: 0x03}, crit.Topics[2][1])
}

func TestFilterCriteriaRejectsBadTopic(t *testing.T) {
	var crit FilterCriteria
	require.Error(t, json.Unmarshal([]byte(`{"topics": ["0x01"]}`), &crit))
}

func TestFilterCriteriaBlockRange(t *testing.T) {
	var crit FilterCriteria
	require.NoError(t, json.Unmarshal([]byte(`{"fromBlock": "0x1", "toBlock": "latest"}`), &crit))
	engine := crit.toEngine(42)
	require.NotNil(t, engine.FromBlock)
	require.Equal(t, uint64(1), *engine.FromBlock)
	require.Nil(t, engine.ToBlock)
}

func TestTransactionArgsDataAliases(t *testing.T) {
	var args TransactionArgs
	require.NoError(t, json.Unmarshal([]byte(`{"input": "0x01", "data": "0x02"}`), &args))
	// input wins over data, matching mainline node behavior
	require.Equal(t, []byte{0x01}, args.data())

	args = TransactionArgs{}
	require.NoError(t, json.Unmarshal([]byte(`{"data": "0x02"}`), &args))
	require.Equal(t, []byte{0x02}, args.data())
}

func TestSendArgsRequiresFrom(t *testing.T) {
	var args TransactionArgs
	_, err := args.sendArgs()
	require.Error(t, err)
}
