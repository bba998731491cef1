package evmexec

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shuttlelabs/shuttle/core/state"
	"github.com/shuttlelabs/shuttle/params"
	"github.com/shuttlelabs/shuttle/types"
)

var (
	sender = types.HexToAddress("0xcb77aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	target = types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// thresholdInterpreter succeeds iff the gas limit reaches its demand,
// optionally reverting instead of succeeding.
type thresholdInterpreter struct {
	demand uint64
	revert bool
	runs   int
	output []byte
}

func (ti *thresholdInterpreter) Run(ctx context.Context, env Env, st *state.StateDB) (Outcome, error) {
	ti.runs++
	if env.Tx.GasLimit < ti.demand {
		return Outcome{Kind: OutcomeOutOfGas, GasUsed: env.Tx.GasLimit}, nil
	}
	if ti.revert {
		return Outcome{Kind: OutcomeRevert, GasUsed: ti.demand, Output: ti.output}, nil
	}
	return Outcome{Kind: OutcomeSuccess, GasUsed: ti.demand}, nil
}

func testEnv(t *testing.T) (*state.StateDB, BlockEnv) {
	t.Helper()
	st := state.New(nil)
	require.NoError(t, st.SetBalance(sender, uint256.NewInt(1).Lsh(uint256.NewInt(1), 64)))
	return st, BlockEnv{Number: 1, Timestamp: 1000, GasLimit: 30_000_000}
}

func TestEstimatePlainTransferShortCircuits(t *testing.T) {
	st, block := testEnv(t)
	ti := &thresholdInterpreter{demand: 21000}
	a := NewAdapter(ti, DefaultCfg(1))

	gas, err := a.EstimateGas(context.Background(), st, block, CallRequest{
		From:  &sender,
		To:    &target,
		Value: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, params.MinTransactionGas, gas)
	// The baseline path never invokes the interpreter.
	require.Equal(t, 0, ti.runs)
}

func TestEstimateFindsSmallestSufficientGas(t *testing.T) {
	st, block := testEnv(t)
	require.NoError(t, st.SetCode(target, []byte{0xfe}))

	for _, demand := range []uint64{21000, 50_000, 1_234_567} {
		ti := &thresholdInterpreter{demand: demand}
		a := NewAdapter(ti, DefaultCfg(1))
		gas, err := a.EstimateGas(context.Background(), st, block, CallRequest{
			From: &sender,
			To:   &target,
			Data: []byte{0x01},
		})
		require.NoError(t, err)
		// The smallest G in [base, blockGasLimit] at which execution
		// succeeds is exactly the interpreter's demand.
		require.Equal(t, demand, gas, "demand %d", demand)
	}
}

func TestEstimateRevertReturnsOutput(t *testing.T) {
	st, block := testEnv(t)
	require.NoError(t, st.SetCode(target, []byte{0xfe}))

	ti := &thresholdInterpreter{demand: 21000, revert: true, output: []byte{0xde, 0xad}}
	a := NewAdapter(ti, DefaultCfg(1))
	_, err := a.EstimateGas(context.Background(), st, block, CallRequest{
		From: &sender,
		To:   &target,
		Data: []byte{0x01},
	})
	var revert *RevertError
	require.ErrorAs(t, err, &revert)
	require.Equal(t, []byte{0xde, 0xad}, revert.Output)
}

func TestEstimateExplicitGasTooLow(t *testing.T) {
	st, block := testEnv(t)
	require.NoError(t, st.SetCode(target, []byte{0xfe}))

	// The caller pins gas below the demand; the rerun at the block limit
	// succeeds, so the failure is "limit too low", not a revert.
	gasCap := uint64(30_000)
	ti := &thresholdInterpreter{demand: 100_000}
	a := NewAdapter(ti, DefaultCfg(1))
	_, err := a.EstimateGas(context.Background(), st, block, CallRequest{
		From: &sender,
		To:   &target,
		Data: []byte{0x01},
		Gas:  &gasCap,
	})
	var oog *BasicOutOfGasError
	require.ErrorAs(t, err, &oog)
	require.Equal(t, gasCap, oog.Limit)
}

func TestEstimateCreateUsesCreateFloor(t *testing.T) {
	st, block := testEnv(t)
	ti := &thresholdInterpreter{demand: params.MinCreateGas}
	a := NewAdapter(ti, DefaultCfg(1))
	gas, err := a.EstimateGas(context.Background(), st, block, CallRequest{
		From: &sender,
		Data: []byte{0x60, 0x00},
	})
	require.NoError(t, err)
	require.Equal(t, params.MinCreateGas, gas)
}

func TestDecodeRevertReason(t *testing.T) {
	// abi.encodeWithSignature("Error(string)", "nope")
	payload := append([]byte{0x08, 0xc3, 0x79, 0xa0}, make([]byte, 96)...)
	payload[4+31] = 0x20 // offset
	payload[4+63] = 0x04 // length
	copy(payload[4+64:], "nope")
	require.Equal(t, "nope", DecodeRevertReason(payload))
	require.Equal(t, "", DecodeRevertReason([]byte{0x01, 0x02}))
	require.Equal(t, "", DecodeRevertReason(nil))
}
