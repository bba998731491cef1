package evmexec

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Pre-validation and execution errors.
var (
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrGasTooHigh        = errors.New("gas required exceeds allowance")
	ErrGasPriceTooLow    = errors.New("gas price below configured floor")
	ErrSignatureInvalid  = errors.New("invalid transaction signature")
)

// BasicOutOfGasError reports that a transaction cannot even cover its
// intrinsic gas at the given limit.
type BasicOutOfGasError struct {
	Limit uint64
}

func (e *BasicOutOfGasError) Error() string {
	return fmt.Sprintf("out of gas: gas required exceeds limit %d", e.Limit)
}

// RevertError carries the raw revert output so the RPC boundary can
// expose both the decoded reason and the hex payload.
type RevertError struct {
	Output []byte
}

func (e *RevertError) Error() string {
	if reason := DecodeRevertReason(e.Output); reason != "" {
		return fmt.Sprintf("execution reverted: %s", reason)
	}
	if len(e.Output) > 0 {
		return fmt.Sprintf("execution reverted: %s", hexutil.Encode(e.Output))
	}
	return "execution reverted"
}

// EvmError is any other interpreter failure, carrying its numeric code.
type EvmError struct {
	Code int
}

func (e *EvmError) Error() string {
	return fmt.Sprintf("evm error (code %d)", e.Code)
}
