// Package rpcerr shapes internal errors into the JSON-RPC error envelope.
// Every type here implements the (Error, ErrorCode) pair - and, where a
// payload exists, ErrorData - that github.com/ethereum/go-ethereum/rpc
// reflects on when marshalling a handler error, so API methods return
// these directly and never hand-write response JSON.
package rpcerr

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Stable numeric codes. -32602/-32603 follow the JSON-RPC 2.0 spec;
// 3 is the de-facto execution-revert code emitted by mainline nodes.
const (
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeUnimplemented  = -32601
	CodeTransaction    = -32003
	CodeExecutionError = 3
)

// Error is a structured JSON-RPC error { code, message, data? }.
type Error struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *Error) Error() string  { return e.Message }
func (e *Error) ErrorCode() int { return e.Code }

func (e *Error) ErrorData() interface{} { return e.Data }

// New builds an internal-code error from a format string.
func New(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// InvalidParams rejects a malformed or out-of-range request parameter.
func InvalidParams(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// Unimplemented marks a method this node intentionally does not serve
// (eth_getWork and friends, non-default tracers).
func Unimplemented(method string) *Error {
	return &Error{Code: CodeUnimplemented, Message: fmt.Sprintf("method %s is not supported", method)}
}

// Revert carries the raw revert output as hex data so clients can decode
// custom errors; the message holds the decoded reason when one exists.
func Revert(reason string, output []byte) *Error {
	msg := "execution reverted"
	if reason != "" {
		msg = fmt.Sprintf("execution reverted: %s", reason)
	}
	e := &Error{Code: CodeExecutionError, Message: msg}
	if len(output) > 0 {
		e.Data = hexutil.Encode(output)
	}
	return e
}

// Transaction wraps a pre-validation failure (nonce, funds, gas floor).
func Transaction(err error) *Error {
	return &Error{Code: CodeTransaction, Message: err.Error()}
}

// BlockNotFound is returned when a block tag resolves to nothing.
func BlockNotFound() *Error {
	return &Error{Code: CodeInternal, Message: "block not found"}
}

// Shape passes through an already structured *Error and wraps anything
// else as an internal error, so dispatch boundaries stay uniform.
func Shape(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
