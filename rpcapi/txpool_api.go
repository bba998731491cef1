package rpcapi

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shuttlelabs/shuttle/backend"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
)

// TxPoolAPI serves the txpool_* namespace over the pool's ready/pending
// split.
type TxPoolAPI struct {
	b *backend.Backend
}

func NewTxPoolAPI(b *backend.Backend) *TxPoolAPI { return &TxPoolAPI{b: b} }

// Status reports how many transactions are executable and how many wait
// on a nonce gap.
func (api *TxPoolAPI) Status() map[string]hexutil.Uint {
	pool := api.b.Pool()
	return map[string]hexutil.Uint{
		"pending": hexutil.Uint(len(pool.Ready())),
		"queued":  hexutil.Uint(len(pool.Pending())),
	}
}

type poolGroup map[string]map[string]interface{}

func groupBySender(txs []*ctypes.PoolTransaction, render func(*ctypes.PoolTransaction) interface{}) poolGroup {
	out := make(poolGroup)
	for _, ptx := range txs {
		sender := ptx.Sender.Hex()
		if out[sender] == nil {
			out[sender] = make(map[string]interface{})
		}
		out[sender][fmt.Sprintf("%d", ptx.Pending.Nonce)] = render(ptx)
	}
	return out
}

// Content returns the full transaction objects grouped by sender and
// nonce.
func (api *TxPoolAPI) Content() map[string]poolGroup {
	pool := api.b.Pool()
	render := func(ptx *ctypes.PoolTransaction) interface{} {
		return marshalTx(ptx.Pending, nil, &ptx.Sender)
	}
	return map[string]poolGroup{
		"pending": groupBySender(pool.Ready(), render),
		"queued":  groupBySender(pool.Pending(), render),
	}
}

// Inspect returns the one-line summaries geth clients print.
func (api *TxPoolAPI) Inspect() map[string]poolGroup {
	pool := api.b.Pool()
	render := func(ptx *ctypes.PoolTransaction) interface{} {
		tx := ptx.Pending
		to := "contract creation"
		if tx.To != nil {
			to = tx.To.Hex()
		}
		return fmt.Sprintf("%s: %s wei + %d gas x %s wei", to, tx.Value, tx.GasLimit, tx.GasPrice)
	}
	return map[string]poolGroup{
		"pending": groupBySender(pool.Ready(), render),
		"queued":  groupBySender(pool.Pending(), render),
	}
}
