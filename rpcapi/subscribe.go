package rpcapi

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shuttlelabs/shuttle/backend"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
)

// SubscriptionAPI carries the eth_subscribe kinds. It is
// registered under the eth namespace alongside EthereumAPI; the rpc
// package keeps subscription callbacks in their own dispatch table, so
// the regular eth_syncing method and the syncing subscription coexist.
type SubscriptionAPI struct {
	b *backend.Backend
}

func NewSubscriptionAPI(b *backend.Backend) *SubscriptionAPI {
	return &SubscriptionAPI{b: b}
}

// NewHeads streams the header of every committed block, in commit
// order.
func (api *SubscriptionAPI) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		ch := make(chan *ctypes.Block, 16)
		blockSub := api.b.SubscribeNewBlock(ch)
		defer blockSub.Unsubscribe()
		for {
			select {
			case block := <-ch:
				notifier.Notify(sub.ID, marshalHeader(block.Header))
			case <-sub.Err():
				return
			}
		}
	}()
	return sub, nil
}

// Logs streams matching logs from every committed block.
func (api *SubscriptionAPI) Logs(ctx context.Context, crit FilterCriteria) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	engine := crit.toEngine(api.b.BestBlockNumber())
	sub := notifier.CreateSubscription()
	go func() {
		ch := make(chan *ctypes.Block, 16)
		blockSub := api.b.SubscribeNewBlock(ch)
		defer blockSub.Unsubscribe()
		for {
			select {
			case block := <-ch:
				for _, l := range engine.BlockLogs(block) {
					notifier.Notify(sub.ID, marshalLog(l))
				}
			case <-sub.Err():
				return
			}
		}
	}()
	return sub, nil
}

// NewPendingTransactions streams the hash of every transaction entering
// the ready set.
func (api *SubscriptionAPI) NewPendingTransactions(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		ch := make(chan [32]byte, 128)
		txSub := api.b.SubscribeReadyTx(ch)
		defer txSub.Unsubscribe()
		for {
			select {
			case hash := <-ch:
				notifier.Notify(sub.ID, common.Hash(hash))
			case <-sub.Err():
				return
			}
		}
	}()
	return sub, nil
}

// Syncing exists for client compatibility; the node is always at its
// own tip, so no status change is ever emitted.
func (api *SubscriptionAPI) Syncing(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		<-sub.Err()
	}()
	return sub, nil
}
