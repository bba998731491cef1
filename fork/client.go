// Package fork implements the lazy remote-state proxy the node uses when
// started against a live endpoint. Every read is pinned to the fork
// block: values fetched once are memoized for that pin in a bounded LRU
// cache (an evicted value is fetched again on its next read), the
// first reader drives the remote fetch and concurrent readers wait on
// it, and transient transport failures retry with bounded exponential
// backoff.
package fork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// ErrNonArchiveNode flags a remote that has pruned the requested state:
// the pin is at or below the remote head, yet the endpoint returned
// nothing for it.
var ErrNonArchiveNode = errors.New("fork: remote returned no data for a non-pruned height; endpoint is likely not an archive node")

const (
	defaultCacheSize    = 4096
	defaultRetryInitial = 200 * time.Millisecond
	defaultMaxAttempts  = 5
)

// Config pins the client to a remote endpoint and block height.
type Config struct {
	URL         string
	BlockNumber uint64 // the fork pin

	// Retry policy for remote calls; zero values pick the defaults.
	RetryInitial time.Duration
	MaxAttempts  int
}

// Transport is the remote call surface; *rpc.Client satisfies it, tests
// substitute a fake.
type Transport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Client is the lazy loader. It implements state.DatabaseRef for the
// world state's fallback path and exposes block/receipt/proof/call
// delegation for RPC handlers serving pre-pin heights.
type Client struct {
	cfg       Config
	transport Transport
	logger    log.Logger

	// latestRemote is the remote head observed at construction, used by
	// the non-archive diagnostic.
	latestRemote uint64

	cache    *lru.Cache // fetch key -> memoized result
	inflight sync.Map   // fetch key -> *fetchCall
}

type fetchCall struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Dial connects the transport and pins the client. When cfg.BlockNumber
// is zero the current remote head becomes the pin.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rc, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fork: dial %s: %w", cfg.URL, err)
	}
	return NewClient(ctx, cfg, rc)
}

// NewClient wraps an existing transport.
func NewClient(ctx context.Context, cfg Config, transport Transport) (*Client, error) {
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = defaultRetryInitial
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    log.New("component", "fork"),
		cache:     cache,
	}
	var head hexutil.Uint64
	if err := c.call(ctx, &head, "eth_blockNumber"); err != nil {
		return nil, fmt.Errorf("fork: fetch remote head: %w", err)
	}
	c.latestRemote = uint64(head)
	if cfg.BlockNumber == 0 {
		c.cfg.BlockNumber = c.latestRemote
	}
	c.logger.Info("forking remote chain", "url", cfg.URL, "pin", c.cfg.BlockNumber, "head", c.latestRemote)
	return c, nil
}

// Pin returns the fork block height.
func (c *Client) Pin() uint64 { return c.cfg.BlockNumber }

// URL returns the remote endpoint.
func (c *Client) URL() string { return c.cfg.URL }

// PredatesFork reports whether height n is strictly below the pin and
// therefore served remotely.
func (c *Client) PredatesFork(n uint64) bool { return n < c.cfg.BlockNumber }

// PredatesForkInclusive also claims the pin itself; proofs and uncle
// queries at the pin belong to the remote chain.
func (c *Client) PredatesForkInclusive(n uint64) bool { return n <= c.cfg.BlockNumber }

// call performs one remote call with bounded exponential backoff.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	backoff := c.cfg.RetryInitial
	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err = c.transport.CallContext(ctx, result, method, args...)
		if err == nil {
			return nil
		}
		if attempt == c.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		c.logger.Warn("remote call failed, retrying", "method", method, "attempt", attempt, "err", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("fork: remote %s failed after %d attempts: %w", method, c.cfg.MaxAttempts, err)
}

// fetch memoizes fn's result under key. The first caller populates; any
// concurrent caller for the same key waits for that population instead
// of issuing its own remote call.
func (c *Client) fetch(key string, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	call := &fetchCall{done: make(chan struct{})}
	if actual, loaded := c.inflight.LoadOrStore(key, call); loaded {
		prev := actual.(*fetchCall)
		<-prev.done
		return prev.value, prev.err
	}
	call.value, call.err = fn()
	if call.err == nil {
		c.cache.Add(key, call.value)
	}
	c.inflight.Delete(key)
	close(call.done)
	return call.value, call.err
}

func (c *Client) pinTag() string {
	return hexutil.EncodeUint64(c.cfg.BlockNumber)
}

func blockTag(n uint64) string { return hexutil.EncodeUint64(n) }

// BalanceAt fetches the balance of addr at height n (n must predate the
// pin, or be the pin for DatabaseRef reads).
func (c *Client) BalanceAt(ctx context.Context, addr types.Address, n uint64) (*uint256.Int, error) {
	key := fmt.Sprintf("balance/%s/%d", addr.Hex(), n)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out hexutil.Big
		if err := c.call(ctx, &out, "eth_getBalance", addr.Hex(), blockTag(n)); err != nil {
			return nil, err
		}
		return uint256.MustFromBig(out.ToInt()), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*uint256.Int), nil
}

// NonceAt fetches the transaction count of addr at height n.
func (c *Client) NonceAt(ctx context.Context, addr types.Address, n uint64) (uint64, error) {
	key := fmt.Sprintf("nonce/%s/%d", addr.Hex(), n)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out hexutil.Uint64
		if err := c.call(ctx, &out, "eth_getTransactionCount", addr.Hex(), blockTag(n)); err != nil {
			return nil, err
		}
		return uint64(out), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// CodeAt fetches the code of addr at height n.
func (c *Client) CodeAt(ctx context.Context, addr types.Address, n uint64) ([]byte, error) {
	key := fmt.Sprintf("code/%s/%d", addr.Hex(), n)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out hexutil.Bytes
		if err := c.call(ctx, &out, "eth_getCode", addr.Hex(), blockTag(n)); err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// StorageAt fetches one storage slot of addr at height n.
func (c *Client) StorageAt(ctx context.Context, addr types.Address, slot [32]byte, n uint64) ([32]byte, error) {
	key := fmt.Sprintf("storage/%s/%x/%d", addr.Hex(), slot, n)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out hexutil.Bytes
		if err := c.call(ctx, &out, "eth_getStorageAt", addr.Hex(), hexutil.Encode(slot[:]), blockTag(n)); err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[32-len(out):], out)
		return h, nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	return v.([32]byte), nil
}

// BlockByNumber fetches a remote block as the raw JSON object the RPC
// layer returns verbatim. A null result below the remote head raises the
// non-archive diagnostic.
func (c *Client) BlockByNumber(ctx context.Context, n uint64, fullTx bool) (json.RawMessage, error) {
	key := fmt.Sprintf("block/%d/%t", n, fullTx)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out json.RawMessage
		if err := c.call(ctx, &out, "eth_getBlockByNumber", blockTag(n), fullTx); err != nil {
			return nil, err
		}
		if isNull(out) && n <= c.latestRemote {
			return nil, ErrNonArchiveNode
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// BlockByHash fetches a remote block by hash.
func (c *Client) BlockByHash(ctx context.Context, hash [32]byte, fullTx bool) (json.RawMessage, error) {
	key := fmt.Sprintf("blockh/%x/%t", hash, fullTx)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out json.RawMessage
		if err := c.call(ctx, &out, "eth_getBlockByHash", hexutil.Encode(hash[:]), fullTx); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// TransactionByHash fetches a remote transaction.
func (c *Client) TransactionByHash(ctx context.Context, hash [32]byte) (json.RawMessage, error) {
	key := fmt.Sprintf("tx/%x", hash)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out json.RawMessage
		if err := c.call(ctx, &out, "eth_getTransactionByHash", hexutil.Encode(hash[:])); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// ReceiptByHash fetches a remote transaction receipt.
func (c *Client) ReceiptByHash(ctx context.Context, hash [32]byte) (json.RawMessage, error) {
	key := fmt.Sprintf("receipt/%x", hash)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out json.RawMessage
		if err := c.call(ctx, &out, "eth_getTransactionReceipt", hexutil.Encode(hash[:])); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// ProofAt delegates eth_getProof for heights at or below the pin.
func (c *Client) ProofAt(ctx context.Context, addr types.Address, keys []string, n uint64) (json.RawMessage, error) {
	key := fmt.Sprintf("proof/%s/%v/%d", addr.Hex(), keys, n)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out json.RawMessage
		if err := c.call(ctx, &out, "eth_getProof", addr.Hex(), keys, blockTag(n)); err != nil {
			return nil, err
		}
		if isNull(out) && n <= c.latestRemote {
			return nil, ErrNonArchiveNode
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// UncleCountAt delegates the uncle count for a pre-pin (inclusive)
// height; locally produced blocks never carry uncles.
func (c *Client) UncleCountAt(ctx context.Context, n uint64) (uint64, error) {
	key := fmt.Sprintf("uncles/%d", n)
	v, err := c.fetch(key, func() (interface{}, error) {
		var out hexutil.Uint64
		if err := c.call(ctx, &out, "eth_getUncleCountByBlockNumber", blockTag(n)); err != nil {
			return nil, err
		}
		return uint64(out), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// CallAt delegates eth_call against a pre-pin height. Not memoized: the
// request object space is unbounded and calls are cheap to repeat.
func (c *Client) CallAt(ctx context.Context, req interface{}, n uint64) (hexutil.Bytes, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, &out, "eth_call", req, blockTag(n)); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateGasAt delegates eth_estimateGas against a pre-pin height.
func (c *Client) EstimateGasAt(ctx context.Context, req interface{}, n uint64) (uint64, error) {
	var out hexutil.Uint64
	if err := c.call(ctx, &out, "eth_estimateGas", req, blockTag(n)); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// state.DatabaseRef implementation, always pinned.

func (c *Client) GetAccount(addr types.Address) (*ctypes.Account, error) {
	ctx := context.Background()
	balance, err := c.BalanceAt(ctx, addr, c.cfg.BlockNumber)
	if err != nil {
		return nil, err
	}
	nonce, err := c.NonceAt(ctx, addr, c.cfg.BlockNumber)
	if err != nil {
		return nil, err
	}
	code, err := c.CodeAt(ctx, addr, c.cfg.BlockNumber)
	if err != nil {
		return nil, err
	}
	if balance.IsZero() && nonce == 0 && len(code) == 0 {
		return nil, nil
	}
	acc := ctypes.NewAccount()
	acc.Balance = balance
	acc.Nonce = nonce
	acc.Code = code
	return acc, nil
}

func (c *Client) GetStorage(addr types.Address, key [32]byte) ([32]byte, error) {
	return c.StorageAt(context.Background(), addr, key, c.cfg.BlockNumber)
}

func (c *Client) GetCode(addr types.Address) ([]byte, error) {
	return c.CodeAt(context.Background(), addr, c.cfg.BlockNumber)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
