package filters

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

var (
	emitter  = types.HexToAddress("0xcb77aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	stranger = types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// fakeChain drives the registry from tests.
type fakeChain struct {
	blockFeed event.Feed
	txFeed    event.Feed
	blocks    []*ctypes.Block
}

func (f *fakeChain) SubscribeNewBlock(ch chan *ctypes.Block) event.Subscription {
	return f.blockFeed.Subscribe(ch)
}

func (f *fakeChain) SubscribeReadyTx(ch chan [32]byte) event.Subscription {
	return f.txFeed.Subscribe(ch)
}

func (f *fakeChain) BestBlockNumber() uint64 {
	if len(f.blocks) == 0 {
		return 0
	}
	return f.blocks[len(f.blocks)-1].Number()
}

func (f *fakeChain) LogsInRange(from, to uint64, crit Criteria) []*ctypes.Log {
	var out []*ctypes.Log
	for _, b := range f.blocks {
		if b.Number() < from || b.Number() > to {
			continue
		}
		out = append(out, crit.BlockLogs(b)...)
	}
	return out
}

func (f *fakeChain) mine(n uint64, logs ...*ctypes.Log) *ctypes.Block {
	header := &ctypes.Header{Number: n, Hash: [32]byte{byte(n)}}
	receipt := &ctypes.Receipt{Logs: logs}
	block := ctypes.NewBlock(header, nil, []*ctypes.Receipt{receipt})
	f.blocks = append(f.blocks, block)
	f.blockFeed.Send(block)
	return block
}

func logFrom(addr types.Address, topic byte) *ctypes.Log {
	return &ctypes.Log{Address: addr, Topics: [][32]byte{{topic}}}
}

func TestBlockFilterDelta(t *testing.T) {
	chain := &fakeChain{}
	r := NewRegistry(chain, 0)
	defer r.Stop()

	id := r.NewBlockFilter()
	b1 := chain.mine(1)
	b2 := chain.mine(2)

	var hashes [][32]byte
	require.Eventually(t, func() bool {
		delta, ok := r.Changes(id)
		require.True(t, ok)
		hashes = append(hashes, delta.([][32]byte)...)
		return len(hashes) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, [][32]byte{b1.Hash(), b2.Hash()}, hashes)

	// The poll swapped the delta out; the next one is empty.
	delta, ok := r.Changes(id)
	require.True(t, ok)
	require.Empty(t, delta.([][32]byte))
}

func TestLogsFilterMatching(t *testing.T) {
	chain := &fakeChain{}
	r := NewRegistry(chain, 0)
	defer r.Stop()

	id := r.NewLogFilter(Criteria{Addresses: []types.Address{emitter}})
	chain.mine(1, logFrom(emitter, 0xaa), logFrom(stranger, 0xbb))

	var logs []*ctypes.Log
	require.Eventually(t, func() bool {
		delta, ok := r.Changes(id)
		require.True(t, ok)
		logs = append(logs, delta.([]*ctypes.Log)...)
		return len(logs) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, emitter, logs[0].Address)
}

func TestLogsFilterHistoricPrefetch(t *testing.T) {
	chain := &fakeChain{}
	chain.blocks = append(chain.blocks, historicBlock(1, logFrom(emitter, 0x01)))
	chain.blocks = append(chain.blocks, historicBlock(2, logFrom(emitter, 0x02)))
	r := NewRegistry(chain, 0)
	defer r.Stop()

	from := uint64(1)
	id := r.NewLogFilter(Criteria{FromBlock: &from, Addresses: []types.Address{emitter}})
	delta, ok := r.Changes(id)
	require.True(t, ok)
	require.Len(t, delta.([]*ctypes.Log), 2)
}

func historicBlock(n uint64, logs ...*ctypes.Log) *ctypes.Block {
	header := &ctypes.Header{Number: n, Hash: [32]byte{byte(n)}}
	return ctypes.NewBlock(header, nil, []*ctypes.Receipt{{Logs: logs}})
}

func TestPendingTxFilter(t *testing.T) {
	chain := &fakeChain{}
	r := NewRegistry(chain, 0)
	defer r.Stop()

	id := r.NewPendingTxFilter()
	chain.txFeed.Send([32]byte{0x11})

	var hashes [][32]byte
	require.Eventually(t, func() bool {
		delta, ok := r.Changes(id)
		require.True(t, ok)
		hashes = append(hashes, delta.([][32]byte)...)
		return len(hashes) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, [32]byte{0x11}, hashes[0])
}

func TestUninstall(t *testing.T) {
	chain := &fakeChain{}
	r := NewRegistry(chain, 0)
	defer r.Stop()

	id := r.NewBlockFilter()
	require.True(t, r.Uninstall(id))
	require.False(t, r.Uninstall(id))
	_, ok := r.Changes(id)
	require.False(t, ok)
}

func TestTTLEviction(t *testing.T) {
	chain := &fakeChain{}
	r := NewRegistry(chain, 20*time.Millisecond)
	defer r.Stop()

	id := r.NewBlockFilter()
	// Never polled: the sweep removes it well within this window.
	time.Sleep(150 * time.Millisecond)
	_, ok := r.Changes(id)
	require.False(t, ok)
}

func TestTopicMatching(t *testing.T) {
	l := &ctypes.Log{Address: emitter, Topics: [][32]byte{{0x01}, {0x02}}}

	cases := []struct {
		name  string
		crit  Criteria
		match bool
	}{
		{"empty criteria", Criteria{}, true},
		{"address match", Criteria{Addresses: []types.Address{emitter}}, true},
		{"address miss", Criteria{Addresses: []types.Address{stranger}}, false},
		{"first topic", Criteria{Topics: [][][32]byte{{{0x01}}}}, true},
		{"wildcard then match", Criteria{Topics: [][][32]byte{nil, {{0x02}}}}, true},
		{"alternatives", Criteria{Topics: [][][32]byte{{{0x09}, {0x01}}}}, true},
		{"topic miss", Criteria{Topics: [][][32]byte{{{0x09}}}}, false},
		{"too many positions", Criteria{Topics: [][][32]byte{nil, nil, {{0x03}}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.match, tc.crit.Matches(l))
		})
	}
}
