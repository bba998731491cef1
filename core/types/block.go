package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/types"
)

// Header carries the per-block metadata the backend and RPC layer
// expose. Difficulty/mix-hash/nonce fields from classic PoW headers are
// omitted: this node never runs consensus, it only produces
// blocks.
type Header struct {
	Number     uint64
	Hash       [32]byte
	ParentHash [32]byte
	Timestamp  int64
	GasLimit   uint64
	GasUsed    uint64
	Miner      types.Address
	BaseFee    *uint256.Int // nil when the chain has no fee market enabled
	StateRoot  [32]byte
	TxRoot     [32]byte
	ReceiptRoot [32]byte
}

// Block pairs a header with the ordered transactions and receipts that
// produced it.
type Block struct {
	Header   *Header
	Txs      []*Transaction
	Receipts []*Receipt
}

func NewBlock(header *Header, txs []*Transaction, receipts []*Receipt) *Block {
	return &Block{Header: header, Txs: txs, Receipts: receipts}
}

func (b *Block) Number() uint64 { return b.Header.Number }
func (b *Block) Hash() [32]byte { return b.Header.Hash }

// sealFields is the RLP payload the block hash commits to.
type sealFields struct {
	Number      uint64
	ParentHash  [32]byte
	Timestamp   uint64
	GasLimit    uint64
	GasUsed     uint64
	Miner       []byte
	BaseFee     *big.Int
	StateRoot   [32]byte
	TxRoot      [32]byte
	ReceiptRoot [32]byte
}

// Seal computes and stores the header hash over every other header
// field. Called once by the miner right before commit.
func (h *Header) Seal() {
	baseFee := new(big.Int)
	if h.BaseFee != nil {
		baseFee = h.BaseFee.ToBig()
	}
	enc, _ := rlp.EncodeToBytes(&sealFields{
		Number:      h.Number,
		ParentHash:  h.ParentHash,
		Timestamp:   uint64(h.Timestamp),
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Miner:       h.Miner.Bytes(),
		BaseFee:     baseFee,
		StateRoot:   h.StateRoot,
		TxRoot:      h.TxRoot,
		ReceiptRoot: h.ReceiptRoot,
	})
	h.Hash = crypto.Keccak256Hash(enc)
}
