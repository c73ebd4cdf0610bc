package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/cobaltchain/cobalt/crypto/merkle"
)

var (
	ErrEmptyProof       = errors.New("proof contains no blocks")
	ErrBrokenProofChain = errors.New("proof blocks are not interlink-connected")
)

// BlockProof is an interlink-chain demonstration that its tail block is an
// ancestor of its head block. Blocks are ordered by ascending height.
type BlockProof struct {
	Blocks []*Block
}

func NewBlockProof(blocks ...*Block) *BlockProof {
	return &BlockProof{Blocks: blocks}
}

// IsEmpty reports whether the proof carries no blocks at all.
func (p *BlockProof) IsEmpty() bool { return p == nil || len(p.Blocks) == 0 }

// Tail returns the earliest block, the one being proven.
func (p *BlockProof) Tail() *Block { return p.Blocks[0] }

// Head returns the latest block, the anchor the verifier must already know.
func (p *BlockProof) Head() *Block { return p.Blocks[len(p.Blocks)-1] }

// Verify checks the structural integrity of the proof: every block must
// reference its predecessor through the parent hash or its interlink.
// Per-block validity is checked separately via Block.Verify.
func (p *BlockProof) Verify() error {
	if p.IsEmpty() {
		return ErrEmptyProof
	}
	for i := 1; i < len(p.Blocks); i++ {
		if !p.Blocks[i].Header.IsInterlinkSuccessorOf(p.Blocks[i-1].Header) {
			return fmt.Errorf("%w: block %d does not reference block %d",
				ErrBrokenProofChain, i, i-1)
		}
	}
	return nil
}

// VerifyBlocks runs the per-block consistency check on every proof block.
func (p *BlockProof) VerifyBlocks(now time.Time) error {
	for _, b := range p.Blocks {
		if err := b.Verify(now); err != nil {
			return fmt.Errorf("block %s: %w", b.Hash().ShortString(), err)
		}
	}
	return nil
}

func (p *BlockProof) String() string {
	if p.IsEmpty() {
		return "BlockProof{empty}"
	}
	return fmt.Sprintf("BlockProof{tail: %s, head: %s, len: %d}",
		p.Tail().Hash().ShortString(), p.Head().Hash().ShortString(), len(p.Blocks))
}

// TransactionsProof ties a set of transactions to a block body via a Merkle
// multiproof over the body's transaction hashes.
type TransactionsProof struct {
	Transactions []*Transaction
	Proof        *merkle.Proof
}

// Root recomputes the body root committed to by the proof.
func (p *TransactionsProof) Root() (Hash, error) {
	items := make([][]byte, len(p.Transactions))
	for i, tx := range p.Transactions {
		h := tx.Hash()
		items[i] = h.Bytes()
	}
	root, err := p.Proof.ComputeRoot(items)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(root)
}

func (p *TransactionsProof) String() string {
	return fmt.Sprintf("TransactionsProof{txs: %d}", len(p.Transactions))
}

// TransactionReceipt is a compact attestation of a transaction's inclusion,
// suitable for light clients.
type TransactionReceipt struct {
	TransactionHash Hash
	BlockHash       Hash
	BlockHeight     uint32
}

func (r *TransactionReceipt) String() string {
	return fmt.Sprintf("TransactionReceipt{tx: %s, block: %s, height: %d}",
		r.TransactionHash.ShortString(), r.BlockHash.ShortString(), r.BlockHeight)
}
