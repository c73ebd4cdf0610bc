package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltchain/cobalt/crypto/merkle"
	"github.com/cobaltchain/cobalt/libs/log"
	"github.com/cobaltchain/cobalt/p2p"
	"github.com/cobaltchain/cobalt/p2p/mock"
	"github.com/cobaltchain/cobalt/types"
)

// testProofChain builds tail <- head <- known, connected via parent hashes.
func testProofChain() (tail, head, known *types.Block) {
	tail = testBlock(1, randomHash(0xa0))
	head = testBlock(2, tail.Hash())
	known = testBlock(3, head.Hash())
	return tail, head, known
}

func awaitBlockProofRequest(t *testing.T, env *testEnv) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetBlockProof))+
			len(env.channel.SentOfType(p2p.MsgGetBlockProofAt)) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestBlockProofSuccess(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})
	tail, head, known := testProofChain()

	type out struct {
		block *types.Block
		err   error
	}
	done := make(chan out, 1)
	go func() {
		b, err := env.agent.RequestBlockProof(tail.Hash(), known)
		done <- out{b, err}
	}()

	awaitBlockProofRequest(t, env)
	env.agent.Receive(&p2p.BlockProofMessage{Proof: types.NewBlockProof(tail, head)})

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, tail.Hash(), res.block.Hash())
	assert.False(t, env.channel.IsClosed())
}

func TestBlockProofInvalidTail(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})
	tail, head, known := testProofChain()

	errCh := make(chan error, 1)
	go func() {
		// ask for a hash the proof's tail will not match
		_, err := env.agent.RequestBlockProof(randomHash(0xa9), known)
		errCh <- err
	}()

	awaitBlockProofRequest(t, env)
	env.agent.Receive(&p2p.BlockProofMessage{Proof: types.NewBlockProof(tail, head)})

	err := <-errCh
	require.ErrorIs(t, err, ErrInvalidProof)
	assert.Contains(t, err.Error(), "invalid tail block")

	// a wrong tail is not a protocol violation
	assert.False(t, env.channel.IsClosed())
}

func TestBlockProofBrokenChainClosesChannel(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})
	tail, _, known := testProofChain()

	// head does not reference tail at all
	strayHead := testBlock(2, randomHash(0xaa))
	known = testBlock(3, strayHead.Hash())

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestBlockProof(tail.Hash(), known)
		errCh <- err
	}()

	awaitBlockProofRequest(t, env)
	env.agent.Receive(&p2p.BlockProofMessage{Proof: types.NewBlockProof(tail, strayHead)})

	require.ErrorIs(t, <-errCh, ErrInvalidProof)
	require.True(t, env.channel.IsClosed())
	assert.Equal(t, p2p.CloseInvalidBlockProof, env.channel.CloseCode())
}

func TestBlockProofEmptyRejected(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})
	tail, _, known := testProofChain()

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestBlockProof(tail.Hash(), known)
		errCh <- err
	}()

	awaitBlockProofRequest(t, env)
	env.agent.Receive(&p2p.BlockProofMessage{Proof: nil})

	require.ErrorIs(t, <-errCh, ErrRejected)
	assert.False(t, env.channel.IsClosed())
}

func TestBlockProofTimeout(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})
	tail, _, known := testProofChain()

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestBlockProof(tail.Hash(), known)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return env.channel.HasExpect(p2p.MsgBlockProof)
	}, time.Second, 5*time.Millisecond)
	require.True(t, env.channel.FireTimeout(p2p.MsgBlockProof))

	require.ErrorIs(t, <-errCh, ErrTimeout)

	// block proof timeouts only reject locally
	assert.False(t, env.channel.IsClosed())
}

func TestBlockProofAtVersionGate(t *testing.T) {
	cfg := testConfig()
	channel := mock.NewChannel()
	peer := p2p.NewPeer("old-peer", 1, types.Hash{})
	agent := NewAgent(log.NewTestingLogger(t), cfg, peer, channel, newTestBackend(),
		&recordingInvManager{})

	_, _, known := testProofChain()

	_, err := agent.RequestBlockProofAt(1, known)
	require.ErrorIs(t, err, ErrUnsupportedPeerVersion)

	_, err = agent.RequestTransactionsProofByHashes([]types.Hash{randomHash(1)}, known)
	require.ErrorIs(t, err, ErrUnsupportedPeerVersion)

	_, err = agent.RequestTransactionReceiptsByHashes([]types.Hash{randomHash(1)})
	require.ErrorIs(t, err, ErrUnsupportedPeerVersion)

	// nothing reached the wire
	assert.Empty(t, channel.Sent())
}

func TestBlockProofSingleSlot(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})
	tail, head, known := testProofChain()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := env.agent.RequestBlockProof(tail.Hash(), known)
			results <- err
		}()
	}

	// the gate holds the second request back until the first settles
	awaitBlockProofRequest(t, env)
	require.Never(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetBlockProof)) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	env.agent.Receive(&p2p.BlockProofMessage{Proof: types.NewBlockProof(tail, head)})
	require.NoError(t, <-results)

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetBlockProof)) == 2
	}, time.Second, 5*time.Millisecond)

	env.agent.Receive(&p2p.BlockProofMessage{Proof: types.NewBlockProof(tail, head)})
	require.NoError(t, <-results)
}

//-----------------------------------------------------------------------------
// Transactions proofs

// buildTransactionsProof proves the flagged subset of the block's body.
func buildTransactionsProof(t *testing.T, body []*types.Transaction, include []bool) *types.TransactionsProof {
	t.Helper()

	leaves := make([][]byte, len(body))
	for i, tx := range body {
		h := tx.Hash()
		leaves[i] = h.Bytes()
	}
	proof, err := merkle.BuildProof(leaves, include)
	require.NoError(t, err)

	var txs []*types.Transaction
	for i, tx := range body {
		if include[i] {
			txs = append(txs, tx)
		}
	}
	return &types.TransactionsProof{Transactions: txs, Proof: proof}
}

func TestTransactionsProofSuccess(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	txA := testTx(0xb0, 100)
	txB := testTx(0xb2, 100)
	block := testBlockWithBody(5, randomHash(0xb4), []*types.Transaction{txA, txB})

	type out struct {
		txs []*types.Transaction
		err error
	}
	done := make(chan out, 1)
	go func() {
		txs, err := env.agent.RequestTransactionsProofByAddresses(
			[]types.Address{txA.Sender}, block)
		done <- out{txs, err}
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionsProofByAddresses)) == 1
	}, time.Second, 5*time.Millisecond)

	env.agent.Receive(&p2p.TransactionsProofMessage{
		BlockHash: block.Hash(),
		Proof:     buildTransactionsProof(t, block.Body, []bool{true, false}),
	})

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.txs, 1)
	assert.Equal(t, txA.Hash(), res.txs[0].Hash())
}

func TestTransactionsProofUnrequestedTransactionClosesChannel(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	txA := testTx(0xb6, 100)
	txB := testTx(0xb8, 100) // touches neither requested address
	block := testBlockWithBody(5, randomHash(0xba), []*types.Transaction{txA, txB})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionsProofByAddresses(
			[]types.Address{txA.Sender}, block)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionsProofByAddresses)) == 1
	}, time.Second, 5*time.Millisecond)

	// root-valid proof that smuggles in txB
	env.agent.Receive(&p2p.TransactionsProofMessage{
		BlockHash: block.Hash(),
		Proof:     buildTransactionsProof(t, block.Body, []bool{true, true}),
	})

	require.ErrorIs(t, <-errCh, ErrInvalidProof)
	require.True(t, env.channel.IsClosed())
	assert.Equal(t, p2p.CloseInvalidTransactionProof, env.channel.CloseCode())
}

func TestTransactionsProofRootMismatchClosesChannel(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	txA := testTx(0xbc, 100)
	block := testBlockWithBody(5, randomHash(0xbe), []*types.Transaction{txA})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionsProofByAddresses(
			[]types.Address{txA.Sender}, block)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionsProofByAddresses)) == 1
	}, time.Second, 5*time.Millisecond)

	// proof over a different body
	other := testTx(0xbf, 100)
	env.agent.Receive(&p2p.TransactionsProofMessage{
		BlockHash: block.Hash(),
		Proof:     buildTransactionsProof(t, []*types.Transaction{other}, []bool{true}),
	})

	require.ErrorIs(t, <-errCh, ErrInvalidProof)
	require.True(t, env.channel.IsClosed())
	assert.Equal(t, p2p.CloseInvalidTransactionProof, env.channel.CloseCode())
}

func TestTransactionsProofWrongBlockRejects(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	txA := testTx(0xc0, 100)
	block := testBlockWithBody(5, randomHash(0xc1), []*types.Transaction{txA})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionsProofByAddresses(
			[]types.Address{txA.Sender}, block)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionsProofByAddresses)) == 1
	}, time.Second, 5*time.Millisecond)

	env.agent.Receive(&p2p.TransactionsProofMessage{
		BlockHash: randomHash(0xc2),
		Proof:     buildTransactionsProof(t, block.Body, []bool{true}),
	})

	require.ErrorIs(t, <-errCh, ErrInvalidProof)
	assert.False(t, env.channel.IsClosed())
}

func TestTransactionsProofTimeoutClosesChannel(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	txA := testTx(0xc3, 100)
	block := testBlockWithBody(5, randomHash(0xc4), []*types.Transaction{txA})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionsProofByAddresses(
			[]types.Address{txA.Sender}, block)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return env.channel.HasExpect(p2p.MsgTransactionsProof)
	}, time.Second, 5*time.Millisecond)

	require.True(t, env.channel.FireTimeout(p2p.MsgTransactionsProof))
	require.ErrorIs(t, <-errCh, ErrTimeout)

	require.True(t, env.channel.IsClosed())
	assert.Equal(t, p2p.CloseGetTransactionsProofTimeout, env.channel.CloseCode())
}

//-----------------------------------------------------------------------------
// Transaction receipts

func TestTransactionReceiptsByHashes(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	requested := randomHash(0xd0)
	receipt := &types.TransactionReceipt{
		TransactionHash: requested,
		BlockHash:       randomHash(0xd1),
		BlockHeight:     12,
	}

	type out struct {
		receipts []*types.TransactionReceipt
		err      error
	}
	done := make(chan out, 1)
	go func() {
		receipts, err := env.agent.RequestTransactionReceiptsByHashes([]types.Hash{requested})
		done <- out{receipts, err}
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionReceiptsByHashes)) == 1
	}, time.Second, 5*time.Millisecond)

	env.agent.Receive(&p2p.TransactionReceiptsMessage{
		Receipts: []*types.TransactionReceipt{receipt},
	})

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.receipts, 1)
	assert.Equal(t, requested, res.receipts[0].TransactionHash)
}

func TestTransactionReceiptsUnrequestedHashClosesChannel(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionReceiptsByHashes([]types.Hash{randomHash(0xd2)})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionReceiptsByHashes)) == 1
	}, time.Second, 5*time.Millisecond)

	env.agent.Receive(&p2p.TransactionReceiptsMessage{
		Receipts: []*types.TransactionReceipt{{
			TransactionHash: randomHash(0xd3), // not what we asked for
			BlockHash:       randomHash(0xd4),
			BlockHeight:     3,
		}},
	})

	require.ErrorIs(t, <-errCh, ErrInvalidProof)
	require.True(t, env.channel.IsClosed())
}

func TestTransactionReceiptsTimeoutClosesChannel(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionReceiptsByAddress(types.Address{0xd5})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return env.channel.HasExpect(p2p.MsgTransactionReceipts)
	}, time.Second, 5*time.Millisecond)

	require.True(t, env.channel.FireTimeout(p2p.MsgTransactionReceipts))
	require.ErrorIs(t, <-errCh, ErrTimeout)

	require.True(t, env.channel.IsClosed())
	assert.Equal(t, p2p.CloseGetTransactionReceiptsTimeout, env.channel.CloseCode())
}

func TestTransactionReceiptsNilRejected(t *testing.T) {
	env := startTestAgent(t, testConfig(), Hooks{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.agent.RequestTransactionReceiptsByAddress(types.Address{0xd6})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(env.channel.SentOfType(p2p.MsgGetTransactionReceiptsByAddress)) == 1
	}, time.Second, 5*time.Millisecond)

	env.agent.Receive(&p2p.TransactionReceiptsMessage{Receipts: nil})
	require.ErrorIs(t, <-errCh, ErrRejected)
}
