package adapter

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grant-reconciler/internal/errors"
)

// Well-known development key; never holds real funds
const testSignerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestWriter(t *testing.T, backend *fakeBackend) *GrantContractWriter {
	t.Helper()
	writer, err := NewGrantContractWriter(backend, WriterConfig{
		ContractAddress: testContract.Hex(),
		PrivateKeyHex:   "0x" + testSignerKey,
		ChainID:         44787,
		PollInterval:    time.Millisecond,
	})
	require.NoError(t, err)
	return writer
}

func TestSubmitTransactionSignsAndBroadcasts(t *testing.T) {
	backend := newFakeBackend()
	writer := newTestWriter(t, backend)

	hash, err := writer.SubmitTransaction(context.Background(), "voteOnProject", []interface{}{big.NewInt(2), true}, nil)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, testContract, *tx.To())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(44787)), tx)
	require.NoError(t, err)
	assert.Equal(t, writer.From(), sender.Hex())
}

func TestSubmitTransactionRejectedBeforeBroadcast(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = stderrors.New("execution reverted: Company already voted")
	writer := newTestWriter(t, backend)

	_, err := writer.SubmitTransaction(context.Background(), "voteOnProject", []interface{}{big.NewInt(2), true}, nil)

	var rejected *errors.SubmissionRejectedError
	require.True(t, stderrors.As(err, &rejected))
	assert.Equal(t, errors.CauseAlreadyVoted, rejected.Cause)
	assert.Empty(t, backend.sent)
}

func TestSubmitTransactionRejectsValueOnNonPayable(t *testing.T) {
	writer := newTestWriter(t, newFakeBackend())

	_, err := writer.SubmitTransaction(context.Background(), "voteOnProject", []interface{}{big.NewInt(2), true}, big.NewInt(1))

	var rejected *errors.SubmissionRejectedError
	assert.True(t, stderrors.As(err, &rejected))
}

func TestWaitForConfirmationPollsUntilMined(t *testing.T) {
	backend := newFakeBackend()
	writer := newTestWriter(t, backend)

	hash, err := writer.SubmitTransaction(context.Background(), "depositToTreasury", nil, big.NewInt(10))
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		backend.mu.Lock()
		backend.receipts[common.HexToHash(hash)] = &ethtypes.Receipt{
			Status:      ethtypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(77),
		}
		backend.mu.Unlock()
	}()

	conf, err := writer.WaitForConfirmation(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, conf.Status)
	assert.Equal(t, uint64(77), conf.BlockNumber)
}

func TestWaitForConfirmationRecoversRevertReason(t *testing.T) {
	backend := newFakeBackend()
	backend.replayErr = stderrors.New("execution reverted: Insufficient treasury balance")
	writer := newTestWriter(t, backend)

	hash, err := writer.SubmitTransaction(context.Background(), "distributeGrants",
		[]interface{}{[]*big.Int{big.NewInt(1)}, []*big.Int{big.NewInt(5)}, []string{"impact"}}, nil)
	require.NoError(t, err)
	backend.receipts[common.HexToHash(hash)] = &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusFailed,
		BlockNumber: big.NewInt(80),
	}

	conf, err := writer.WaitForConfirmation(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, conf.Status)
	assert.Contains(t, conf.RevertReason, "Insufficient treasury balance")
}

func TestWaitForConfirmationHonoursContext(t *testing.T) {
	writer := newTestWriter(t, newFakeBackend())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := writer.WaitForConfirmation(ctx, "0x01")

	var chainErr *errors.ChainReadError
	assert.True(t, stderrors.As(err, &chainErr))
}

func TestWaitForConfirmationTimeoutReleasesPending(t *testing.T) {
	writer := newTestWriter(t, newFakeBackend())

	hash, err := writer.SubmitTransaction(context.Background(), "voteOnProject", []interface{}{big.NewInt(2), true}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, writer.pendingCount())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = writer.WaitForConfirmation(ctx, hash)
	require.Error(t, err)
	assert.Equal(t, 0, writer.pendingCount())
}
