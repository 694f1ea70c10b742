package participant

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twopc-transfer/common"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

func newTestParticipant(t *testing.T, balance int64, commitTimeout time.Duration) *Participant {
	p, err := New(testLogger(), Options{
		ID:             "alice",
		InitialBalance: balance,
		LockTimeout:    500 * time.Millisecond,
		CommitTimeout:  commitTimeout,
	})
	require.NoError(t, err)
	return p
}

func prepare(t *testing.T, p *Participant, txID string, amount int64, op common.Operation) common.PrepareResponse {
	var resp common.PrepareResponse
	require.NoError(t, p.Prepare(&common.PrepareRequest{TxID: txID, Amount: amount, Operation: op}, &resp))
	return resp
}

func balanceOf(t *testing.T, p *Participant) int64 {
	var resp common.BalanceResponse
	require.NoError(t, p.GetBalance(&common.BalanceRequest{}, &resp))
	return resp.Balance
}

func TestPrepareCommitDebit(t *testing.T) {
	p := newTestParticipant(t, 1000, time.Minute)

	resp := prepare(t, p, "tx1", 100, common.Debit)
	assert.Equal(t, common.VoteReady, resp.Status)
	assert.Equal(t, int64(900), balanceOf(t, p), "prepared debit holds the funds")

	var commit common.CommitResponse
	require.NoError(t, p.Commit(&common.CommitRequest{TxID: "tx1", Amount: 100}, &commit))
	assert.Equal(t, common.RecordCommitted, commit.Status)
	assert.Equal(t, int64(900), commit.Balance)

	// duplicate commit of a terminal transaction is rejected, not re-applied
	err := p.Commit(&common.CommitRequest{TxID: "tx1", Amount: 100}, &common.CommitResponse{})
	assert.Error(t, err)
	assert.Equal(t, int64(900), balanceOf(t, p))
}

func TestPrepareInsufficientFunds(t *testing.T) {
	p := newTestParticipant(t, 50, time.Minute)

	resp := prepare(t, p, "tx1", 100, common.Debit)
	assert.Equal(t, common.VoteAbort, resp.Status)
	assert.Equal(t, "insufficient funds", resp.Reason)
	assert.Equal(t, int64(50), balanceOf(t, p))

	// the failed prepare left no hold behind
	resp = prepare(t, p, "tx2", 20, common.Debit)
	assert.Equal(t, common.VoteReady, resp.Status)
}

func TestPrepareCreditAlwaysReady(t *testing.T) {
	p := newTestParticipant(t, 0, time.Minute)

	resp := prepare(t, p, "tx1", 100, common.Credit)
	assert.Equal(t, common.VoteReady, resp.Status)
	assert.Equal(t, int64(0), balanceOf(t, p), "credit is not applied until commit")

	var commit common.CommitResponse
	require.NoError(t, p.Commit(&common.CommitRequest{TxID: "tx1", Amount: 100}, &commit))
	assert.Equal(t, int64(100), commit.Balance)
}

func TestRollbackRestoresHold(t *testing.T) {
	p := newTestParticipant(t, 1000, time.Minute)

	prepare(t, p, "tx1", 400, common.Debit)
	assert.Equal(t, int64(600), balanceOf(t, p))

	var rollback common.RollbackResponse
	require.NoError(t, p.Rollback(&common.RollbackRequest{TxID: "tx1"}, &rollback))
	assert.Equal(t, common.RecordAborted, rollback.Status)
	assert.Equal(t, int64(1000), rollback.Balance)

	// duplicate rollback is rejected and does not double-restore
	err := p.Rollback(&common.RollbackRequest{TxID: "tx1"}, &common.RollbackResponse{})
	assert.Error(t, err)
	assert.Equal(t, int64(1000), balanceOf(t, p))
}

func TestSecondPrepareFailsFastWhileHeld(t *testing.T) {
	p := newTestParticipant(t, 1000, time.Minute)

	resp := prepare(t, p, "tx1", 100, common.Debit)
	require.Equal(t, common.VoteReady, resp.Status)

	resp = prepare(t, p, "tx2", 100, common.Debit)
	assert.Equal(t, common.VoteAbort, resp.Status)
	assert.Equal(t, "account busy", resp.Reason)

	// resolving the first transaction frees the account
	require.NoError(t, p.Rollback(&common.RollbackRequest{TxID: "tx1"}, &common.RollbackResponse{}))
	resp = prepare(t, p, "tx3", 100, common.Debit)
	assert.Equal(t, common.VoteReady, resp.Status)
}

func TestDuplicatePrepareReissuesVote(t *testing.T) {
	p := newTestParticipant(t, 1000, time.Minute)

	prepare(t, p, "tx1", 100, common.Debit)
	resp := prepare(t, p, "tx1", 100, common.Debit)
	assert.Equal(t, common.VoteReady, resp.Status)
	assert.Equal(t, int64(900), balanceOf(t, p), "duplicate prepare must not hold twice")
}

func TestPhaseTwoWhileIdleIsRejected(t *testing.T) {
	p := newTestParticipant(t, 1000, time.Minute)

	err := p.Commit(&common.CommitRequest{TxID: "nope", Amount: 100}, &common.CommitResponse{})
	assert.Error(t, err, "commit while idle is a protocol violation")

	err = p.Rollback(&common.RollbackRequest{TxID: "nope"}, &common.RollbackResponse{})
	assert.Error(t, err)
	assert.Equal(t, int64(1000), balanceOf(t, p))
}

func TestAutoRollbackOnCoordinatorSilence(t *testing.T) {
	p := newTestParticipant(t, 1000, 80*time.Millisecond)

	prepare(t, p, "tx1", 250, common.Debit)
	assert.Equal(t, int64(750), balanceOf(t, p))

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int64(1000), balanceOf(t, p), "held funds are restored after the commit timeout")

	// a late commit arrives after the participant resolved on its own
	err := p.Commit(&common.CommitRequest{TxID: "tx1", Amount: 250}, &common.CommitResponse{})
	assert.Error(t, err)
	assert.Equal(t, int64(1000), balanceOf(t, p))
}

func TestInjectedPrepareAbort(t *testing.T) {
	p := newTestParticipant(t, 1000, time.Minute)

	var fi common.InjectFailureResponse
	require.NoError(t, p.InjectFailure(&common.InjectFailureRequest{Kind: common.FailurePrepareAbort}, &fi))

	resp := prepare(t, p, "tx1", 100, common.Debit)
	assert.Equal(t, common.VoteAbort, resp.Status)
	assert.Equal(t, "injected failure", resp.Reason)
	assert.Equal(t, int64(1000), balanceOf(t, p))

	require.NoError(t, p.InjectFailure(&common.InjectFailureRequest{Kind: common.FailureNone}, &fi))
	resp = prepare(t, p, "tx2", 100, common.Debit)
	assert.Equal(t, common.VoteReady, resp.Status)
}

func TestAuditJournal(t *testing.T) {
	dir := t.TempDir()
	p, err := New(testLogger(), Options{
		ID:             "alice",
		InitialBalance: 1000,
		LockTimeout:    500 * time.Millisecond,
		CommitTimeout:  time.Minute,
		AuditPath:      filepath.Join(dir, "audit.db"),
	})
	require.NoError(t, err)
	defer p.Close()

	prepare(t, p, "tx1", 100, common.Debit)
	require.NoError(t, p.Commit(&common.CommitRequest{TxID: "tx1", Amount: 100}, &common.CommitResponse{}))
	prepare(t, p, "tx2", 200, common.Debit)
	require.NoError(t, p.Rollback(&common.RollbackRequest{TxID: "tx2"}, &common.RollbackResponse{}))

	var hist common.HistoryResponse
	require.NoError(t, p.History(&common.HistoryRequest{}, &hist))
	require.Len(t, hist.Entries, 2)

	assert.Equal(t, "tx1", hist.Entries[0].TxID)
	assert.Equal(t, common.RecordCommitted, hist.Entries[0].Outcome)
	assert.Equal(t, int64(900), hist.Entries[0].Balance)

	assert.Equal(t, "tx2", hist.Entries[1].TxID)
	assert.Equal(t, common.RecordAborted, hist.Entries[1].Outcome)
	assert.Equal(t, int64(900), hist.Entries[1].Balance)
}
