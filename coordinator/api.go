package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/twopc-transfer/common"
	"github.com/twopc-transfer/config"
)

// reasonFor maps a transport fault to the reason of the implicit abort
// vote it stands for.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return err.Error()
	}
}

// ExecuteTransfer atomically moves amount from one participant to
// another. It always terminates with a definite outcome within the sum of
// the configured timeouts.
func (c *Coordinator) ExecuteTransfer(from, to string, amount int64) (*common.TransferResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return nil, fmt.Errorf("sender and receiver must differ")
	}
	if _, ok := c.cfg.Lookup(from); !ok {
		return nil, fmt.Errorf("unknown participant %s", from)
	}
	if _, ok := c.cfg.Lookup(to); !ok {
		return nil, fmt.Errorf("unknown participant %s", to)
	}

	tx := &Transaction{
		ID:     xid.New().String(),
		From:   from,
		To:     to,
		Amount: amount,
		State:  common.TxInit,
		Votes:  make(map[string]common.Vote, 2),
	}

	parts := c.ordered(from, to)
	c.acquireSlots(parts)
	defer c.releaseSlots(parts)

	c.log.Infof("[txid %s] transfer %d from %s to %s", tx.ID, amount, from, to)

	// Phase one: prepare in the fixed global order. Stop at the first
	// abort; later participants hold nothing yet and need no rollback.
	tx.State = common.TxPreparing
	start := time.Now()
	allReady := true
	for _, p := range parts {
		op := common.Credit
		if p.ID == from {
			op = common.Debit
		}
		var resp common.PrepareResponse
		err := c.remotes[p.ID].call("Participant.Prepare",
			&common.PrepareRequest{TxID: tx.ID, Amount: amount, Operation: op}, &resp)

		var vote common.Vote
		if err != nil {
			vote = common.Vote{Status: common.VoteAbort, Reason: reasonFor(err)}
		} else {
			vote = common.Vote{Status: resp.Status, Reason: resp.Reason}
		}
		tx.Votes[p.ID] = vote
		c.metrics.ObserveVote(p.ID, vote.Status)
		c.log.Infof("[txid %s] %s voted %s %s", tx.ID, p.ID, vote.Status, vote.Reason)

		if vote.Status != common.VoteReady {
			allReady = false
			break
		}
	}
	c.metrics.ObservePhase("prepare", time.Since(start))

	if !allReady {
		return c.abort(tx, parts), nil
	}
	tx.State = common.TxReadyToCommit
	return c.commit(tx, parts), nil
}

// commit dispatches phase two to all participants. Funds are already
// held, so delivery order does not matter; the fan-out is concurrent.
func (c *Coordinator) commit(tx *Transaction, parts []config.Participant) *common.TransferResult {
	tx.State = common.TxCommitting
	c.log.Infof("[txid %s] all ready, committing", tx.ID)
	start := time.Now()

	failures := make([]error, len(parts))
	var g errgroup.Group
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			var resp common.CommitResponse
			failures[i] = c.remotes[p.ID].call("Participant.Commit",
				&common.CommitRequest{TxID: tx.ID, Amount: tx.Amount}, &resp)
			return nil
		})
	}
	g.Wait()
	c.metrics.ObservePhase("commit", time.Since(start))

	var degraded []string
	for i, p := range parts {
		if failures[i] != nil {
			degraded = append(degraded, fmt.Sprintf("%s: %v", p.ID, failures[i]))
		}
	}

	tx.State = common.TxCommitted
	res := c.result(tx)
	if len(degraded) > 0 {
		// the unreached participant self-resolves, either applying a late
		// commit or rolling back on its own timer; the ambiguity is
		// surfaced to the caller rather than hidden
		res.Outcome = common.Degraded
		res.Reason = "commit delivery incomplete: " + strings.Join(degraded, "; ")
		c.log.Warnf("[txid %s] %s", tx.ID, res.Reason)
	} else {
		res.Outcome = common.Committed
		c.log.Infof("[txid %s] committed", tx.ID)
	}
	c.metrics.ObserveOutcome(res.Outcome)
	return res
}

// abort dispatches rollbacks to the participants that voted ready and
// therefore hold a tentative reservation. Participants that voted abort
// hold nothing and get no further message.
func (c *Coordinator) abort(tx *Transaction, parts []config.Participant) *common.TransferResult {
	tx.State = common.TxAborting
	start := time.Now()

	var g errgroup.Group
	for _, p := range parts {
		if tx.Votes[p.ID].Status != common.VoteReady {
			continue
		}
		p := p
		g.Go(func() error {
			var resp common.RollbackResponse
			if err := c.remotes[p.ID].call("Participant.Rollback",
				&common.RollbackRequest{TxID: tx.ID}, &resp); err != nil {
				// best effort: the participant's own timer resolves it
				c.log.Warnf("[txid %s] rollback to %s failed: %v", tx.ID, p.ID, err)
			}
			return nil
		})
	}
	g.Wait()
	c.metrics.ObservePhase("rollback", time.Since(start))

	tx.State = common.TxAborted
	res := c.result(tx)
	res.Outcome = common.Aborted
	var reasons []string
	for _, p := range parts {
		if v := tx.Votes[p.ID]; v.Status == common.VoteAbort {
			reasons = append(reasons, fmt.Sprintf("%s: %s", p.ID, v.Reason))
		}
	}
	res.Reason = strings.Join(reasons, "; ")
	c.log.Infof("[txid %s] aborted: %s", tx.ID, res.Reason)
	c.metrics.ObserveOutcome(res.Outcome)
	return res
}

func (c *Coordinator) result(tx *Transaction) *common.TransferResult {
	res := &common.TransferResult{
		TxID:  tx.ID,
		Votes: make(map[string]common.Vote, len(tx.Votes)),
	}
	for id, v := range tx.Votes {
		res.Votes[id] = v
	}
	return res
}

// GetBalance reads a participant's balance.
func (c *Coordinator) GetBalance(id string) (int64, error) {
	r, ok := c.remotes[id]
	if !ok {
		return 0, fmt.Errorf("unknown participant %s", id)
	}
	var resp common.BalanceResponse
	if err := r.call("Participant.GetBalance", &common.BalanceRequest{}, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// InjectFailure arms or clears a simulated fault on a participant. This
// is a demo/test trigger, not part of the protocol.
func (c *Coordinator) InjectFailure(id string, kind common.FailureKind, delay time.Duration) error {
	r, ok := c.remotes[id]
	if !ok {
		return fmt.Errorf("unknown participant %s", id)
	}
	var resp common.InjectFailureResponse
	return r.call("Participant.InjectFailure",
		&common.InjectFailureRequest{Kind: kind, Delay: delay}, &resp)
}

// History fetches a participant's audit journal.
func (c *Coordinator) History(id string) ([]common.AuditEntry, error) {
	r, ok := c.remotes[id]
	if !ok {
		return nil, fmt.Errorf("unknown participant %s", id)
	}
	var resp common.HistoryResponse
	if err := r.call("Participant.History", &common.HistoryRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
