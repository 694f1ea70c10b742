package participant

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twopc-transfer/common"
	"github.com/twopc-transfer/config"
)

// record tracks one transaction on this participant. Exactly one record
// may be in the PREPARED state at a time: the account accepts no second
// tentative hold while one is outstanding.
type record struct {
	TxID       string
	Operation  common.Operation
	Amount     int64
	HeldAmount int64
	State      common.RecordState
	Reason     string
	timer      *time.Timer
}

// Options configures a participant node.
type Options struct {
	ID             string
	InitialBalance int64
	// LockTimeout bounds account guard acquisition.
	LockTimeout time.Duration
	// CommitTimeout is how long a prepared transaction waits for a
	// phase-two message before it is rolled back unilaterally.
	CommitTimeout time.Duration
	// AuditPath is the bolt journal file. Empty disables journaling.
	AuditPath string
}

// Participant owns one account and serves prepare/commit/rollback over
// rpc. It is the only component that ever touches the account balance.
type Participant struct {
	ID      string
	account *Account
	log     *log.Entry

	lockTimeout   time.Duration
	commitTimeout time.Duration

	mu      sync.Mutex
	records map[string]*record

	// injected fault, demo/test concern only
	failure      common.FailureKind
	failureDelay time.Duration
	stalled      chan struct{}

	audit *auditLog

	ln  net.Listener
	srv *rpc.Server
}

// New returns a participant ready to Serve.
func New(logger *log.Logger, opts Options) (*Participant, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = config.DefaultLockTimeout
	}
	if opts.CommitTimeout == 0 {
		opts.CommitTimeout = config.DefaultCommitTimeout
	}

	p := &Participant{
		ID:            opts.ID,
		account:       NewAccount(opts.ID, opts.InitialBalance),
		log:           logger.WithField("component", "participant-"+opts.ID),
		lockTimeout:   opts.LockTimeout,
		commitTimeout: opts.CommitTimeout,
		records:       make(map[string]*record),
		failure:       common.FailureNone,
	}

	if opts.AuditPath != "" {
		audit, err := newAuditLog(opts.AuditPath)
		if err != nil {
			return nil, fmt.Errorf("unable to open audit journal: %w", err)
		}
		p.audit = audit
	}
	return p, nil
}

// Serve starts the rpc server on listenAddress and returns once it is
// accepting connections.
func (p *Participant) Serve(listenAddress string) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Participant", p); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return err
	}
	p.ln = ln
	p.srv = srv
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.ServeConn(conn)
		}
	}()
	p.log.Infof("RPC server started successfully on %s, initial balance %d",
		ln.Addr(), p.mustBalance())
	return nil
}

// Addr returns the bound listen address.
func (p *Participant) Addr() string {
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

// Close stops the rpc server and releases any stalled handlers.
func (p *Participant) Close() {
	p.mu.Lock()
	if p.stalled != nil {
		close(p.stalled)
		p.stalled = nil
	}
	p.mu.Unlock()
	if p.ln != nil {
		p.ln.Close()
	}
	if p.audit != nil {
		p.audit.close()
	}
}

// Prepare handles a phase-one request: verify, take a tentative hold and
// vote. An abort vote is an application answer, not an rpc error.
func (p *Participant) Prepare(req *common.PrepareRequest, resp *common.PrepareResponse) error {
	p.gate("prepare")

	p.mu.Lock()
	defer p.mu.Unlock()

	p.log.Infof("[txid %s] prepare %s %d", req.TxID, req.Operation, req.Amount)

	if p.failure == common.FailurePrepareAbort {
		p.log.Warnf("[txid %s] injected failure during prepare", req.TxID)
		resp.Status = common.VoteAbort
		resp.Reason = "injected failure"
		return nil
	}

	if rec, ok := p.records[req.TxID]; ok {
		// duplicate prepare: re-issue the original vote, take no new hold
		if rec.State == common.RecordPrepared {
			resp.Status = common.VoteReady
			return nil
		}
		resp.Status = common.VoteAbort
		resp.Reason = fmt.Sprintf("transaction %s already %s", req.TxID, rec.State)
		return nil
	}

	for _, rec := range p.records {
		if rec.State == common.RecordPrepared {
			p.log.Infof("[txid %s] account busy with txid %s", req.TxID, rec.TxID)
			resp.Status = common.VoteAbort
			resp.Reason = "account busy"
			return nil
		}
	}

	rec := &record{
		TxID:      req.TxID,
		Operation: req.Operation,
		Amount:    req.Amount,
	}

	if req.Operation == common.Debit {
		if err := p.account.Acquire(p.lockTimeout); err != nil {
			resp.Status = common.VoteAbort
			resp.Reason = "lock timeout"
			return nil
		}
		if !p.account.Debit(req.Amount) {
			p.account.Release()
			resp.Status = common.VoteAbort
			resp.Reason = "insufficient funds"
			return nil
		}
		rec.HeldAmount = req.Amount
		p.account.Release()
	}

	rec.State = common.RecordPrepared
	rec.timer = time.AfterFunc(p.commitTimeout, func() { p.autoRollback(req.TxID) })
	p.records[req.TxID] = rec

	resp.Status = common.VoteReady
	return nil
}

// Commit applies a prepared transaction permanently. Commit for an
// unknown or already terminal transaction is rejected with an error and
// leaves the balance unchanged.
func (p *Participant) Commit(req *common.CommitRequest, resp *common.CommitResponse) error {
	p.gate("commit")

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[req.TxID]
	if !ok {
		return fmt.Errorf("commit for unknown transaction %s", req.TxID)
	}
	if rec.State != common.RecordPrepared {
		return fmt.Errorf("transaction %s already %s", req.TxID, rec.State)
	}
	rec.timer.Stop()

	if rec.Operation == common.Credit {
		if err := p.account.Acquire(p.lockTimeout); err != nil {
			// cannot apply now; let the rollback timer resolve it
			rec.timer.Reset(p.commitTimeout)
			return fmt.Errorf("commit of %s blocked: %w", req.TxID, err)
		}
		p.account.Credit(rec.Amount)
		p.account.Release()
	}
	// debit amounts were already held at prepare time

	rec.State = common.RecordCommitted
	balance := p.mustBalance()
	p.log.Infof("[txid %s] committed %s %d, balance %d", req.TxID, rec.Operation, rec.Amount, balance)
	p.journal(rec, balance)

	resp.Status = common.RecordCommitted
	resp.Balance = balance
	return nil
}

// Rollback releases a tentative hold. Rollback for an unknown or already
// terminal transaction is rejected with an error.
func (p *Participant) Rollback(req *common.RollbackRequest, resp *common.RollbackResponse) error {
	p.gate("rollback")

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[req.TxID]
	if !ok {
		return fmt.Errorf("rollback for unknown transaction %s", req.TxID)
	}
	if rec.State != common.RecordPrepared {
		return fmt.Errorf("transaction %s already %s", req.TxID, rec.State)
	}
	rec.timer.Stop()

	if err := p.restoreHold(rec); err != nil {
		rec.timer.Reset(p.commitTimeout)
		return fmt.Errorf("rollback of %s blocked: %w", req.TxID, err)
	}

	rec.State = common.RecordAborted
	rec.Reason = "coordinator rollback"
	balance := p.mustBalance()
	p.log.Infof("[txid %s] rolled back, balance %d", req.TxID, balance)
	p.journal(rec, balance)

	resp.Status = common.RecordAborted
	resp.Balance = balance
	return nil
}

// GetBalance returns the current balance.
func (p *Participant) GetBalance(req *common.BalanceRequest, resp *common.BalanceResponse) error {
	p.gate("balance")

	balance, err := p.account.Balance(p.lockTimeout)
	if err != nil {
		return err
	}
	resp.ParticipantID = p.ID
	resp.Balance = balance
	return nil
}

// InjectFailure arms or clears a simulated fault. It stays responsive
// while the node is "crashed" so demos can restart it.
func (p *Participant) InjectFailure(req *common.InjectFailureRequest, resp *common.InjectFailureResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stalled != nil {
		close(p.stalled)
		p.stalled = nil
	}

	p.failure = req.Kind
	p.failureDelay = req.Delay
	switch req.Kind {
	case common.FailureCrash, common.FailureCommitStall:
		p.stalled = make(chan struct{})
	case common.FailureNone, common.FailureDelay, common.FailurePrepareAbort:
	default:
		p.failure = common.FailureNone
		return fmt.Errorf("unknown failure kind %q", req.Kind)
	}

	p.log.Warnf("failure injection set to %q", p.failure)
	resp.Kind = p.failure
	return nil
}

// History returns the audit journal, oldest first.
func (p *Participant) History(req *common.HistoryRequest, resp *common.HistoryResponse) error {
	if p.audit == nil {
		return nil
	}
	entries, err := p.audit.entries()
	if err != nil {
		return err
	}
	resp.Entries = entries
	return nil
}

// autoRollback fires when no phase-two message arrived in time. The
// participant resolves the orphaned prepare on its own; this is the
// coordinator-failure safeguard.
func (p *Participant) autoRollback(txID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[txID]
	if !ok || rec.State != common.RecordPrepared {
		return
	}

	if err := p.restoreHold(rec); err != nil {
		p.log.Warnf("[txid %s] auto-rollback blocked, retrying: %v", txID, err)
		rec.timer.Reset(p.lockTimeout)
		return
	}

	rec.State = common.RecordAborted
	rec.Reason = "orphaned prepare"
	balance := p.mustBalance()
	p.log.Warnf("[txid %s] no phase-two message within %s, rolled back, balance %d",
		txID, p.commitTimeout, balance)
	p.journal(rec, balance)
}

// restoreHold returns tentatively debited funds to the account.
func (p *Participant) restoreHold(rec *record) error {
	if rec.HeldAmount == 0 {
		return nil
	}
	if err := p.account.Acquire(p.lockTimeout); err != nil {
		return err
	}
	p.account.Credit(rec.HeldAmount)
	p.account.Release()
	rec.HeldAmount = 0
	return nil
}

// gate applies any injected fault before a handler runs. Crash stalls
// every protocol message, commit-stall only phase-two commits, delay only
// prepares.
func (p *Participant) gate(method string) {
	p.mu.Lock()
	kind, ch, delay := p.failure, p.stalled, p.failureDelay
	p.mu.Unlock()

	switch {
	case kind == common.FailureCrash && ch != nil:
		<-ch
	case kind == common.FailureCommitStall && ch != nil && method == "commit":
		<-ch
	case kind == common.FailureDelay && method == "prepare" && delay > 0:
		time.Sleep(delay)
	}
}

func (p *Participant) mustBalance() int64 {
	balance, err := p.account.Balance(p.lockTimeout)
	if err != nil {
		p.log.Warnf("balance read failed: %v", err)
		return 0
	}
	return balance
}
