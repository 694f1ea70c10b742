package common

import (
	"time"
)

// Operation is a participant's side of a transfer.
type Operation string

const (
	// Debit ...
	Debit Operation = "debit"
	// Credit ...
	Credit Operation = "credit"
)

// VoteStatus is a participant's answer to a prepare request.
type VoteStatus string

const (
	// VoteReady ...
	VoteReady VoteStatus = "ready"
	// VoteAbort ...
	VoteAbort VoteStatus = "abort"
)

// Vote is immutable once issued by a participant. The coordinator
// synthesizes one with a timeout/unreachable reason when a participant
// never answers.
type Vote struct {
	Status VoteStatus
	Reason string
}

// TxState is the coordinator-side state of a transaction.
type TxState string

const (
	TxInit          TxState = "INIT"
	TxPreparing     TxState = "PREPARING"
	TxReadyToCommit TxState = "READY_TO_COMMIT"
	TxCommitting    TxState = "COMMITTING"
	TxCommitted     TxState = "COMMITTED"
	TxAborting      TxState = "ABORTING"
	TxAborted       TxState = "ABORTED"
)

// RecordState is the participant-local state of a transaction.
type RecordState string

const (
	RecordIdle      RecordState = "IDLE"
	RecordPrepared  RecordState = "PREPARED"
	RecordCommitted RecordState = "COMMITTED"
	RecordAborted   RecordState = "ABORTED"
)

// Outcome is the caller-visible result of ExecuteTransfer. Degraded means
// the commit decision was taken but delivery to at least one participant
// could not be confirmed; that participant either applies a late commit
// or self-resolves through its own rollback timer.
type Outcome string

const (
	Committed Outcome = "COMMITTED"
	Aborted   Outcome = "ABORTED"
	Degraded  Outcome = "DEGRADED"
)

// FailureKind is an externally injected fault for demos and tests. It is
// not part of the protocol.
type FailureKind string

const (
	// FailureNone clears any injected fault.
	FailureNone FailureKind = "none"
	// FailureCrash makes the participant unresponsive until restarted.
	FailureCrash FailureKind = "crash"
	// FailureDelay stalls prepare handling for the configured duration.
	FailureDelay FailureKind = "delay"
	// FailurePrepareAbort makes the participant vote abort on prepare.
	FailurePrepareAbort FailureKind = "prepare-abort"
	// FailureCommitStall makes the participant hang on phase-two commit.
	FailureCommitStall FailureKind = "commit-stall"
)

// PrepareRequest asks a participant to take a tentative hold.
type PrepareRequest struct {
	TxID      string
	Amount    int64
	Operation Operation
}

// PrepareResponse carries the participant's vote.
type PrepareResponse struct {
	Status VoteStatus
	Reason string
}

// CommitRequest finalizes a prepared transaction.
type CommitRequest struct {
	TxID   string
	Amount int64
}

// CommitResponse ...
type CommitResponse struct {
	Status  RecordState
	Balance int64
}

// RollbackRequest releases a tentative hold.
type RollbackRequest struct {
	TxID string
}

// RollbackResponse ...
type RollbackResponse struct {
	Status  RecordState
	Balance int64
}

// BalanceRequest ...
type BalanceRequest struct{}

// BalanceResponse ...
type BalanceResponse struct {
	ParticipantID string
	Balance       int64
}

// InjectFailureRequest arms or clears a simulated fault on a participant.
type InjectFailureRequest struct {
	Kind  FailureKind
	Delay time.Duration
}

// InjectFailureResponse ...
type InjectFailureResponse struct {
	Kind FailureKind
}

// HistoryRequest ...
type HistoryRequest struct{}

// HistoryResponse returns the participant's audit journal, oldest first.
type HistoryResponse struct {
	Entries []AuditEntry
}

// AuditEntry is one terminal transaction as recorded in a participant's
// journal.
type AuditEntry struct {
	TxID      string
	Operation Operation
	Amount    int64
	Outcome   RecordState
	Reason    string
	Balance   int64
	Time      time.Time
}

// TransferResult is returned to the caller of ExecuteTransfer.
type TransferResult struct {
	TxID    string
	Outcome Outcome
	Votes   map[string]Vote
	Reason  string
}
