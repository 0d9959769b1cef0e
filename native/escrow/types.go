package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrJobNotFound marks lookups for unknown job identifiers.
	ErrJobNotFound = errors.New("escrow: job not found")
	// ErrInvalidStatus marks transitions attempted from the wrong state.
	ErrInvalidStatus = errors.New("escrow: invalid status for operation")
	// ErrUnauthorized marks callers that do not hold the role the entry
	// point requires.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrAlreadySettled marks repeat settlement attempts after a terminal
	// payout. Callers can distinguish "already done" from other failures.
	ErrAlreadySettled = errors.New("escrow: already settled")
	// ErrBidNotFound marks lookups for bid indexes outside the ledger.
	ErrBidNotFound = errors.New("escrow: bid not found")
	// ErrBidWithdrawn marks acceptance of a withdrawn bid.
	ErrBidWithdrawn = errors.New("escrow: bid withdrawn")
	// ErrSelfBid marks bids submitted by the job's own client.
	ErrSelfBid = errors.New("escrow: client cannot bid on own job")
	// ErrBidTooHigh marks bids above the escrowed amount.
	ErrBidTooHigh = errors.New("escrow: bid exceeds escrowed amount")
	// ErrDisputePending marks a second dispute on the same job or
	// milestone while the first is unresolved.
	ErrDisputePending = errors.New("escrow: dispute already pending")
	// ErrResolutionPending marks settlement attempts before the
	// arbitrator has recorded a final split.
	ErrResolutionPending = errors.New("escrow: arbitrator resolution pending")
	// ErrReleaseTooEarly marks auto-release attempts inside the review
	// window.
	ErrReleaseTooEarly = errors.New("escrow: review window still open")
	// ErrLowReputation marks bids gated out by the reputation floor.
	ErrLowReputation = errors.New("escrow: bidder reputation below floor")
)

// DisputeMode selects the arbitration strategy for a job. It is fixed at
// creation and stored on the record; both escrow engines resolve through the
// same pulled-resolution capability regardless of mode.
type DisputeMode uint8

const (
	DisputeVoting DisputeMode = iota
	DisputeOptimistic
)

// Valid reports whether the mode is within the supported range.
func (m DisputeMode) Valid() bool {
	switch m {
	case DisputeVoting, DisputeOptimistic:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle of a bounty job.
type JobStatus uint8

const (
	JobOpen JobStatus = iota
	JobAssigned
	JobSubmitted
	JobCompleted
	JobDisputed
	JobAutoReleased
	JobCancelled
)

// Valid reports whether the status value is within the supported range.
func (s JobStatus) Valid() bool {
	switch s {
	case JobOpen, JobAssigned, JobSubmitted, JobCompleted, JobDisputed, JobAutoReleased, JobCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether funds have left custody for the job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobAutoReleased, JobCancelled:
		return true
	default:
		return false
	}
}

// Bid is one entry in a job's append-only bid ledger. Entries are immutable
// once the job leaves the open state.
type Bid struct {
	Bidder      [20]byte
	Amount      *big.Int
	ProposalRef string
	SubmittedAt int64
	Withdrawn   bool
	Accepted    bool
}

// Clone returns a copy safe for modification.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Amount != nil {
		clone.Amount = new(big.Int).Set(b.Amount)
	}
	return &clone
}

// Job captures a winner-take-all bounty engagement. Records are append-only:
// terminal jobs are retained for auditability, never deleted.
type Job struct {
	ID              [32]byte
	Client          [20]byte
	Worker          [20]byte
	Token           string
	TotalAmount     *big.Int
	AssignedAmount  *big.Int
	RequirementsRef string
	DeliverableRef  string
	DisputeMode     DisputeMode
	CaseID          [32]byte
	CreatedAt       int64
	Deadline        int64
	SubmittedAt     int64
	SettledAt       int64
	Nonce           uint64
	Status          JobStatus
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(j.TotalAmount)
	}
	if j.AssignedAmount != nil {
		clone.AssignedAmount = new(big.Int).Set(j.AssignedAmount)
	}
	return &clone
}

// JobID derives the deterministic identifier for a bounty. The nonce keeps
// repeat engagements between the same parties distinct.
func JobID(client [20]byte, token string, amount *big.Int, deadline int64, requirementsRef string, nonce uint64) [32]byte {
	var deadlineBytes, nonceBytes [8]byte
	binary.BigEndian.PutUint64(deadlineBytes[:], uint64(deadline))
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	var amountBytes []byte
	if amount != nil {
		amountBytes = amount.Bytes()
	}
	return ethcrypto.Keccak256Hash(
		client[:],
		[]byte(strings.ToUpper(strings.TrimSpace(token))),
		amountBytes,
		deadlineBytes[:],
		[]byte(strings.TrimSpace(requirementsRef)),
		nonceBytes[:],
	)
}

// SanitizeJob validates and normalises the supplied job, returning a cloned
// instance. The function does not mutate the original value.
func SanitizeJob(j *Job) (*Job, error) {
	if j == nil {
		return nil, fmt.Errorf("escrow: nil job")
	}
	clone := j.Clone()
	if clone.ID == ([32]byte{}) {
		return nil, fmt.Errorf("escrow: job id required")
	}
	if clone.Client == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: client address required")
	}
	if clone.TotalAmount == nil || clone.TotalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total amount must be positive")
	}
	if clone.AssignedAmount != nil && clone.AssignedAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: assigned amount must be non-negative")
	}
	if !clone.DisputeMode.Valid() {
		return nil, fmt.Errorf("escrow: invalid dispute mode: %d", clone.DisputeMode)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid job status: %d", clone.Status)
	}
	token := strings.ToUpper(strings.TrimSpace(clone.Token))
	switch token {
	case "GIG", "ZGIG":
		clone.Token = token
	default:
		return nil, fmt.Errorf("escrow: unsupported token %q", clone.Token)
	}
	clone.RequirementsRef = strings.TrimSpace(clone.RequirementsRef)
	if clone.RequirementsRef == "" {
		return nil, fmt.Errorf("escrow: requirements reference required")
	}
	return clone, nil
}
