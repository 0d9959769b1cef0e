package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gigchain/core/events"
	"gigchain/core/types"
	"gigchain/native/arbitration"
	nativecommon "gigchain/native/common"
)

const moduleName = "escrow"

var errNilState = errors.New("escrow: state not configured")

// Transferor is the fund-moving capability the engines borrow from the asset
// ledger. Failures are propagated and abort the transition; the engines never
// assume a transfer silently succeeded.
type Transferor interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// ReputationView is the read-only registry lookup used to gate bids. It never
// participates in fund movement.
type ReputationView interface {
	Score(addr [20]byte) (uint64, bool, error)
}

type engineState interface {
	JobPut(*Job) error
	JobGet(id [32]byte) (*Job, bool, error)
	JobBidsGet(jobID [32]byte) ([]*Bid, error)
	JobBidsPut(jobID [32]byte, bids []*Bid) error
	BidQuotaGet(bidder [20]byte) (nativecommon.QuotaNow, bool, error)
	BidQuotaPut(bidder [20]byte, counter nativecommon.QuotaNow) error
	EscrowVaultAddress() ([20]byte, error)
}

// Policy carries the owner-tunable knobs of both escrow engines. The platform
// fee is carved out of the worker's side of every payout.
type Policy struct {
	FeeBps             uint32
	AutoReleaseSeconds int64
	MinBidReputation   uint64
	BidQuota           nativecommon.Quota
}

func (p Policy) validate() error {
	if p.FeeBps > 10_000 {
		return fmt.Errorf("escrow: fee bps out of range")
	}
	if p.AutoReleaseSeconds <= 0 {
		return fmt.Errorf("escrow: auto-release window must be positive")
	}
	return nil
}

// Engine owns the bounty job state machine and its bid ledger. Gig engagements
// share the engine through the milestone entry points.
type Engine struct {
	state       engineState
	assets      Transferor
	reputation  ReputationView
	emitter     events.Emitter
	nowFn       func() int64
	owner       [20]byte
	feeTreasury [20]byte
	policy      Policy
	arbitrators map[DisputeMode]arbitration.Arbitrator
	pauses      nativecommon.PauseView
}

// NewEngine creates an engine with the reference policy: a 2.5% platform fee
// and a 48 hour review window before permissionless release.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		policy: Policy{
			FeeBps:             250,
			AutoReleaseSeconds: 48 * 60 * 60,
			BidQuota:           nativecommon.Quota{MaxBidsPerEpoch: 32, EpochSeconds: 3600},
		},
		arbitrators: make(map[DisputeMode]arbitration.Arbitrator),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssets wires the asset ledger used for escrow custody.
func (e *Engine) SetAssets(assets Transferor) { e.assets = assets }

// SetReputation wires the optional read-only reputation registry. Leaving it
// unset disables the bid reputation floor.
func (e *Engine) SetReputation(view ReputationView) { e.reputation = view }

// SetOwner configures the address allowed to mutate the engine policy.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetFeeTreasury configures the address receiving the platform fee.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetArbitrator binds the arbitration strategy for a dispute mode. Jobs store
// their mode at creation and resolve through it for their whole lifetime.
func (e *Engine) SetArbitrator(mode DisputeMode, arb arbitration.Arbitrator) {
	if e.arbitrators == nil {
		e.arbitrators = make(map[DisputeMode]arbitration.Arbitrator)
	}
	e.arbitrators[mode] = arb
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPolicy replaces the fee and window knobs. Only the owner may call it;
// every change emits a policy event for auditability.
func (e *Engine) SetPolicy(caller [20]byte, policy Policy) error {
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrUnauthorized
	}
	if err := policy.validate(); err != nil {
		return err
	}
	e.policy = policy
	e.emit(newPolicyEvent(policy))
	return nil
}

// Policy returns the active engine policy.
func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return fmt.Errorf("escrow: asset ledger not configured")
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) loadJob(id [32]byte) (*Job, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	job, ok, err := e.state.JobGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (e *Engine) storeJob(job *Job) error {
	sanitized, err := SanitizeJob(job)
	if err != nil {
		return err
	}
	return e.state.JobPut(sanitized)
}

func sameJobTerms(existing *Job, client [20]byte, token string, amount *big.Int, deadline int64, requirementsRef string, mode DisputeMode) bool {
	if existing == nil {
		return false
	}
	return existing.Client == client &&
		existing.Token == token &&
		existing.TotalAmount != nil && existing.TotalAmount.Cmp(amount) == 0 &&
		existing.Deadline == deadline &&
		existing.RequirementsRef == requirementsRef &&
		existing.DisputeMode == mode
}

// Create escrows the full amount atomically with job creation. The call is
// idempotent on identical terms: a repeat returns the existing job id without
// pulling funds a second time.
func (e *Engine) Create(client [20]byte, token string, amount *big.Int, deadline int64, requirementsRef string, mode DisputeMode, nonce uint64) ([32]byte, error) {
	if err := e.ready(); err != nil {
		return [32]byte{}, err
	}
	if client == ([20]byte{}) {
		return [32]byte{}, fmt.Errorf("escrow: client address required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return [32]byte{}, fmt.Errorf("escrow: amount must be positive")
	}
	now := e.now()
	if deadline <= now {
		return [32]byte{}, fmt.Errorf("escrow: deadline must be in the future")
	}
	if !mode.Valid() {
		return [32]byte{}, fmt.Errorf("escrow: invalid dispute mode: %d", mode)
	}
	if _, ok := e.arbitrators[mode]; !ok {
		return [32]byte{}, fmt.Errorf("escrow: no arbitrator bound for mode %d", mode)
	}
	requirementsRef = strings.TrimSpace(requirementsRef)
	if requirementsRef == "" {
		return [32]byte{}, fmt.Errorf("escrow: requirements reference required")
	}
	id := JobID(client, token, amount, deadline, requirementsRef, nonce)
	if existing, ok, err := e.state.JobGet(id); err != nil {
		return [32]byte{}, err
	} else if ok {
		if sameJobTerms(existing, client, strings.ToUpper(strings.TrimSpace(token)), amount, deadline, requirementsRef, mode) {
			return existing.ID, nil
		}
		return [32]byte{}, fmt.Errorf("escrow: job id collision for nonce %d", nonce)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return [32]byte{}, err
	}
	job := &Job{
		ID:              id,
		Client:          client,
		Token:           token,
		TotalAmount:     new(big.Int).Set(amount),
		RequirementsRef: requirementsRef,
		DisputeMode:     mode,
		CreatedAt:       now,
		Deadline:        deadline,
		Nonce:           nonce,
		Status:          JobOpen,
	}
	sanitized, err := SanitizeJob(job)
	if err != nil {
		return [32]byte{}, err
	}
	if err := e.assets.Transfer(client, vault, sanitized.Token, sanitized.TotalAmount); err != nil {
		return [32]byte{}, err
	}
	if err := e.state.JobPut(sanitized); err != nil {
		return [32]byte{}, err
	}
	e.emit(newJobEvent(EventTypeJobCreated, sanitized, nil))
	return id, nil
}

// Cancel refunds the full escrowed amount to the client. Only the client may
// cancel, and only while the job is still open for bids.
func (e *Engine) Cancel(jobID [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrAlreadySettled
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: cancel requires an open job", ErrInvalidStatus)
	}
	if caller != job.Client {
		return ErrUnauthorized
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.assets.Transfer(vault, job.Client, job.Token, job.TotalAmount); err != nil {
		return err
	}
	job.Status = JobCancelled
	job.SettledAt = e.now()
	if err := e.storeJob(job); err != nil {
		return err
	}
	e.emit(newJobEvent(EventTypeJobCancelled, job, nil))
	return nil
}

// SubmitDeliverable records the worker's deliverable reference and starts the
// client review window.
func (e *Engine) SubmitDeliverable(jobID [32]byte, caller [20]byte, deliverableRef string) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobAssigned {
		return fmt.Errorf("%w: submission requires an assigned job", ErrInvalidStatus)
	}
	if caller != job.Worker {
		return ErrUnauthorized
	}
	deliverableRef = strings.TrimSpace(deliverableRef)
	if deliverableRef == "" {
		return fmt.Errorf("escrow: deliverable reference required")
	}
	job.DeliverableRef = deliverableRef
	job.SubmittedAt = e.now()
	job.Status = JobSubmitted
	if err := e.storeJob(job); err != nil {
		return err
	}
	e.emit(newJobEvent(EventTypeJobSubmitted, job, nil))
	return nil
}

// Approve is the canonical non-disputed settlement path: the client accepts
// the deliverable, the worker is paid net of the platform fee, and any
// unassigned surplus returns to the client.
func (e *Engine) Approve(jobID [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrAlreadySettled
	}
	if job.Status != JobSubmitted {
		return fmt.Errorf("%w: approval requires a submitted job", ErrInvalidStatus)
	}
	if caller != job.Client {
		return ErrUnauthorized
	}
	if err := e.settleJob(job, 0, JobCompleted); err != nil {
		return err
	}
	e.emit(newJobEvent(EventTypeJobApproved, job, nil))
	return nil
}

// AutoRelease is the permissionless keeper path: once the review window has
// elapsed without a client decision, any address may trigger the same payout
// as Approve. Racing callers past the first observe ErrAlreadySettled.
func (e *Engine) AutoRelease(jobID [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrAlreadySettled
	}
	if job.Status != JobSubmitted {
		return fmt.Errorf("%w: release requires a submitted job", ErrInvalidStatus)
	}
	if e.now() < job.SubmittedAt+e.policy.AutoReleaseSeconds {
		return ErrReleaseTooEarly
	}
	if err := e.settleJob(job, 0, JobAutoReleased); err != nil {
		return err
	}
	e.emit(newJobEvent(EventTypeJobAutoReleased, job, map[string]string{
		"keeper": addrAttr(caller),
	}))
	return nil
}

// RaiseDispute hands the submitted deliverable to the job's configured
// arbitrator. Only the client may dispute, only once, and only during review.
func (e *Engine) RaiseDispute(jobID [32]byte, caller [20]byte, reasonRef string) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrAlreadySettled
	}
	if job.Status == JobDisputed {
		return ErrDisputePending
	}
	if job.Status != JobSubmitted {
		return fmt.Errorf("%w: dispute requires a submitted job", ErrInvalidStatus)
	}
	if caller != job.Client {
		return ErrUnauthorized
	}
	arb, ok := e.arbitrators[job.DisputeMode]
	if !ok {
		return fmt.Errorf("escrow: no arbitrator bound for mode %d", job.DisputeMode)
	}
	caseID, err := arb.OpenCase(arbitration.CaseRef{
		JobID:      job.ID,
		Claimant:   job.Client,
		Respondent: job.Worker,
		ReasonRef:  reasonRef,
	})
	if err != nil {
		return err
	}
	job.CaseID = caseID
	job.Status = JobDisputed
	if err := e.storeJob(job); err != nil {
		return err
	}
	e.emit(newJobEvent(EventTypeJobDisputed, job, nil))
	return nil
}

// ResolveDispute pulls the arbitrator's recorded split and distributes the
// escrowed funds accordingly. The arbitrator never calls back into escrow;
// resolution is always pulled, never pushed.
func (e *Engine) ResolveDispute(jobID [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrAlreadySettled
	}
	if job.Status != JobDisputed {
		return fmt.Errorf("%w: resolution requires a disputed job", ErrInvalidStatus)
	}
	arb, ok := e.arbitrators[job.DisputeMode]
	if !ok {
		return fmt.Errorf("escrow: no arbitrator bound for mode %d", job.DisputeMode)
	}
	resolution, done, err := arb.Resolution(job.CaseID)
	if err != nil {
		return err
	}
	if !done {
		return ErrResolutionPending
	}
	if !resolution.Valid() {
		return fmt.Errorf("escrow: arbitrator split does not cover full value")
	}
	if err := e.settleJob(job, resolution.ClientBps, JobCompleted); err != nil {
		return err
	}
	e.emit(newJobEvent(EventTypeJobResolved, job, map[string]string{
		"clientBps": uintAttr(uint64(resolution.ClientBps)),
	}))
	return nil
}

// settleJob distributes the full escrowed amount exactly once: the unassigned
// surplus and the client's share of the assigned amount return to the client,
// the platform fee comes out of the worker's side, and the worker receives
// the rest. The three payouts always sum to TotalAmount.
func (e *Engine) settleJob(job *Job, clientBps uint32, terminal JobStatus) error {
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	assigned := big.NewInt(0)
	if job.AssignedAmount != nil {
		assigned = new(big.Int).Set(job.AssignedAmount)
	}
	surplus := new(big.Int).Sub(job.TotalAmount, assigned)
	clientShare := new(big.Int).Mul(assigned, new(big.Int).SetUint64(uint64(clientBps)))
	clientShare.Div(clientShare, big.NewInt(10_000))
	workerGross := new(big.Int).Sub(assigned, clientShare)
	fee := new(big.Int).Mul(workerGross, new(big.Int).SetUint64(uint64(e.policy.FeeBps)))
	fee.Div(fee, big.NewInt(10_000))
	workerNet := new(big.Int).Sub(workerGross, fee)

	clientTotal := new(big.Int).Add(surplus, clientShare)
	if clientTotal.Sign() > 0 {
		if err := e.assets.Transfer(vault, job.Client, job.Token, clientTotal); err != nil {
			return err
		}
	}
	if workerNet.Sign() > 0 {
		if err := e.assets.Transfer(vault, job.Worker, job.Token, workerNet); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if e.feeTreasury == ([20]byte{}) {
			return fmt.Errorf("escrow: fee treasury not configured")
		}
		if err := e.assets.Transfer(vault, e.feeTreasury, job.Token, fee); err != nil {
			return err
		}
	}
	job.Status = terminal
	job.SettledAt = e.now()
	return e.storeJob(job)
}

// Job returns a copy of the stored job.
func (e *Engine) Job(jobID [32]byte) (*Job, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}
