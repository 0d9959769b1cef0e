package arbitration

import (
	"errors"
	"fmt"
	"time"

	"gigchain/core/events"
	"gigchain/core/types"
	nativecommon "gigchain/native/common"
)

const votingModuleName = "arbitration"

var (
	errVotingNilState = errors.New("arbitration: voting state not configured")

	// ErrNotPanelMember marks votes cast by addresses outside the panel.
	ErrNotPanelMember = errors.New("arbitration: caller not a panel member")
	// ErrAlreadyVoted is returned on a second ballot from the same
	// arbitrator in the same voting round; ballots cannot be overridden.
	ErrAlreadyVoted = errors.New("arbitration: arbitrator already voted")
	// ErrVotingClosed marks ballots and evidence submitted after the
	// voting deadline.
	ErrVotingClosed = errors.New("arbitration: voting window closed")
	// ErrQuorumNotReached is returned by Finalize while the case lacks the
	// required number of ballots. Past the deadline the case is stuck and
	// stays queryable; no default split is invented.
	ErrQuorumNotReached = errors.New("arbitration: quorum not reached")
	// ErrAppealExhausted marks a second appeal on the same case.
	ErrAppealExhausted = errors.New("arbitration: appeal already filed")
)

// VotingPolicy captures the runtime knobs of the panel scheme. Values are
// injected at construction and mutable only through the owner-gated setter.
type VotingPolicy struct {
	Panel               [][20]byte
	Quorum              uint32
	VotingPeriodSeconds int64
}

type votingState interface {
	ArbCasePut(*Case) error
	ArbCaseGet(id [32]byte) (*Case, bool, error)
	ArbCaseRefLookup(jobID [32]byte, milestone uint64) ([32]byte, bool, error)
	ArbCaseRefIndex(jobID [32]byte, milestone uint64, caseID [32]byte) error
}

// VotingEngine arbitrates disputes through a fixed panel of trusted
// arbitrators with a 2-of-N quorum. It only ever records resolutions; escrow
// pulls them through the Arbitrator interface.
type VotingEngine struct {
	state   votingState
	emitter events.Emitter
	nowFn   func() int64
	owner   [20]byte
	policy  VotingPolicy
	pauses  nativecommon.PauseView
}

// NewVotingEngine creates a voting engine with the reference policy: an empty
// panel, quorum of two, and a seven day voting window.
func NewVotingEngine() *VotingEngine {
	return &VotingEngine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		policy: VotingPolicy{
			Quorum:              2,
			VotingPeriodSeconds: 7 * 24 * 60 * 60,
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *VotingEngine) SetState(state votingState) { e.state = state }

// SetOwner configures the address allowed to mutate the panel policy.
func (e *VotingEngine) SetOwner(owner [20]byte) { e.owner = owner }

// SetPauses wires the module pause switchboard.
func (e *VotingEngine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *VotingEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *VotingEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPolicy replaces the panel membership and voting knobs. Only the owner may
// call it; every change emits a policy event for auditability.
func (e *VotingEngine) SetPolicy(caller [20]byte, policy VotingPolicy) error {
	if e == nil {
		return errVotingNilState
	}
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrUnauthorized
	}
	if len(policy.Panel) == 0 {
		return fmt.Errorf("arbitration: panel must not be empty")
	}
	if policy.Quorum == 0 || int(policy.Quorum) > len(policy.Panel) {
		return fmt.Errorf("arbitration: quorum out of range")
	}
	if policy.VotingPeriodSeconds <= 0 {
		return fmt.Errorf("arbitration: voting period must be positive")
	}
	seen := make(map[[20]byte]struct{}, len(policy.Panel))
	panel := make([][20]byte, 0, len(policy.Panel))
	for _, member := range policy.Panel {
		if member == ([20]byte{}) {
			return fmt.Errorf("arbitration: zero panel member")
		}
		if _, dup := seen[member]; dup {
			return fmt.Errorf("arbitration: duplicate panel member")
		}
		seen[member] = struct{}{}
		panel = append(panel, member)
	}
	e.policy = VotingPolicy{
		Panel:               panel,
		Quorum:              policy.Quorum,
		VotingPeriodSeconds: policy.VotingPeriodSeconds,
	}
	e.emit(newPanelUpdatedEvent(panel, policy.Quorum, policy.VotingPeriodSeconds))
	return nil
}

// Policy returns a copy of the active voting policy.
func (e *VotingEngine) Policy() VotingPolicy {
	policy := e.policy
	policy.Panel = append([][20]byte(nil), e.policy.Panel...)
	return policy
}

func (e *VotingEngine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(arbitrationEvent{evt: event})
}

func (e *VotingEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *VotingEngine) isPanelMember(addr [20]byte) bool {
	for _, member := range e.policy.Panel {
		if member == addr {
			return true
		}
	}
	return false
}

func (e *VotingEngine) loadCase(id [32]byte) (*Case, error) {
	if e == nil || e.state == nil {
		return nil, errVotingNilState
	}
	c, ok, err := e.state.ArbCaseGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

func (e *VotingEngine) storeCase(c *Case) error {
	sanitized, err := SanitizeCase(c)
	if err != nil {
		return err
	}
	return e.state.ArbCasePut(sanitized)
}

// OpenCase registers a new dispute with the panel and starts the voting
// window. At most one case may ever exist per job/milestone reference.
func (e *VotingEngine) OpenCase(ref CaseRef) ([32]byte, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, errVotingNilState
	}
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return [32]byte{}, err
	}
	if err := ref.Validate(); err != nil {
		return [32]byte{}, err
	}
	if len(e.policy.Panel) == 0 {
		return [32]byte{}, fmt.Errorf("arbitration: panel not configured")
	}
	if _, exists, err := e.state.ArbCaseRefLookup(ref.JobID, ref.Milestone); err != nil {
		return [32]byte{}, err
	} else if exists {
		return [32]byte{}, ErrCaseExists
	}
	now := e.now()
	c := &Case{
		ID:             ref.CaseID(),
		Ref:            ref,
		OpenedAt:       now,
		VotingDeadline: now + e.policy.VotingPeriodSeconds,
		Status:         CaseActive,
	}
	if err := e.storeCase(c); err != nil {
		return [32]byte{}, err
	}
	if err := e.state.ArbCaseRefIndex(ref.JobID, ref.Milestone, c.ID); err != nil {
		return [32]byte{}, err
	}
	e.emit(newCaseOpenedEvent(c))
	return c.ID, nil
}

// SubmitEvidence appends an opaque evidence reference. Either party may submit
// until the voting deadline; evidence survives an appeal.
func (e *VotingEngine) SubmitEvidence(caseID [32]byte, caller [20]byte, evidenceRef string) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	c, err := e.loadCase(caseID)
	if err != nil {
		return err
	}
	if c.Status != CaseActive {
		return ErrAlreadyResolved
	}
	if caller != c.Ref.Claimant && caller != c.Ref.Respondent {
		return ErrUnauthorized
	}
	if e.now() >= c.VotingDeadline {
		return ErrVotingClosed
	}
	if evidenceRef == "" {
		return fmt.Errorf("arbitration: evidence reference required")
	}
	c.EvidenceRefs = append(c.EvidenceRefs, evidenceRef)
	if err := e.storeCase(c); err != nil {
		return err
	}
	e.emit(newEvidenceEvent(c, caller, evidenceRef))
	return nil
}

// CastVote records one ballot per arbitrator per voting round. Ballots cannot
// be changed once cast.
func (e *VotingEngine) CastVote(caseID [32]byte, arbitrator [20]byte, clientBps uint32) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	c, err := e.loadCase(caseID)
	if err != nil {
		return err
	}
	if c.Status != CaseActive {
		return ErrAlreadyResolved
	}
	if !e.isPanelMember(arbitrator) {
		return ErrNotPanelMember
	}
	if clientBps > 10_000 {
		return fmt.Errorf("arbitration: client bps out of range: %d", clientBps)
	}
	now := e.now()
	if now >= c.VotingDeadline {
		return ErrVotingClosed
	}
	if c.BallotFrom(arbitrator) != nil {
		return ErrAlreadyVoted
	}
	c.Ballots = append(c.Ballots, &Ballot{Arbitrator: arbitrator, ClientBps: clientBps, CastAt: now})
	if err := e.storeCase(c); err != nil {
		return err
	}
	e.emit(newVoteEvent(c, arbitrator, clientBps))
	return nil
}

// Finalize closes the case once quorum is reached. The final client share is
// the arithmetic mean of the recorded ballots, rounded down to the nearest
// basis point; the worker share is the remainder to 10000. Without quorum the
// call fails and the case stays active — past the deadline that means stuck,
// and only an appeal (or more ballots, if the deadline has not passed) can
// move it.
func (e *VotingEngine) Finalize(caseID [32]byte) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	c, err := e.loadCase(caseID)
	if err != nil {
		return err
	}
	if c.Status == CaseResolved {
		return ErrAlreadyResolved
	}
	if uint32(len(c.Ballots)) < e.policy.Quorum {
		return ErrQuorumNotReached
	}
	var sum uint64
	for _, ballot := range c.Ballots {
		sum += uint64(ballot.ClientBps)
	}
	c.FinalClientBps = uint32(sum / uint64(len(c.Ballots)))
	c.Status = CaseResolved
	c.ResolvedAt = e.now()
	if err := e.storeCase(c); err != nil {
		return err
	}
	e.emit(newCaseResolvedEvent(c))
	return nil
}

// Appeal resets the voting window and ballot set. Evidence is retained. One
// appeal is allowed per case, filed by either party, whether the case is
// stuck or already resolved but not yet consumed by escrow.
func (e *VotingEngine) Appeal(caseID [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	c, err := e.loadCase(caseID)
	if err != nil {
		return err
	}
	if caller != c.Ref.Claimant && caller != c.Ref.Respondent {
		return ErrUnauthorized
	}
	if c.Appealed {
		return ErrAppealExhausted
	}
	c.Appealed = true
	c.Ballots = nil
	c.FinalClientBps = 0
	c.ResolvedAt = 0
	c.Status = CaseActive
	c.VotingDeadline = e.now() + e.policy.VotingPeriodSeconds
	if err := e.storeCase(c); err != nil {
		return err
	}
	e.emit(newCaseAppealedEvent(c, caller))
	return nil
}

// Resolution reports the recorded split for a resolved case. It returns false
// while the case is active, including the stuck state.
func (e *VotingEngine) Resolution(caseID [32]byte) (*Resolution, bool, error) {
	c, err := e.loadCase(caseID)
	if err != nil {
		return nil, false, err
	}
	if c.Status != CaseResolved {
		return nil, false, nil
	}
	return &Resolution{
		ClientBps:  c.FinalClientBps,
		WorkerBps:  10_000 - c.FinalClientBps,
		ResolvedAt: c.ResolvedAt,
	}, true, nil
}

// Case returns a copy of the stored case.
func (e *VotingEngine) Case(caseID [32]byte) (*Case, error) {
	c, err := e.loadCase(caseID)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Stuck reports whether the case missed quorum before its deadline and now
// requires an appeal (or manual intervention) before funds can move. This is
// the explicit liveness gap of the trusted-panel mode.
func (e *VotingEngine) Stuck(caseID [32]byte) (bool, error) {
	c, err := e.loadCase(caseID)
	if err != nil {
		return false, err
	}
	if c.Status != CaseActive {
		return false, nil
	}
	if e.now() <= c.VotingDeadline {
		return false, nil
	}
	return uint32(len(c.Ballots)) < e.policy.Quorum, nil
}
