package arbitration

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gigchain/core/events"
	"gigchain/core/types"
	nativecommon "gigchain/native/common"
)

var (
	errOptimisticNilState  = errors.New("arbitration: optimistic state not configured")
	errOptimisticNilAssets = errors.New("arbitration: asset ledger not configured")

	// ErrNotAsserted marks operations that require a bonded claim before a
	// claim has been posted against the open case.
	ErrNotAsserted = errors.New("arbitration: no bonded claim posted")
	// ErrAlreadyAsserted is returned on a second bonded claim for the same
	// case; the reference design admits a single asserter.
	ErrAlreadyAsserted = errors.New("arbitration: claim already asserted")
	// ErrAlreadyDisputed is returned on a second challenge; the reference
	// design admits a single challenger per assertion.
	ErrAlreadyDisputed = errors.New("arbitration: assertion already disputed")
	// ErrSettleTooEarly rejects settlement before the liveness window has
	// elapsed, closing the front-running gap on the challenge window.
	ErrSettleTooEarly = errors.New("arbitration: liveness window still open")
	// ErrChallengeClosed rejects challenges after the liveness window.
	ErrChallengeClosed = errors.New("arbitration: challenge window closed")
	// ErrAssertionDisputed rejects permissionless settlement of a
	// challenged claim; the verdict must come from the oracle callback.
	ErrAssertionDisputed = errors.New("arbitration: assertion under dispute")
	// ErrNotOracle marks verdict submissions from anyone but the
	// configured truth oracle.
	ErrNotOracle = errors.New("arbitration: caller is not the oracle")
)

// OptimisticPolicy carries the injected economic parameters of the bonded
// claim-and-challenge protocol. The reward and rejected-claim splits are
// external-oracle policy, not derived here.
type OptimisticPolicy struct {
	BondToken         string
	BondAmount        *big.Int
	LivenessSeconds   int64
	DisputerRewardBps uint32
	RejectedClientBps uint32
}

func (p OptimisticPolicy) validate() error {
	if _, err := normalizeBondToken(p.BondToken); err != nil {
		return err
	}
	if p.BondAmount == nil || p.BondAmount.Sign() <= 0 {
		return fmt.Errorf("arbitration: bond amount must be positive")
	}
	if p.LivenessSeconds <= 0 {
		return fmt.Errorf("arbitration: liveness must be positive")
	}
	if p.DisputerRewardBps > 10_000 {
		return fmt.Errorf("arbitration: disputer reward bps out of range")
	}
	if p.RejectedClientBps > 10_000 {
		return fmt.Errorf("arbitration: rejected client bps out of range")
	}
	return nil
}

func normalizeBondToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "GIG", "ZGIG":
		return trimmed, nil
	default:
		return "", fmt.Errorf("arbitration: unsupported bond token %q", symbol)
	}
}

// Transferor is the fund-moving capability the engine borrows from the asset
// ledger. Failures are propagated and abort the transition.
type Transferor interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

type optimisticState interface {
	AssertionPut(*Assertion) error
	AssertionGet(id [32]byte) (*Assertion, bool, error)
	AssertionRefLookup(jobID [32]byte, milestone uint64) ([32]byte, bool, error)
	AssertionRefIndex(jobID [32]byte, milestone uint64, id [32]byte) error
	ArbVaultAddress() ([20]byte, error)
}

// OptimisticEngine implements the bonded claim-and-challenge protocol. A
// dispute opens a pending case; the respondent (or anyone acting for them)
// posts a bonded claim; unchallenged claims settle permissionlessly after the
// liveness window; challenged claims wait for the external oracle verdict.
type OptimisticEngine struct {
	state       optimisticState
	assets      Transferor
	emitter     events.Emitter
	nowFn       func() int64
	owner       [20]byte
	oracle      [20]byte
	feeTreasury [20]byte
	policy      OptimisticPolicy
	pauses      nativecommon.PauseView
}

// NewOptimisticEngine creates an engine with the reference policy: a two hour
// liveness window and a half share of the loser's bond paid to the winner.
func NewOptimisticEngine() *OptimisticEngine {
	return &OptimisticEngine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		policy: OptimisticPolicy{
			BondToken:         "ZGIG",
			BondAmount:        big.NewInt(1),
			LivenessSeconds:   2 * 60 * 60,
			DisputerRewardBps: 5_000,
			RejectedClientBps: 10_000,
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *OptimisticEngine) SetState(state optimisticState) { e.state = state }

// SetAssets wires the asset ledger used for bond custody.
func (e *OptimisticEngine) SetAssets(assets Transferor) { e.assets = assets }

// SetOwner configures the address allowed to mutate policy and oracle wiring.
func (e *OptimisticEngine) SetOwner(owner [20]byte) { e.owner = owner }

// SetPauses wires the module pause switchboard.
func (e *OptimisticEngine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetFeeTreasury configures the address receiving the slashed bond remainder.
func (e *OptimisticEngine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *OptimisticEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *OptimisticEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetOracle configures the external truth-resolution oracle address. Only the
// owner may change it.
func (e *OptimisticEngine) SetOracle(caller, oracle [20]byte) error {
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrUnauthorized
	}
	if oracle == ([20]byte{}) {
		return fmt.Errorf("arbitration: oracle address required")
	}
	e.oracle = oracle
	e.emit(newOracleUpdatedEvent(oracle))
	return nil
}

// SetPolicy replaces the bond and liveness parameters. Only the owner may call
// it; every change emits a policy event for auditability.
func (e *OptimisticEngine) SetPolicy(caller [20]byte, policy OptimisticPolicy) error {
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrUnauthorized
	}
	if err := policy.validate(); err != nil {
		return err
	}
	normalized, err := normalizeBondToken(policy.BondToken)
	if err != nil {
		return err
	}
	e.policy = OptimisticPolicy{
		BondToken:         normalized,
		BondAmount:        new(big.Int).Set(policy.BondAmount),
		LivenessSeconds:   policy.LivenessSeconds,
		DisputerRewardBps: policy.DisputerRewardBps,
		RejectedClientBps: policy.RejectedClientBps,
	}
	e.emit(newOptimisticPolicyEvent(e.policy))
	return nil
}

// Policy returns a copy of the active policy.
func (e *OptimisticEngine) Policy() OptimisticPolicy {
	policy := e.policy
	if e.policy.BondAmount != nil {
		policy.BondAmount = new(big.Int).Set(e.policy.BondAmount)
	}
	return policy
}

func (e *OptimisticEngine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(arbitrationEvent{evt: event})
}

func (e *OptimisticEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *OptimisticEngine) loadAssertion(id [32]byte) (*Assertion, error) {
	if e == nil || e.state == nil {
		return nil, errOptimisticNilState
	}
	a, ok, err := e.state.AssertionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCaseNotFound
	}
	return a, nil
}

func (e *OptimisticEngine) storeAssertion(a *Assertion) error {
	sanitized, err := SanitizeAssertion(a)
	if err != nil {
		return err
	}
	return e.state.AssertionPut(sanitized)
}

// OpenCase registers a pending assertion slot for the dispute reference. The
// bonded claim itself arrives through Assert.
func (e *OptimisticEngine) OpenCase(ref CaseRef) ([32]byte, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, errOptimisticNilState
	}
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return [32]byte{}, err
	}
	if err := ref.Validate(); err != nil {
		return [32]byte{}, err
	}
	if _, exists, err := e.state.AssertionRefLookup(ref.JobID, ref.Milestone); err != nil {
		return [32]byte{}, err
	} else if exists {
		return [32]byte{}, ErrCaseExists
	}
	a := &Assertion{
		ID:        ref.CaseID(),
		Ref:       ref,
		BondToken: e.policy.BondToken,
		OpenedAt:  e.now(),
		Status:    AssertionPending,
	}
	if err := e.storeAssertion(a); err != nil {
		return [32]byte{}, err
	}
	if err := e.state.AssertionRefIndex(ref.JobID, ref.Milestone, a.ID); err != nil {
		return [32]byte{}, err
	}
	e.emit(newAssertionOpenedEvent(a))
	return a.ID, nil
}

// Assert posts the bonded claim and opens the liveness window. The bond is
// pulled from the asserter atomically; a transfer failure aborts the claim.
func (e *OptimisticEngine) Assert(id [32]byte, asserter [20]byte, claimRef string, proposedClientBps uint32) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	if e.assets == nil {
		return errOptimisticNilAssets
	}
	a, err := e.loadAssertion(id)
	if err != nil {
		return err
	}
	if a.Settled {
		return ErrAlreadySettled
	}
	if a.Status != AssertionPending {
		return ErrAlreadyAsserted
	}
	if asserter == ([20]byte{}) {
		return fmt.Errorf("arbitration: asserter address required")
	}
	if strings.TrimSpace(claimRef) == "" {
		return fmt.Errorf("arbitration: claim reference required")
	}
	if proposedClientBps > 10_000 {
		return fmt.Errorf("arbitration: proposed client bps out of range: %d", proposedClientBps)
	}
	vault, err := e.state.ArbVaultAddress()
	if err != nil {
		return err
	}
	bond := new(big.Int).Set(e.policy.BondAmount)
	if err := e.assets.Transfer(asserter, vault, a.BondToken, bond); err != nil {
		return err
	}
	now := e.now()
	a.Asserter = asserter
	a.ClaimRef = claimRef
	a.ProposedClientBps = proposedClientBps
	a.Bond = bond
	a.AssertedAt = now
	a.ExpirationTime = now + e.policy.LivenessSeconds
	a.Status = AssertionActive
	if err := e.storeAssertion(a); err != nil {
		return err
	}
	e.emit(newAssertedEvent(a))
	return nil
}

// Dispute challenges an active claim inside the liveness window. A matching
// counter-bond is pulled from the disputer; a challenged claim can only be
// settled by the oracle verdict.
func (e *OptimisticEngine) Dispute(id [32]byte, disputer [20]byte) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	if e.assets == nil {
		return errOptimisticNilAssets
	}
	a, err := e.loadAssertion(id)
	if err != nil {
		return err
	}
	if a.Settled {
		return ErrAlreadySettled
	}
	switch a.Status {
	case AssertionPending:
		return ErrNotAsserted
	case AssertionDisputed:
		return ErrAlreadyDisputed
	}
	if e.now() >= a.ExpirationTime {
		return ErrChallengeClosed
	}
	if disputer == ([20]byte{}) {
		return fmt.Errorf("arbitration: disputer address required")
	}
	vault, err := e.state.ArbVaultAddress()
	if err != nil {
		return err
	}
	counterBond := new(big.Int).Set(a.Bond)
	if err := e.assets.Transfer(disputer, vault, a.BondToken, counterBond); err != nil {
		return err
	}
	a.Disputer = disputer
	a.CounterBond = counterBond
	a.Status = AssertionDisputed
	if err := e.storeAssertion(a); err != nil {
		return err
	}
	e.emit(newAssertionDisputedEvent(a))
	return nil
}

// Settle finalizes an unchallenged claim as true once the liveness window has
// elapsed. Any address may call it; racing callers past the first observe
// ErrAlreadySettled and no funds move twice.
func (e *OptimisticEngine) Settle(id [32]byte) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	if e.assets == nil {
		return errOptimisticNilAssets
	}
	a, err := e.loadAssertion(id)
	if err != nil {
		return err
	}
	if a.Settled {
		return ErrAlreadySettled
	}
	switch a.Status {
	case AssertionPending:
		return ErrNotAsserted
	case AssertionDisputed:
		return ErrAssertionDisputed
	}
	if e.now() < a.ExpirationTime {
		return ErrSettleTooEarly
	}
	vault, err := e.state.ArbVaultAddress()
	if err != nil {
		return err
	}
	if err := e.assets.Transfer(vault, a.Asserter, a.BondToken, a.Bond); err != nil {
		return err
	}
	a.Settled = true
	a.ClaimValid = true
	a.FinalClientBps = a.ProposedClientBps
	a.SettledAt = e.now()
	a.Status = AssertionSettled
	if err := e.storeAssertion(a); err != nil {
		return err
	}
	e.emit(newAssertionSettledEvent(a))
	return nil
}

// SubmitVerdict records the external oracle's boolean verdict for a disputed
// assertion and settles the bond accounting: the winner recovers their own
// bond plus the policy share of the loser's bond; the remainder of the
// loser's bond goes to the fee treasury.
func (e *OptimisticEngine) SubmitVerdict(id [32]byte, caller [20]byte, claimValid bool) error {
	if err := nativecommon.Guard(e.pauses, votingModuleName); err != nil {
		return err
	}
	if e.assets == nil {
		return errOptimisticNilAssets
	}
	if e.oracle == ([20]byte{}) || caller != e.oracle {
		return ErrNotOracle
	}
	a, err := e.loadAssertion(id)
	if err != nil {
		return err
	}
	if a.Settled {
		return ErrAlreadySettled
	}
	if a.Status != AssertionDisputed {
		return fmt.Errorf("arbitration: assertion not under dispute")
	}
	vault, err := e.state.ArbVaultAddress()
	if err != nil {
		return err
	}
	winner := a.Asserter
	winnerBond, loserBond := a.Bond, a.CounterBond
	if !claimValid {
		winner = a.Disputer
		winnerBond, loserBond = a.CounterBond, a.Bond
	}
	reward := new(big.Int).Mul(loserBond, new(big.Int).SetUint64(uint64(e.policy.DisputerRewardBps)))
	reward.Div(reward, big.NewInt(10_000))
	remainder := new(big.Int).Sub(loserBond, reward)
	payout := new(big.Int).Add(winnerBond, reward)
	if payout.Sign() > 0 {
		if err := e.assets.Transfer(vault, winner, a.BondToken, payout); err != nil {
			return err
		}
	}
	if remainder.Sign() > 0 {
		if e.feeTreasury == ([20]byte{}) {
			return fmt.Errorf("arbitration: fee treasury not configured")
		}
		if err := e.assets.Transfer(vault, e.feeTreasury, a.BondToken, remainder); err != nil {
			return err
		}
	}
	a.Settled = true
	a.ClaimValid = claimValid
	if claimValid {
		a.FinalClientBps = a.ProposedClientBps
	} else {
		a.FinalClientBps = e.policy.RejectedClientBps
	}
	a.SettledAt = e.now()
	a.Status = AssertionSettled
	if err := e.storeAssertion(a); err != nil {
		return err
	}
	e.emit(newVerdictEvent(a))
	return nil
}

// Resolution reports the final split once the assertion has settled, either
// permissionlessly or through the oracle verdict.
func (e *OptimisticEngine) Resolution(id [32]byte) (*Resolution, bool, error) {
	a, err := e.loadAssertion(id)
	if err != nil {
		return nil, false, err
	}
	if !a.Settled {
		return nil, false, nil
	}
	return &Resolution{
		ClientBps:  a.FinalClientBps,
		WorkerBps:  10_000 - a.FinalClientBps,
		ResolvedAt: a.SettledAt,
	}, true, nil
}

// Assertion returns a copy of the stored assertion.
func (e *OptimisticEngine) Assertion(id [32]byte) (*Assertion, error) {
	a, err := e.loadAssertion(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}
