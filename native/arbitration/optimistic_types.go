package arbitration

import (
	"fmt"
	"math/big"
)

// AssertionStatus represents the lifecycle of a bonded claim.
type AssertionStatus uint8

const (
	// AssertionPending marks assertions whose case is open but not yet
	// backed by a bonded claim.
	AssertionPending AssertionStatus = iota
	// AssertionActive marks bonded claims inside the liveness window.
	AssertionActive
	// AssertionDisputed marks challenged claims awaiting the external
	// truth-resolution verdict.
	AssertionDisputed
	// AssertionSettled marks terminal assertions; the resolution is final.
	AssertionSettled
)

// Valid reports whether the status value is within the supported range.
func (s AssertionStatus) Valid() bool {
	switch s {
	case AssertionPending, AssertionActive, AssertionDisputed, AssertionSettled:
		return true
	default:
		return false
	}
}

// Assertion captures a bonded claim under the optimistic scheme. A claim that
// survives its liveness window unchallenged finalizes as true; a challenged
// claim is decided by the external oracle.
type Assertion struct {
	ID                [32]byte
	Ref               CaseRef
	BondToken         string
	Asserter          [20]byte
	ClaimRef          string
	ProposedClientBps uint32
	Bond              *big.Int
	AssertedAt        int64
	ExpirationTime    int64
	Disputer          [20]byte
	CounterBond       *big.Int
	Settled           bool
	ClaimValid        bool
	FinalClientBps    uint32
	OpenedAt          int64
	SettledAt         int64
	Status            AssertionStatus
}

// Clone returns a deep copy of the assertion.
func (a *Assertion) Clone() *Assertion {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Bond != nil {
		clone.Bond = new(big.Int).Set(a.Bond)
	}
	if a.CounterBond != nil {
		clone.CounterBond = new(big.Int).Set(a.CounterBond)
	}
	return &clone
}

// Disputed reports whether a challenger has posted a counter-bond.
func (a *Assertion) Disputed() bool {
	return a != nil && a.Status == AssertionDisputed
}

// SanitizeAssertion validates and normalises the supplied assertion, returning
// a cloned instance. The function does not mutate the original value.
func SanitizeAssertion(a *Assertion) (*Assertion, error) {
	if a == nil {
		return nil, fmt.Errorf("arbitration: nil assertion")
	}
	clone := a.Clone()
	if clone.ID == ([32]byte{}) {
		return nil, fmt.Errorf("arbitration: assertion id required")
	}
	if err := clone.Ref.Validate(); err != nil {
		return nil, err
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("arbitration: invalid assertion status: %d", clone.Status)
	}
	if clone.ProposedClientBps > 10_000 {
		return nil, fmt.Errorf("arbitration: proposed client bps out of range: %d", clone.ProposedClientBps)
	}
	if clone.FinalClientBps > 10_000 {
		return nil, fmt.Errorf("arbitration: final client bps out of range: %d", clone.FinalClientBps)
	}
	if clone.Bond != nil && clone.Bond.Sign() < 0 {
		return nil, fmt.Errorf("arbitration: bond must be non-negative")
	}
	if clone.CounterBond != nil && clone.CounterBond.Sign() < 0 {
		return nil, fmt.Errorf("arbitration: counter-bond must be non-negative")
	}
	return clone, nil
}
