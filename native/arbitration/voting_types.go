package arbitration

import (
	"fmt"
	"strings"
)

// CaseStatus represents the lifecycle of a voting-panel case.
type CaseStatus uint8

const (
	CaseActive CaseStatus = iota
	CaseResolved
)

// Valid reports whether the status value is within the supported range.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseActive, CaseResolved:
		return true
	default:
		return false
	}
}

// Ballot records a single arbitrator's proposed client share for a case.
type Ballot struct {
	Arbitrator [20]byte
	ClientBps  uint32
	CastAt     int64
}

// Clone returns a copy safe for modification.
func (b *Ballot) Clone() *Ballot {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// Case captures a dispute under panel arbitration. Evidence survives an
// appeal; ballots do not.
type Case struct {
	ID             [32]byte
	Ref            CaseRef
	EvidenceRefs   []string
	Ballots        []*Ballot
	OpenedAt       int64
	VotingDeadline int64
	Status         CaseStatus
	Appealed       bool
	FinalClientBps uint32
	ResolvedAt     int64
}

// Clone returns a deep copy of the case.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	clone := *c
	if len(c.EvidenceRefs) > 0 {
		clone.EvidenceRefs = append([]string(nil), c.EvidenceRefs...)
	}
	if len(c.Ballots) > 0 {
		clone.Ballots = make([]*Ballot, len(c.Ballots))
		for i, ballot := range c.Ballots {
			clone.Ballots[i] = ballot.Clone()
		}
	}
	return &clone
}

// BallotFrom returns the recorded ballot for the arbitrator, if any.
func (c *Case) BallotFrom(arbitrator [20]byte) *Ballot {
	if c == nil {
		return nil
	}
	for _, ballot := range c.Ballots {
		if ballot != nil && ballot.Arbitrator == arbitrator {
			return ballot
		}
	}
	return nil
}

// SanitizeCase validates and normalises the supplied case, returning a cloned
// instance. The function does not mutate the original value.
func SanitizeCase(c *Case) (*Case, error) {
	if c == nil {
		return nil, fmt.Errorf("arbitration: nil case")
	}
	clone := c.Clone()
	if clone.ID == ([32]byte{}) {
		return nil, fmt.Errorf("arbitration: case id required")
	}
	if err := clone.Ref.Validate(); err != nil {
		return nil, err
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("arbitration: invalid case status: %d", clone.Status)
	}
	if clone.FinalClientBps > 10_000 {
		return nil, fmt.Errorf("arbitration: final client bps out of range: %d", clone.FinalClientBps)
	}
	for _, ballot := range clone.Ballots {
		if ballot == nil {
			return nil, fmt.Errorf("arbitration: nil ballot")
		}
		if ballot.ClientBps > 10_000 {
			return nil, fmt.Errorf("arbitration: ballot bps out of range: %d", ballot.ClientBps)
		}
	}
	clone.Ref.ReasonRef = strings.TrimSpace(clone.Ref.ReasonRef)
	return clone, nil
}
