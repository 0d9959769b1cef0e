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
	// ErrGigNotFound marks lookups for unknown gig identifiers.
	ErrGigNotFound = errors.New("escrow: gig not found")
	// ErrMilestoneNotFound marks indexes outside the gig's tranche list.
	ErrMilestoneNotFound = errors.New("escrow: milestone not found")
	// ErrMilestoneSum marks gigs whose tranche amounts do not add up to
	// the total engagement value.
	ErrMilestoneSum = errors.New("escrow: milestone amounts must sum to total")
)

// MilestoneStatus represents the lifecycle of a single payment tranche.
type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneSubmitted
	// MilestoneApproved is terminal: the tranche was paid through direct
	// client approval.
	MilestoneApproved
	MilestoneDisputed
	// MilestoneReleased is terminal: the tranche was paid through
	// auto-release or dispute resolution.
	MilestoneReleased
)

// Valid reports whether the status value is within the supported range.
func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestonePending, MilestoneSubmitted, MilestoneApproved, MilestoneDisputed, MilestoneReleased:
		return true
	default:
		return false
	}
}

// Terminal reports whether the tranche has been paid out.
func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneApproved || s == MilestoneReleased
}

// GigStatus is derived from the milestone set, never set directly.
type GigStatus uint8

const (
	GigActive GigStatus = iota
	GigCompleted
)

// Valid reports whether the status value is within the supported range.
func (s GigStatus) Valid() bool {
	return s == GigActive || s == GigCompleted
}

// Milestone is one payment tranche of a gig. Tranches move independently; a
// dispute on one never blocks its siblings.
type Milestone struct {
	Description    string
	Amount         *big.Int
	DeliverableRef string
	SubmittedAt    int64
	SettledAt      int64
	CaseID         [32]byte
	Status         MilestoneStatus
}

// Clone returns a copy safe for modification.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return &clone
}

// MilestoneDraft is the creation-time shape of a tranche.
type MilestoneDraft struct {
	Description string
	Amount      *big.Int
}

// Gig captures a direct client and worker engagement paid in ordered
// tranches. The tranche list is fixed at creation.
type Gig struct {
	ID              [32]byte
	Client          [20]byte
	Worker          [20]byte
	Token           string
	TotalAmount     *big.Int
	RequirementsRef string
	DisputeMode     DisputeMode
	CreatedAt       int64
	Nonce           uint64
	Milestones      []*Milestone
	Status          GigStatus
}

// Clone returns a deep copy of the gig.
func (g *Gig) Clone() *Gig {
	if g == nil {
		return nil
	}
	clone := *g
	if g.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(g.TotalAmount)
	}
	if len(g.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(g.Milestones))
		for i, m := range g.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

// GigID derives the deterministic identifier for a gig engagement.
func GigID(client, worker [20]byte, token string, total *big.Int, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	var amountBytes []byte
	if total != nil {
		amountBytes = total.Bytes()
	}
	return ethcrypto.Keccak256Hash(
		client[:],
		worker[:],
		[]byte(strings.ToUpper(strings.TrimSpace(token))),
		amountBytes,
		nonceBytes[:],
		[]byte("gig"),
	)
}

// SanitizeGig validates and normalises the supplied gig, returning a cloned
// instance. The tranche sum must equal the escrowed total.
func SanitizeGig(g *Gig) (*Gig, error) {
	if g == nil {
		return nil, fmt.Errorf("escrow: nil gig")
	}
	clone := g.Clone()
	if clone.ID == ([32]byte{}) {
		return nil, fmt.Errorf("escrow: gig id required")
	}
	if clone.Client == ([20]byte{}) || clone.Worker == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: gig parties required")
	}
	if clone.Client == clone.Worker {
		return nil, fmt.Errorf("escrow: client and worker must differ")
	}
	if clone.TotalAmount == nil || clone.TotalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total amount must be positive")
	}
	if !clone.DisputeMode.Valid() {
		return nil, fmt.Errorf("escrow: invalid dispute mode: %d", clone.DisputeMode)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid gig status: %d", clone.Status)
	}
	token := strings.ToUpper(strings.TrimSpace(clone.Token))
	switch token {
	case "GIG", "ZGIG":
		clone.Token = token
	default:
		return nil, fmt.Errorf("escrow: unsupported token %q", clone.Token)
	}
	if len(clone.Milestones) == 0 {
		return nil, fmt.Errorf("escrow: at least one milestone required")
	}
	sum := big.NewInt(0)
	for i, m := range clone.Milestones {
		if m == nil {
			return nil, fmt.Errorf("escrow: nil milestone at index %d", i)
		}
		if m.Amount == nil || m.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("escrow: milestone %d amount must be positive", i)
		}
		if !m.Status.Valid() {
			return nil, fmt.Errorf("escrow: invalid milestone status: %d", m.Status)
		}
		if strings.TrimSpace(m.Description) == "" {
			return nil, fmt.Errorf("escrow: milestone %d description required", i)
		}
		sum.Add(sum, m.Amount)
	}
	if sum.Cmp(clone.TotalAmount) != 0 {
		return nil, ErrMilestoneSum
	}
	return clone, nil
}
