package arbitration

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrCaseNotFound marks lookups for unknown case or assertion identifiers.
	ErrCaseNotFound = errors.New("arbitration: case not found")
	// ErrCaseExists is returned when a second case is opened for the same
	// job or milestone reference.
	ErrCaseExists = errors.New("arbitration: case already open for reference")
	// ErrAlreadyResolved marks attempts to mutate a case whose outcome has
	// been recorded.
	ErrAlreadyResolved = errors.New("arbitration: case already resolved")
	// ErrAlreadySettled marks repeat settlement attempts on an assertion.
	ErrAlreadySettled = errors.New("arbitration: assertion already settled")
	// ErrUnauthorized marks callers that are neither a case party nor hold
	// the role the entry point requires.
	ErrUnauthorized = errors.New("arbitration: unauthorized caller")
)

// Resolution is the record an arbitrator leaves behind once a case has a final
// outcome. Escrow components pull it; the arbitrator never calls back into
// escrow. The two shares always sum to 10000 basis points.
type Resolution struct {
	ClientBps  uint32
	WorkerBps  uint32
	ResolvedAt int64
}

// Clone returns a copy safe for callers to retain.
func (r *Resolution) Clone() *Resolution {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Valid reports whether the split covers exactly the full escrowed value.
func (r *Resolution) Valid() bool {
	if r == nil {
		return false
	}
	return r.ClientBps+r.WorkerBps == 10_000
}

// CaseRef identifies the escrowed value a dispute is about. Milestone is zero
// when the case concerns a whole bounty job and the 1-based milestone number
// otherwise.
type CaseRef struct {
	JobID      [32]byte
	Milestone  uint64
	Claimant   [20]byte
	Respondent [20]byte
	ReasonRef  string
}

// Validate checks the reference fields prior to opening a case.
func (ref CaseRef) Validate() error {
	if ref.JobID == ([32]byte{}) {
		return fmt.Errorf("arbitration: job id required")
	}
	if ref.Claimant == ([20]byte{}) || ref.Respondent == ([20]byte{}) {
		return fmt.Errorf("arbitration: case parties required")
	}
	if ref.Claimant == ref.Respondent {
		return fmt.Errorf("arbitration: claimant and respondent must differ")
	}
	if strings.TrimSpace(ref.ReasonRef) == "" {
		return fmt.Errorf("arbitration: reason reference required")
	}
	return nil
}

// CaseID derives the deterministic identifier for the reference. A reference
// maps to at most one case for the lifetime of the ledger.
func (ref CaseRef) CaseID() [32]byte {
	var milestone [8]byte
	binary.BigEndian.PutUint64(milestone[:], ref.Milestone)
	return ethcrypto.Keccak256Hash(ref.JobID[:], milestone[:], []byte("arbitration-case"))
}

// Arbitrator is the capability escrow components hold for each dispute mode.
// OpenCase records the dispute; Resolution reports the final split once the
// arbitrator's own protocol has produced one.
type Arbitrator interface {
	OpenCase(ref CaseRef) ([32]byte, error)
	Resolution(caseID [32]byte) (*Resolution, bool, error)
}
