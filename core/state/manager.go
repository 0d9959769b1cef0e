package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"gigchain/core/types"
	"gigchain/native/arbitration"
	nativecommon "gigchain/native/common"
	"gigchain/native/escrow"
	"gigchain/storage"
)

var (
	accountPrefix      = []byte("account/")
	jobPrefix          = []byte("escrow/job/")
	jobBidsPrefix      = []byte("escrow/job-bids/")
	gigPrefix          = []byte("escrow/gig/")
	bidQuotaPrefix     = []byte("escrow/bid-quota/")
	arbCasePrefix      = []byte("arb/case/")
	arbCaseRefPrefix   = []byte("arb/case-ref/")
	assertionPrefix    = []byte("arb/assertion/")
	assertionRefPrefix = []byte("arb/assertion-ref/")
	allowancePrefix    = []byte("token/allowance/")
)

// Manager persists all module state as JSON records over the key-value
// database. Every engine-facing method maps one narrow state interface onto
// the shared store.
type Manager struct {
	db storage.Database
}

// NewManager binds a manager to the database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// KVGet exposes the raw JSON surface for modules that manage their own key
// layout, such as the worker registry.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) { return m.get(key, out) }

// KVPut is the write side of KVGet.
func (m *Manager) KVPut(key []byte, value interface{}) error { return m.put(key, value) }

func prefixed(prefix, suffix []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix)*2)
	key = append(key, prefix...)
	key = append(key, []byte(fmt.Sprintf("%x", suffix))...)
	return key
}

// GetAccount loads the account record for an address, or nil if the address
// has never been touched.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	var account types.Account
	ok, err := m.get(prefixed(accountPrefix, addr), &account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &account, nil
}

// PutAccount stores the account record for an address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.put(prefixed(accountPrefix, addr), account)
}

func allowanceKey(token string, owner, spender [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%x/%x", allowancePrefix, token, owner, spender))
}

// TokenAllowance reports the remaining spend approval, zero when unset.
func (m *Manager) TokenAllowance(token string, owner, spender [20]byte) (*big.Int, error) {
	var amount big.Int
	ok, err := m.get(allowanceKey(token, owner, spender), &amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return &amount, nil
}

// TokenSetAllowance overwrites the spend approval.
func (m *Manager) TokenSetAllowance(token string, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return m.put(allowanceKey(token, owner, spender), amount)
}

// JobPut stores a bounty job record.
func (m *Manager) JobPut(job *escrow.Job) error {
	if job == nil {
		return fmt.Errorf("state: nil job")
	}
	return m.put(prefixed(jobPrefix, job.ID[:]), job)
}

// JobGet loads a bounty job record.
func (m *Manager) JobGet(id [32]byte) (*escrow.Job, bool, error) {
	var job escrow.Job
	ok, err := m.get(prefixed(jobPrefix, id[:]), &job)
	if err != nil || !ok {
		return nil, false, err
	}
	return &job, true, nil
}

// JobBidsGet loads the append-only bid ledger for a job.
func (m *Manager) JobBidsGet(jobID [32]byte) ([]*escrow.Bid, error) {
	var bids []*escrow.Bid
	if _, err := m.get(prefixed(jobBidsPrefix, jobID[:]), &bids); err != nil {
		return nil, err
	}
	return bids, nil
}

// JobBidsPut stores the bid ledger for a job.
func (m *Manager) JobBidsPut(jobID [32]byte, bids []*escrow.Bid) error {
	return m.put(prefixed(jobBidsPrefix, jobID[:]), bids)
}

// GigPut stores a milestone engagement record.
func (m *Manager) GigPut(gig *escrow.Gig) error {
	if gig == nil {
		return fmt.Errorf("state: nil gig")
	}
	return m.put(prefixed(gigPrefix, gig.ID[:]), gig)
}

// GigGet loads a milestone engagement record.
func (m *Manager) GigGet(id [32]byte) (*escrow.Gig, bool, error) {
	var gig escrow.Gig
	ok, err := m.get(prefixed(gigPrefix, id[:]), &gig)
	if err != nil || !ok {
		return nil, false, err
	}
	return &gig, true, nil
}

// BidQuotaGet loads the per-bidder quota counters.
func (m *Manager) BidQuotaGet(bidder [20]byte) (nativecommon.QuotaNow, bool, error) {
	var counter nativecommon.QuotaNow
	ok, err := m.get(prefixed(bidQuotaPrefix, bidder[:]), &counter)
	if err != nil || !ok {
		return nativecommon.QuotaNow{}, false, err
	}
	return counter, true, nil
}

// BidQuotaPut stores the per-bidder quota counters.
func (m *Manager) BidQuotaPut(bidder [20]byte, counter nativecommon.QuotaNow) error {
	return m.put(prefixed(bidQuotaPrefix, bidder[:]), counter)
}

// moduleVaultAddress derives the deterministic custody address for a module.
// No key exists for these addresses; funds only move through module code.
func moduleVaultAddress(name string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("gigchain/vault/" + name))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

var (
	escrowVault = moduleVaultAddress("escrow")
	arbVault    = moduleVaultAddress("arbitration")
)

// EscrowVaultAddress reports the custody address for escrowed job funds.
func (m *Manager) EscrowVaultAddress() ([20]byte, error) { return escrowVault, nil }

// ArbVaultAddress reports the custody address for arbitration bonds.
func (m *Manager) ArbVaultAddress() ([20]byte, error) { return arbVault, nil }

// ArbCasePut stores a voting-panel case record.
func (m *Manager) ArbCasePut(c *arbitration.Case) error {
	if c == nil {
		return fmt.Errorf("state: nil case")
	}
	return m.put(prefixed(arbCasePrefix, c.ID[:]), c)
}

// ArbCaseGet loads a voting-panel case record.
func (m *Manager) ArbCaseGet(id [32]byte) (*arbitration.Case, bool, error) {
	var c arbitration.Case
	ok, err := m.get(prefixed(arbCasePrefix, id[:]), &c)
	if err != nil || !ok {
		return nil, false, err
	}
	return &c, true, nil
}

func caseRefKey(prefix []byte, jobID [32]byte, milestone uint64) []byte {
	return []byte(fmt.Sprintf("%s%x/%d", prefix, jobID, milestone))
}

// ArbCaseRefLookup reports the case recorded for a job or tranche reference.
func (m *Manager) ArbCaseRefLookup(jobID [32]byte, milestone uint64) ([32]byte, bool, error) {
	var id [32]byte
	ok, err := m.get(caseRefKey(arbCaseRefPrefix, jobID, milestone), &id)
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	return id, true, nil
}

// ArbCaseRefIndex records the case for a job or tranche reference.
func (m *Manager) ArbCaseRefIndex(jobID [32]byte, milestone uint64, caseID [32]byte) error {
	return m.put(caseRefKey(arbCaseRefPrefix, jobID, milestone), caseID)
}

// AssertionPut stores an optimistic assertion record.
func (m *Manager) AssertionPut(a *arbitration.Assertion) error {
	if a == nil {
		return fmt.Errorf("state: nil assertion")
	}
	return m.put(prefixed(assertionPrefix, a.ID[:]), a)
}

// AssertionGet loads an optimistic assertion record.
func (m *Manager) AssertionGet(id [32]byte) (*arbitration.Assertion, bool, error) {
	var a arbitration.Assertion
	ok, err := m.get(prefixed(assertionPrefix, id[:]), &a)
	if err != nil || !ok {
		return nil, false, err
	}
	return &a, true, nil
}

// AssertionRefLookup reports the assertion recorded for a reference.
func (m *Manager) AssertionRefLookup(jobID [32]byte, milestone uint64) ([32]byte, bool, error) {
	var id [32]byte
	ok, err := m.get(caseRefKey(assertionRefPrefix, jobID, milestone), &id)
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	return id, true, nil
}

// AssertionRefIndex records the assertion for a reference.
func (m *Manager) AssertionRefIndex(jobID [32]byte, milestone uint64, id [32]byte) error {
	return m.put(caseRefKey(assertionRefPrefix, jobID, milestone), id)
}
