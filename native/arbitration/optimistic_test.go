package arbitration

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

type mockOptimisticState struct {
	assertions map[[32]byte]*Assertion
	refs       map[string][32]byte
	vault      [20]byte
}

func newMockOptimisticState() *mockOptimisticState {
	return &mockOptimisticState{
		assertions: make(map[[32]byte]*Assertion),
		refs:       make(map[string][32]byte),
		vault:      testAddr(0xEE),
	}
}

func (m *mockOptimisticState) AssertionPut(a *Assertion) error {
	m.assertions[a.ID] = a.Clone()
	return nil
}

func (m *mockOptimisticState) AssertionGet(id [32]byte) (*Assertion, bool, error) {
	a, ok := m.assertions[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockOptimisticState) AssertionRefLookup(jobID [32]byte, milestone uint64) ([32]byte, bool, error) {
	id, ok := m.refs[refKey(jobID, milestone)]
	return id, ok, nil
}

func (m *mockOptimisticState) AssertionRefIndex(jobID [32]byte, milestone uint64, id [32]byte) error {
	m.refs[refKey(jobID, milestone)] = id
	return nil
}

func (m *mockOptimisticState) ArbVaultAddress() ([20]byte, error) { return m.vault, nil }

type mockAssets struct {
	balances map[[20]byte]map[string]*big.Int
}

func newMockAssets() *mockAssets {
	return &mockAssets{balances: make(map[[20]byte]map[string]*big.Int)}
}

func (m *mockAssets) fund(addr [20]byte, token string, amount int64) {
	if m.balances[addr] == nil {
		m.balances[addr] = make(map[string]*big.Int)
	}
	m.balances[addr][token] = big.NewInt(amount)
}

func (m *mockAssets) balance(addr [20]byte, token string) *big.Int {
	if m.balances[addr] == nil || m.balances[addr][token] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.balances[addr][token])
}

func (m *mockAssets) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	balance := m.balance(from, token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance for %x", from)
	}
	if m.balances[from] == nil {
		m.balances[from] = make(map[string]*big.Int)
	}
	if m.balances[to] == nil {
		m.balances[to] = make(map[string]*big.Int)
	}
	m.balances[from][token] = balance.Sub(balance, amount)
	existing := m.balance(to, token)
	m.balances[to][token] = existing.Add(existing, amount)
	return nil
}

type optimisticFixture struct {
	engine   *OptimisticEngine
	state    *mockOptimisticState
	assets   *mockAssets
	now      int64
	owner    [20]byte
	oracle   [20]byte
	treasury [20]byte
	asserter [20]byte
	disputer [20]byte
	ref      CaseRef
}

func newOptimisticFixture(t *testing.T) *optimisticFixture {
	t.Helper()
	fx := &optimisticFixture{
		state:    newMockOptimisticState(),
		assets:   newMockAssets(),
		now:      1_700_000_000,
		owner:    testAddr(0xAA),
		oracle:   testAddr(0xBB),
		treasury: testAddr(0xCC),
		asserter: testAddr(0x30),
		disputer: testAddr(0x40),
		ref: CaseRef{
			JobID:      testJobID(11),
			Claimant:   testAddr(0x10),
			Respondent: testAddr(0x30),
			ReasonRef:  "ipfs://dispute-reason",
		},
	}
	fx.assets.fund(fx.asserter, "ZGIG", 1_000)
	fx.assets.fund(fx.disputer, "ZGIG", 1_000)
	fx.engine = NewOptimisticEngine()
	fx.engine.SetState(fx.state)
	fx.engine.SetAssets(fx.assets)
	fx.engine.SetOwner(fx.owner)
	fx.engine.SetFeeTreasury(fx.treasury)
	fx.engine.SetNowFunc(func() int64 { return fx.now })
	if err := fx.engine.SetOracle(fx.owner, fx.oracle); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	policy := OptimisticPolicy{
		BondToken:         "ZGIG",
		BondAmount:        big.NewInt(100),
		LivenessSeconds:   7200,
		DisputerRewardBps: 5000,
		RejectedClientBps: 10_000,
	}
	if err := fx.engine.SetPolicy(fx.owner, policy); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	return fx
}

func (fx *optimisticFixture) openAndAssert(t *testing.T, proposedClientBps uint32) [32]byte {
	t.Helper()
	id, err := fx.engine.OpenCase(fx.ref)
	if err != nil {
		t.Fatalf("open case: %v", err)
	}
	if err := fx.engine.Assert(id, fx.asserter, "ipfs://deliverable-proof", proposedClientBps); err != nil {
		t.Fatalf("assert: %v", err)
	}
	return id
}

func TestOptimisticSettleAfterLiveness(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	if got := fx.assets.balance(fx.state.vault, "ZGIG"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bond not escrowed, vault=%s", got)
	}
	fx.now += 7200
	if err := fx.engine.Settle(id); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := fx.assets.balance(fx.asserter, "ZGIG"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("bond not returned, asserter=%s", got)
	}
	res, ok, err := fx.engine.Resolution(id)
	if err != nil || !ok {
		t.Fatalf("resolution: ok=%v err=%v", ok, err)
	}
	if res.ClientBps != 0 || res.WorkerBps != 10_000 {
		t.Fatalf("unexpected split: client=%d worker=%d", res.ClientBps, res.WorkerBps)
	}
}

func TestOptimisticSettleTooEarly(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	fx.now += 100
	if err := fx.engine.Settle(id); !errors.Is(err, ErrSettleTooEarly) {
		t.Fatalf("expected early-settle rejection, got %v", err)
	}
}

func TestOptimisticSettleIdempotent(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 2500)
	fx.now += 7200
	if err := fx.engine.Settle(id); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := fx.engine.Settle(id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected repeat-settle rejection, got %v", err)
	}
	if got := fx.assets.balance(fx.asserter, "ZGIG"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("bond must not be paid twice, asserter=%s", got)
	}
}

func TestOptimisticDisputeBlocksSettle(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	fx.now += 100
	if err := fx.engine.Dispute(id, fx.disputer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	fx.now += 7200
	if err := fx.engine.Settle(id); !errors.Is(err, ErrAssertionDisputed) {
		t.Fatalf("disputed claim must wait for the verdict, got %v", err)
	}
}

func TestOptimisticDisputeWindowCloses(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	fx.now += 7200
	if err := fx.engine.Dispute(id, fx.disputer); !errors.Is(err, ErrChallengeClosed) {
		t.Fatalf("expected closed challenge window, got %v", err)
	}
}

func TestOptimisticSingleChallenger(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	fx.now += 100
	if err := fx.engine.Dispute(id, fx.disputer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := fx.engine.Dispute(id, testAddr(0x50)); !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("expected single challenger, got %v", err)
	}
}

func TestOptimisticVerdictRejectsClaim(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	fx.now += 100
	if err := fx.engine.Dispute(id, fx.disputer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := fx.engine.SubmitVerdict(id, fx.oracle, false); err != nil {
		t.Fatalf("verdict: %v", err)
	}
	// Disputer recovers their 100 bond plus half of the asserter's bond.
	if got := fx.assets.balance(fx.disputer, "ZGIG"); got.Cmp(big.NewInt(1_050)) != 0 {
		t.Fatalf("disputer payout wrong: %s", got)
	}
	if got := fx.assets.balance(fx.treasury, "ZGIG"); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("treasury remainder wrong: %s", got)
	}
	if got := fx.assets.balance(fx.asserter, "ZGIG"); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("asserter must lose the bond: %s", got)
	}
	if got := fx.assets.balance(fx.state.vault, "ZGIG"); got.Sign() != 0 {
		t.Fatalf("vault must be drained: %s", got)
	}
	res, ok, err := fx.engine.Resolution(id)
	if err != nil || !ok {
		t.Fatalf("resolution: ok=%v err=%v", ok, err)
	}
	if res.ClientBps != 10_000 || res.WorkerBps != 0 {
		t.Fatalf("rejected claim must refund the client: client=%d worker=%d", res.ClientBps, res.WorkerBps)
	}
}

func TestOptimisticVerdictUpholdsClaim(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 1500)
	fx.now += 100
	if err := fx.engine.Dispute(id, fx.disputer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := fx.engine.SubmitVerdict(id, fx.oracle, true); err != nil {
		t.Fatalf("verdict: %v", err)
	}
	if got := fx.assets.balance(fx.asserter, "ZGIG"); got.Cmp(big.NewInt(1_050)) != 0 {
		t.Fatalf("asserter payout wrong: %s", got)
	}
	if got := fx.assets.balance(fx.disputer, "ZGIG"); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("disputer must lose the counter-bond: %s", got)
	}
	res, ok, err := fx.engine.Resolution(id)
	if err != nil || !ok {
		t.Fatalf("resolution: ok=%v err=%v", ok, err)
	}
	if res.ClientBps != 1500 || res.WorkerBps != 8500 {
		t.Fatalf("upheld claim must use the proposed split: client=%d worker=%d", res.ClientBps, res.WorkerBps)
	}
}

func TestOptimisticVerdictOracleOnly(t *testing.T) {
	fx := newOptimisticFixture(t)
	id := fx.openAndAssert(t, 0)
	fx.now += 100
	if err := fx.engine.Dispute(id, fx.disputer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := fx.engine.SubmitVerdict(id, fx.owner, false); !errors.Is(err, ErrNotOracle) {
		t.Fatalf("expected oracle gate, got %v", err)
	}
}

func TestOptimisticDisputeRequiresAssertion(t *testing.T) {
	fx := newOptimisticFixture(t)
	id, err := fx.engine.OpenCase(fx.ref)
	if err != nil {
		t.Fatalf("open case: %v", err)
	}
	if err := fx.engine.Dispute(id, fx.disputer); !errors.Is(err, ErrNotAsserted) {
		t.Fatalf("expected missing claim, got %v", err)
	}
	if err := fx.engine.Settle(id); !errors.Is(err, ErrNotAsserted) {
		t.Fatalf("expected missing claim on settle, got %v", err)
	}
	if _, ok, err := fx.engine.Resolution(id); err != nil || ok {
		t.Fatalf("pending case must not expose a resolution: ok=%v err=%v", ok, err)
	}
}

func TestOptimisticAssertPullsBondOrFails(t *testing.T) {
	fx := newOptimisticFixture(t)
	id, err := fx.engine.OpenCase(fx.ref)
	if err != nil {
		t.Fatalf("open case: %v", err)
	}
	broke := testAddr(0x77)
	if err := fx.engine.Assert(id, broke, "ipfs://claim", 0); err == nil {
		t.Fatalf("expected bond transfer failure")
	}
	a, err := fx.engine.Assertion(id)
	if err != nil {
		t.Fatalf("assertion: %v", err)
	}
	if a.Status != AssertionPending {
		t.Fatalf("failed bond pull must not activate the claim: status=%d", a.Status)
	}
	if err := fx.engine.Assert(id, fx.asserter, "ipfs://claim", 0); err != nil {
		t.Fatalf("assert: %v", err)
	}
	if err := fx.engine.Assert(id, fx.disputer, "ipfs://claim-two", 0); !errors.Is(err, ErrAlreadyAsserted) {
		t.Fatalf("expected single asserter, got %v", err)
	}
}
