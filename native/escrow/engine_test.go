package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"gigchain/native/arbitration"
	nativecommon "gigchain/native/common"
)

type mockState struct {
	jobs   map[[32]byte]*Job
	bids   map[[32]byte][]*Bid
	gigs   map[[32]byte]*Gig
	quotas map[[20]byte]nativecommon.QuotaNow
	vault  [20]byte
}

func newMockState() *mockState {
	return &mockState{
		jobs:   make(map[[32]byte]*Job),
		bids:   make(map[[32]byte][]*Bid),
		gigs:   make(map[[32]byte]*Gig),
		quotas: make(map[[20]byte]nativecommon.QuotaNow),
		vault:  testAddr(0xEE),
	}
}

func (m *mockState) JobPut(job *Job) error {
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *mockState) JobGet(id [32]byte) (*Job, bool, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return job.Clone(), true, nil
}

func (m *mockState) JobBidsGet(jobID [32]byte) ([]*Bid, error) {
	stored := m.bids[jobID]
	out := make([]*Bid, len(stored))
	for i, bid := range stored {
		out[i] = bid.Clone()
	}
	return out, nil
}

func (m *mockState) JobBidsPut(jobID [32]byte, bids []*Bid) error {
	stored := make([]*Bid, len(bids))
	for i, bid := range bids {
		stored[i] = bid.Clone()
	}
	m.bids[jobID] = stored
	return nil
}

func (m *mockState) BidQuotaGet(bidder [20]byte) (nativecommon.QuotaNow, bool, error) {
	q, ok := m.quotas[bidder]
	return q, ok, nil
}

func (m *mockState) BidQuotaPut(bidder [20]byte, counter nativecommon.QuotaNow) error {
	m.quotas[bidder] = counter
	return nil
}

func (m *mockState) EscrowVaultAddress() ([20]byte, error) { return m.vault, nil }

func (m *mockState) GigPut(gig *Gig) error {
	m.gigs[gig.ID] = gig.Clone()
	return nil
}

func (m *mockState) GigGet(id [32]byte) (*Gig, bool, error) {
	gig, ok := m.gigs[id]
	if !ok {
		return nil, false, nil
	}
	return gig.Clone(), true, nil
}

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

type stubArbitrator struct {
	opened     []arbitration.CaseRef
	resolution *arbitration.Resolution
	done       bool
}

func (s *stubArbitrator) OpenCase(ref arbitration.CaseRef) ([32]byte, error) {
	if err := ref.Validate(); err != nil {
		return [32]byte{}, err
	}
	s.opened = append(s.opened, ref)
	return ref.CaseID(), nil
}

func (s *stubArbitrator) Resolution(caseID [32]byte) (*arbitration.Resolution, bool, error) {
	if !s.done {
		return nil, false, nil
	}
	return s.resolution.Clone(), true, nil
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type fixture struct {
	engine *Engine
	state  *mockState
	assets *mockAssets
	arb    *stubArbitrator
	now    int64
	owner  [20]byte
	client [20]byte
	worker [20]byte
	rival  [20]byte
	fees   [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		state:  newMockState(),
		assets: newMockAssets(),
		arb:    &stubArbitrator{},
		now:    1_700_000_000,
		owner:  testAddr(0xAA),
		client: testAddr(0x10),
		worker: testAddr(0x20),
		rival:  testAddr(0x30),
		fees:   testAddr(0xCC),
	}
	fx.assets.fund(fx.client, "GIG", 1_000)
	fx.engine = NewEngine()
	fx.engine.SetState(fx.state)
	fx.engine.SetAssets(fx.assets)
	fx.engine.SetOwner(fx.owner)
	fx.engine.SetFeeTreasury(fx.fees)
	fx.engine.SetNowFunc(func() int64 { return fx.now })
	fx.engine.SetArbitrator(DisputeVoting, fx.arb)
	fx.engine.SetArbitrator(DisputeOptimistic, fx.arb)
	return fx
}

func (fx *fixture) createJob(t *testing.T, amount int64) [32]byte {
	t.Helper()
	id, err := fx.engine.Create(fx.client, "GIG", big.NewInt(amount), fx.now+7*24*60*60, "ipfs://requirements", DisputeVoting, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func (fx *fixture) assignWorker(t *testing.T, jobID [32]byte, amount int64) {
	t.Helper()
	if err := fx.engine.SubmitBid(jobID, fx.worker, big.NewInt(amount), "ipfs://proposal"); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := fx.engine.AcceptBid(jobID, 0, fx.client); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestCreatePullsFundsAtomically(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	if got := fx.assets.balance(fx.state.vault, "GIG"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow not funded, vault=%s", got)
	}
	if got := fx.assets.balance(fx.client, "GIG"); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("client not debited, balance=%s", got)
	}
	job, err := fx.engine.Job(id)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Status != JobOpen {
		t.Fatalf("unexpected status %d", job.Status)
	}
}

func TestCreateIdempotentOnSameTerms(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	again, err := fx.engine.Create(fx.client, "GIG", big.NewInt(100), fx.now+7*24*60*60, "ipfs://requirements", DisputeVoting, 1)
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if again != id {
		t.Fatalf("repeat create must return the same id")
	}
	if got := fx.assets.balance(fx.state.vault, "GIG"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("repeat create must not pull funds twice, vault=%s", got)
	}
}

func TestCreateRejectsPastDeadlineAndZeroAmount(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.engine.Create(fx.client, "GIG", big.NewInt(0), fx.now+100, "ipfs://x", DisputeVoting, 1); err == nil {
		t.Fatalf("zero amount must fail")
	}
	if _, err := fx.engine.Create(fx.client, "GIG", big.NewInt(10), fx.now-1, "ipfs://x", DisputeVoting, 1); err == nil {
		t.Fatalf("past deadline must fail")
	}
}

func TestCreateRejectsWithoutFunds(t *testing.T) {
	fx := newFixture(t)
	broke := testAddr(0x77)
	if _, err := fx.engine.Create(broke, "GIG", big.NewInt(10), fx.now+100, "ipfs://x", DisputeVoting, 1); err == nil {
		t.Fatalf("unfunded client must fail")
	}
}

func TestCompetitiveSelection(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(80), "ipfs://prop-a"); err != nil {
		t.Fatalf("bid a: %v", err)
	}
	if err := fx.engine.SubmitBid(id, fx.rival, big.NewInt(90), "ipfs://prop-b"); err != nil {
		t.Fatalf("bid b: %v", err)
	}
	if err := fx.engine.AcceptBid(id, 0, fx.client); err != nil {
		t.Fatalf("accept: %v", err)
	}
	job, err := fx.engine.Job(id)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Worker != fx.worker {
		t.Fatalf("worker not recorded")
	}
	if job.AssignedAmount.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("assigned amount wrong: %s", job.AssignedAmount)
	}
	// Assignment is irrevocable: the 90 bid is permanently inert.
	if err := fx.engine.AcceptBid(id, 1, fx.client); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second acceptance must fail, got %v", err)
	}
	if err := fx.engine.SubmitBid(id, fx.rival, big.NewInt(50), "ipfs://late"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("late bid must fail, got %v", err)
	}
}

func TestBidPreconditions(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	if err := fx.engine.SubmitBid(id, fx.client, big.NewInt(50), "ipfs://self"); !errors.Is(err, ErrSelfBid) {
		t.Fatalf("expected self-bid rejection, got %v", err)
	}
	if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(101), "ipfs://high"); !errors.Is(err, ErrBidTooHigh) {
		t.Fatalf("expected over-escrow rejection, got %v", err)
	}
}

func TestWithdrawnBidCannotBeAccepted(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(80), "ipfs://prop"); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := fx.engine.WithdrawBid(id, 0, fx.rival); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the bidder may withdraw, got %v", err)
	}
	if err := fx.engine.WithdrawBid(id, 0, fx.worker); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := fx.engine.WithdrawBid(id, 0, fx.worker); err != nil {
		t.Fatalf("repeat withdraw must be a no-op, got %v", err)
	}
	if err := fx.engine.AcceptBid(id, 0, fx.client); !errors.Is(err, ErrBidWithdrawn) {
		t.Fatalf("expected withdrawn rejection, got %v", err)
	}
}

func TestBidQuotaGatesSpam(t *testing.T) {
	fx := newFixture(t)
	policy := fx.engine.Policy()
	policy.BidQuota = nativecommon.Quota{MaxBidsPerEpoch: 2, EpochSeconds: 3600}
	if err := fx.engine.SetPolicy(fx.owner, policy); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	id := fx.createJob(t, 100)
	for i := 0; i < 2; i++ {
		if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(50), "ipfs://prop"); err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
	}
	if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(50), "ipfs://prop"); !errors.Is(err, nativecommon.ErrQuotaBidsExceeded) {
		t.Fatalf("expected quota rejection, got %v", err)
	}
	// A new epoch resets the counter.
	fx.now += 3600
	if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(50), "ipfs://prop"); err != nil {
		t.Fatalf("bid after epoch roll: %v", err)
	}
}

type stubReputation struct {
	scores map[[20]byte]uint64
}

func (s *stubReputation) Score(addr [20]byte) (uint64, bool, error) {
	score, ok := s.scores[addr]
	return score, ok, nil
}

func TestReputationFloorGatesBids(t *testing.T) {
	fx := newFixture(t)
	fx.engine.SetReputation(&stubReputation{scores: map[[20]byte]uint64{fx.worker: 80}})
	policy := fx.engine.Policy()
	policy.MinBidReputation = 50
	if err := fx.engine.SetPolicy(fx.owner, policy); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	id := fx.createJob(t, 100)
	if err := fx.engine.SubmitBid(id, fx.worker, big.NewInt(80), "ipfs://prop"); err != nil {
		t.Fatalf("reputable bid: %v", err)
	}
	if err := fx.engine.SubmitBid(id, fx.rival, big.NewInt(80), "ipfs://prop"); !errors.Is(err, ErrLowReputation) {
		t.Fatalf("expected reputation gate, got %v", err)
	}
}

func TestApprovePaysWorkerNetOfFee(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	fx.assignWorker(t, id, 80)
	if err := fx.engine.SubmitDeliverable(id, fx.worker, "ipfs://deliverable"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := fx.engine.Approve(id, fx.client); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// fee = floor(80 * 250 / 10000) = 2; worker 78; client gets the 20 surplus.
	if got := fx.assets.balance(fx.worker, "GIG"); got.Cmp(big.NewInt(78)) != 0 {
		t.Fatalf("worker payout wrong: %s", got)
	}
	if got := fx.assets.balance(fx.fees, "GIG"); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("fee payout wrong: %s", got)
	}
	if got := fx.assets.balance(fx.client, "GIG"); got.Cmp(big.NewInt(920)) != 0 {
		t.Fatalf("surplus refund wrong: %s", got)
	}
	if got := fx.assets.balance(fx.state.vault, "GIG"); got.Sign() != 0 {
		t.Fatalf("vault must be drained: %s", got)
	}
	job, _ := fx.engine.Job(id)
	if job.Status != JobCompleted {
		t.Fatalf("unexpected status %d", job.Status)
	}
}

func TestTerminalTransitionsMutuallyExclusive(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	fx.assignWorker(t, id, 80)
	if err := fx.engine.SubmitDeliverable(id, fx.worker, "ipfs://deliverable"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := fx.engine.Approve(id, fx.client); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := fx.engine.Approve(id, fx.client); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second approve must fail, got %v", err)
	}
	fx.now += 49 * 60 * 60
	if err := fx.engine.AutoRelease(id, fx.rival); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("auto-release after approve must fail, got %v", err)
	}
	if err := fx.engine.ResolveDispute(id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("resolve after approve must fail, got %v", err)
	}
	if got := fx.assets.balance(fx.worker, "GIG"); got.Cmp(big.NewInt(78)) != 0 {
		t.Fatalf("funds must not move twice: %s", got)
	}
}

func TestAutoReleaseAfterSilentClient(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	fx.assignWorker(t, id, 80)
	if err := fx.engine.SubmitDeliverable(id, fx.worker, "ipfs://deliverable"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := fx.engine.AutoRelease(id, fx.rival); !errors.Is(err, ErrReleaseTooEarly) {
		t.Fatalf("early release must fail, got %v", err)
	}
	fx.now += 49 * 60 * 60
	if err := fx.engine.AutoRelease(id, fx.rival); err != nil {
		t.Fatalf("auto-release: %v", err)
	}
	if err := fx.engine.AutoRelease(id, fx.worker); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second auto-release must fail, got %v", err)
	}
	job, _ := fx.engine.Job(id)
	if job.Status != JobAutoReleased {
		t.Fatalf("unexpected status %d", job.Status)
	}
	if got := fx.assets.balance(fx.worker, "GIG"); got.Cmp(big.NewInt(78)) != 0 {
		t.Fatalf("worker payout wrong: %s", got)
	}
}

func TestCancelRefundsFromOpenOnly(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	if err := fx.engine.Cancel(id, fx.rival); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only client may cancel, got %v", err)
	}
	if err := fx.engine.Cancel(id, fx.client); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := fx.assets.balance(fx.client, "GIG"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("refund wrong: %s", got)
	}
	if err := fx.engine.Cancel(id, fx.client); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second cancel must fail, got %v", err)
	}

	assigned := fx.createJob(t, 50)
	fx.assignWorker(t, assigned, 40)
	if err := fx.engine.Cancel(assigned, fx.client); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("assigned job must not cancel, got %v", err)
	}
}

func TestDisputeResolutionSplit(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	fx.assignWorker(t, id, 80)
	if err := fx.engine.SubmitDeliverable(id, fx.worker, "ipfs://deliverable"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := fx.engine.RaiseDispute(id, fx.rival, "ipfs://reason"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only client may dispute, got %v", err)
	}
	if err := fx.engine.RaiseDispute(id, fx.client, "ipfs://reason"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := fx.engine.RaiseDispute(id, fx.client, "ipfs://again"); !errors.Is(err, ErrDisputePending) {
		t.Fatalf("second dispute must fail, got %v", err)
	}
	if err := fx.engine.ResolveDispute(id); !errors.Is(err, ErrResolutionPending) {
		t.Fatalf("resolution must wait for the arbitrator, got %v", err)
	}
	fx.arb.resolution = &arbitration.Resolution{ClientBps: 6000, WorkerBps: 4000, ResolvedAt: fx.now}
	fx.arb.done = true
	if err := fx.engine.ResolveDispute(id); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// clientShare = floor(80*6000/10000) = 48 plus the 20 surplus;
	// workerGross 32, fee floor(32*250/10000) = 0.
	if got := fx.assets.balance(fx.client, "GIG"); got.Cmp(big.NewInt(968)) != 0 {
		t.Fatalf("client payout wrong: %s", got)
	}
	if got := fx.assets.balance(fx.worker, "GIG"); got.Cmp(big.NewInt(32)) != 0 {
		t.Fatalf("worker payout wrong: %s", got)
	}
	if got := fx.assets.balance(fx.state.vault, "GIG"); got.Sign() != 0 {
		t.Fatalf("vault must be drained: %s", got)
	}
	if err := fx.engine.ResolveDispute(id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("double resolve must fail, got %v", err)
	}
	job, _ := fx.engine.Job(id)
	if job.Status != JobCompleted {
		t.Fatalf("unexpected status %d", job.Status)
	}
}

func TestSubmitDeliverableWorkerOnly(t *testing.T) {
	fx := newFixture(t)
	id := fx.createJob(t, 100)
	fx.assignWorker(t, id, 80)
	if err := fx.engine.SubmitDeliverable(id, fx.rival, "ipfs://fake"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only worker may submit, got %v", err)
	}
	if err := fx.engine.Approve(id, fx.client); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("approve before submission must fail, got %v", err)
	}
}

func TestPolicyOwnerGated(t *testing.T) {
	fx := newFixture(t)
	policy := fx.engine.Policy()
	policy.FeeBps = 500
	if err := fx.engine.SetPolicy(fx.rival, policy); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := fx.engine.SetPolicy(fx.owner, policy); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if got := fx.engine.Policy().FeeBps; got != 500 {
		t.Fatalf("policy not applied, feeBps=%d", got)
	}
}
