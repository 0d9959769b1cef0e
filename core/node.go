package core

import (
	"math/big"
	"sync"

	"gigchain/core/events"
	"gigchain/core/state"
	"gigchain/core/types"
	"gigchain/native/arbitration"
	nativecommon "gigchain/native/common"
	"gigchain/native/escrow"
	"gigchain/native/registry"
	"gigchain/native/token"
	"gigchain/storage"
)

// Config carries the owner-controlled wiring for a node. Registries and
// policy knobs are explicit injected configuration, never ambient state.
type Config struct {
	Owner       [20]byte
	FeeTreasury [20]byte
	Oracle      [20]byte
	Scorer      [20]byte

	FeeBps             uint32
	AutoReleaseSeconds int64
	MinBidReputation   uint64
	MaxBidsPerEpoch    uint32
	BidEpochSeconds    uint32

	ArbPanel            [][20]byte
	Quorum              uint32
	VotingPeriodSeconds int64

	BondToken         string
	BondAmount        *big.Int
	LivenessSeconds   int64
	DisputerRewardBps uint32
	RejectedClientBps uint32
}

// eventLog buffers every module event emitted during operations so callers
// can drain them for indexing.
type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, *payload)
	l.mu.Unlock()
}

func (l *eventLog) drain() []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = nil
	return out
}

// Node owns the shared ledger state and serializes every engine mutation.
// The engines themselves only guarantee logical idempotence and exclusivity;
// the node supplies the atomic, serializable execution they assume.
type Node struct {
	mu sync.Mutex

	db    storage.Database
	state *state.Manager

	ledger     *token.Ledger
	escrow     *escrow.Engine
	voting     *arbitration.VotingEngine
	optimistic *arbitration.OptimisticEngine
	registry   *registry.Ledger

	log *eventLog
}

// NewNode wires every module against the shared state manager.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	manager := state.NewManager(db)
	log := &eventLog{}

	ledger := token.NewLedger()
	ledger.SetState(manager)
	ledger.SetEmitter(log)

	voting := arbitration.NewVotingEngine()
	voting.SetState(manager)
	voting.SetOwner(cfg.Owner)
	voting.SetEmitter(log)
	if len(cfg.ArbPanel) > 0 {
		policy := arbitration.VotingPolicy{
			Panel:               cfg.ArbPanel,
			Quorum:              cfg.Quorum,
			VotingPeriodSeconds: cfg.VotingPeriodSeconds,
		}
		if policy.Quorum == 0 {
			policy.Quorum = 2
		}
		if policy.VotingPeriodSeconds == 0 {
			policy.VotingPeriodSeconds = 7 * 24 * 60 * 60
		}
		if err := voting.SetPolicy(cfg.Owner, policy); err != nil {
			return nil, err
		}
	}

	optimistic := arbitration.NewOptimisticEngine()
	optimistic.SetState(manager)
	optimistic.SetAssets(ledger)
	optimistic.SetOwner(cfg.Owner)
	optimistic.SetFeeTreasury(cfg.FeeTreasury)
	optimistic.SetEmitter(log)
	if cfg.Oracle != ([20]byte{}) {
		if err := optimistic.SetOracle(cfg.Owner, cfg.Oracle); err != nil {
			return nil, err
		}
	}
	if cfg.BondAmount != nil {
		policy := arbitration.OptimisticPolicy{
			BondToken:         cfg.BondToken,
			BondAmount:        cfg.BondAmount,
			LivenessSeconds:   cfg.LivenessSeconds,
			DisputerRewardBps: cfg.DisputerRewardBps,
			RejectedClientBps: cfg.RejectedClientBps,
		}
		if policy.LivenessSeconds == 0 {
			policy.LivenessSeconds = 2 * 60 * 60
		}
		if err := optimistic.SetPolicy(cfg.Owner, policy); err != nil {
			return nil, err
		}
	}

	workers := registry.NewLedger(manager)
	workers.SetScorer(cfg.Scorer)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetAssets(ledger)
	engine.SetOwner(cfg.Owner)
	engine.SetFeeTreasury(cfg.FeeTreasury)
	engine.SetReputation(workers)
	engine.SetEmitter(log)
	engine.SetArbitrator(escrow.DisputeVoting, voting)
	engine.SetArbitrator(escrow.DisputeOptimistic, optimistic)
	if cfg.FeeBps != 0 || cfg.AutoReleaseSeconds != 0 || cfg.MinBidReputation != 0 || cfg.MaxBidsPerEpoch != 0 {
		policy := engine.Policy()
		if cfg.FeeBps != 0 {
			policy.FeeBps = cfg.FeeBps
		}
		if cfg.AutoReleaseSeconds != 0 {
			policy.AutoReleaseSeconds = cfg.AutoReleaseSeconds
		}
		policy.MinBidReputation = cfg.MinBidReputation
		if cfg.MaxBidsPerEpoch != 0 {
			policy.BidQuota = nativecommon.Quota{
				MaxBidsPerEpoch: cfg.MaxBidsPerEpoch,
				EpochSeconds:    cfg.BidEpochSeconds,
			}
		}
		if err := engine.SetPolicy(cfg.Owner, policy); err != nil {
			return nil, err
		}
	}

	return &Node{
		db:         db,
		state:      manager,
		ledger:     ledger,
		escrow:     engine,
		voting:     voting,
		optimistic: optimistic,
		registry:   workers,
		log:        log,
	}, nil
}

// DrainEvents returns and clears the buffered module events.
func (n *Node) DrainEvents() []types.Event { return n.log.drain() }

// Close releases the underlying database.
func (n *Node) Close() error {
	n.db.Close()
	return nil
}

// Token surface.

func (n *Node) BalanceOf(addr [20]byte, tokenSymbol string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(addr, tokenSymbol)
}

func (n *Node) Transfer(from, to [20]byte, tokenSymbol string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Transfer(from, to, tokenSymbol, amount)
}

func (n *Node) Approve(owner, spender [20]byte, tokenSymbol string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Approve(owner, spender, tokenSymbol, amount)
}

func (n *Node) Allowance(owner, spender [20]byte, tokenSymbol string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Allowance(owner, spender, tokenSymbol)
}

func (n *Node) TransferFrom(spender, from, to [20]byte, tokenSymbol string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.TransferFrom(spender, from, to, tokenSymbol, amount)
}

// Mint credits freshly issued balance. Used by genesis funding and faucets.
func (n *Node) Mint(addr [20]byte, tokenSymbol string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Mint(addr, tokenSymbol, amount)
}

// Bounty escrow surface.

func (n *Node) CreateJob(client [20]byte, tokenSymbol string, amount *big.Int, deadline int64, requirementsRef string, mode escrow.DisputeMode, nonce uint64) ([32]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Create(client, tokenSymbol, amount, deadline, requirementsRef, mode, nonce)
}

func (n *Node) CancelJob(jobID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Cancel(jobID, caller)
}

func (n *Node) SubmitBid(jobID [32]byte, bidder [20]byte, amount *big.Int, proposalRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.SubmitBid(jobID, bidder, amount, proposalRef)
}

func (n *Node) WithdrawBid(jobID [32]byte, bidIndex uint64, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.WithdrawBid(jobID, bidIndex, caller)
}

func (n *Node) AcceptBid(jobID [32]byte, bidIndex uint64, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.AcceptBid(jobID, bidIndex, caller)
}

func (n *Node) SubmitDeliverable(jobID [32]byte, caller [20]byte, deliverableRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.SubmitDeliverable(jobID, caller, deliverableRef)
}

func (n *Node) ApproveJob(jobID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Approve(jobID, caller)
}

func (n *Node) AutoReleaseJob(jobID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.AutoRelease(jobID, caller)
}

func (n *Node) RaiseJobDispute(jobID [32]byte, caller [20]byte, reasonRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.RaiseDispute(jobID, caller, reasonRef)
}

func (n *Node) ResolveJobDispute(jobID [32]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.ResolveDispute(jobID)
}

func (n *Node) GetJob(jobID [32]byte) (*escrow.Job, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Job(jobID)
}

func (n *Node) GetBids(jobID [32]byte) ([]*escrow.Bid, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Bids(jobID)
}

// Milestone escrow surface.

func (n *Node) CreateGig(client, worker [20]byte, tokenSymbol string, milestones []escrow.MilestoneDraft, requirementsRef string, mode escrow.DisputeMode, nonce uint64) ([32]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.CreateGig(client, worker, tokenSymbol, milestones, requirementsRef, mode, nonce)
}

func (n *Node) SubmitMilestone(gigID [32]byte, index uint64, caller [20]byte, deliverableRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.SubmitMilestone(gigID, index, caller, deliverableRef)
}

func (n *Node) ApproveMilestone(gigID [32]byte, index uint64, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.ApproveMilestone(gigID, index, caller)
}

func (n *Node) AutoReleaseMilestone(gigID [32]byte, index uint64, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.AutoReleaseMilestone(gigID, index, caller)
}

func (n *Node) DisputeMilestone(gigID [32]byte, index uint64, caller [20]byte, reasonRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.DisputeMilestone(gigID, index, caller, reasonRef)
}

func (n *Node) ResolveMilestone(gigID [32]byte, index uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.ResolveMilestone(gigID, index)
}

func (n *Node) GetGig(gigID [32]byte) (*escrow.Gig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Gig(gigID)
}

func (n *Node) GetMilestone(gigID [32]byte, index uint64) (*escrow.Milestone, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.MilestoneAt(gigID, index)
}

// Voting arbitration surface.

func (n *Node) SubmitEvidence(caseID [32]byte, caller [20]byte, evidenceRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voting.SubmitEvidence(caseID, caller, evidenceRef)
}

func (n *Node) CastVote(caseID [32]byte, arbitrator [20]byte, clientBps uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voting.CastVote(caseID, arbitrator, clientBps)
}

func (n *Node) FinalizeCase(caseID [32]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voting.Finalize(caseID)
}

func (n *Node) AppealCase(caseID [32]byte, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voting.Appeal(caseID, caller)
}

func (n *Node) GetCase(caseID [32]byte) (*arbitration.Case, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voting.Case(caseID)
}

func (n *Node) CaseStuck(caseID [32]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voting.Stuck(caseID)
}

// Optimistic arbitration surface.

func (n *Node) AssertClaim(assertionID [32]byte, asserter [20]byte, claimRef string, proposedClientBps uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.optimistic.Assert(assertionID, asserter, claimRef, proposedClientBps)
}

func (n *Node) DisputeAssertion(assertionID [32]byte, disputer [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.optimistic.Dispute(assertionID, disputer)
}

func (n *Node) SettleAssertion(assertionID [32]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.optimistic.Settle(assertionID)
}

func (n *Node) SubmitVerdict(assertionID [32]byte, caller [20]byte, claimValid bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.optimistic.SubmitVerdict(assertionID, caller, claimValid)
}

func (n *Node) GetAssertion(assertionID [32]byte) (*arbitration.Assertion, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.optimistic.Assertion(assertionID)
}

func (n *Node) GetResolution(caseID [32]byte, mode escrow.DisputeMode) (*arbitration.Resolution, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch mode {
	case escrow.DisputeOptimistic:
		return n.optimistic.Resolution(caseID)
	default:
		return n.voting.Resolution(caseID)
	}
}

// Registry surface.

func (n *Node) RegisterWorker(addr [20]byte, handle, metadataRef string) (*registry.Profile, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.Register(addr, handle, metadataRef)
}

func (n *Node) SetWorkerScore(caller, addr [20]byte, score uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.SetScore(caller, addr, score)
}

func (n *Node) GetWorkerProfile(addr [20]byte) (*registry.Profile, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.Profile(addr)
}
