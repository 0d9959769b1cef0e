package escrow

import (
	"fmt"
	"math/big"
	"strings"

	nativecommon "gigchain/native/common"
)

// SubmitBid appends a bid to the job's ledger. Bids are only accepted while
// the job is open, never from the client, and never above the escrowed
// amount. The per-bidder quota and the optional reputation floor gate spam.
func (e *Engine) SubmitBid(jobID [32]byte, bidder [20]byte, amount *big.Int, proposalRef string) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: bidding requires an open job", ErrInvalidStatus)
	}
	if bidder == ([20]byte{}) {
		return fmt.Errorf("escrow: bidder address required")
	}
	if bidder == job.Client {
		return ErrSelfBid
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow: bid amount must be positive")
	}
	if amount.Cmp(job.TotalAmount) > 0 {
		return ErrBidTooHigh
	}
	proposalRef = strings.TrimSpace(proposalRef)
	if proposalRef == "" {
		return fmt.Errorf("escrow: proposal reference required")
	}
	now := e.now()
	if err := e.chargeBidQuota(bidder, now); err != nil {
		return err
	}
	if err := e.checkReputation(bidder); err != nil {
		return err
	}
	bids, err := e.state.JobBidsGet(jobID)
	if err != nil {
		return err
	}
	bid := &Bid{
		Bidder:      bidder,
		Amount:      new(big.Int).Set(amount),
		ProposalRef: proposalRef,
		SubmittedAt: now,
	}
	bids = append(bids, bid)
	if err := e.state.JobBidsPut(jobID, bids); err != nil {
		return err
	}
	e.emit(newBidEvent(EventTypeBidSubmitted, job, uint64(len(bids)-1), bid))
	return nil
}

func (e *Engine) chargeBidQuota(bidder [20]byte, now int64) error {
	if e.policy.BidQuota.MaxBidsPerEpoch == 0 {
		return nil
	}
	epoch := e.policy.BidQuota.Epoch(now)
	prev, _, err := e.state.BidQuotaGet(bidder)
	if err != nil {
		return err
	}
	next, err := nativecommon.CheckQuota(e.policy.BidQuota, epoch, prev, 1)
	if err != nil {
		return err
	}
	return e.state.BidQuotaPut(bidder, next)
}

func (e *Engine) checkReputation(bidder [20]byte) error {
	if e.reputation == nil || e.policy.MinBidReputation == 0 {
		return nil
	}
	score, ok, err := e.reputation.Score(bidder)
	if err != nil {
		return err
	}
	if !ok || score < e.policy.MinBidReputation {
		return ErrLowReputation
	}
	return nil
}

// WithdrawBid marks the caller's bid withdrawn while the job is still open. A
// withdrawn bid can never be accepted. Repeat withdrawal is a no-op.
func (e *Engine) WithdrawBid(jobID [32]byte, bidIndex uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: withdrawal requires an open job", ErrInvalidStatus)
	}
	bids, err := e.state.JobBidsGet(jobID)
	if err != nil {
		return err
	}
	if bidIndex >= uint64(len(bids)) {
		return ErrBidNotFound
	}
	bid := bids[bidIndex]
	if caller != bid.Bidder {
		return ErrUnauthorized
	}
	if bid.Withdrawn {
		return nil
	}
	bid.Withdrawn = true
	if err := e.state.JobBidsPut(jobID, bids); err != nil {
		return err
	}
	e.emit(newBidEvent(EventTypeBidWithdrawn, job, bidIndex, bid))
	return nil
}

// AcceptBid is the single point of competitive-selection exclusivity: it
// flips the job away from open, records the worker and assigned amount, and
// leaves every other bid permanently inert. Assignment is irrevocable.
func (e *Engine) AcceptBid(jobID [32]byte, bidIndex uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: acceptance requires an open job", ErrInvalidStatus)
	}
	if caller != job.Client {
		return ErrUnauthorized
	}
	bids, err := e.state.JobBidsGet(jobID)
	if err != nil {
		return err
	}
	if bidIndex >= uint64(len(bids)) {
		return ErrBidNotFound
	}
	bid := bids[bidIndex]
	if bid.Withdrawn {
		return ErrBidWithdrawn
	}
	bid.Accepted = true
	job.Worker = bid.Bidder
	job.AssignedAmount = new(big.Int).Set(bid.Amount)
	job.Status = JobAssigned
	if err := e.storeJob(job); err != nil {
		return err
	}
	if err := e.state.JobBidsPut(jobID, bids); err != nil {
		return err
	}
	e.emit(newBidEvent(EventTypeBidAccepted, job, bidIndex, bid))
	return nil
}

// Bids returns a copy of the job's bid ledger in submission order.
func (e *Engine) Bids(jobID [32]byte) ([]*Bid, error) {
	if _, err := e.loadJob(jobID); err != nil {
		return nil, err
	}
	bids, err := e.state.JobBidsGet(jobID)
	if err != nil {
		return nil, err
	}
	out := make([]*Bid, len(bids))
	for i, bid := range bids {
		out[i] = bid.Clone()
	}
	return out, nil
}
