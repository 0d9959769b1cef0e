package core

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gigchain/native/escrow"
	"gigchain/storage"
)

func testAddr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	node, err := NewNode(storage.NewMemDB(), Config{
		Owner:       testAddr(0xAA),
		FeeTreasury: testAddr(0xCC),
		Oracle:      testAddr(0xBB),
		Scorer:      testAddr(0xDD),
		ArbPanel:    [][20]byte{testAddr(0x01), testAddr(0x02), testAddr(0x03)},
		BondAmount:  big.NewInt(100),
		BondToken:   "ZGIG",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func balance(t *testing.T, node *Node, addr [20]byte, token string) *big.Int {
	t.Helper()
	out, err := node.BalanceOf(addr, token)
	require.NoError(t, err)
	return out
}

// Walks a bounty from posting through a voted dispute and checks that every
// unit of the escrowed total lands with client, worker, or treasury.
func TestNodeVotedDisputeLifecycle(t *testing.T) {
	node := newTestNode(t)
	client := testAddr(0x10)
	worker := testAddr(0x20)
	treasury := testAddr(0xCC)
	require.NoError(t, node.Mint(client, "GIG", big.NewInt(1_000)))

	deadline := time.Now().Add(24 * time.Hour).Unix()
	jobID, err := node.CreateJob(client, "GIG", big.NewInt(1_000), deadline, "ipfs://brief", escrow.DisputeVoting, 1)
	require.NoError(t, err)
	require.Equal(t, "0", balance(t, node, client, "GIG").String())

	require.NoError(t, node.SubmitBid(jobID, worker, big.NewInt(800), "ipfs://proposal"))
	require.NoError(t, node.AcceptBid(jobID, 0, client))
	require.NoError(t, node.SubmitDeliverable(jobID, worker, "ipfs://work"))
	require.NoError(t, node.RaiseJobDispute(jobID, client, "ipfs://complaint"))

	job, err := node.GetJob(jobID)
	require.NoError(t, err)
	require.Equal(t, escrow.JobDisputed, job.Status)
	require.NotEqual(t, [32]byte{}, job.CaseID)

	// Resolution is blocked until the panel reaches quorum.
	require.Error(t, node.ResolveJobDispute(jobID))

	require.NoError(t, node.SubmitEvidence(job.CaseID, worker, "ipfs://rebuttal"))
	require.NoError(t, node.CastVote(job.CaseID, testAddr(0x01), 6_000))
	require.NoError(t, node.CastVote(job.CaseID, testAddr(0x02), 6_000))
	require.NoError(t, node.FinalizeCase(job.CaseID))
	require.NoError(t, node.ResolveJobDispute(jobID))

	// surplus 200 plus floor(800*0.6)=480 to the client, worker nets
	// 320 minus the 2.5% fee.
	require.Equal(t, "680", balance(t, node, client, "GIG").String())
	require.Equal(t, "312", balance(t, node, worker, "GIG").String())
	require.Equal(t, "8", balance(t, node, treasury, "GIG").String())

	job, err = node.GetJob(jobID)
	require.NoError(t, err)
	require.Equal(t, escrow.JobCompleted, job.Status)

	events := node.DrainEvents()
	require.NotEmpty(t, events)
	require.Empty(t, node.DrainEvents())
}

func TestNodeMilestoneApprovalPath(t *testing.T) {
	node := newTestNode(t)
	client := testAddr(0x10)
	worker := testAddr(0x20)
	require.NoError(t, node.Mint(client, "GIG", big.NewInt(500)))

	drafts := []escrow.MilestoneDraft{
		{Description: "design", Amount: big.NewInt(200)},
		{Description: "build", Amount: big.NewInt(300)},
	}
	gigID, err := node.CreateGig(client, worker, "GIG", drafts, "ipfs://brief", escrow.DisputeVoting, 1)
	require.NoError(t, err)
	require.Equal(t, "0", balance(t, node, client, "GIG").String())

	require.NoError(t, node.SubmitMilestone(gigID, 0, worker, "ipfs://design"))
	require.NoError(t, node.ApproveMilestone(gigID, 0, client))

	// 200 minus the 2.5% fee.
	require.Equal(t, "195", balance(t, node, worker, "GIG").String())

	gig, err := node.GetGig(gigID)
	require.NoError(t, err)
	require.Equal(t, escrow.GigActive, gig.Status)

	require.NoError(t, node.SubmitMilestone(gigID, 1, worker, "ipfs://build"))
	require.NoError(t, node.ApproveMilestone(gigID, 1, client))

	gig, err = node.GetGig(gigID)
	require.NoError(t, err)
	require.Equal(t, escrow.GigCompleted, gig.Status)
}

func TestNodeOptimisticAssertionLifecycle(t *testing.T) {
	node := newTestNode(t)
	client := testAddr(0x10)
	worker := testAddr(0x20)
	require.NoError(t, node.Mint(client, "GIG", big.NewInt(1_000)))
	require.NoError(t, node.Mint(worker, "ZGIG", big.NewInt(100)))

	deadline := time.Now().Add(24 * time.Hour).Unix()
	jobID, err := node.CreateJob(client, "GIG", big.NewInt(1_000), deadline, "ipfs://brief", escrow.DisputeOptimistic, 1)
	require.NoError(t, err)
	require.NoError(t, node.SubmitBid(jobID, worker, big.NewInt(1_000), "ipfs://proposal"))
	require.NoError(t, node.AcceptBid(jobID, 0, client))
	require.NoError(t, node.SubmitDeliverable(jobID, worker, "ipfs://work"))
	require.NoError(t, node.RaiseJobDispute(jobID, client, "ipfs://complaint"))

	job, err := node.GetJob(jobID)
	require.NoError(t, err)

	// Worker bonds the claim that the client owes nothing beyond the fee.
	require.NoError(t, node.AssertClaim(job.CaseID, worker, "ipfs://claim", 0))
	require.Equal(t, "0", balance(t, node, worker, "ZGIG").String())

	// Settlement waits for the liveness window, resolution stays pending.
	require.Error(t, node.SettleAssertion(job.CaseID))
	_, final, err := node.GetResolution(job.CaseID, escrow.DisputeOptimistic)
	require.NoError(t, err)
	require.False(t, final)
	require.Error(t, node.ResolveJobDispute(jobID))
}

func TestNodeWorkerRegistryGatesBids(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), Config{
		Owner:            testAddr(0xAA),
		FeeTreasury:      testAddr(0xCC),
		Scorer:           testAddr(0xDD),
		ArbPanel:         [][20]byte{testAddr(0x01), testAddr(0x02)},
		MinBidReputation: 50,
	})
	require.NoError(t, err)
	defer node.Close()

	client := testAddr(0x10)
	worker := testAddr(0x20)
	require.NoError(t, node.Mint(client, "GIG", big.NewInt(100)))

	deadline := time.Now().Add(time.Hour).Unix()
	jobID, err := node.CreateJob(client, "GIG", big.NewInt(100), deadline, "ipfs://brief", escrow.DisputeVoting, 1)
	require.NoError(t, err)

	// Unregistered workers fail the reputation floor.
	require.ErrorIs(t, node.SubmitBid(jobID, worker, big.NewInt(100), "ipfs://proposal"), escrow.ErrLowReputation)

	_, err = node.RegisterWorker(worker, "solid-worker", "ipfs://cv")
	require.NoError(t, err)
	require.NoError(t, node.SetWorkerScore(testAddr(0xDD), worker, 80))
	require.NoError(t, node.SubmitBid(jobID, worker, big.NewInt(100), "ipfs://proposal"))
}
