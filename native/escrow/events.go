package escrow

import (
	"encoding/hex"
	"strconv"

	"gigchain/core/types"
)

const (
	EventTypeJobCreated         = "escrow.job.created"
	EventTypeJobCancelled       = "escrow.job.cancelled"
	EventTypeJobSubmitted       = "escrow.job.submitted"
	EventTypeJobApproved        = "escrow.job.approved"
	EventTypeJobAutoReleased    = "escrow.job.auto_released"
	EventTypeJobDisputed        = "escrow.job.disputed"
	EventTypeJobResolved        = "escrow.job.resolved"
	EventTypeBidSubmitted       = "escrow.bid.submitted"
	EventTypeBidWithdrawn       = "escrow.bid.withdrawn"
	EventTypeBidAccepted        = "escrow.bid.accepted"
	EventTypeGigCreated         = "escrow.gig.created"
	EventTypeMilestoneSubmitted = "escrow.milestone.submitted"
	EventTypeMilestoneApproved  = "escrow.milestone.approved"
	EventTypeMilestoneReleased  = "escrow.milestone.released"
	EventTypeMilestoneDisputed  = "escrow.milestone.disputed"
	EventTypeMilestoneResolved  = "escrow.milestone.resolved"
	EventTypeEnginePolicy       = "escrow.policy.updated"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

func addrAttr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func uintAttr(v uint64) string { return strconv.FormatUint(v, 10) }

func newJobEvent(eventType string, job *Job, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if job == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeJob(job)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["jobId"] = hex.EncodeToString(sanitized.ID[:])
	attrs["client"] = addrAttr(sanitized.Client)
	attrs["token"] = sanitized.Token
	attrs["totalAmount"] = sanitized.TotalAmount.String()
	attrs["status"] = uintAttr(uint64(sanitized.Status))
	attrs["disputeMode"] = uintAttr(uint64(sanitized.DisputeMode))
	if sanitized.Worker != ([20]byte{}) {
		attrs["worker"] = addrAttr(sanitized.Worker)
	}
	if sanitized.AssignedAmount != nil {
		attrs["assignedAmount"] = sanitized.AssignedAmount.String()
	}
	if sanitized.CaseID != ([32]byte{}) {
		attrs["caseId"] = hex.EncodeToString(sanitized.CaseID[:])
	}
	for key, value := range extra {
		if value != "" {
			attrs[key] = value
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newBidEvent(eventType string, job *Job, bidIndex uint64, bid *Bid) *types.Event {
	attrs := make(map[string]string)
	if job != nil {
		attrs["jobId"] = hex.EncodeToString(job.ID[:])
	}
	attrs["bidIndex"] = uintAttr(bidIndex)
	if bid != nil {
		attrs["bidder"] = addrAttr(bid.Bidder)
		if bid.Amount != nil {
			attrs["amount"] = bid.Amount.String()
		}
		attrs["withdrawn"] = strconv.FormatBool(bid.Withdrawn)
		attrs["accepted"] = strconv.FormatBool(bid.Accepted)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newGigEvent(eventType string, gig *Gig, index uint64, m *Milestone, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if gig == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["gigId"] = hex.EncodeToString(gig.ID[:])
	attrs["client"] = addrAttr(gig.Client)
	attrs["worker"] = addrAttr(gig.Worker)
	attrs["token"] = gig.Token
	attrs["gigStatus"] = uintAttr(uint64(gig.Status))
	attrs["milestones"] = strconv.Itoa(len(gig.Milestones))
	if m != nil {
		attrs["milestoneIndex"] = uintAttr(index)
		attrs["milestoneStatus"] = uintAttr(uint64(m.Status))
		if m.Amount != nil {
			attrs["amount"] = m.Amount.String()
		}
		if m.CaseID != ([32]byte{}) {
			attrs["caseId"] = hex.EncodeToString(m.CaseID[:])
		}
	}
	for key, value := range extra {
		if value != "" {
			attrs[key] = value
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newPolicyEvent(policy Policy) *types.Event {
	return &types.Event{Type: EventTypeEnginePolicy, Attributes: map[string]string{
		"feeBps":             uintAttr(uint64(policy.FeeBps)),
		"autoReleaseSeconds": strconv.FormatInt(policy.AutoReleaseSeconds, 10),
		"minBidReputation":   uintAttr(policy.MinBidReputation),
		"maxBidsPerEpoch":    uintAttr(uint64(policy.BidQuota.MaxBidsPerEpoch)),
	}}
}
