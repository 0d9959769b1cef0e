package arbitration

import (
	"encoding/hex"
	"strconv"
	"strings"

	"gigchain/core/types"
)

const (
	EventTypeCaseOpened        = "arbitration.case.opened"
	EventTypeEvidenceSubmitted = "arbitration.case.evidence"
	EventTypeVoteCast          = "arbitration.case.vote"
	EventTypeCaseResolved      = "arbitration.case.resolved"
	EventTypeCaseAppealed      = "arbitration.case.appealed"
	EventTypePanelUpdated      = "arbitration.panel.updated"
	EventTypeAssertionOpened   = "arbitration.assertion.opened"
	EventTypeAsserted          = "arbitration.assertion.asserted"
	EventTypeAssertionDisputed = "arbitration.assertion.disputed"
	EventTypeAssertionSettled  = "arbitration.assertion.settled"
	EventTypeVerdictRecorded   = "arbitration.assertion.verdict"
	EventTypeOracleUpdated     = "arbitration.oracle.updated"
	EventTypePolicyUpdated     = "arbitration.policy.updated"
)

type arbitrationEvent struct {
	evt *types.Event
}

func (e arbitrationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e arbitrationEvent) Event() *types.Event { return e.evt }

func newCaseOpenedEvent(c *Case) *types.Event {
	return newCaseEvent(EventTypeCaseOpened, c, nil)
}

func newEvidenceEvent(c *Case, submitter [20]byte, evidenceRef string) *types.Event {
	return newCaseEvent(EventTypeEvidenceSubmitted, c, map[string]string{
		"submitter":   hex.EncodeToString(submitter[:]),
		"evidenceRef": strings.TrimSpace(evidenceRef),
	})
}

func newVoteEvent(c *Case, arbitrator [20]byte, clientBps uint32) *types.Event {
	return newCaseEvent(EventTypeVoteCast, c, map[string]string{
		"arbitrator": hex.EncodeToString(arbitrator[:]),
		"clientBps":  strconv.FormatUint(uint64(clientBps), 10),
	})
}

func newCaseResolvedEvent(c *Case) *types.Event {
	return newCaseEvent(EventTypeCaseResolved, c, nil)
}

func newCaseAppealedEvent(c *Case, appellant [20]byte) *types.Event {
	return newCaseEvent(EventTypeCaseAppealed, c, map[string]string{
		"appellant": hex.EncodeToString(appellant[:]),
	})
}

func newPanelUpdatedEvent(panel [][20]byte, quorum uint32, periodSeconds int64) *types.Event {
	members := make([]string, 0, len(panel))
	for _, member := range panel {
		members = append(members, hex.EncodeToString(member[:]))
	}
	return &types.Event{Type: EventTypePanelUpdated, Attributes: map[string]string{
		"panel":               strings.Join(members, ","),
		"quorum":              strconv.FormatUint(uint64(quorum), 10),
		"votingPeriodSeconds": strconv.FormatInt(periodSeconds, 10),
	}}
}

func newCaseEvent(eventType string, c *Case, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeCase(c)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["caseId"] = hex.EncodeToString(sanitized.ID[:])
	attrs["jobId"] = hex.EncodeToString(sanitized.Ref.JobID[:])
	attrs["milestone"] = strconv.FormatUint(sanitized.Ref.Milestone, 10)
	attrs["claimant"] = hex.EncodeToString(sanitized.Ref.Claimant[:])
	attrs["respondent"] = hex.EncodeToString(sanitized.Ref.Respondent[:])
	attrs["status"] = strconv.FormatUint(uint64(sanitized.Status), 10)
	attrs["votingDeadline"] = strconv.FormatInt(sanitized.VotingDeadline, 10)
	attrs["ballots"] = strconv.Itoa(len(sanitized.Ballots))
	if sanitized.Status == CaseResolved {
		attrs["clientBps"] = strconv.FormatUint(uint64(sanitized.FinalClientBps), 10)
		attrs["resolvedAt"] = strconv.FormatInt(sanitized.ResolvedAt, 10)
	}
	for key, value := range extra {
		if strings.TrimSpace(value) != "" {
			attrs[key] = value
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newAssertionOpenedEvent(a *Assertion) *types.Event {
	return newAssertionEvent(EventTypeAssertionOpened, a)
}

func newAssertedEvent(a *Assertion) *types.Event {
	return newAssertionEvent(EventTypeAsserted, a)
}

func newAssertionDisputedEvent(a *Assertion) *types.Event {
	return newAssertionEvent(EventTypeAssertionDisputed, a)
}

func newAssertionSettledEvent(a *Assertion) *types.Event {
	return newAssertionEvent(EventTypeAssertionSettled, a)
}

func newVerdictEvent(a *Assertion) *types.Event {
	return newAssertionEvent(EventTypeVerdictRecorded, a)
}

func newOracleUpdatedEvent(oracle [20]byte) *types.Event {
	return &types.Event{Type: EventTypeOracleUpdated, Attributes: map[string]string{
		"oracle": hex.EncodeToString(oracle[:]),
	}}
}

func newOptimisticPolicyEvent(policy OptimisticPolicy) *types.Event {
	attrs := map[string]string{
		"bondToken":         policy.BondToken,
		"livenessSeconds":   strconv.FormatInt(policy.LivenessSeconds, 10),
		"disputerRewardBps": strconv.FormatUint(uint64(policy.DisputerRewardBps), 10),
		"rejectedClientBps": strconv.FormatUint(uint64(policy.RejectedClientBps), 10),
	}
	if policy.BondAmount != nil {
		attrs["bondAmount"] = policy.BondAmount.String()
	}
	return &types.Event{Type: EventTypePolicyUpdated, Attributes: attrs}
}

func newAssertionEvent(eventType string, a *Assertion) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeAssertion(a)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["assertionId"] = hex.EncodeToString(sanitized.ID[:])
	attrs["jobId"] = hex.EncodeToString(sanitized.Ref.JobID[:])
	attrs["milestone"] = strconv.FormatUint(sanitized.Ref.Milestone, 10)
	attrs["status"] = strconv.FormatUint(uint64(sanitized.Status), 10)
	attrs["bondToken"] = sanitized.BondToken
	if sanitized.Asserter != ([20]byte{}) {
		attrs["asserter"] = hex.EncodeToString(sanitized.Asserter[:])
		attrs["proposedClientBps"] = strconv.FormatUint(uint64(sanitized.ProposedClientBps), 10)
		attrs["expirationTime"] = strconv.FormatInt(sanitized.ExpirationTime, 10)
	}
	if sanitized.Bond != nil {
		attrs["bond"] = sanitized.Bond.String()
	}
	if sanitized.Disputer != ([20]byte{}) {
		attrs["disputer"] = hex.EncodeToString(sanitized.Disputer[:])
	}
	if sanitized.Settled {
		attrs["claimValid"] = strconv.FormatBool(sanitized.ClaimValid)
		attrs["clientBps"] = strconv.FormatUint(uint64(sanitized.FinalClientBps), 10)
		attrs["settledAt"] = strconv.FormatInt(sanitized.SettledAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
