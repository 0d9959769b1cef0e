package rpc

import (
	"errors"
	"net/http"
	"strings"

	"gigchain/native/arbitration"
	"gigchain/observability"
)

const (
	codeArbInvalidParams = -32031
	codeArbNotFound      = -32032
	codeArbForbidden     = -32033
	codeArbConflict      = -32034
	codeArbInternal      = -32035
)

type caseIDParams struct {
	ID string `json:"id"`
}

type evidenceParams struct {
	ID          string `json:"id"`
	Caller      string `json:"caller"`
	EvidenceRef string `json:"evidenceRef"`
}

type voteParams struct {
	ID         string `json:"id"`
	Arbitrator string `json:"arbitrator"`
	ClientBps  uint32 `json:"clientBps"`
}

type appealParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type assertParams struct {
	ID                string `json:"id"`
	Asserter          string `json:"asserter"`
	ClaimRef          string `json:"claimRef"`
	ProposedClientBps uint32 `json:"proposedClientBps"`
}

type disputeAssertionParams struct {
	ID       string `json:"id"`
	Disputer string `json:"disputer"`
}

type verdictParams struct {
	ID         string `json:"id"`
	Caller     string `json:"caller"`
	ClaimValid bool   `json:"claimValid"`
}

type resolutionQueryParams struct {
	ID   string `json:"id"`
	Mode string `json:"mode,omitempty"`
}

type ballotJSON struct {
	Arbitrator string `json:"arbitrator"`
	ClientBps  uint32 `json:"clientBps"`
	CastAt     int64  `json:"castAt"`
}

type caseJSON struct {
	ID             string       `json:"id"`
	JobID          string       `json:"jobId"`
	Milestone      uint64       `json:"milestone"`
	Claimant       string       `json:"claimant"`
	Respondent     string       `json:"respondent"`
	ReasonRef      string       `json:"reasonRef"`
	EvidenceRefs   []string     `json:"evidenceRefs"`
	Ballots        []ballotJSON `json:"ballots"`
	OpenedAt       int64        `json:"openedAt"`
	VotingDeadline int64        `json:"votingDeadline"`
	Status         string       `json:"status"`
	Appealed       bool         `json:"appealed"`
	FinalClientBps uint32       `json:"finalClientBps,omitempty"`
	ResolvedAt     int64        `json:"resolvedAt,omitempty"`
}

type assertionJSON struct {
	ID                string `json:"id"`
	JobID             string `json:"jobId"`
	Milestone         uint64 `json:"milestone"`
	Claimant          string `json:"claimant"`
	Respondent        string `json:"respondent"`
	BondToken         string `json:"bondToken,omitempty"`
	Asserter          string `json:"asserter,omitempty"`
	ClaimRef          string `json:"claimRef,omitempty"`
	ProposedClientBps uint32 `json:"proposedClientBps"`
	Bond              string `json:"bond,omitempty"`
	AssertedAt        int64  `json:"assertedAt,omitempty"`
	ExpirationTime    int64  `json:"expirationTime,omitempty"`
	Disputer          string `json:"disputer,omitempty"`
	CounterBond       string `json:"counterBond,omitempty"`
	ClaimValid        bool   `json:"claimValid"`
	FinalClientBps    uint32 `json:"finalClientBps"`
	OpenedAt          int64  `json:"openedAt"`
	SettledAt         int64  `json:"settledAt,omitempty"`
	Status            string `json:"status"`
}

type resolutionJSON struct {
	ClientBps  uint32 `json:"clientBps"`
	WorkerBps  uint32 `json:"workerBps"`
	ResolvedAt int64  `json:"resolvedAt"`
	Final      bool   `json:"final"`
}

func caseStatusString(status arbitration.CaseStatus) string {
	switch status {
	case arbitration.CaseActive:
		return "active"
	case arbitration.CaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

func assertionStatusString(status arbitration.AssertionStatus) string {
	switch status {
	case arbitration.AssertionPending:
		return "pending"
	case arbitration.AssertionActive:
		return "active"
	case arbitration.AssertionDisputed:
		return "disputed"
	case arbitration.AssertionSettled:
		return "settled"
	default:
		return "unknown"
	}
}

func formatCaseJSON(c *arbitration.Case) caseJSON {
	ballots := make([]ballotJSON, 0, len(c.Ballots))
	for _, ballot := range c.Ballots {
		ballots = append(ballots, ballotJSON{
			Arbitrator: formatAddress(ballot.Arbitrator),
			ClientBps:  ballot.ClientBps,
			CastAt:     ballot.CastAt,
		})
	}
	return caseJSON{
		ID:             formatID(c.ID),
		JobID:          formatID(c.Ref.JobID),
		Milestone:      c.Ref.Milestone,
		Claimant:       formatAddress(c.Ref.Claimant),
		Respondent:     formatAddress(c.Ref.Respondent),
		ReasonRef:      c.Ref.ReasonRef,
		EvidenceRefs:   append([]string(nil), c.EvidenceRefs...),
		Ballots:        ballots,
		OpenedAt:       c.OpenedAt,
		VotingDeadline: c.VotingDeadline,
		Status:         caseStatusString(c.Status),
		Appealed:       c.Appealed,
		FinalClientBps: c.FinalClientBps,
		ResolvedAt:     c.ResolvedAt,
	}
}

func formatAssertionJSON(a *arbitration.Assertion) assertionJSON {
	out := assertionJSON{
		ID:                formatID(a.ID),
		JobID:             formatID(a.Ref.JobID),
		Milestone:         a.Ref.Milestone,
		Claimant:          formatAddress(a.Ref.Claimant),
		Respondent:        formatAddress(a.Ref.Respondent),
		BondToken:         a.BondToken,
		ClaimRef:          a.ClaimRef,
		ProposedClientBps: a.ProposedClientBps,
		AssertedAt:        a.AssertedAt,
		ExpirationTime:    a.ExpirationTime,
		ClaimValid:        a.ClaimValid,
		FinalClientBps:    a.FinalClientBps,
		OpenedAt:          a.OpenedAt,
		SettledAt:         a.SettledAt,
		Status:            assertionStatusString(a.Status),
	}
	if a.Asserter != ([20]byte{}) {
		out.Asserter = formatAddress(a.Asserter)
	}
	if a.Bond != nil {
		out.Bond = a.Bond.String()
	}
	if a.Disputer != ([20]byte{}) {
		out.Disputer = formatAddress(a.Disputer)
	}
	if a.CounterBond != nil {
		out.CounterBond = a.CounterBond.String()
	}
	return out
}

func writeArbitrationError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeArbInternal
	message := "internal_error"
	switch {
	case errors.Is(err, arbitration.ErrCaseNotFound):
		status = http.StatusNotFound
		code = codeArbNotFound
		message = "not_found"
	case errors.Is(err, arbitration.ErrUnauthorized) || errors.Is(err, arbitration.ErrNotPanelMember) ||
		errors.Is(err, arbitration.ErrNotOracle):
		status = http.StatusForbidden
		code = codeArbForbidden
		message = "forbidden"
	case errors.Is(err, arbitration.ErrCaseExists) || errors.Is(err, arbitration.ErrAlreadyResolved) ||
		errors.Is(err, arbitration.ErrAlreadySettled) || errors.Is(err, arbitration.ErrAlreadyVoted) ||
		errors.Is(err, arbitration.ErrVotingClosed) || errors.Is(err, arbitration.ErrQuorumNotReached) ||
		errors.Is(err, arbitration.ErrAppealExhausted) || errors.Is(err, arbitration.ErrNotAsserted) ||
		errors.Is(err, arbitration.ErrAlreadyAsserted) || errors.Is(err, arbitration.ErrAlreadyDisputed) ||
		errors.Is(err, arbitration.ErrSettleTooEarly) || errors.Is(err, arbitration.ErrChallengeClosed) ||
		errors.Is(err, arbitration.ErrAssertionDisputed):
		status = http.StatusConflict
		code = codeArbConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params evidenceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SubmitEvidence(id, caller, strings.TrimSpace(params.EvidenceRef)); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params voteParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	arbitrator, err := parseBech32Address(params.Arbitrator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.ClientBps > 10_000 {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", "clientBps must be <= 10000")
		return
	}
	if err := s.node.CastVote(id, arbitrator, params.ClientBps); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleFinalizeCase(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params caseIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.FinalizeCase(id); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	s.markCaseStuck(id, false)
	writeResult(w, req.ID, true)
}

func (s *Server) handleAppealCase(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params appealParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.AppealCase(id, caller); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params caseIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	c, err := s.node.GetCase(id)
	if err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatCaseJSON(c))
}

func (s *Server) handleCaseStuck(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params caseIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	stuck, err := s.node.CaseStuck(id)
	if err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	s.markCaseStuck(id, stuck)
	writeResult(w, req.ID, stuck)
}

func (s *Server) handleAssertClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params assertParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	asserter, err := parseBech32Address(params.Asserter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.ProposedClientBps > 10_000 {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", "proposedClientBps must be <= 10000")
		return
	}
	if err := s.node.AssertClaim(id, asserter, strings.TrimSpace(params.ClaimRef), params.ProposedClientBps); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordBond()
	writeResult(w, req.ID, true)
}

func (s *Server) handleDisputeAssertion(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params disputeAssertionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	disputer, err := parseBech32Address(params.Disputer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.DisputeAssertion(id, disputer); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordBond()
	writeResult(w, req.ID, true)
}

func (s *Server) handleSettleAssertion(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params caseIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SettleAssertion(id); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSubmitVerdict(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params verdictParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SubmitVerdict(id, caller, params.ClaimValid); err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetAssertion(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params caseIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	assertion, err := s.node.GetAssertion(id)
	if err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAssertionJSON(assertion))
}

func (s *Server) handleGetResolution(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params resolutionQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	mode, err := parseDisputeMode(params.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeArbInvalidParams, "invalid_params", err.Error())
		return
	}
	resolution, final, err := s.node.GetResolution(id, mode)
	if err != nil {
		writeArbitrationError(w, req.ID, err)
		return
	}
	if !final {
		writeResult(w, req.ID, resolutionJSON{Final: false})
		return
	}
	writeResult(w, req.ID, resolutionJSON{
		ClientBps:  resolution.ClientBps,
		WorkerBps:  resolution.WorkerBps,
		ResolvedAt: resolution.ResolvedAt,
		Final:      true,
	})
}
