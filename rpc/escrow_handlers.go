package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	nativecommon "gigchain/native/common"
	"gigchain/native/escrow"
	"gigchain/observability"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

const deadlineSkewSeconds int64 = 5

type jobCreateParams struct {
	Client          string `json:"client"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	Deadline        int64  `json:"deadline"`
	RequirementsRef string `json:"requirementsRef"`
	DisputeMode     string `json:"disputeMode,omitempty"`
	Nonce           uint64 `json:"nonce"`
}

type jobIDParams struct {
	ID string `json:"id"`
}

type jobActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type jobDeliverableParams struct {
	ID             string `json:"id"`
	Caller         string `json:"caller"`
	DeliverableRef string `json:"deliverableRef"`
}

type jobDisputeParams struct {
	ID        string `json:"id"`
	Caller    string `json:"caller"`
	ReasonRef string `json:"reasonRef"`
}

type bidSubmitParams struct {
	ID          string `json:"id"`
	Bidder      string `json:"bidder"`
	Amount      string `json:"amount"`
	ProposalRef string `json:"proposalRef"`
}

type bidActorParams struct {
	ID       string `json:"id"`
	BidIndex uint64 `json:"bidIndex"`
	Caller   string `json:"caller"`
}

type idResult struct {
	ID string `json:"id"`
}

type jobJSON struct {
	ID              string `json:"id"`
	Client          string `json:"client"`
	Worker          string `json:"worker,omitempty"`
	Token           string `json:"token"`
	TotalAmount     string `json:"totalAmount"`
	AssignedAmount  string `json:"assignedAmount,omitempty"`
	RequirementsRef string `json:"requirementsRef"`
	DeliverableRef  string `json:"deliverableRef,omitempty"`
	DisputeMode     string `json:"disputeMode"`
	CaseID          string `json:"caseId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	Deadline        int64  `json:"deadline"`
	SubmittedAt     int64  `json:"submittedAt,omitempty"`
	SettledAt       int64  `json:"settledAt,omitempty"`
	Nonce           uint64 `json:"nonce"`
	Status          string `json:"status"`
}

type bidJSON struct {
	Index       uint64 `json:"index"`
	Bidder      string `json:"bidder"`
	Amount      string `json:"amount"`
	ProposalRef string `json:"proposalRef"`
	SubmittedAt int64  `json:"submittedAt"`
	Withdrawn   bool   `json:"withdrawn"`
	Accepted    bool   `json:"accepted"`
}

func parseDisputeMode(raw string) (escrow.DisputeMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "voting":
		return escrow.DisputeVoting, nil
	case "optimistic":
		return escrow.DisputeOptimistic, nil
	default:
		return 0, errors.New("disputeMode must be voting or optimistic")
	}
}

func disputeModeString(mode escrow.DisputeMode) string {
	switch mode {
	case escrow.DisputeVoting:
		return "voting"
	case escrow.DisputeOptimistic:
		return "optimistic"
	default:
		return "unknown"
	}
}

func jobStatusString(status escrow.JobStatus) string {
	switch status {
	case escrow.JobOpen:
		return "open"
	case escrow.JobAssigned:
		return "assigned"
	case escrow.JobSubmitted:
		return "submitted"
	case escrow.JobCompleted:
		return "completed"
	case escrow.JobDisputed:
		return "disputed"
	case escrow.JobAutoReleased:
		return "autoReleased"
	case escrow.JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func formatJobJSON(job *escrow.Job) jobJSON {
	out := jobJSON{
		ID:              formatID(job.ID),
		Client:          formatAddress(job.Client),
		Token:           job.Token,
		TotalAmount:     job.TotalAmount.String(),
		RequirementsRef: job.RequirementsRef,
		DeliverableRef:  job.DeliverableRef,
		DisputeMode:     disputeModeString(job.DisputeMode),
		CreatedAt:       job.CreatedAt,
		Deadline:        job.Deadline,
		SubmittedAt:     job.SubmittedAt,
		SettledAt:       job.SettledAt,
		Nonce:           job.Nonce,
		Status:          jobStatusString(job.Status),
	}
	if job.Worker != ([20]byte{}) {
		out.Worker = formatAddress(job.Worker)
	}
	if job.AssignedAmount != nil && job.AssignedAmount.Sign() > 0 {
		out.AssignedAmount = job.AssignedAmount.String()
	}
	if job.CaseID != ([32]byte{}) {
		out.CaseID = formatID(job.CaseID)
	}
	return out
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrJobNotFound) || errors.Is(err, escrow.ErrGigNotFound) ||
		errors.Is(err, escrow.ErrMilestoneNotFound) || errors.Is(err, escrow.ErrBidNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidStatus) || errors.Is(err, escrow.ErrAlreadySettled) ||
		errors.Is(err, escrow.ErrBidWithdrawn) || errors.Is(err, escrow.ErrSelfBid) ||
		errors.Is(err, escrow.ErrBidTooHigh) || errors.Is(err, escrow.ErrDisputePending) ||
		errors.Is(err, escrow.ErrResolutionPending) || errors.Is(err, escrow.ErrReleaseTooEarly) ||
		errors.Is(err, escrow.ErrLowReputation) || errors.Is(err, nativecommon.ErrQuotaBidsExceeded):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseTokenSymbol(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Deadline < time.Now().Unix()-deadlineSkewSeconds {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "deadline must be in the future")
		return
	}
	mode, err := parseDisputeMode(params.DisputeMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.node.CreateJob(client, token, amount, params.Deadline, strings.TrimSpace(params.RequirementsRef), mode, params.Nonce)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordJobCreated("bounty")
	writeResult(w, req.ID, idResult{ID: formatID(id)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.CancelJob(id, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bidSubmitParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseBech32Address(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SubmitBid(id, bidder, amount, strings.TrimSpace(params.ProposalRef)); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bidActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.WithdrawBid(id, params.BidIndex, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bidActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.AcceptBid(id, params.BidIndex, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSubmitDeliverable(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobDeliverableParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SubmitDeliverable(id, caller, strings.TrimSpace(params.DeliverableRef)); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleApproveJob(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ApproveJob(id, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordSettlement("approve")
	writeResult(w, req.ID, true)
}

func (s *Server) handleAutoReleaseJob(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.AutoReleaseJob(id, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordSettlement("autoRelease")
	writeResult(w, req.ID, true)
}

func (s *Server) handleRaiseJobDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobDisputeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RaiseJobDispute(id, caller, strings.TrimSpace(params.ReasonRef)); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	if job, lookupErr := s.node.GetJob(id); lookupErr == nil {
		observability.Escrow().RecordDispute(disputeModeString(job.DisputeMode))
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleResolveJobDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ResolveJobDispute(id); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordSettlement("dispute")
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.node.GetJob(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatJobJSON(job))
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params jobIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	bids, err := s.node.GetBids(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]bidJSON, 0, len(bids))
	for i, bid := range bids {
		out = append(out, bidJSON{
			Index:       uint64(i),
			Bidder:      formatAddress(bid.Bidder),
			Amount:      bid.Amount.String(),
			ProposalRef: bid.ProposalRef,
			SubmittedAt: bid.SubmittedAt,
			Withdrawn:   bid.Withdrawn,
			Accepted:    bid.Accepted,
		})
	}
	writeResult(w, req.ID, out)
}
