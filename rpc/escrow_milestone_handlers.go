package rpc

import (
	"net/http"
	"strings"

	"gigchain/native/escrow"
	"gigchain/observability"
)

type milestoneDraftParams struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type gigCreateParams struct {
	Client          string                 `json:"client"`
	Worker          string                 `json:"worker"`
	Token           string                 `json:"token"`
	Milestones      []milestoneDraftParams `json:"milestones"`
	RequirementsRef string                 `json:"requirementsRef"`
	DisputeMode     string                 `json:"disputeMode,omitempty"`
	Nonce           uint64                 `json:"nonce"`
}

type milestoneActorParams struct {
	ID     string `json:"id"`
	Index  uint64 `json:"index"`
	Caller string `json:"caller"`
}

type milestoneDeliverableParams struct {
	ID             string `json:"id"`
	Index          uint64 `json:"index"`
	Caller         string `json:"caller"`
	DeliverableRef string `json:"deliverableRef"`
}

type milestoneDisputeParams struct {
	ID        string `json:"id"`
	Index     uint64 `json:"index"`
	Caller    string `json:"caller"`
	ReasonRef string `json:"reasonRef"`
}

type milestoneIndexParams struct {
	ID    string `json:"id"`
	Index uint64 `json:"index"`
}

type milestoneJSON struct {
	Index          uint64 `json:"index"`
	Description    string `json:"description"`
	Amount         string `json:"amount"`
	DeliverableRef string `json:"deliverableRef,omitempty"`
	SubmittedAt    int64  `json:"submittedAt,omitempty"`
	SettledAt      int64  `json:"settledAt,omitempty"`
	CaseID         string `json:"caseId,omitempty"`
	Status         string `json:"status"`
}

type gigJSON struct {
	ID              string          `json:"id"`
	Client          string          `json:"client"`
	Worker          string          `json:"worker"`
	Token           string          `json:"token"`
	TotalAmount     string          `json:"totalAmount"`
	RequirementsRef string          `json:"requirementsRef"`
	DisputeMode     string          `json:"disputeMode"`
	CreatedAt       int64           `json:"createdAt"`
	Nonce           uint64          `json:"nonce"`
	Milestones      []milestoneJSON `json:"milestones"`
	Status          string          `json:"status"`
}

func milestoneStatusString(status escrow.MilestoneStatus) string {
	switch status {
	case escrow.MilestonePending:
		return "pending"
	case escrow.MilestoneSubmitted:
		return "submitted"
	case escrow.MilestoneApproved:
		return "approved"
	case escrow.MilestoneDisputed:
		return "disputed"
	case escrow.MilestoneReleased:
		return "released"
	default:
		return "unknown"
	}
}

func gigStatusString(status escrow.GigStatus) string {
	switch status {
	case escrow.GigActive:
		return "active"
	case escrow.GigCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func formatMilestoneJSON(index uint64, m *escrow.Milestone) milestoneJSON {
	out := milestoneJSON{
		Index:          index,
		Description:    m.Description,
		Amount:         m.Amount.String(),
		DeliverableRef: m.DeliverableRef,
		SubmittedAt:    m.SubmittedAt,
		SettledAt:      m.SettledAt,
		Status:         milestoneStatusString(m.Status),
	}
	if m.CaseID != ([32]byte{}) {
		out.CaseID = formatID(m.CaseID)
	}
	return out
}

func formatGigJSON(gig *escrow.Gig) gigJSON {
	milestones := make([]milestoneJSON, 0, len(gig.Milestones))
	for i, m := range gig.Milestones {
		milestones = append(milestones, formatMilestoneJSON(uint64(i), m))
	}
	return gigJSON{
		ID:              formatID(gig.ID),
		Client:          formatAddress(gig.Client),
		Worker:          formatAddress(gig.Worker),
		Token:           gig.Token,
		TotalAmount:     gig.TotalAmount.String(),
		RequirementsRef: gig.RequirementsRef,
		DisputeMode:     disputeModeString(gig.DisputeMode),
		CreatedAt:       gig.CreatedAt,
		Nonce:           gig.Nonce,
		Milestones:      milestones,
		Status:          gigStatusString(gig.Status),
	}
}

func (s *Server) handleCreateGig(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params gigCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	worker, err := parseBech32Address(params.Worker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseTokenSymbol(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if len(params.Milestones) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "at least one milestone required")
		return
	}
	drafts := make([]escrow.MilestoneDraft, 0, len(params.Milestones))
	for _, draft := range params.Milestones {
		amount, amtErr := parsePositiveBigInt(draft.Amount)
		if amtErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", amtErr.Error())
			return
		}
		drafts = append(drafts, escrow.MilestoneDraft{
			Description: strings.TrimSpace(draft.Description),
			Amount:      amount,
		})
	}
	mode, err := parseDisputeMode(params.DisputeMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.node.CreateGig(client, worker, token, drafts, strings.TrimSpace(params.RequirementsRef), mode, params.Nonce)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordJobCreated("milestone")
	writeResult(w, req.ID, idResult{ID: formatID(id)})
}

func (s *Server) handleSubmitMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneDeliverableParams
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
	if err := s.node.SubmitMilestone(id, params.Index, caller, strings.TrimSpace(params.DeliverableRef)); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleApproveMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneActorParams
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
	if err := s.node.ApproveMilestone(id, params.Index, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordSettlement("approve")
	writeResult(w, req.ID, true)
}

func (s *Server) handleAutoReleaseMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneActorParams
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
	if err := s.node.AutoReleaseMilestone(id, params.Index, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordSettlement("autoRelease")
	writeResult(w, req.ID, true)
}

func (s *Server) handleDisputeMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneDisputeParams
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
	if err := s.node.DisputeMilestone(id, params.Index, caller, strings.TrimSpace(params.ReasonRef)); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	if gig, lookupErr := s.node.GetGig(id); lookupErr == nil {
		observability.Escrow().RecordDispute(disputeModeString(gig.DisputeMode))
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleResolveMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneIndexParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ResolveMilestone(id, params.Index); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	observability.Escrow().RecordSettlement("dispute")
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetGig(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	gig, err := s.node.GetGig(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatGigJSON(gig))
}

func (s *Server) handleGetMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneIndexParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	milestone, err := s.node.GetMilestone(id, params.Index)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatMilestoneJSON(params.Index, milestone))
}
