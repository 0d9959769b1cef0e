package rpc

import (
	"errors"
	"net/http"
	"strings"

	"gigchain/native/registry"
)

const (
	codeRegistryInvalidParams = -32041
	codeRegistryNotFound      = -32042
	codeRegistryForbidden     = -32043
	codeRegistryInternal      = -32045
)

type registerParams struct {
	Address     string `json:"address"`
	Handle      string `json:"handle"`
	MetadataRef string `json:"metadataRef,omitempty"`
}

type setScoreParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Score   uint64 `json:"score"`
}

type profileAddressParams struct {
	Address string `json:"address"`
}

type profileJSON struct {
	Address      string `json:"address"`
	Handle       string `json:"handle"`
	MetadataRef  string `json:"metadataRef,omitempty"`
	Score        uint64 `json:"score"`
	RegisteredAt int64  `json:"registeredAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func formatProfileJSON(p *registry.Profile) profileJSON {
	return profileJSON{
		Address:      formatAddress(p.Address),
		Handle:       p.Handle,
		MetadataRef:  p.MetadataRef,
		Score:        p.Score,
		RegisteredAt: p.RegisteredAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func writeRegistryError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeRegistryInternal
	message := "internal_error"
	switch {
	case errors.Is(err, registry.ErrProfileNotFound):
		status = http.StatusNotFound
		code = codeRegistryNotFound
		message = "not_found"
	case errors.Is(err, registry.ErrScorerUnauthorized):
		status = http.StatusForbidden
		code = codeRegistryForbidden
		message = "forbidden"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	handle := strings.TrimSpace(params.Handle)
	if handle == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", "handle required")
		return
	}
	profile, err := s.node.RegisterWorker(addr, handle, strings.TrimSpace(params.MetadataRef))
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatProfileJSON(profile))
}

func (s *Server) handleSetWorkerScore(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setScoreParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetWorkerScore(caller, addr, params.Score); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetWorkerProfile(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params profileAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	profile, err := s.node.GetWorkerProfile(addr)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatProfileJSON(profile))
}
