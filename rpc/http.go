package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gigchain/core"
	"gigchain/crypto"
	"gigchain/observability"
	"gigchain/observability/logging"
)

const (
	jsonRPCVersion     = "2.0"
	maxRequestBytes    = 1 << 20 // 1 MiB
	rateLimitWindow    = time.Minute
	maxWritesPerWindow = 120
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	node *core.Node
	auth *authenticator

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	stuckCases   map[[32]byte]struct{}
}

func NewServer(node *core.Node) *Server {
	return &Server{
		node:         node,
		auth:         newAuthenticatorFromEnv(),
		rateLimiters: make(map[string]*rateLimiter),
		stuckCases:   make(map[[32]byte]struct{}),
	}
}

// markCaseStuck keeps the quorum-starved case gauge in sync with the latest
// stuck check or finalization for the given case.
func (s *Server) markCaseStuck(id [32]byte, stuck bool) {
	s.mu.Lock()
	if stuck {
		s.stuckCases[id] = struct{}{}
	} else {
		delete(s.stuckCases, id)
	}
	count := len(s.stuckCases)
	s.mu.Unlock()
	observability.Escrow().SetStuckCases(count)
}

// Handler returns the HTTP handler serving the JSON-RPC endpoint at / and
// Prometheus metrics at /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusRecorder captures the response status for per-method metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func methodModule(method string) string {
	if idx := strings.Index(method, "_"); idx > 0 {
		return method[:idx]
	}
	return "rpc"
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.dispatch(recorder, r, req)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, recorder.status, time.Since(start))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "gig_getBalance":
		s.handleGetBalance(w, r, req)
	case "gig_transfer":
		s.authed(w, r, req, s.handleTransfer)
	case "gig_approve":
		s.authed(w, r, req, s.handleApprove)
	case "gig_allowance":
		s.handleAllowance(w, r, req)
	case "gig_transferFrom":
		s.authed(w, r, req, s.handleTransferFrom)
	case "gig_mint":
		s.authed(w, r, req, s.handleMint)
	case "escrow_createJob":
		s.authed(w, r, req, s.handleCreateJob)
	case "escrow_cancelJob":
		s.authed(w, r, req, s.handleCancelJob)
	case "escrow_submitBid":
		s.authed(w, r, req, s.handleSubmitBid)
	case "escrow_withdrawBid":
		s.authed(w, r, req, s.handleWithdrawBid)
	case "escrow_acceptBid":
		s.authed(w, r, req, s.handleAcceptBid)
	case "escrow_submitDeliverable":
		s.authed(w, r, req, s.handleSubmitDeliverable)
	case "escrow_approve":
		s.authed(w, r, req, s.handleApproveJob)
	case "escrow_autoRelease":
		s.authed(w, r, req, s.handleAutoReleaseJob)
	case "escrow_dispute":
		s.authed(w, r, req, s.handleRaiseJobDispute)
	case "escrow_resolve":
		s.authed(w, r, req, s.handleResolveJobDispute)
	case "escrow_getJob":
		s.handleGetJob(w, r, req)
	case "escrow_listBids":
		s.handleListBids(w, r, req)
	case "escrow_createGig":
		s.authed(w, r, req, s.handleCreateGig)
	case "escrow_submitMilestone":
		s.authed(w, r, req, s.handleSubmitMilestone)
	case "escrow_approveMilestone":
		s.authed(w, r, req, s.handleApproveMilestone)
	case "escrow_autoReleaseMilestone":
		s.authed(w, r, req, s.handleAutoReleaseMilestone)
	case "escrow_disputeMilestone":
		s.authed(w, r, req, s.handleDisputeMilestone)
	case "escrow_resolveMilestone":
		s.authed(w, r, req, s.handleResolveMilestone)
	case "escrow_getGig":
		s.handleGetGig(w, r, req)
	case "escrow_getMilestone":
		s.handleGetMilestone(w, r, req)
	case "arb_submitEvidence":
		s.authed(w, r, req, s.handleSubmitEvidence)
	case "arb_castVote":
		s.authed(w, r, req, s.handleCastVote)
	case "arb_finalize":
		s.authed(w, r, req, s.handleFinalizeCase)
	case "arb_appeal":
		s.authed(w, r, req, s.handleAppealCase)
	case "arb_getCase":
		s.handleGetCase(w, r, req)
	case "arb_caseStuck":
		s.handleCaseStuck(w, r, req)
	case "arb_assert":
		s.authed(w, r, req, s.handleAssertClaim)
	case "arb_disputeAssertion":
		s.authed(w, r, req, s.handleDisputeAssertion)
	case "arb_settle":
		s.authed(w, r, req, s.handleSettleAssertion)
	case "arb_submitVerdict":
		s.authed(w, r, req, s.handleSubmitVerdict)
	case "arb_getAssertion":
		s.handleGetAssertion(w, r, req)
	case "arb_getResolution":
		s.handleGetResolution(w, r, req)
	case "registry_register":
		s.authed(w, r, req, s.handleRegisterWorker)
	case "registry_setScore":
		s.authed(w, r, req, s.handleSetWorkerScore)
	case "registry_getProfile":
		s.handleGetWorkerProfile(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) authed(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowSource(r) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	next(w, r, req)
}

// allowSource enforces a per-source window on mutating methods.
func (s *Server) allowSource(r *http.Request) bool {
	host := r.RemoteAddr
	if split, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = split
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.rateLimiters[host]
	if !ok || now.Sub(limiter.windowStart) >= rateLimitWindow {
		s.rateLimiters[host] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if limiter.count >= maxWritesPerWindow {
		return false
	}
	limiter.count++
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if err := s.auth.authorize(r); err != nil {
		slog.Warn("RPC authorization rejected",
			slog.String("source", r.RemoteAddr),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
			slog.Any("error", err))
		return &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}
	return nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.GigPrefix, addr[:]).String()
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseID(id string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return out, fmt.Errorf("id required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("id must be 32 bytes")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func formatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
