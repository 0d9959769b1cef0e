package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"gigchain/core"
	"gigchain/storage"
)

const testAuthToken = "test-rpc-token"

func testAddr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

type testHarness struct {
	node   *core.Node
	server *Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	t.Setenv("GIG_RPC_TOKEN", testAuthToken)
	node, err := core.NewNode(storage.NewMemDB(), core.Config{
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
	return &testHarness{node: node, server: NewServer(node)}
}

func (h *testHarness) call(t *testing.T, method string, params interface{}, authed bool) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if authed {
		httpReq.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	recorder := httptest.NewRecorder()
	h.server.handle(recorder, httpReq)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func TestHandleRejectsUnknownMethod(t *testing.T) {
	h := newTestHarness(t)
	recorder, resp := h.call(t, "gig_unknown", nil, false)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMutationsRequireAuth(t *testing.T) {
	h := newTestHarness(t)
	recorder, resp := h.call(t, "escrow_createJob", map[string]interface{}{}, false)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestJWTCredentialAccepted(t *testing.T) {
	t.Setenv("GIG_RPC_JWT_SECRET", "jwt-test-secret")
	t.Setenv("GIG_RPC_JWT_ISSUER", "gigd-test")
	h := newTestHarness(t)
	// Rebuild so the server observes the JWT environment.
	h.server = NewServer(h.node)

	claims := jwt.MapClaims{
		"iss": "gigd-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("jwt-test-secret"))
	require.NoError(t, err)

	client := testAddr(0x10)
	require.NoError(t, h.node.Mint(client, "GIG", big.NewInt(1_000)))

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      7,
		"method":  "gig_transfer",
		"params": []interface{}{map[string]string{
			"from":   formatAddress(client),
			"to":     formatAddress(testAddr(0x20)),
			"token":  "GIG",
			"amount": "250",
		}},
	})
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+tokenString)
	recorder := httptest.NewRecorder()
	h.server.handle(recorder, httpReq)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	balance, err := h.node.BalanceOf(testAddr(0x20), "GIG")
	require.NoError(t, err)
	require.Equal(t, "250", balance.String())
}

func TestJWTRejectsBadSignature(t *testing.T) {
	t.Setenv("GIG_RPC_JWT_SECRET", "jwt-test-secret")
	h := newTestHarness(t)
	h.server = NewServer(h.node)

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      8,
		"method":  "gig_mint",
		"params": []interface{}{map[string]string{
			"address": formatAddress(testAddr(0x10)),
			"token":   "GIG",
			"amount":  "1",
		}},
	})
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+tokenString)
	recorder := httptest.NewRecorder()
	h.server.handle(recorder, httpReq)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestGetBalance(t *testing.T) {
	h := newTestHarness(t)
	client := testAddr(0x10)
	require.NoError(t, h.node.Mint(client, "GIG", big.NewInt(1_234)))

	recorder, resp := h.call(t, "gig_getBalance", map[string]string{"address": formatAddress(client)}, false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var balance BalanceResponse
	require.NoError(t, json.Unmarshal(raw, &balance))
	require.Equal(t, "1234", balance.BalanceGIG)
	require.Equal(t, "0", balance.BalanceZGIG)
}

func TestJobLifecycleOverRPC(t *testing.T) {
	h := newTestHarness(t)
	client := testAddr(0x10)
	worker := testAddr(0x20)
	require.NoError(t, h.node.Mint(client, "GIG", big.NewInt(1_000)))

	deadline := time.Now().Add(24 * time.Hour).Unix()
	recorder, resp := h.call(t, "escrow_createJob", map[string]interface{}{
		"client":          formatAddress(client),
		"token":           "GIG",
		"amount":          "1000",
		"deadline":        deadline,
		"requirementsRef": "ipfs://brief",
		"nonce":           1,
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var created idResult
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Len(t, created.ID, 2+64)

	recorder, resp = h.call(t, "escrow_submitBid", map[string]interface{}{
		"id":          created.ID,
		"bidder":      formatAddress(worker),
		"amount":      "800",
		"proposalRef": "ipfs://proposal",
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Nil(t, resp.Error)

	recorder, resp = h.call(t, "escrow_acceptBid", map[string]interface{}{
		"id":       created.ID,
		"bidIndex": 0,
		"caller":   formatAddress(client),
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Nil(t, resp.Error)

	recorder, resp = h.call(t, "escrow_getJob", map[string]string{"id": created.ID}, false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var job jobJSON
	require.NoError(t, json.Unmarshal(raw, &job))
	require.Equal(t, "assigned", job.Status)
	require.Equal(t, formatAddress(worker), job.Worker)
	require.Equal(t, "800", job.AssignedAmount)

	recorder, resp = h.call(t, "escrow_listBids", map[string]string{"id": created.ID}, false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var bids []bidJSON
	require.NoError(t, json.Unmarshal(raw, &bids))
	require.Len(t, bids, 1)
	require.True(t, bids[0].Accepted)
}

func TestGetJobNotFound(t *testing.T) {
	h := newTestHarness(t)
	missing := fmt.Sprintf("0x%064x", 42)
	recorder, resp := h.call(t, "escrow_getJob", map[string]string{"id": missing}, false)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeEscrowNotFound, resp.Error.Code)
}

func TestCreateJobRejectsBadParams(t *testing.T) {
	h := newTestHarness(t)
	recorder, resp := h.call(t, "escrow_createJob", map[string]interface{}{
		"client":          "not-an-address",
		"token":           "GIG",
		"amount":          "10",
		"deadline":        time.Now().Add(time.Hour).Unix(),
		"requirementsRef": "ipfs://brief",
		"nonce":           1,
	}, true)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeEscrowInvalidParams, resp.Error.Code)
}

func TestRegistryProfileRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	workerAddr := testAddr(0x20)

	recorder, resp := h.call(t, "registry_register", map[string]string{
		"address":     formatAddress(workerAddr),
		"handle":      "solid-worker",
		"metadataRef": "ipfs://cv",
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Nil(t, resp.Error)

	recorder, resp = h.call(t, "registry_setScore", map[string]interface{}{
		"caller":  formatAddress(testAddr(0xDD)),
		"address": formatAddress(workerAddr),
		"score":   77,
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Nil(t, resp.Error)

	recorder, resp = h.call(t, "registry_getProfile", map[string]string{"address": formatAddress(workerAddr)}, false)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var profile profileJSON
	require.NoError(t, json.Unmarshal(raw, &profile))
	require.Equal(t, "solid-worker", profile.Handle)
	require.Equal(t, uint64(77), profile.Score)
}

func TestWriteRateLimitPerSource(t *testing.T) {
	h := newTestHarness(t)
	params := map[string]interface{}{
		"id":     fmt.Sprintf("0x%064x", 1),
		"caller": formatAddress(testAddr(0x10)),
	}
	for i := 0; i < maxWritesPerWindow; i++ {
		recorder, _ := h.call(t, "escrow_cancelJob", params, true)
		require.NotEqual(t, http.StatusTooManyRequests, recorder.Code)
	}
	recorder, resp := h.call(t, "escrow_cancelJob", params, true)
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestMetricsEndpointServed(t *testing.T) {
	h := newTestHarness(t)
	handler := h.server.Handler()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
}

func scrapeGauge(t *testing.T, h *testHarness, name string) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	for _, line := range strings.Split(recorder.Body.String(), "\n") {
		if strings.HasPrefix(line, name+" ") {
			return strings.TrimPrefix(line, name+" ")
		}
	}
	t.Fatalf("gauge %s not found in /metrics output", name)
	return ""
}

func TestStuckCaseGaugeTracksChecks(t *testing.T) {
	h := newTestHarness(t)
	var first, second [32]byte
	first[31] = 0x01
	second[31] = 0x02

	h.server.markCaseStuck(first, true)
	h.server.markCaseStuck(second, true)
	require.Equal(t, "2", scrapeGauge(t, h, "gig_arbitration_stuck_cases"))

	h.server.markCaseStuck(first, false)
	require.Equal(t, "1", scrapeGauge(t, h, "gig_arbitration_stuck_cases"))

	h.server.markCaseStuck(second, false)
	require.Equal(t, "0", scrapeGauge(t, h, "gig_arbitration_stuck_cases"))
}
