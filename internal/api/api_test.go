package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/attestra/attestra/internal/api"
	"github.com/attestra/attestra/internal/certify"
	"github.com/attestra/attestra/internal/events"
	"github.com/attestra/attestra/internal/keyregistry"
	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/signal"
	"github.com/attestra/attestra/internal/trustgraph"
	"github.com/attestra/attestra/pkg/jwk"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	registry := keyregistry.New(keyregistry.NewMemoryStore())
	led := ledger.New(registry, ledger.NewMemoryStore(), nil, logger)
	scores := signal.NewService(signal.ModelV1(), led, nil, nil, logger)
	graph := trustgraph.NewService(led, signal.ModelV1(), logger)
	certs := certify.NewEngine(certify.DefaultPolicy(), scores, led, logger)
	hooks := events.NewService(events.NewMemoryStore(), logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	api.NewAgentHandler(registry, logger).Register(v1)
	api.NewAttestationHandler(led, nil, logger).Register(v1)
	api.NewTrustHandler(scores, graph, certs, logger).Register(v1)
	api.NewWebhookHandler(hooks, nil, logger).Register(v1)
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// registerAgent registers a fresh key and returns its id and full JWK.
func registerAgent(t *testing.T, router *gin.Engine) (string, *jwk.Key) {
	t.Helper()
	key, err := jwk.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w := doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{
		"public_key": key.Public(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register agent: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.AgentID, key
}

func TestRegisterAgent_DuplicateConflict(t *testing.T) {
	router := setupRouter(t)
	_, key := registerAgent(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{
		"public_key": key.Public(),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetAgent(t *testing.T) {
	router := setupRouter(t)
	agentID, _ := registerAgent(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/agents/"+agentID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/agents/ag_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", w.Code)
	}
}

func TestRotateKey(t *testing.T) {
	router := setupRouter(t)
	agentID, key := registerAgent(t, router)

	newKey, err := jwk.Generate()
	if err != nil {
		t.Fatalf("generate new key: %v", err)
	}
	oldPriv, err := key.PrivateKey()
	if err != nil {
		t.Fatalf("old private key: %v", err)
	}
	newPub, err := newKey.PublicKey()
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	proof := keyregistry.SignRotation(oldPriv, agentID, newPub)

	w := doJSON(t, router, http.MethodPost, "/api/v1/agents/"+agentID+"/rotate", map[string]any{
		"new_public_key": newKey.Public(),
		"proof":          fmt.Sprintf("%x", proof),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// A proof from a key that was never registered must be rejected.
	rogue, _ := jwk.Generate()
	roguePriv, _ := rogue.PrivateKey()
	badProof := keyregistry.SignRotation(roguePriv, agentID, newPub)
	w = doJSON(t, router, http.MethodPost, "/api/v1/agents/"+agentID+"/rotate", map[string]any{
		"new_public_key": rogue.Public(),
		"proof":          fmt.Sprintf("%x", badProof),
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad proof, got %d: %s", w.Code, w.Body.String())
	}
}

func createAttestation(t *testing.T, router *gin.Engine, witnessID, subjectID string, key *jwk.Key) map[string]any {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/attestations/create", map[string]any{
		"witness_id":  witnessID,
		"subject_id":  subjectID,
		"task":        "code-review",
		"evidence":    "https://example.com/pr/42",
		"witness_key": key,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create attestation: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestCreateAttestation_IdempotentResubmit(t *testing.T) {
	router := setupRouter(t)
	witnessID, key := registerAgent(t, router)
	subjectID, _ := registerAgent(t, router)

	resp := createAttestation(t, router, witnessID, subjectID, key)
	if resp["outcome"] != "inserted" {
		t.Fatalf("expected outcome inserted, got %v", resp["outcome"])
	}

	att := resp["attestation"].(map[string]any)
	w := doJSON(t, router, http.MethodPost, "/api/v1/attestations/submit", att)
	if w.Code != http.StatusOK {
		t.Fatalf("resubmit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var again map[string]any
	json.Unmarshal(w.Body.Bytes(), &again)
	if again["outcome"] != "duplicate" {
		t.Errorf("expected outcome duplicate, got %v", again["outcome"])
	}
}

func TestCreateAttestation_SelfAttestationRejected(t *testing.T) {
	router := setupRouter(t)
	witnessID, key := registerAgent(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/attestations/create", map[string]any{
		"witness_id":  witnessID,
		"subject_id":  witnessID,
		"task":        "code-review",
		"evidence":    "https://example.com/pr/1",
		"witness_key": key,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["kind"] != "self_attestation" {
		t.Errorf("expected kind self_attestation, got %v", resp["kind"])
	}
}

func TestVerifyEndpoint_TamperedAttestation(t *testing.T) {
	router := setupRouter(t)
	witnessID, key := registerAgent(t, router)
	subjectID, _ := registerAgent(t, router)

	resp := createAttestation(t, router, witnessID, subjectID, key)
	att := resp["attestation"].(map[string]any)

	w := doJSON(t, router, http.MethodPost, "/api/v1/attestations/verify", att)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var verdict map[string]any
	json.Unmarshal(w.Body.Bytes(), &verdict)
	if verdict["valid"] != true {
		t.Fatalf("expected valid=true, got %v", verdict)
	}

	att["task"] = "code-review-tampered"
	w = doJSON(t, router, http.MethodPost, "/api/v1/attestations/verify", att)
	json.Unmarshal(w.Body.Bytes(), &verdict)
	if verdict["valid"] != false {
		t.Fatalf("expected valid=false after tamper, got %v", verdict)
	}
	if verdict["kind"] != "invalid_signature" {
		t.Errorf("expected kind invalid_signature, got %v", verdict["kind"])
	}
}

func TestGetChain_IncludeRevoked(t *testing.T) {
	router := setupRouter(t)
	witnessID, key := registerAgent(t, router)
	subjectID, _ := registerAgent(t, router)

	resp := createAttestation(t, router, witnessID, subjectID, key)
	fp := resp["attestation"].(map[string]any)["fingerprint"].(string)

	w := doJSON(t, router, http.MethodPost, "/api/v1/attestations/"+fp+"/revoke", map[string]any{
		"reason": "evidence link rotted",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/chain/"+subjectID, nil)
	var chain map[string]any
	json.Unmarshal(w.Body.Bytes(), &chain)
	if int(chain["count"].(float64)) != 0 {
		t.Errorf("expected empty default chain after revocation, got %v", chain["count"])
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/chain/"+subjectID+"?include_revoked=true", nil)
	json.Unmarshal(w.Body.Bytes(), &chain)
	if int(chain["count"].(float64)) != 1 {
		t.Errorf("expected 1 entry in audit chain, got %v", chain["count"])
	}
}

func TestRevoke_UnknownFingerprint404(t *testing.T) {
	router := setupRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/attestations/deadbeef/revoke", map[string]any{
		"reason": "test",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLedgerIntegrityAndVersion(t *testing.T) {
	router := setupRouter(t)
	witnessID, key := registerAgent(t, router)
	subjectID, _ := registerAgent(t, router)
	createAttestation(t, router, witnessID, subjectID, key)

	w := doJSON(t, router, http.MethodGet, "/api/v1/ledger/integrity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("integrity: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/ledger/version", nil)
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["version"].(float64)) < 1 {
		t.Errorf("expected version >= 1, got %v", resp["version"])
	}
}

func TestScoreEndpoint_InlineEvidence(t *testing.T) {
	router := setupRouter(t)
	agentID, _ := registerAgent(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/trust/score", map[string]any{
		"agent_id": agentID,
		"evidence": []map[string]any{
			{
				"signal": "platform_reputation",
				"payload": map[string]any{
					"platform": "github",
					"rating":   0.9,
					"samples":  40,
				},
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var score map[string]any
	json.Unmarshal(w.Body.Bytes(), &score)
	overall := score["overall"].(float64)
	if overall <= 0.89 || overall >= 0.91 {
		t.Errorf("single saturated signal should pass through, got overall %v", overall)
	}
}

func TestScoreEndpoint_BadEvidenceRejected(t *testing.T) {
	router := setupRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/trust/score", map[string]any{
		"agent_id": "ag_anything",
		"evidence": []map[string]any{
			{"signal": "no_such_signal", "payload": map[string]any{}},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransitiveTrustEndpoint(t *testing.T) {
	router := setupRouter(t)
	aID, aKey := registerAgent(t, router)
	bID, bKey := registerAgent(t, router)
	cID, _ := registerAgent(t, router)

	createAttestation(t, router, aID, bID, aKey)
	createAttestation(t, router, bID, cID, bKey)

	w := doJSON(t, router, http.MethodPost, "/api/v1/chain/transitive", map[string]any{
		"source_agent_id": aID,
		"target_agent_id": cID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("transitive: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp == nil {
		t.Fatalf("expected a path result, got %s", w.Body.String())
	}
	if int(resp["hops"].(float64)) != 2 {
		t.Errorf("expected 2 hops, got %v", resp["hops"])
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/chain/transitive", map[string]any{
		"source_agent_id": cID,
		"target_agent_id": aID,
	})
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "null" {
		t.Errorf("attestation edges are directed, expected null, got %s", got)
	}
}

func TestCertificationEndpoint(t *testing.T) {
	router := setupRouter(t)
	agentID, _ := registerAgent(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/trust/certification/"+agentID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("certification: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var cert map[string]any
	json.Unmarshal(w.Body.Bytes(), &cert)
	if cert["certified"] != false {
		t.Errorf("agent with no attestations must not certify, got %v", cert)
	}
}

func TestBasisPointsEndpoint(t *testing.T) {
	router := setupRouter(t)
	agentID, _ := registerAgent(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/trust/basis-points/"+agentID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("basis-points: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["basis_points"].(float64)) != 0 {
		t.Errorf("expected 0 basis points with no signals, got %v", resp["basis_points"])
	}
}

func TestWebhookLifecycle(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"attestation.created"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]any
	json.Unmarshal(w.Body.Bytes(), &created)
	if created["secret"] == "" {
		t.Fatal("expected signing secret in subscribe response")
	}
	id := created["subscription"].(map[string]any)["id"].(string)

	w = doJSON(t, router, http.MethodGet, "/api/v1/webhooks", nil)
	var listed map[string]any
	json.Unmarshal(w.Body.Bytes(), &listed)
	if int(listed["count"].(float64)) != 1 {
		t.Fatalf("expected 1 subscription, got %v", listed["count"])
	}
	subs := listed["subscriptions"].([]any)
	if _, hasSecret := subs[0].(map[string]any)["secret"]; hasSecret {
		t.Error("list response must not expose signing secrets")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/webhooks/"+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/webhooks/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestTokenGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	issuer := api.NewTokenIssuer("test-secret", "attestra-test", time.Hour)
	hooks := events.NewService(events.NewMemoryStore(), logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	api.NewWebhookHandler(hooks, issuer, logger).Register(v1)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, err := issuer.Issue("ops")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
}
