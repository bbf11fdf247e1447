package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/pkg/jwk"
)

// AttestationHandler handles HTTP requests for the attestation ledger.
type AttestationHandler struct {
	ledger *ledger.Ledger
	tokens *TokenIssuer // nil = revocation open (development mode)
	logger *zap.Logger
}

// NewAttestationHandler creates a new AttestationHandler. tokens may be nil
// to disable auth on the revocation route.
func NewAttestationHandler(l *ledger.Ledger, tokens *TokenIssuer, logger *zap.Logger) *AttestationHandler {
	return &AttestationHandler{ledger: l, tokens: tokens, logger: logger}
}

// Register registers attestation and chain routes on the given router group.
func (h *AttestationHandler) Register(rg *gin.RouterGroup) {
	atts := rg.Group("/attestations")
	{
		atts.POST("/create", h.CreateAttestation)
		atts.POST("/submit", h.SubmitAttestation)
		atts.POST("/verify", h.VerifyAttestation)
		atts.POST("/:fingerprint/revoke", RequireToken(h.tokens), h.RevokeAttestation)
	}
	rg.GET("/chain/:subject_id", h.GetChain)
	rg.GET("/ledger/integrity", h.CheckIntegrity)
	rg.GET("/ledger/version", h.GetVersion)
}

type createAttestationRequest struct {
	WitnessID  string   `json:"witness_id" binding:"required"`
	SubjectID  string   `json:"subject_id" binding:"required"`
	Task       string   `json:"task"       binding:"required"`
	Evidence   string   `json:"evidence"   binding:"required"`
	WitnessKey *jwk.Key `json:"witness_key" binding:"required"`
}

// CreateAttestation signs a new attestation with the supplied witness key and
// appends it to the ledger. The private key is used in-process and never
// stored.
func (h *AttestationHandler) CreateAttestation(c *gin.Context) {
	var req createAttestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priv, err := req.WitnessKey.PrivateKey()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "witness_key: " + err.Error()})
		return
	}

	att, err := ledger.Create(req.WitnessID, req.SubjectID, req.Task, req.Evidence, priv)
	if err != nil {
		writeVerifyError(c, err)
		return
	}

	outcome, err := h.ledger.Append(c.Request.Context(), att)
	if err != nil {
		writeVerifyError(c, err)
		return
	}

	RecordAppend(outcome.String())
	status := http.StatusCreated
	if outcome == ledger.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"outcome": outcome.String(), "attestation": att})
}

// SubmitAttestation appends an externally signed attestation to the ledger.
func (h *AttestationHandler) SubmitAttestation(c *gin.Context) {
	var att ledger.Attestation
	if err := c.ShouldBindJSON(&att); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.ledger.Append(c.Request.Context(), &att)
	if err != nil {
		writeVerifyError(c, err)
		return
	}

	RecordAppend(outcome.String())
	status := http.StatusCreated
	if outcome == ledger.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"outcome": outcome.String(), "attestation": att})
}

// VerifyAttestation checks an attestation against the key registry without
// appending it.
func (h *AttestationHandler) VerifyAttestation(c *gin.Context) {
	var att ledger.Attestation
	if err := c.ShouldBindJSON(&att); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ledger.Verify(c.Request.Context(), &att); err != nil {
		if kind, ok := ledger.IsVerifyError(err); ok {
			RecordVerifyFailure(string(kind))
			c.JSON(http.StatusOK, gin.H{"valid": false, "kind": string(kind), "error": err.Error()})
			return
		}
		h.logger.Error("verify attestation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

type revokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RevokeAttestation marks an attestation revoked. The entry stays in the
// chain for audit but is excluded from scoring.
func (h *AttestationHandler) RevokeAttestation(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fp := c.Param("fingerprint")
	if err := h.ledger.Revoke(c.Request.Context(), fp, req.Reason); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attestation not found"})
			return
		}
		h.logger.Error("revoke attestation", zap.String("fingerprint", fp), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revocation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fingerprint": fp, "revoked": true})
}

// GetChain returns a subject's attestation chain ordered oldest first.
// Pass ?include_revoked=true for the audit view.
func (h *AttestationHandler) GetChain(c *gin.Context) {
	subjectID := c.Param("subject_id")
	includeRevoked, _ := strconv.ParseBool(c.DefaultQuery("include_revoked", "false"))

	var (
		chain []*ledger.Attestation
		err   error
	)
	if includeRevoked {
		chain, err = h.ledger.ChainAudit(c.Request.Context(), subjectID)
	} else {
		chain, err = h.ledger.Chain(c.Request.Context(), subjectID)
	}
	if err != nil {
		h.logger.Error("load chain", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chain"})
		return
	}
	if chain == nil {
		chain = []*ledger.Attestation{}
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_id":   subjectID,
		"attestations": chain,
		"count":        len(chain),
	})
}

// CheckIntegrity re-verifies every signature in the ledger.
func (h *AttestationHandler) CheckIntegrity(c *gin.Context) {
	if err := h.ledger.CheckIntegrity(c.Request.Context()); err != nil {
		h.logger.Error("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"intact": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intact": true})
}

// GetVersion returns the ledger version counter. The version advances on
// every append and revocation, so it doubles as a cache key for clients.
func (h *AttestationHandler) GetVersion(c *gin.Context) {
	v, err := h.ledger.Version(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read version"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": v})
}

// writeVerifyError maps a verification failure to an HTTP response. Verify
// kinds are client errors; anything else is a 500.
func writeVerifyError(c *gin.Context, err error) {
	if kind, ok := ledger.IsVerifyError(err); ok {
		RecordVerifyFailure(string(kind))
		status := http.StatusUnprocessableEntity
		if kind == ledger.KindMalformedPayload {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": string(kind)})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
