package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/attestra/attestra/internal/certify"
	"github.com/attestra/attestra/internal/oracle"
	"github.com/attestra/attestra/internal/signal"
	"github.com/attestra/attestra/internal/trustgraph"
)

// TrustHandler handles HTTP requests for scoring, transitive trust,
// certification, and the oracle feed.
type TrustHandler struct {
	scores *signal.Service
	graph  *trustgraph.Service
	certs  *certify.Engine
	logger *zap.Logger
}

// NewTrustHandler creates a new TrustHandler.
func NewTrustHandler(scores *signal.Service, graph *trustgraph.Service, certs *certify.Engine, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{scores: scores, graph: graph, certs: certs, logger: logger}
}

// Register registers trust routes on the given router group.
func (h *TrustHandler) Register(rg *gin.RouterGroup) {
	trust := rg.Group("/trust")
	{
		trust.POST("/score", h.Score)
		trust.GET("/certification/:agent_id", h.GetCertification)
		trust.GET("/basis-points/:agent_id", h.GetBasisPoints)
	}
	rg.POST("/chain/transitive", h.TransitiveTrust)
}

type scoreRequest struct {
	AgentID  string          `json:"agent_id" binding:"required"`
	Evidence json.RawMessage `json:"evidence,omitempty"` // inline tagged evidence array
}

// Score computes an agent's trust score, folding in any inline evidence
// supplied with the request. Inline evidence bypasses the score cache.
func (h *TrustHandler) Score(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var extra []signal.Evidence
	if len(req.Evidence) > 0 {
		var err error
		extra, err = signal.ParseEvidence(req.Evidence)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "evidence: " + err.Error()})
			return
		}
	}

	score, err := h.scores.Score(c.Request.Context(), req.AgentID, extra)
	if err != nil {
		h.logger.Error("compute score", zap.String("agent_id", req.AgentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "score computation failed"})
		return
	}

	c.JSON(http.StatusOK, score)
}

type transitiveRequest struct {
	SourceID string `json:"source_agent_id" binding:"required"`
	TargetID string `json:"target_agent_id" binding:"required"`
	MaxHops  int    `json:"max_hops,omitempty"`
}

// TransitiveTrust finds the strongest attestation path from source to target.
func (h *TrustHandler) TransitiveTrust(c *gin.Context) {
	var req transitiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.graph.TransitiveTrust(c.Request.Context(), req.SourceID, req.TargetID, req.MaxHops)
	if err != nil {
		h.logger.Error("transitive trust", zap.String("source", req.SourceID), zap.String("target", req.TargetID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "path search failed"})
		return
	}

	// No path serializes as JSON null: absence of trust is a result, not an
	// error.
	c.JSON(http.StatusOK, result)
}

// GetCertification evaluates the certification policy for an agent. Every
// call is a fresh evaluation against the current ledger.
func (h *TrustHandler) GetCertification(c *gin.Context) {
	agentID := c.Param("agent_id")
	cert, err := h.certs.Evaluate(c.Request.Context(), agentID)
	if err != nil {
		h.logger.Error("evaluate certification", zap.String("agent_id", agentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "certification evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, cert)
}

// GetBasisPoints returns an agent's overall score scaled to integer basis
// points, for consumers that cannot take floats.
func (h *TrustHandler) GetBasisPoints(c *gin.Context) {
	agentID := c.Param("agent_id")
	score, err := h.scores.Score(c.Request.Context(), agentID, nil)
	if err != nil {
		h.logger.Error("compute score", zap.String("agent_id", agentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "score computation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id":       agentID,
		"basis_points":   oracle.BasisPoints(score.Overall),
		"overall":        score.Overall,
		"ledger_version": score.LedgerVersion,
		"computed_at":    score.ComputedAt,
	})
}
