package api

import (
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/attestra/attestra/internal/keyregistry"
	"github.com/attestra/attestra/pkg/jwk"
)

// AgentHandler handles HTTP requests for agent identity registration.
type AgentHandler struct {
	registry *keyregistry.Registry
	logger   *zap.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(registry *keyregistry.Registry, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{registry: registry, logger: logger}
}

// Register registers agent routes on the given router group.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.POST("", h.RegisterAgent)
		agents.GET("/:id", h.GetAgent)
		agents.POST("/:id/rotate", h.RotateKey)
	}
}

type registerAgentRequest struct {
	PublicKey *jwk.Key `json:"public_key" binding:"required"`
}

// RegisterAgent binds a public key to its derived agent id. The id is
// derived from the key, so a caller cannot claim an arbitrary identity.
func (h *AgentHandler) RegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pub, err := req.PublicKey.PublicKey()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "public_key: " + err.Error()})
		return
	}

	agentID := keyregistry.DeriveAgentID(pub)
	if err := h.registry.Register(c.Request.Context(), agentID, pub); err != nil {
		if errors.Is(err, keyregistry.ErrDuplicateAgent) {
			c.JSON(http.StatusConflict, gin.H{"error": "agent already registered", "agent_id": agentID})
			return
		}
		h.logger.Error("register agent", zap.String("agent_id", agentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	if n, err := h.registry.Count(c.Request.Context()); err == nil {
		SetAgentsGauge(float64(n))
	}

	h.logger.Info("agent registered", zap.String("agent_id", agentID))
	c.JSON(http.StatusCreated, gin.H{
		"agent_id":   agentID,
		"public_key": req.PublicKey.Public(),
	})
}

// GetAgent returns an agent's current public key as a JWK.
func (h *AgentHandler) GetAgent(c *gin.Context) {
	agentID := c.Param("id")
	pub, err := h.registry.Lookup(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, keyregistry.ErrUnknownAgent) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
			return
		}
		h.logger.Error("lookup agent", zap.String("agent_id", agentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id":   agentID,
		"public_key": jwk.FromPublic(pub),
	})
}

type rotateKeyRequest struct {
	NewPublicKey *jwk.Key `json:"new_public_key" binding:"required"`
	Proof        string   `json:"proof"          binding:"required"` // hex signature by the current key
}

// RotateKey replaces an agent's key. The request must carry a rotation proof
// signed by the current key; the agent id is unchanged.
func (h *AgentHandler) RotateKey(c *gin.Context) {
	var req rotateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newPub, err := req.NewPublicKey.PublicKey()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_public_key: " + err.Error()})
		return
	}
	proof, err := hex.DecodeString(req.Proof)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "proof must be hex encoded"})
		return
	}

	agentID := c.Param("id")
	if err := h.registry.Rotate(c.Request.Context(), agentID, newPub, proof); err != nil {
		switch {
		case errors.Is(err, keyregistry.ErrUnknownAgent):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
		case errors.Is(err, keyregistry.ErrInvalidRotationProof):
			c.JSON(http.StatusForbidden, gin.H{"error": "rotation proof does not verify"})
		default:
			h.logger.Error("rotate key", zap.String("agent_id", agentID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rotation failed"})
		}
		return
	}

	h.logger.Info("agent key rotated", zap.String("agent_id", agentID))
	c.JSON(http.StatusOK, gin.H{
		"agent_id":   agentID,
		"public_key": req.NewPublicKey.Public(),
	})
}
