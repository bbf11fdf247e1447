package signal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/attestra/attestra/internal/ledger"
	"go.uber.org/zap"
)

// EventScoreUpdated is emitted when a recomputation changes an agent's
// overall score.
const EventScoreUpdated = "score.updated"

// EvidenceSource supplies already-resolved external signal evidence for an
// agent. The platform scraping that produces it lives entirely outside this
// core; scoring never does network I/O.
type EvidenceSource interface {
	Evidence(ctx context.Context, agentID string) ([]Evidence, error)
}

// StaticSource is an EvidenceSource backed by a fixed map, for development
// and tests.
type StaticSource map[string][]Evidence

// Evidence implements EvidenceSource.
func (s StaticSource) Evidence(_ context.Context, agentID string) ([]Evidence, error) {
	return s[agentID], nil
}

// cacheTTL bounds how long a memoized score may serve reads. Scores decay
// continuously with time, so even an unchanged ledger goes stale.
const cacheTTL = 30 * time.Second

type cachedScore struct {
	score      *TrustScore
	ledgerVer  int64
	computedAt time.Time
}

// MetricsRecorder is an optional callback invoked on every full recomputation,
// cache hits excluded.
type MetricsRecorder func()

// Service computes trust scores on demand, memoizing per agent against the
// ledger version, and emits score.updated when a recomputation moves an
// agent's overall score.
type Service struct {
	model    Model
	ledger   *ledger.Ledger
	source    EvidenceSource  // nil = chain-only scoring
	notifier  ledger.Notifier // nil = no event emission
	onCompute MetricsRecorder
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedScore
	last  map[string]float64 // last overall observed per agent, for change events
}

// NewService creates a scoring Service. source and notifier may be nil.
func NewService(model Model, l *ledger.Ledger, source EvidenceSource, notifier ledger.Notifier, logger *zap.Logger) *Service {
	return &Service{
		model:    model,
		ledger:   l,
		source:   source,
		notifier: notifier,
		logger:   logger,
		cache:    make(map[string]cachedScore),
		last:     make(map[string]float64),
	}
}

// SetMetricsRecorder configures a callback invoked on every recomputation.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onCompute = fn
}

// Model returns the service's score model.
func (s *Service) Model() Model {
	return s.model
}

// Score returns the agent's current trust score, recomputing from a fresh
// ledger snapshot when the cached value is stale. extra evidence, if any, is
// merged over the configured source's evidence and bypasses the cache.
func (s *Service) Score(ctx context.Context, agentID string, extra []Evidence) (*TrustScore, error) {
	version, err := s.ledger.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger version: %w", err)
	}

	now := time.Now().UTC()
	if len(extra) == 0 {
		s.mu.Lock()
		c, ok := s.cache[agentID]
		s.mu.Unlock()
		if ok && c.ledgerVer == version && now.Sub(c.computedAt) < cacheTTL {
			return c.score, nil
		}
	}

	chain, err := s.ledger.Chain(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}

	var evidence []Evidence
	if s.source != nil {
		evidence, err = s.source.Evidence(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("fetch evidence: %w", err)
		}
	}
	evidence = append(evidence, extra...)

	score, err := s.model.Compute(agentID, chain, evidence, now)
	if err != nil {
		return nil, err
	}
	score.LedgerVersion = version
	if s.onCompute != nil {
		s.onCompute()
	}

	if len(extra) == 0 {
		s.mu.Lock()
		s.cache[agentID] = cachedScore{score: score, ledgerVer: version, computedAt: now}
		prev, seen := s.last[agentID]
		s.last[agentID] = score.Overall
		s.mu.Unlock()

		if seen && math.Abs(prev-score.Overall) > 1e-9 && s.notifier != nil {
			s.notifier.Notify(ctx, EventScoreUpdated, map[string]string{
				"agent_id":  agentID,
				"overall":   fmt.Sprintf("%.6f", score.Overall),
				"timestamp": now.Format(time.RFC3339Nano),
			})
		}
	}

	s.logger.Debug("trust score computed",
		zap.String("agent_id", agentID),
		zap.Float64("overall", score.Overall),
		zap.Float64("total_confidence", score.TotalConfidence),
		zap.Int64("ledger_version", version),
	)
	return score, nil
}
