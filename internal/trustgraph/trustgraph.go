// Package trustgraph answers transitive trust queries over the attestation
// ledger: how much should agent A trust agent B when no direct attestation
// exists, going through intermediate attestors.
//
// The graph is derived per query from a ledger snapshot and never stored.
// An edge witness→subject carries the strength of the witness's most recent
// non-revoked attestation of the subject, bounded to [0,1]. Trust along a
// path is the product of its edge weights, so every hop discounts and no
// path can amplify trust. The query result is the maximum product over all
// simple paths within the hop budget.
package trustgraph

import (
	"context"
	"time"

	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/signal"
	"go.uber.org/zap"
)

// MaxHops bounds every traversal. Caller-supplied budgets above this are
// clamped, keeping worst-case search cost polynomial in practice.
const MaxHops = 6

// PathResult explains a resolved transitive trust query.
type PathResult struct {
	Source string   `json:"source_agent_id"`
	Target string   `json:"target_agent_id"`
	Trust  float64  `json:"trust"`
	Path   []string `json:"path"` // agent ids from source to target inclusive
	Hops   int      `json:"hops"`
}

type edge struct {
	weight float64
	at     time.Time
	seq    int64
}

// Graph is a directed trust graph derived from a ledger snapshot.
type Graph struct {
	edges map[string]map[string]edge
}

// Build folds a snapshot of attestations into a graph. Multiple attestations
// from the same witness to the same subject collapse to the most recent one
// (by timestamp, then seq). strength maps an attestation to its edge weight
// and must return values in [0,1].
func Build(atts []*ledger.Attestation, strength func(*ledger.Attestation) float64) *Graph {
	g := &Graph{edges: make(map[string]map[string]edge)}
	for _, att := range atts {
		if att.Revoked {
			continue
		}
		out, ok := g.edges[att.WitnessID]
		if !ok {
			out = make(map[string]edge)
			g.edges[att.WitnessID] = out
		}
		prev, exists := out[att.SubjectID]
		if exists && (att.Timestamp.Before(prev.at) || (att.Timestamp.Equal(prev.at) && att.Seq < prev.seq)) {
			continue
		}
		w := strength(att)
		if w < 0 {
			w = 0
		}
		if w > 1 {
			w = 1
		}
		out[att.SubjectID] = edge{weight: w, at: att.Timestamp, seq: att.Seq}
	}
	return g
}

// TransitiveTrust finds the strongest simple path from source to target
// within maxHops. It returns nil when no path exists — absence of trust is
// not an error. source == target resolves trivially to 1.0 at zero hops.
// The traversal honors ctx cancellation.
func (g *Graph) TransitiveTrust(ctx context.Context, source, target string, maxHops int) (*PathResult, error) {
	if maxHops <= 0 || maxHops > MaxHops {
		maxHops = MaxHops
	}
	if source == target {
		return &PathResult{Source: source, Target: target, Trust: 1.0, Path: []string{source}, Hops: 0}, nil
	}

	search := &pathSearch{
		graph:   g,
		target:  target,
		maxHops: maxHops,
		visited: map[string]bool{source: true},
		path:    []string{source},
	}
	if err := search.dfs(ctx, source, 1.0, 0); err != nil {
		return nil, err
	}
	if search.best == nil {
		return nil, nil
	}
	return &PathResult{
		Source: source,
		Target: target,
		Trust:  search.bestTrust,
		Path:   search.best,
		Hops:   len(search.best) - 1,
	}, nil
}

type pathSearch struct {
	graph     *Graph
	target    string
	maxHops   int
	visited   map[string]bool
	path      []string
	best      []string
	bestTrust float64
	steps     int
}

func (s *pathSearch) dfs(ctx context.Context, node string, product float64, hops int) error {
	if hops >= s.maxHops {
		return nil
	}
	s.steps++
	if s.steps%1024 == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	for next, e := range s.graph.edges[node] {
		if s.visited[next] {
			continue // simple paths only; cycles cannot form
		}
		trust := product * e.weight
		if trust <= s.bestTrust {
			// A longer path through here can only discount further.
			continue
		}
		if next == s.target {
			s.bestTrust = trust
			s.best = append(append([]string(nil), s.path...), next)
			continue
		}

		s.visited[next] = true
		s.path = append(s.path, next)
		if err := s.dfs(ctx, next, trust, hops+1); err != nil {
			return err
		}
		s.path = s.path[:len(s.path)-1]
		s.visited[next] = false
	}
	return nil
}

// Service builds graphs from live ledger snapshots and answers queries.
type Service struct {
	ledger *ledger.Ledger
	model  signal.Model
	logger *zap.Logger
}

// NewService creates a trust graph Service. Edge strengths use the score
// model's decay, so stale attestations carry less transitive weight too.
func NewService(l *ledger.Ledger, model signal.Model, logger *zap.Logger) *Service {
	return &Service{ledger: l, model: model, logger: logger}
}

// TransitiveTrust snapshots the ledger and resolves the query against it.
func (s *Service) TransitiveTrust(ctx context.Context, source, target string, maxHops int) (*PathResult, error) {
	atts, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	g := Build(atts, func(att *ledger.Attestation) float64 {
		return s.model.AttestationStrength(att, now)
	})

	result, err := g.TransitiveTrust(ctx, source, target, maxHops)
	if err != nil {
		return nil, err
	}
	if result == nil {
		s.logger.Debug("no trust path",
			zap.String("source", source),
			zap.String("target", target),
			zap.Int("max_hops", maxHops),
		)
	}
	return result, nil
}
