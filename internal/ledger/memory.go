package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Revoke when no attestation has the given
// fingerprint.
var ErrNotFound = errors.New("attestation not found")

// MemoryStore is an in-memory, thread-safe Store implementation. Inserts to
// the same subject are serialized on a per-subject mutex; inserts to
// different subjects proceed in parallel, touching shared index state only
// briefly.
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string]*subjectChain
	byFP     map[string]*Attestation
	seq      int64
	version  int64
}

type subjectChain struct {
	mu   sync.Mutex
	atts []*Attestation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects: make(map[string]*subjectChain),
		byFP:     make(map[string]*Attestation),
	}
}

func (s *MemoryStore) chainFor(subjectID string) *subjectChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.subjects[subjectID]
	if !ok {
		sc = &subjectChain{}
		s.subjects[subjectID] = sc
	}
	return sc
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, att *Attestation) (AppendOutcome, error) {
	sc := s.chainFor(att.SubjectID)

	// Per-subject writer lock: makes the duplicate-check-then-insert atomic
	// for this subject without blocking writers on other subjects.
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s.mu.Lock()
	if _, exists := s.byFP[att.Fingerprint]; exists {
		s.mu.Unlock()
		return Duplicate, nil
	}
	s.seq++
	s.version++
	cp := *att
	cp.Seq = s.seq
	s.byFP[cp.Fingerprint] = &cp
	s.mu.Unlock()

	sc.atts = append(sc.atts, &cp)
	return Inserted, nil
}

// Chain implements Store.
func (s *MemoryStore) Chain(_ context.Context, subjectID string, includeRevoked bool) ([]*Attestation, error) {
	s.mu.RLock()
	sc, ok := s.subjects[subjectID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	// Copy records while holding s.mu too: Revoke mutates them under s.mu,
	// so dereferencing outside it would race. Lock order (sc.mu then s.mu)
	// matches Insert.
	sc.mu.Lock()
	s.mu.RLock()
	out := orderChain(sc.atts, includeRevoked)
	s.mu.RUnlock()
	sc.mu.Unlock()

	return out, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(_ context.Context, fp, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.byFP[fp]
	if !ok {
		return ErrNotFound
	}
	att.Revoked = true
	att.RevokedReason = reason
	s.version++
	return nil
}

// All implements Store.
func (s *MemoryStore) All(_ context.Context, includeRevoked bool) ([]*Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]*Attestation, 0, len(s.byFP))
	for _, att := range s.byFP {
		snapshot = append(snapshot, att)
	}
	return orderChain(snapshot, includeRevoked), nil
}

// Version implements Store.
func (s *MemoryStore) Version(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

// orderChain sorts by (timestamp, seq) ascending, copying each record and
// filtering revoked entries unless asked to keep them.
func orderChain(atts []*Attestation, includeRevoked bool) []*Attestation {
	out := make([]*Attestation, 0, len(atts))
	for _, att := range atts {
		if att.Revoked && !includeRevoked {
			continue
		}
		cp := *att
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}
