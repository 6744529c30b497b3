// Package buildset defines the store contract that schedulers write
// buildsets to and that status reporting reads from, together with the
// in-memory reference implementation used by tryd.
package buildset

import (
	"fmt"
	"sync"
	"time"

	"github.com/buildmill/tryd/pkg/broker"
	"github.com/buildmill/tryd/pkg/types"
	"github.com/google/uuid"
)

// BuildResult is the per-builder state of a buildset.
type BuildResult struct {
	Status types.BuildStatus `json:"status"`
	Text   string            `json:"text"`
}

// Buildset groups the per-builder build requests derived from a single job
// submission. Exactly one buildset exists per submission, regardless of the
// builder count.
type Buildset struct {
	ID           string                 `json:"id"`
	SourceStamp  types.SourceStamp      `json:"sourceStamp"`
	BuilderNames []string               `json:"builderNames"`
	Comment      string                 `json:"comment"`
	CreatedAt    time.Time              `json:"createdAt"`
	Results      map[string]BuildResult `json:"results"`
}

// Complete reports whether every builder of the buildset has reached a
// terminal status.
func (bs *Buildset) Complete() bool {
	for _, name := range bs.BuilderNames {
		if !bs.Results[name].Status.Terminal() {
			return false
		}
	}
	return true
}

// Store is the buildset persistence contract consumed by the schedulers
// and the status surface. Implementations must serialize concurrent
// creation requests.
type Store interface {
	// CreateBuildset records a new buildset covering all the given
	// builders and returns it.
	CreateBuildset(ss types.SourceStamp, builderNames []string, comment string) (*Buildset, error)

	// Buildset returns a snapshot of the buildset with the given id.
	Buildset(id string) (*Buildset, bool)

	// Buildsets returns snapshots of all buildsets in creation order.
	Buildsets() []*Buildset

	// RecordResult sets the result of one builder of a buildset.
	RecordResult(id, builder string, status types.BuildStatus, text string) error
}

// MemStore is the in-memory Store used by tryd. Completion events are
// published to the attached broker; an optional OnCreate hook hands each
// new buildset to a build engine.
type MemStore struct {
	mu        sync.Mutex
	buildsets []*Buildset
	byID      map[string]*Buildset

	br *broker.Broker

	// OnCreate, if set, is invoked on its own goroutine for every created
	// buildset. Set it before the store receives traffic.
	OnCreate func(*Buildset)
}

// NewMemStore returns an empty MemStore publishing events to br. br may be
// nil when no one waits for completions.
func NewMemStore(br *broker.Broker) *MemStore {
	return &MemStore{byID: make(map[string]*Buildset), br: br}
}

// CreateBuildset implements Store. Every builder starts out pending.
func (s *MemStore) CreateBuildset(ss types.SourceStamp, builderNames []string, comment string) (*Buildset, error) {
	if len(builderNames) == 0 {
		return nil, fmt.Errorf("buildset needs at least one builder")
	}

	bs := &Buildset{
		ID:           uuid.New().String(),
		SourceStamp:  ss,
		BuilderNames: append([]string(nil), builderNames...),
		Comment:      comment,
		CreatedAt:    time.Now(),
		Results:      make(map[string]BuildResult, len(builderNames)),
	}
	for _, name := range builderNames {
		bs.Results[name] = BuildResult{Status: types.StatusPending}
	}

	s.mu.Lock()
	s.buildsets = append(s.buildsets, bs)
	s.byID[bs.ID] = bs
	s.mu.Unlock()

	if s.OnCreate != nil {
		go s.OnCreate(bs)
	}
	return bs, nil
}

// Buildset implements Store. Results keep changing while builds run, so a
// copy is returned rather than the live record.
func (s *MemStore) Buildset(id string) (*Buildset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return bs.snapshot(), true
}

// Buildsets implements Store.
func (s *MemStore) Buildsets() []*Buildset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Buildset, len(s.buildsets))
	for i, bs := range s.buildsets {
		out[i] = bs.snapshot()
	}
	return out
}

// snapshot copies bs. Callers must hold s.mu.
func (bs *Buildset) snapshot() *Buildset {
	cp := *bs
	cp.Results = make(map[string]BuildResult, len(bs.Results))
	for name, res := range bs.Results {
		cp.Results[name] = res
	}
	return &cp
}

// RecordResult implements Store and publishes the matching BuildEvent.
func (s *MemStore) RecordResult(id, builder string, status types.BuildStatus, text string) error {
	s.mu.Lock()
	bs, ok := s.byID[id]
	if ok {
		_, ok = bs.Results[builder]
		if ok {
			bs.Results[builder] = BuildResult{Status: status, Text: text}
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no builder '%s' in buildset '%s'", builder, id)
	}

	if s.br != nil {
		s.br.Publish(types.BuildEvent{Buildset: id, Builder: builder, Status: status, Text: text})
	}
	return nil
}

// TerminalResults returns the already-final results of a buildset, keyed by
// builder name. Used to replay completions to late subscribers.
func (s *MemStore) TerminalResults(id string) map[string]BuildResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.byID[id]
	if !ok {
		return nil
	}
	out := make(map[string]BuildResult)
	for name, res := range bs.Results {
		if res.Status.Terminal() {
			out[name] = res
		}
	}
	return out
}
