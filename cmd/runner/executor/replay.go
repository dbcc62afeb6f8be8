package executor

import (
	"sync"

	"github.com/loomery/loom/common/models"
)

// FixtureSet indexes a replay context's fixtures by request fingerprint
type FixtureSet struct {
	byFingerprint map[string]models.Fixture
	strict        bool
	replaying     bool
}

// NewFixtureSet builds the lookup for one job's replay context. A nil
// context yields an empty set that never matches.
func NewFixtureSet(rc *models.ReplayContext) *FixtureSet {
	s := &FixtureSet{byFingerprint: make(map[string]models.Fixture)}
	if rc == nil || rc.Mode != models.ReplayModeReplay {
		return s
	}

	s.replaying = true
	s.strict = rc.StrictReplay
	for _, f := range rc.Fixtures {
		s.byFingerprint[f.RequestFingerprint] = f
	}
	return s
}

// Replaying reports whether this execution runs against fixtures
func (s *FixtureSet) Replaying() bool { return s.replaying }

// Lookup returns the fixture for a fingerprint. On a miss under strict
// replay it returns a coded error instead of letting the call go live.
func (s *FixtureSet) Lookup(fingerprint string) (*models.Fixture, error) {
	if !s.replaying {
		return nil, nil
	}
	if f, ok := s.byFingerprint[fingerprint]; ok {
		return &f, nil
	}
	if s.strict {
		return nil, models.NewCodedError(models.CodeStrictReplayMiss, "no fixture for request fingerprint "+fingerprint)
	}
	return nil, nil
}

// Recorder collects what an execution observed — connector call
// attempts for reliability ingest and fixtures for the replay pack.
// Safe for concurrent workers.
type Recorder struct {
	mu       sync.Mutex
	attempts []*models.ConnectorCallAttempt
	fixtures []models.Fixture
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordAttempt appends one connector call attempt
func (r *Recorder) RecordAttempt(a *models.ConnectorCallAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

// RecordFixture captures one external response for the replay pack
func (r *Recorder) RecordFixture(f models.Fixture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixtures = append(r.fixtures, f)
}

// Attempts returns the recorded attempts
func (r *Recorder) Attempts() []*models.ConnectorCallAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ConnectorCallAttempt(nil), r.attempts...)
}

// Fixtures returns the recorded fixtures
func (r *Recorder) Fixtures() []models.Fixture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Fixture(nil), r.fixtures...)
}
