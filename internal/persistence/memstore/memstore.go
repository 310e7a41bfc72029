// Package memstore provides an in-memory fake of persistence.Adapter for
// tests, the way the teacher tests mastery.Service and spacedrep.Scheduler
// directly against hand-built fixtures rather than a live store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

// Store is a concurrency-safe, in-memory implementation of
// persistence.Adapter.
type Store struct {
	mu        sync.Mutex
	users     map[string]*persistence.UserProfile
	questions map[string]*persistence.Question
	docs      []skillcache.RawSkillDoc

	historyCap int
}

// New creates an empty Store. Questions and skill documents should be
// seeded with AddQuestion/SetSkillDocuments before use.
func New() *Store {
	return &Store{
		users:      make(map[string]*persistence.UserProfile),
		questions:  make(map[string]*persistence.Question),
		historyCap: persistence.HistoryCap,
	}
}

// SetHistoryCap overrides the question_history bound (an internal/config
// HISTORY_CAP override), defaulting to persistence.HistoryCap.
func (s *Store) SetHistoryCap(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyCap = n
}

// AddQuestion seeds a question into the store.
func (s *Store) AddQuestion(q persistence.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := q
	s.questions[q.QuestionID] = &cp
}

// SetSkillDocuments seeds the curriculum documents returned by
// ListSkillDocuments.
func (s *Store) SetSkillDocuments(docs []skillcache.RawSkillDoc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
}

// PutUser directly installs a user profile, bypassing CreateUser — useful
// for constructing test fixtures with specific skill states.
func (s *Store) PutUser(p *persistence.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.UserID] = p
}

func (s *Store) GetUser(_ context.Context, userID string) (*persistence.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return cloneProfile(p), nil
}

func (s *Store) CreateUser(_ context.Context, userID string, skillIDs []string, age *int, gradeLevel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[userID]; exists {
		return nil
	}
	now := time.Now()
	states := make(map[string]persistence.PerSkillState, len(skillIDs))
	for _, id := range skillIDs {
		states[id] = persistence.PerSkillState{MemoryStrength: 0.0, LastUpdated: now}
	}
	s.users[userID] = &persistence.UserProfile{
		UserID:      userID,
		CreatedAt:   now,
		LastUpdated: now,
		Age:         age,
		GradeLevel:  gradeLevel,
		SkillStates: states,
	}
	return nil
}

func (s *Store) BulkUpdateSkillStates(_ context.Context, userID string, updates []persistence.SkillUpdate, attempt persistence.QuestionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok {
		return nil
	}
	now := time.Now()
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = now
	}
	for _, u := range updates {
		st := p.SkillStates[u.SkillID]
		st.MemoryStrength = u.MemoryStrength
		st.LastPracticeTime = &attempt.Timestamp
		st.LastUpdated = attempt.Timestamp
		st.PracticeCount++
		if u.DirectlyTested && attempt.IsCorrect {
			st.CorrectCount++
		}
		p.SkillStates[u.SkillID] = st
	}
	p.LastUpdated = attempt.Timestamp
	p.QuestionHistory = append(p.QuestionHistory, attempt)
	if len(p.QuestionHistory) > s.historyCap {
		p.QuestionHistory = p.QuestionHistory[len(p.QuestionHistory)-s.historyCap:]
	}
	return nil
}

func (s *Store) SetSkillStrengths(_ context.Context, userID string, strengths map[string]float64, attempt persistence.QuestionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok {
		return nil
	}
	now := time.Now()
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = now
	}
	for id, strength := range strengths {
		st := p.SkillStates[id]
		st.MemoryStrength = strength
		p.SkillStates[id] = st
	}
	p.LastUpdated = attempt.Timestamp
	p.QuestionHistory = append(p.QuestionHistory, attempt)
	if len(p.QuestionHistory) > s.historyCap {
		p.QuestionHistory = p.QuestionHistory[len(p.QuestionHistory)-s.historyCap:]
	}
	return nil
}

func (s *Store) FindUnansweredQuestion(_ context.Context, skillIDs []string, answeredIDs map[string]bool, maxTimesShown int) (*persistence.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		wanted[id] = true
	}

	var ids []string
	for id := range s.questions {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic scan order for ties

	var best *persistence.Question
	for _, id := range ids {
		q := s.questions[id]
		if answeredIDs[q.QuestionID] || q.TimesShown >= maxTimesShown {
			continue
		}
		matches := false
		for _, sid := range q.SkillIDs {
			if wanted[sid] {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		if best == nil || q.TimesShown < best.TimesShown {
			best = q
		}
	}
	if best == nil {
		return nil, nil
	}
	best.TimesShown++
	cp := *best
	return &cp, nil
}

func (s *Store) GetAnsweredQuestionIDs(_ context.Context, userID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	if !ok {
		return map[string]bool{}, nil
	}
	return p.AnsweredQuestionIDs(), nil
}

func (s *Store) ListSkillDocuments(_ context.Context) ([]skillcache.RawSkillDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]skillcache.RawSkillDoc(nil), s.docs...), nil
}

func cloneProfile(p *persistence.UserProfile) *persistence.UserProfile {
	cp := *p
	cp.SkillStates = make(map[string]persistence.PerSkillState, len(p.SkillStates))
	for k, v := range p.SkillStates {
		cp.SkillStates[k] = v
	}
	cp.QuestionHistory = append([]persistence.QuestionAttempt(nil), p.QuestionHistory...)
	return &cp
}

var _ persistence.Adapter = (*Store)(nil)
