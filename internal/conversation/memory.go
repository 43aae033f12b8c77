// Package conversation keeps the bounded log of prior turns that gives
// follow-up questions their context.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taxrag/internal/domain"
)

// DefaultBudget is the token budget used when none is configured.
const DefaultBudget = 500

// MemorySession is an ordered log of turns whose total size never exceeds
// the token budget. Appending evicts the oldest turns until the new turn
// fits. It is safe for concurrent use; callers that need a consistent
// read-then-append sequence must serialise it themselves.
type MemorySession struct {
	id      string
	budget  int
	counter TokenCounter
	now     func() time.Time

	mu      sync.Mutex
	turns   []domain.ConversationTurn
	sizes   []int
	total   int
	nextSeq int
}

// NewSession creates an empty session. A nil counter counts words.
func NewSession(budget int, counter TokenCounter) *MemorySession {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if counter == nil {
		counter = WordCounter{}
	}
	return &MemorySession{id: uuid.NewString(), budget: budget, counter: counter, now: time.Now}
}

// ID identifies the session in logs and traces.
func (s *MemorySession) ID() string { return s.id }

// Budget returns the configured token budget.
func (s *MemorySession) Budget() int { return s.budget }

// Append records a turn. A turn larger than the whole budget clears the
// session and is not kept.
func (s *MemorySession) Append(query, answer string) {
	size := s.turnSize(query, answer)

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.turns) > 0 && s.total+size > s.budget {
		s.total -= s.sizes[0]
		s.turns = s.turns[1:]
		s.sizes = s.sizes[1:]
	}
	s.nextSeq++
	if size > s.budget {
		return
	}
	s.turns = append(s.turns, domain.ConversationTurn{Seq: s.nextSeq, Query: query, Answer: answer, At: s.now()})
	s.sizes = append(s.sizes, size)
	s.total += size
}

// Recent returns the retained turns, oldest first.
func (s *MemorySession) Recent() []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Tokens returns the total size of the retained turns.
func (s *MemorySession) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Clear drops every turn.
func (s *MemorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.sizes = nil
	s.total = 0
}

func (s *MemorySession) turnSize(query, answer string) int {
	return s.counter.Count(query) + s.counter.Count(answer)
}
