package app

import (
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
)

// SessionInfo is a point-in-time copy of a [Session].
type SessionInfo struct {
	// SessionID is the unique identifier of this process run.
	SessionID string

	// StartedAt is when the App was created.
	StartedAt time.Time

	// Interactions counts finished interactions (wake word heard).
	Interactions int

	// Answered counts interactions that ended with a spoken reply.
	Answered int

	// Outcomes counts finished interactions by outcome.
	Outcomes map[string]int

	// Last is the most recent interaction, zero before the first one.
	Last Result
}

// Session tracks what happened since the assistant started.
// All methods are safe for concurrent use.
type Session struct {
	mu   sync.Mutex
	info SessionInfo
}

func newSession(id string) *Session {
	return &Session{info: SessionInfo{
		SessionID: id,
		StartedAt: time.Now(),
		Outcomes:  make(map[string]int),
	}}
}

// ID returns the session id.
func (s *Session) ID() string { return s.info.SessionID }

func (s *Session) record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Interactions++
	if r.Reply != "" && r.Outcome == observe.OutcomeAnswered {
		s.info.Answered++
	}
	s.info.Outcomes[r.Outcome]++
	s.info.Last = r
}

// Snapshot returns a copy of the current statistics.
func (s *Session) Snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	info.Outcomes = maps.Clone(s.info.Outcomes)
	return info
}
