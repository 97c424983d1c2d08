package dispatch

import (
	"sync"
)

// Session is one realtime connection of a user. Events arrive on a single
// bounded queue in commit order. When the queue overflows the session is
// dropped: Dropped is closed and LastSeq reports what was delivered.
type Session struct {
	ID     string
	UserID string

	out     chan Event
	dropped chan struct{}
	once    sync.Once

	mu      sync.Mutex
	lastSeq map[string]uint64
	closed  bool
}

func newSession(id, userID string, size int) *Session {
	return &Session{
		ID:      id,
		UserID:  userID,
		out:     make(chan Event, size),
		dropped: make(chan struct{}),
		lastSeq: make(map[string]uint64),
	}
}

// Events is the ordered live feed.
func (s *Session) Events() <-chan Event { return s.out }

// Dropped is closed when the session lost its live feed and must resynchronise.
func (s *Session) Dropped() <-chan struct{} { return s.dropped }

// LastSeq returns the last enqueued sequence number per conversation.
func (s *Session) LastSeq() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.lastSeq))
	for k, v := range s.lastSeq {
		out[k] = v
	}
	return out
}

// Resync builds the resync_required event for this session.
func (s *Session) Resync() Event {
	return Event{Type: EventResyncRequired, Payload: ResyncPayload{LastSeq: s.LastSeq()}}
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	skipped
	overflowed
)

// enqueue never blocks. A full queue drops the session.
func (s *Session) enqueue(ev Event) enqueueResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return skipped
	}
	select {
	case s.out <- ev:
		if ev.Seq > 0 {
			s.lastSeq[ev.ConversationID] = ev.Seq
		}
		return enqueued
	default:
		s.closed = true
		s.once.Do(func() { close(s.dropped) })
		return overflowed
	}
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
