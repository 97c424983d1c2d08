// Package dispatch fans committed events out to the live sessions of conversation participants.
//
// Ordering: Commit runs the durable write and the enqueue of its events under one
// per-conversation lock, so every session observes a conversation's events in commit order.
// Conversations never contend with each other.
//
// Sessions, locks and sequence numbers are process-local: one process serves a database
// (enforced by repository.AcquireInstanceLock).
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultQueueSize   = 256
	DefaultMaxSessions = 10000
)

var ErrTooManySessions = errors.New("session limit reached")

type Dispatcher struct {
	locks *keyedMutex

	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	total    int

	seqMu sync.Mutex
	seqs  map[string]uint64

	queueSize   int
	maxSessions int
}

func New(queueSize, maxSessions int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Dispatcher{
		locks:       newKeyedMutex(),
		sessions:    make(map[string]map[*Session]struct{}),
		seqs:        make(map[string]uint64),
		queueSize:   queueSize,
		maxSessions: maxSessions,
	}
}

// Open registers a live session for userID. first is true when the user had no other session.
func (d *Dispatcher) Open(userID string) (s *Session, first bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.total >= d.maxSessions {
		return nil, false, ErrTooManySessions
	}
	byUser, ok := d.sessions[userID]
	if !ok {
		byUser = make(map[*Session]struct{})
		d.sessions[userID] = byUser
	}
	s = newSession(uuid.NewString(), userID, d.queueSize)
	byUser[s] = struct{}{}
	d.total++
	metrics.LiveSessions.Inc()
	return s, len(byUser) == 1, nil
}

// Close unregisters s. last is true when it was the user's final session. Safe to call twice.
func (d *Dispatcher) Close(s *Session) (last bool) {
	s.close()
	d.mu.Lock()
	defer d.mu.Unlock()
	byUser, ok := d.sessions[s.UserID]
	if !ok {
		return false
	}
	if _, ok := byUser[s]; !ok {
		return false
	}
	delete(byUser, s)
	d.total--
	metrics.LiveSessions.Dec()
	if len(byUser) == 0 {
		delete(d.sessions, s.UserID)
		return true
	}
	return false
}

func (d *Dispatcher) IsOnline(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions[userID]) > 0
}

// Online returns the subset of userIDs with at least one live session.
func (d *Dispatcher) Online(userIDs []string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Filter(userIDs, func(id string, _ int) bool { return len(d.sessions[id]) > 0 })
}

// Commit runs fn under the conversation's ordering lock and, if it succeeds, sequences
// and enqueues the emissions it returns before the lock is released. An error from fn
// publishes nothing.
func (d *Dispatcher) Commit(ctx context.Context, conversationID string, fn func(ctx context.Context) ([]Emission, error)) error {
	d.locks.Lock(conversationID)
	defer d.locks.Unlock(conversationID)
	ems, err := fn(ctx)
	if err != nil {
		return err
	}
	for _, em := range ems {
		d.deliver(conversationID, em)
	}
	return nil
}

// Publish sequences and delivers events that have no durable write (typing, presence changes).
func (d *Dispatcher) Publish(ctx context.Context, conversationID string, ems ...Emission) {
	_ = d.Commit(ctx, conversationID, func(context.Context) ([]Emission, error) { return ems, nil })
}

// Send delivers an unsequenced event, used for user-scoped notices such as presence.
func (d *Dispatcher) Send(userIDs []string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	for _, s := range d.targets(lo.Uniq(userIDs)) {
		d.enqueue(s, ev)
	}
}

func (d *Dispatcher) deliver(conversationID string, em Emission) {
	ev := em.Event
	ev.ConversationID = conversationID
	ev.Seq = d.nextSeq(conversationID)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	for _, s := range d.targets(lo.Uniq(em.Recipients)) {
		d.enqueue(s, ev)
	}
}

func (d *Dispatcher) enqueue(s *Session, ev Event) {
	switch s.enqueue(ev) {
	case enqueued:
		metrics.EventsEnqueued.Inc()
	case overflowed:
		metrics.SessionsDropped.Inc()
		logger.Errorf("dispatch: queue full, session=%s user=%s dropped for resync", s.ID, s.UserID)
	}
}

func (d *Dispatcher) nextSeq(conversationID string) uint64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.seqs[conversationID]++
	return d.seqs[conversationID]
}

func (d *Dispatcher) targets(userIDs []string) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(userIDs))
	for _, id := range userIDs {
		for s := range d.sessions[id] {
			out = append(out, s)
		}
	}
	return out
}
