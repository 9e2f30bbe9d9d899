package state

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

// Store is the session table contract used by the orchestrator.
//
// Get/Create/Delete do not serialize by themselves; callers hold the call's
// slot from Acquire while they read or mutate a session.
type Store interface {
	Acquire(ctx context.Context, callID string) (release func(), err error)
	Get(callID string) (*CallSession, bool)
	Create(callID, customerPhone string, customer erp.Customer, now time.Time) (*CallSession, error)
	Delete(callID string) bool
	Snapshot(ctx context.Context, callID string) (*CallSession, bool, error)
	Len() int
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps volatile call sessions in process memory.
type MemoryStore struct {
	sessions *xsync.MapOf[string, *CallSession]
	queues   *xsync.MapOf[string, *callQueue]
}

// callQueue chains slot holders for one call id. tail is closed when the most
// recent acquirer releases; refs counts holders and waiters.
type callQueue struct {
	tail chan struct{}
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: xsync.NewMapOf[string, *CallSession](),
		queues:   xsync.NewMapOf[string, *callQueue](),
	}
}

// Acquire waits for the call's slot. Slots for one call id are granted in the
// order Acquire was entered; distinct call ids never share a slot.
//
// A waiter whose context ends returns ctx.Err() and hands its turn to the
// next waiter once its predecessor releases.
func (s *MemoryStore) Acquire(ctx context.Context, callID string) (func(), error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, ErrInvalidSession
	}

	mine := make(chan struct{})
	var prev chan struct{}
	s.queues.Compute(callID, func(q *callQueue, loaded bool) (*callQueue, bool) {
		if !loaded || q == nil {
			q = &callQueue{}
		}
		prev = q.tail
		q.tail = mine
		q.refs++
		return q, false
	})

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(mine)
			s.queues.Compute(callID, func(q *callQueue, loaded bool) (*callQueue, bool) {
				if !loaded || q == nil {
					return q, true
				}
				q.refs--
				return q, q.refs <= 0
			})
		})
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) Get(callID string) (*CallSession, bool) {
	return s.sessions.Load(strings.TrimSpace(callID))
}

// Create registers a new session. It returns ErrSessionExists instead of
// replacing a live session.
func (s *MemoryStore) Create(callID, customerPhone string, customer erp.Customer, now time.Time) (*CallSession, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, ErrInvalidSession
	}
	sess := NewCallSession(callID, customerPhone, customer, now)
	actual, loaded := s.sessions.LoadOrStore(callID, sess)
	if loaded {
		return actual, ErrSessionExists
	}
	return sess, nil
}

// Delete is idempotent and reports whether a session was removed.
func (s *MemoryStore) Delete(callID string) bool {
	_, ok := s.sessions.LoadAndDelete(strings.TrimSpace(callID))
	return ok
}

// Snapshot copies the session while holding its slot.
func (s *MemoryStore) Snapshot(ctx context.Context, callID string) (*CallSession, bool, error) {
	release, err := s.Acquire(ctx, callID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	sess, ok := s.Get(callID)
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

func (s *MemoryStore) Len() int {
	return s.sessions.Size()
}
