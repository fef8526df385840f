package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type heapItem struct {
	msg   *Message
	score float64
	seq   uint64
}

type messageHeap []*heapItem

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryStore is a process-local Store. Equal scores are served in
// insertion order.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	pending  messageHeap
	ids      map[string]struct{}
	inflight map[string]*Message
	dead     map[string]DeadLetterEntry
	seq      uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock:    clock,
		ids:      make(map[string]struct{}),
		inflight: make(map[string]*Message),
		dead:     make(map[string]DeadLetterEntry),
	}
}

func (s *MemoryStore) push(msg *Message) {
	s.seq++
	cp := *msg
	heap.Push(&s.pending, &heapItem{msg: &cp, score: cp.Score(), seq: s.seq})
	s.ids[msg.ID] = struct{}{}
}

func (s *MemoryStore) Enqueue(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[msg.ID]; ok {
		return fmt.Errorf("enqueue message %s: %w", msg.ID, ErrDuplicateMessage)
	}
	msg.State = StatePending
	s.push(msg)

	MessagesEnqueuedTotal.Inc()
	return nil
}

func (s *MemoryStore) ClaimNext(_ context.Context) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.Len() == 0 {
		return nil, ErrEmpty
	}
	item := heap.Pop(&s.pending).(*heapItem)
	msg := item.msg
	msg.State = StateInFlight
	msg.ClaimedAt = s.clock.Now()
	s.inflight[msg.ID] = msg

	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) Remove(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.inflight[msg.ID]; ok {
		if !cur.ClaimedAt.Equal(msg.ClaimedAt) {
			return fmt.Errorf("remove message %s: %w", msg.ID, ErrClaimLost)
		}
		delete(s.inflight, msg.ID)
		delete(s.ids, msg.ID)
		return nil
	}
	if s.removePending(msg.ID) {
		delete(s.ids, msg.ID)
	}
	return nil
}

func (s *MemoryStore) RequeueWithPenalty(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	Penalize(msg, nil)
	delete(s.inflight, msg.ID)
	s.removePending(msg.ID)
	s.push(msg)

	MessagesRequeuedTotal.Inc()
	return nil
}

func (s *MemoryStore) DeadLetter(_ context.Context, msg *Message, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.State = StateFailed
	delete(s.inflight, msg.ID)
	s.removePending(msg.ID)
	delete(s.ids, msg.ID)

	cp := *msg
	s.dead[msg.ID] = DeadLetterEntry{
		Message:  &cp,
		Reason:   reason,
		MovedAt:  s.clock.Now(),
		Attempts: msg.Attempts,
	}

	DLQMessagesTotal.Inc()
	return nil
}

func (s *MemoryStore) RecoverStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for id, msg := range s.inflight {
		if msg.ClaimedAt.After(olderThan) {
			continue
		}
		delete(s.inflight, id)
		msg.State = StatePending
		msg.ClaimedAt = time.Time{}
		s.push(msg)
		recovered++
	}

	RecoveredClaimsTotal.Add(float64(recovered))
	return recovered, nil
}

func (s *MemoryStore) Reprocess(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reprocessed := 0
	for _, id := range ids {
		entry, ok := s.dead[id]
		if !ok || entry.Message == nil || !entry.Message.Deliverable() {
			continue
		}
		delete(s.dead, id)

		msg := entry.Message
		msg.Attempts = 0
		msg.State = StatePending
		msg.LastError = ""
		msg.ClaimedAt = time.Time{}
		s.push(msg)
		reprocessed++
	}
	return reprocessed, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Pending:  int64(s.pending.Len()),
		InFlight: int64(len(s.inflight)),
		Dead:     int64(len(s.dead)),
	}, nil
}

// DeadLetters returns a copy of the parked entries.
func (s *MemoryStore) DeadLetters() []DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeadLetterEntry, 0, len(s.dead))
	for _, e := range s.dead {
		out = append(out, e)
	}
	return out
}

func (s *MemoryStore) removePending(id string) bool {
	for i, item := range s.pending {
		if item.msg.ID == id {
			heap.Remove(&s.pending, i)
			return true
		}
	}
	return false
}
