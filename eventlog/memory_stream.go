package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Stream = new(MemoryStream)

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
}

// MemoryStream is an in process Stream with consumer group semantics. It
// backs tests and single process deployments.
type MemoryStream struct {
	mu      sync.Mutex
	seq     int64
	entries map[string][]byte
	queue   []string
	pending map[string]pendingEntry
	signal  chan struct{}
}

func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		entries: make(map[string][]byte),
		pending: make(map[string]pendingEntry),
		signal:  make(chan struct{}, 1),
	}
}

func (s *MemoryStream) add(data []byte) string {
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.entries[id] = append([]byte(nil), data...)
	s.queue = append(s.queue, id)
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return id
}

func (s *MemoryStream) Publish(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(data), nil
}

func (s *MemoryStream) take(consumer string, count int) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count <= 0 {
		count = 1
	}
	var out []Delivery
	now := time.Now()
	for len(s.queue) > 0 && len(out) < count {
		id := s.queue[0]
		s.queue = s.queue[1:]
		s.pending[id] = pendingEntry{consumer: consumer, deliveredAt: now}
		out = append(out, Delivery{ID: id, Data: s.entries[id]})
	}
	return out
}

func (s *MemoryStream) Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error) {
	if out := s.take(consumer, count); len(out) > 0 || block <= 0 {
		return out, nil
	}
	timer := time.NewTimer(block)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return s.take(consumer, count), nil
		case <-s.signal:
			if out := s.take(consumer, count); len(out) > 0 {
				return out, nil
			}
		}
	}
}

func (s *MemoryStream) Ack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		delete(s.entries, id)
	}
	return nil
}

func (s *MemoryStream) Nack(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, d.ID)
	delete(s.entries, d.ID)
	s.add(d.Data)
	return nil
}

func (s *MemoryStream) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []Delivery
	for id, p := range s.pending {
		if count > 0 && len(out) >= count {
			break
		}
		if now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		s.pending[id] = pendingEntry{consumer: consumer, deliveredAt: now}
		out = append(out, Delivery{ID: id, Data: s.entries[id]})
	}
	return out, nil
}

// Len is the number of entries not yet acked, delivered or not.
func (s *MemoryStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
