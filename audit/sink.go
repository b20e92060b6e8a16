package audit

import (
	"context"
	"sync"
)

// Sink is the durable side of the log. Append must store every entry of the
// batch or none of them.
type Sink interface {
	Append(ctx context.Context, entries []Entry) error
}

// Loader is implemented by sinks that can replay a stored chain.
type Loader interface {
	Load(ctx context.Context) ([]Entry, error)
}

// MemorySink keeps entries in process. Used when no database is configured.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries = append(s.entries, e.Clone())
	}
	return nil
}

func (s *MemorySink) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out, nil
}
