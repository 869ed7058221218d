package recordstore

import (
	"context"
	"sync"

	"github.com/berserksystems/instrumentality/internal/recordmodel"
)

// Memory is an in-process RecordStore used by tests.
type Memory struct {
	mu      sync.Mutex
	records []recordmodel.Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) EnsureSchema(ctx context.Context) error { return nil }

// AppendAll records every entry, preserving order.
func (s *Memory) AppendAll(ctx context.Context, records []recordmodel.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// All returns a copy of every record appended so far, for assertions.
func (s *Memory) All() []recordmodel.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordmodel.Record, len(s.records))
	copy(out, s.records)
	return out
}
