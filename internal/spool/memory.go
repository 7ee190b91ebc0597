package spool

import (
	"fmt"
	"sort"
	"sync"
)

type memorySlot struct {
	chunks []Chunk
	size   int64
}

type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]*memorySlot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]*memorySlot),
	}
}

func (s *MemoryStore) Create(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[slot]; exists {
		return fmt.Errorf("slot %q already exists", slot)
	}
	s.slots[slot] = &memorySlot{}
	return nil
}

func (s *MemoryStore) Append(slot string, chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, exists := s.slots[slot]
	if !exists {
		return fmt.Errorf("slot %q not found", slot)
	}

	data := append([]byte{}, chunk.Data...)
	ms.chunks = append(ms.chunks, Chunk{Data: data, MIMEType: chunk.MIMEType})
	ms.size += int64(len(data))
	return nil
}

func (s *MemoryStore) Chunks(slot string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, exists := s.slots[slot]
	if !exists {
		return nil, fmt.Errorf("slot %q not found", slot)
	}
	return append([]Chunk{}, ms.chunks...), nil
}

func (s *MemoryStore) Size(slot string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, exists := s.slots[slot]
	if !exists {
		return 0, fmt.Errorf("slot %q not found", slot)
	}
	return ms.size, nil
}

func (s *MemoryStore) Count(slot string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, exists := s.slots[slot]
	if !exists {
		return 0, fmt.Errorf("slot %q not found", slot)
	}
	return len(ms.chunks), nil
}

func (s *MemoryStore) Reset(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, exists := s.slots[slot]
	if !exists {
		return fmt.Errorf("slot %q not found", slot)
	}
	ms.chunks = nil
	ms.size = 0
	return nil
}

func (s *MemoryStore) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, slot)
	return nil
}

func (s *MemoryStore) Exists(slot string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.slots[slot]
	return exists
}

func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots := make([]string, 0, len(s.slots))
	for name := range s.slots {
		slots = append(slots, name)
	}
	sort.Strings(slots)
	return slots, nil
}
