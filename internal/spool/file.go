package spool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
)

const (
	dataSuffix  = ".spool"
	indexSuffix = ".idx"
)

// indexEntry locates one chunk inside a slot's data file.
type indexEntry struct {
	Offset   int64  `json:"offset"`
	Length   int    `json:"length"`
	MIMEType string `json:"mime_type"`
}

// FileStore spools chunks to disk so long video captures do not sit in
// memory. Files are removed on Delete and by PurgeStale at startup.
type FileStore struct {
	dataDir string
	mu      sync.RWMutex
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) dataPath(slot string) string {
	return filepath.Join(s.dataDir, slot+dataSuffix)
}

func (s *FileStore) indexPath(slot string) string {
	return filepath.Join(s.dataDir, slot+indexSuffix)
}

// PurgeStale removes every spool file left behind by a previous process and
// returns how many slots were dropped.
func (s *FileStore) PurgeStale() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read spool dir: %w", err)
	}

	purged := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, indexSuffix):
			purged++
			os.Remove(filepath.Join(s.dataDir, name))
		case strings.HasSuffix(name, dataSuffix):
			os.Remove(filepath.Join(s.dataDir, name))
		}
	}
	return purged, nil
}

func (s *FileStore) Create(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.indexPath(slot)); err == nil {
		return fmt.Errorf("slot %q already exists", slot)
	}

	for _, path := range []string{s.dataPath(slot), s.indexPath(slot)} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("create spool file: %w", err)
		}
		f.Close()
	}
	return nil
}

func (s *FileStore) Append(slot string, chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.indexPath(slot)); err != nil {
		return fmt.Errorf("slot %q not found", slot)
	}

	f, err := os.OpenFile(s.dataPath(slot), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock spool file: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat spool file: %w", err)
	}

	if _, err := f.Write(chunk.Data); err != nil {
		return fmt.Errorf("write spool: %w", err)
	}

	line, err := json.Marshal(indexEntry{
		Offset:   info.Size(),
		Length:   len(chunk.Data),
		MIMEType: chunk.MIMEType,
	})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	idx, err := os.OpenFile(s.indexPath(slot), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	if _, err := idx.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (s *FileStore) readIndexLocked(slot string) ([]indexEntry, error) {
	data, err := os.ReadFile(s.indexPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("slot %q not found", slot)
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var entries []indexEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e indexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse index: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (s *FileStore) Chunks(slot string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.readIndexLocked(slot)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.dataPath(slot))
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}

	chunks := make([]Chunk, 0, len(entries))
	for _, e := range entries {
		end := e.Offset + int64(e.Length)
		if end > int64(len(data)) {
			return nil, fmt.Errorf("spool for %q truncated at offset %d", slot, e.Offset)
		}
		chunks = append(chunks, Chunk{
			Data:     append([]byte{}, data[e.Offset:end]...),
			MIMEType: e.MIMEType,
		})
	}
	return chunks, nil
}

func (s *FileStore) Size(slot string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(s.indexPath(slot)); err != nil {
		return 0, fmt.Errorf("slot %q not found", slot)
	}

	info, err := os.Stat(s.dataPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat spool: %w", err)
	}
	return info.Size(), nil
}

func (s *FileStore) Count(slot string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.readIndexLocked(slot)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *FileStore) Reset(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.indexPath(slot)); err != nil {
		return fmt.Errorf("slot %q not found", slot)
	}
	for _, path := range []string{s.dataPath(slot), s.indexPath(slot)} {
		if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate spool: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	os.Remove(s.dataPath(slot))
	os.Remove(s.indexPath(slot))
	return nil
}

func (s *FileStore) Exists(slot string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.indexPath(slot))
	return err == nil
}

func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read spool dir: %w", err)
	}

	var slots []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, indexSuffix) {
			slots = append(slots, strings.TrimSuffix(name, indexSuffix))
		}
	}
	sort.Strings(slots)
	return slots, nil
}
