package parley

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ============================================================================
// KV: the local persistence primitive
// ============================================================================

// Keys used by the session. Both live in the same KV namespace.
const (
	logKey      = "chatMessages"
	usernameKey = "username"
)

// KV is a string-keyed persistence primitive, one value per key.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryKV is a goroutine-safe in-memory KV backend.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileKV stores one file per key under a directory. Values survive process
// restarts within the same data directory, like a browser profile.
type FileKV struct {
	dir string
}

// NewFileKV creates the data directory if needed and returns a FileKV
// rooted there.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileKV) Get(key string) (string, bool) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (f *FileKV) Set(key, value string) error {
	if err := os.WriteFile(f.path(key), []byte(value), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Remove(key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// ============================================================================
// LogStore: the durable chat log
// ============================================================================

// LogStore keeps the full message history under a single KV key. Append is
// a read-modify-write of the whole serialized sequence, not a true append;
// the log grows without bound and has no eviction policy. Serialization and
// storage failures are returned to the caller unhandled.
type LogStore struct {
	kv KV
}

// NewLogStore wraps a KV as the chat log.
func NewLogStore(kv KV) *LogStore {
	return &LogStore{kv: kv}
}

// Append adds one record to the end of the persisted sequence.
func (s *LogStore) Append(rec *Record) error {
	recs, err := s.LoadAll()
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("serialize chat log: %w", err)
	}
	return s.kv.Set(logKey, string(data))
}

// LoadAll returns the full history in insertion order, or an empty
// sequence when nothing has been persisted yet.
func (s *LogStore) LoadAll() ([]*Record, error) {
	raw, ok := s.kv.Get(logKey)
	if !ok || raw == "" {
		return nil, nil
	}
	var recs []*Record
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("parse chat log: %w", err)
	}
	return recs, nil
}

// Clear removes all persisted history.
func (s *LogStore) Clear() error {
	return s.kv.Remove(logKey)
}

// ── Username key ─────────────────────────────────────────

// StoredUsername returns the last-used username, or empty.
func StoredUsername(kv KV) string {
	v, _ := kv.Get(usernameKey)
	return v
}

// StoreUsername persists the username for later resume.
func StoreUsername(kv KV, username string) error {
	return kv.Set(usernameKey, username)
}

// ClearStoredUsername forgets the persisted username.
func ClearStoredUsername(kv KV) error {
	return kv.Remove(usernameKey)
}
