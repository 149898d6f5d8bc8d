package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/monihub/monihub/internal/agent/config"
)

// LogEntry is one line of agent-side log history, drained into the next
// telemetry report.
type LogEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const logStoreCapacity = 1000

// LogStore is a mutex-guarded ring buffer. Append drops the oldest entry
// when full; Drain returns everything accumulated since the previous Drain,
// in insertion order.
type LogStore struct {
	mu      sync.Mutex
	entries []LogEntry
	nextID  int64
}

func NewLogStore() *LogStore {
	return &LogStore{}
}

func (s *LogStore) Append(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.entries = append(s.entries, LogEntry{
		ID:        s.nextID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(s.entries) > logStoreCapacity {
		s.entries = s.entries[len(s.entries)-logStoreCapacity:]
	}
}

func (s *LogStore) Drain() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.entries
	s.entries = nil
	return drained
}

// Restore puts drained entries back at the front of the buffer after a
// failed delivery so they ride on the next report instead of being lost.
// The capacity bound still holds; overflow drops the oldest entries.
func (s *LogStore) Restore(entries []LogEntry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(append([]LogEntry{}, entries...), s.entries...)
	if len(s.entries) > logStoreCapacity {
		s.entries = s.entries[len(s.entries)-logStoreCapacity:]
	}
}

// AgentState bundles the process-wide agent state: immutable config, the
// log store, the HTTP circuit-breaker flag and the persisted instance
// identity. It is created once in main and shared by both loops.
type AgentState struct {
	Config     *config.Config
	Logs       *LogStore
	InstanceID string

	httpEnabled atomic.Bool
}

func New(cfg *config.Config) (*AgentState, error) {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		id, err := loadOrCreateInstanceID()
		if err != nil {
			return nil, err
		}
		instanceID = id
	}

	s := &AgentState{
		Config:     cfg,
		Logs:       NewLogStore(),
		InstanceID: instanceID,
	}
	s.httpEnabled.Store(true)
	return s, nil
}

// HTTPEnabled reports the circuit-breaker flag. Both loops check it each
// tick; a 403 from the control plane flips it off, any 2xx flips it back.
func (s *AgentState) HTTPEnabled() bool {
	return s.httpEnabled.Load()
}

func (s *AgentState) SetHTTPEnabled(enabled bool) {
	s.httpEnabled.Store(enabled)
}

func loadOrCreateInstanceID() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user cache dir: %w", err)
	}

	dir := filepath.Join(cacheDir, "monihub", "config")
	path := filepath.Join(dir, "instance_id")

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to persist instance id: %w", err)
	}
	return id, nil
}
