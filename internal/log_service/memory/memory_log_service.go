package memory

import (
	"sync"

	"github.com/AnishMulay/simplefs/internal/log_service"
)

// Entry is one captured event with its level.
type Entry struct {
	Level string
	Event log_service.LogEvent
}

// MemoryLogService keeps every event in memory. Used by tests across the module.
type MemoryLogService struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLogService() *MemoryLogService {
	return &MemoryLogService{}
}

func (m *MemoryLogService) record(level string, event log_service.LogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Level: level, Event: event})
}

// Entries returns a copy of everything captured so far.
func (m *MemoryLogService) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Messages returns the messages logged at level.
func (m *MemoryLogService) Messages(level string) []string {
	var out []string
	for _, e := range m.Entries() {
		if e.Level == level {
			out = append(out, e.Event.Message)
		}
	}
	return out
}

func (m *MemoryLogService) Debug(event log_service.LogEvent) { m.record(log_service.DebugLevel, event) }
func (m *MemoryLogService) Info(event log_service.LogEvent)  { m.record(log_service.InfoLevel, event) }
func (m *MemoryLogService) Warn(event log_service.LogEvent)  { m.record(log_service.WarnLevel, event) }
func (m *MemoryLogService) Error(event log_service.LogEvent) { m.record(log_service.ErrorLevel, event) }

var _ log_service.LogService = (*MemoryLogService)(nil)
