package logging

import (
	"sync"

	"machinehub/internal/buffer"
)

type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.entries.Push(entry)
	b.mu.Unlock()
}

func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Last(0)
}

// Query filters buffered entries. An empty endpoint matches every entry and
// limit <= 0 returns all matches.
func (b *LogBuffer) Query(minLevel Level, endpoint string, limit int) []LogEntry {
	entries := b.List()
	matched := make([]LogEntry, 0, len(entries))
	for _, entry := range entries {
		if !LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if endpoint != "" && entry.Endpoint() != endpoint {
			continue
		}
		matched = append(matched, entry)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

func (b *LogBuffer) Clear() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.entries.Reset()
	b.mu.Unlock()
}
