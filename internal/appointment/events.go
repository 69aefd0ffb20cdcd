package appointment

import (
	"context"
	"sync"
	"time"
)

// MemoryEventLog keeps the audit trail in process, for the memory store.
type MemoryEventLog struct {
	mu     sync.Mutex
	nextID int64
	events []EventLog
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (l *MemoryEventLog) InsertEvent(ctx context.Context, ev EventLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	ev.ID = l.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *MemoryEventLog) ListEvents(ctx context.Context, appointmentID string) ([]EventLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventLog
	for _, ev := range l.events {
		if ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out, nil
}
