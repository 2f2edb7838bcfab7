package supervisor

import (
	"fmt"
	"time"

	"github.com/Paintersrp/serverlaunch/internal/runtime"
)

// EventType captures the caller-facing signals emitted by the supervisor.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeReady    EventType = "ready"
	EventTypeNotReady EventType = "not-ready"
	EventTypeStopped  EventType = "stopped"
	EventTypeExited   EventType = "exited"
	EventTypeLog      EventType = "log"
)

// Reason qualifies not-ready and exited events.
type Reason string

const (
	ReasonTimeout       Reason = "timeout"
	ReasonSpawnFailed   Reason = "spawn-failed"
	ReasonExited        Reason = "exited"
	ReasonInvalidTarget Reason = "invalid-target"
	ReasonCancelled     Reason = "cancelled"
	ReasonRetry         Reason = "retry"
	ReasonShutdown      Reason = "shutdown"
)

// Event is a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Server    string
	Type      EventType
	Reason    Reason
	Message   string
	Level     string
	Source    string
	Attempt   int
	AttemptID string
	PID       int
	ExitCode  int
	Err       error
}

func (s *Supervisor) lifecycleEvent(t EventType, reason Reason, message string, err error) Event {
	s.mu.Lock()
	attempt, attemptID := s.attempt, s.attemptID
	s.mu.Unlock()
	level := "info"
	if t == EventTypeNotReady || t == EventTypeExited {
		level = "error"
	}
	return Event{
		Timestamp: time.Now(),
		Server:    s.name,
		Type:      t,
		Reason:    reason,
		Message:   message,
		Level:     level,
		Source:    runtime.LogSourceSystem,
		Attempt:   attempt,
		AttemptID: attemptID,
		Err:       err,
	}
}

// emit delivers lifecycle events. They are never dropped; delivery gives up
// only once the supervisor is closed.
func (s *Supervisor) emit(evt Event) {
	select {
	case s.events <- evt:
	case <-s.closed:
	}
}

// emitLog delivers a log event without blocking the log pump.
func (s *Supervisor) emitLog(evt Event) bool {
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

func (s *Supervisor) droppedEvent(count int, attempt int, attemptID string) Event {
	return Event{
		Timestamp: time.Now(),
		Server:    s.name,
		Type:      EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
		Attempt:   attempt,
		AttemptID: attemptID,
	}
}
