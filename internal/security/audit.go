package security

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditEventType classifies telemetry and security events emitted by the
// routing pipeline.
type AuditEventType string

const (
	RouteDecided          AuditEventType = "route_decided"
	RoutingDisabled       AuditEventType = "routing_disabled"
	PlanApproved          AuditEventType = "plan_approved"
	TokenIssued           AuditEventType = "token_issued"
	TokenRejected         AuditEventType = "token_rejected"
	ExecutionRecorded     AuditEventType = "execution_recorded"
	AuthenticationFailure AuditEventType = "authentication_failure"
	RateLimitHit          AuditEventType = "rate_limit_hit"
)

// AuditEvent is one telemetry record.
type AuditEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Severity  string                 `json:"severity"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AuditLogger is the buffered telemetry sink. Events are queued on a
// channel and flushed to the structured log by a background processor, so
// the request path never blocks on audit I/O. A full buffer drops the event
// rather than stalling routing.
type AuditLogger struct {
	config  *AuditConfig
	logger  *logrus.Logger
	buffer  chan *AuditEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	count   int64
}

// NewAuditLogger creates and starts an audit logger.
func NewAuditLogger(config *AuditConfig, logger *logrus.Logger) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 10 * time.Second
	}
	a := &AuditLogger{
		config: config,
		logger: logger,
		buffer: make(chan *AuditEvent, config.BufferSize),
		stop:   make(chan struct{}),
	}
	if config.Enabled {
		a.wg.Add(1)
		go a.process()
	}
	return a
}

// LogEvent queues one event. Disabled or saturated loggers drop silently.
func (a *AuditLogger) LogEvent(eventType AuditEventType, requestID, userID, message string, details map[string]interface{}) {
	if !a.config.Enabled {
		return
	}
	event := &AuditEvent{
		ID:        newEventID(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: requestID,
		UserID:    userID,
		Message:   message,
		Details:   details,
		Severity:  severityFor(eventType),
	}
	select {
	case a.buffer <- event:
	default:
		a.logger.Warn("Audit buffer full, dropping event")
	}
}

// EventCount returns the number of events written so far.
func (a *AuditLogger) EventCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Stop drains the buffer and halts the processor.
func (a *AuditLogger) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	close(a.stop)
	if a.config.Enabled {
		a.wg.Wait()
	}
}

func (a *AuditLogger) process() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	var pending []*AuditEvent
	flush := func() {
		for _, event := range pending {
			a.write(event)
		}
		pending = pending[:0]
	}

	for {
		select {
		case event := <-a.buffer:
			pending = append(pending, event)
			if len(pending) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			// Drain whatever is queued before exiting.
			for {
				select {
				case event := <-a.buffer:
					pending = append(pending, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *AuditLogger) write(event *AuditEvent) {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"audit_id":   event.ID,
		"event_type": event.EventType,
		"request_id": event.RequestID,
		"user_id":    event.UserID,
		"severity":   event.Severity,
		"details":    event.Details,
	}).Info(event.Message)
}

func severityFor(eventType AuditEventType) string {
	switch eventType {
	case TokenRejected, AuthenticationFailure:
		return "high"
	case RateLimitHit, RoutingDisabled:
		return "medium"
	default:
		return "info"
	}
}

func newEventID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "evt-unknown"
	}
	return "evt-" + hex.EncodeToString(buf)
}
