package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionEvent represents a step in a capture's lifecycle
type SessionEvent struct {
	EventType  EventType              `json:"event_type"`
	Timestamp  time.Time              `json:"timestamp"`
	SessionID  string                 `json:"session_id"`
	Generation uint64                 `json:"generation"`
	Reference  string                 `json:"reference,omitempty"`
	Duration   time.Duration          `json:"duration"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of session event
type EventType string

const (
	CaptureStarted      EventType = "capture_started"
	CaptureLoaded       EventType = "capture_loaded"
	CaptureFailed       EventType = "capture_failed"
	DetectionCompleted  EventType = "detection_completed"
	DetectionFailed     EventType = "detection_failed"
	AnalysisCompleted   EventType = "analysis_completed"
	AnalysisFailed      EventType = "analysis_failed"
	MatchCompleted      EventType = "match_completed"
	AnnotationsRendered EventType = "annotations_rendered"
	ProjectionDeferred  EventType = "projection_deferred"
	StaleResultDropped  EventType = "stale_result_dropped"
	IndexingCompleted   EventType = "indexing_completed"
	IndexingFailed      EventType = "indexing_failed"
	SessionReset        EventType = "session_reset"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event SessionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event SessionEvent)
}

// LoggingObserver logs session events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles session events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event SessionEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"session_id": event.SessionID,
		"generation": event.Generation,
		"duration":   event.Duration,
		"success":    event.Success,
	}
	if event.Reference != "" {
		fields["reference"] = event.Reference
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case CaptureStarted:
		entry.Info("Capture started")
	case CaptureFailed:
		entry.Error("Capture failed")
	case DetectionFailed:
		entry.Warn("Text detection failed")
	case AnalysisFailed:
		entry.Warn("Menu analysis failed")
	case AnnotationsRendered:
		entry.Info("Annotations rendered")
	case IndexingFailed:
		entry.Warn("Menu item indexing failed")
	case StaleResultDropped, CaptureLoaded, DetectionCompleted, AnalysisCompleted, ProjectionDeferred:
		entry.Debug("Session event")
	default:
		entry.Info("Session event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from session events
type MetricsObserver struct {
	mu               sync.RWMutex
	captures         int64
	captureFailures  int64
	detectionErrors  int64
	analysisErrors   int64
	matched          int64
	staleDropped     int64
	indexed          int64
	indexingFailures int64
	totalMatchTime   time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles session events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event SessionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case CaptureStarted:
		o.captures++
	case CaptureFailed:
		o.captureFailures++
	case DetectionFailed:
		o.detectionErrors++
	case AnalysisFailed:
		o.analysisErrors++
	case MatchCompleted:
		o.matched++
		o.totalMatchTime += event.Duration
	case StaleResultDropped:
		o.staleDropped++
	case IndexingCompleted:
		o.indexed++
	case IndexingFailed:
		o.indexingFailures++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgMatchTime := time.Duration(0)
	if o.matched > 0 {
		avgMatchTime = o.totalMatchTime / time.Duration(o.matched)
	}

	return map[string]interface{}{
		"captures":             o.captures,
		"capture_failures":     o.captureFailures,
		"detection_failures":   o.detectionErrors,
		"analysis_failures":    o.analysisErrors,
		"matched_captures":     o.matched,
		"stale_results":        o.staleDropped,
		"indexed_captures":     o.indexed,
		"indexing_failures":    o.indexingFailures,
		"avg_capture_to_match": avgMatchTime.String(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event without blocking the caller
func (p *EventPublisher) NotifyObservers(ctx context.Context, event SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		go func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					// Log panic but don't crash the application
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
