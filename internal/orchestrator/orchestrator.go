// Package orchestrator drives one presentation session from a captured image
// to a rendered annotation set.
//
// A single loop goroutine owns the state machine and is the only writer of
// the annotation store. Capture loading, text detection and menu analysis
// run as independent goroutines that report back on a completion channel.
// Every completion carries the generation it was started for and is dropped
// when a newer capture has superseded it.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go-menu-annotator/internal/analysis"
	"go-menu-annotator/internal/detector"
	"go-menu-annotator/internal/embedding"
	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/matcher"
	"go-menu-annotator/internal/observer"
	"go-menu-annotator/internal/store"
	"go-menu-annotator/pkg/models"
)

// State is a step of the capture lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateCapturing       State = "capturing"
	StateAwaitingResults State = "awaiting_results"
	StatePartialFailure  State = "partial_failure"
	StateMatched         State = "matched"
	StateRendered        State = "rendered"
	StateError           State = "error"
)

// User-facing messages for failed captures.
const (
	MessageCaptureFailed   = "could not load the image"
	MessageDetectionFailed = "could not read the menu"
	MessageAnalysisFailed  = "analysis unavailable"
	MessageBothFailed      = "could not read the menu and analysis unavailable"
)

// CaptureLoader resolves a capture reference into image bytes.
type CaptureLoader interface {
	LoadCapture(ctx context.Context, reference string) (models.CapturedImage, error)
}

// ReadabilityCheck rejects captures the OCR engine cannot read.
type ReadabilityCheck interface {
	ValidateCapture(img models.CapturedImage) error
}

// CaptureRequest identifies the image to annotate.
type CaptureRequest struct {
	Reference         string             `json:"image_url"`
	RestaurantContext string             `json:"restaurant_context,omitempty"`
	Orientation       models.Orientation `json:"orientation"`
}

// Status is an immutable view of the session for the presentation layer.
type Status struct {
	SessionID  string    `json:"session_id"`
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Reference  string    `json:"reference,omitempty"`
	Message    string    `json:"message,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
	CanRetry   bool      `json:"can_retry"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Items is exposed when text detection failed but analysis succeeded.
	Items []models.AnalysisItem `json:"items,omitempty"`
	// DetectedText is exposed when analysis failed but detection succeeded.
	DetectedText []string        `json:"detected_text,omitempty"`
	Restaurant   json.RawMessage `json:"restaurant,omitempty"`

	Summary            *matcher.Summary `json:"summary,omitempty"`
	ProjectionDeferred bool             `json:"projection_deferred"`
	ProjectionError    string           `json:"projection_error,omitempty"`
}

// Timeouts bounds each dependent operation of a capture.
type Timeouts struct {
	Capture   time.Duration
	Detection time.Duration
	Analysis  time.Duration
	Indexing  time.Duration
	// Drain bounds how long Close waits for workers that ignore cancellation
	Drain time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Capture <= 0 {
		t.Capture = 30 * time.Second
	}
	if t.Detection <= 0 {
		t.Detection = 20 * time.Second
	}
	if t.Analysis <= 0 {
		t.Analysis = 45 * time.Second
	}
	if t.Indexing <= 0 {
		t.Indexing = 15 * time.Second
	}
	if t.Drain <= 0 {
		t.Drain = 5 * time.Second
	}
	return t
}

// Dependencies are the collaborators of one orchestrator.
type Dependencies struct {
	Captures CaptureLoader
	Detector detector.TextDetector
	Analyzer analysis.Analyzer

	// Optional. Readability gates text detection only; a nil Indexer
	// disables indexing.
	Readability ReadabilityCheck
	Indexer     embedding.Indexer
	Store       *store.AnnotationStore
	Events      observer.Subject
}

// Orchestrator coordinates one session. Start must be called before use.
type Orchestrator struct {
	sessionID string
	deps      Dependencies
	timeouts  Timeouts

	commands    chan func()
	completions chan completion
	done        chan struct{}
	startOnce   sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup

	// Load, detection, analysis and indexing goroutines. Added to only
	// from the loop, so never after Close has stopped it.
	workers sync.WaitGroup
	life    context.Context
	stop    context.CancelFunc

	status atomic.Pointer[Status]

	// Owned by the loop goroutine.
	generation  uint64
	state       State
	last        *CaptureRequest
	current     *inflight
	annotations []models.Annotation
	metrics     *models.ViewMetrics
	deferral    error
}

// New creates an idle orchestrator for sessionID.
func New(sessionID string, deps Dependencies, timeouts Timeouts) *Orchestrator {
	if deps.Store == nil {
		deps.Store = store.NewAnnotationStore(store.DefaultTouchPadding)
	}
	if deps.Indexer == nil {
		deps.Indexer = embedding.NoopIndexer{}
	}
	if deps.Events == nil {
		deps.Events = observer.NewEventPublisher()
	}
	life, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessionID:   sessionID,
		deps:        deps,
		timeouts:    timeouts.withDefaults(),
		commands:    make(chan func()),
		completions: make(chan completion, 8),
		done:        make(chan struct{}),
		life:        life,
		stop:        stop,
		state:       StateIdle,
	}
	o.publishStatus()
	return o
}

// Start runs the event loop. Calling it more than once has no effect.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.wg.Add(1)
		go o.loop()
	})
}

// Close stops the loop, cancels any in-flight work and waits up to the
// drain timeout for workers to return.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
		o.stop()
		if !waitTimeout(&o.workers, o.timeouts.Drain) {
			logger.WithSession(o.sessionID, o.generation).
				WithField("drain_timeout", o.timeouts.Drain.String()).
				Warn("workers still running after close")
		}
	})
	o.wg.Wait()
}

// Capture starts a new generation for req and returns its id. Any capture
// still in flight is superseded. It returns 0 once the orchestrator is closed.
func (o *Orchestrator) Capture(req CaptureRequest) uint64 {
	var gen uint64
	o.do(func() { gen = o.startCapture(req) })
	return gen
}

// Retry repeats the last capture under a new generation.
func (o *Orchestrator) Retry() (uint64, error) {
	var (
		gen uint64
		err error
	)
	ok := o.do(func() {
		if o.last == nil {
			err = apperrors.NewConflictError("nothing to retry", nil)
			return
		}
		gen = o.startCapture(*o.last)
	})
	if !ok {
		return 0, apperrors.NewInternalError("session is closed", nil)
	}
	return gen, err
}

// Reset abandons in-flight work, clears the annotations and returns to idle.
func (o *Orchestrator) Reset() {
	o.do(o.reset)
}

// UpdateViewMetrics re-projects the current annotations for a new view.
// Invalid metrics are kept pending and returned as a projection error; the
// annotations stay valid in normalized space until usable metrics arrive.
func (o *Orchestrator) UpdateViewMetrics(metrics models.ViewMetrics) error {
	var err error
	ok := o.do(func() { err = o.applyMetrics(metrics) })
	if !ok {
		return apperrors.NewInternalError("session is closed", nil)
	}
	return err
}

// Status returns the latest published status.
func (o *Orchestrator) Status() Status {
	return *o.status.Load()
}

// Store exposes the annotation store for readers.
func (o *Orchestrator) Store() *store.AnnotationStore {
	return o.deps.Store
}

// do runs fn on the loop goroutine and waits for it to finish.
func (o *Orchestrator) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case o.commands <- func() { fn(); close(finished) }:
	case <-o.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			o.abandon()
			return
		case fn := <-o.commands:
			fn()
		case c := <-o.completions:
			o.handleCompletion(c)
		}
	}
}

// spawn runs fn as a tracked worker. Only the loop calls it.
func (o *Orchestrator) spawn(fn func()) {
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		fn()
	}()
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}

// complete hands a worker result to the loop unless the loop has stopped.
func (o *Orchestrator) complete(c completion) {
	select {
	case o.completions <- c:
	case <-o.done:
	}
}

func (o *Orchestrator) emit(event observer.SessionEvent) {
	event.SessionID = o.sessionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	o.deps.Events.NotifyObservers(context.Background(), event)
}

// publishStatus builds a fresh status value from loop-owned state.
func (o *Orchestrator) publishStatus() {
	st := &Status{
		SessionID:  o.sessionID,
		State:      o.state,
		Generation: o.generation,
		UpdatedAt:  time.Now(),
		CanRetry:   o.last != nil,
	}

	if cur := o.current; cur != nil {
		st.Reference = cur.request.Reference
		st.Restaurant = cur.analysis.Restaurant

		switch o.state {
		case StateError:
			st.Message = cur.message()
			st.Errors = cur.errorKinds()
		case StatePartialFailure:
			st.Message = cur.message()
			st.Errors = cur.errorKinds()
			if cur.detectionErr != nil {
				st.Items = append([]models.AnalysisItem{}, cur.analysis.Items...)
			} else {
				st.DetectedText = make([]string, len(cur.observations))
				for i, obs := range cur.observations {
					st.DetectedText[i] = obs.Text
				}
			}
		case StateMatched, StateRendered:
			summary := matcher.Summarize(o.annotations)
			st.Summary = &summary
		}
	}

	if o.state == StateMatched && o.deferral != nil {
		st.ProjectionDeferred = true
		st.ProjectionError = o.deferral.Error()
	}
	o.status.Store(st)
}
