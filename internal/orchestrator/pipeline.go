package orchestrator

import (
	"context"
	"errors"
	"time"

	"go-menu-annotator/internal/embedding"
	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/matcher"
	"go-menu-annotator/internal/observer"
	"go-menu-annotator/internal/projection"
	"go-menu-annotator/internal/store"
	"go-menu-annotator/pkg/models"
)

type stage int

const (
	stageCapture stage = iota
	stageDetection
	stageAnalysis
)

func (s stage) String() string {
	switch s {
	case stageCapture:
		return "capture"
	case stageDetection:
		return "detection"
	case stageAnalysis:
		return "analysis"
	default:
		return "unknown"
	}
}

// completion is a worker result tagged with the generation it belongs to.
type completion struct {
	generation   uint64
	stage        stage
	image        models.CapturedImage
	observations []models.TextObservation
	analysis     models.AnalysisResult
	err          error
	elapsed      time.Duration
}

// inflight is the loop's record of the current generation.
type inflight struct {
	generation uint64
	request    CaptureRequest
	started    time.Time
	ctx        context.Context
	cancel     context.CancelFunc

	image      models.CapturedImage
	captureErr error

	detected     bool
	observations []models.TextObservation
	detectionErr error

	analyzed    bool
	analysis    models.AnalysisResult
	analysisErr error
}

func (f *inflight) message() string {
	switch {
	case f.captureErr != nil:
		return MessageCaptureFailed
	case f.detectionErr != nil && f.analysisErr != nil:
		return MessageBothFailed
	case f.detectionErr != nil:
		return MessageDetectionFailed
	case f.analysisErr != nil:
		return MessageAnalysisFailed
	}
	return ""
}

func (f *inflight) errorKinds() []string {
	var kinds []string
	for _, err := range []error{f.captureErr, f.detectionErr, f.analysisErr} {
		if err != nil {
			kinds = append(kinds, string(apperrors.KindOf(err)))
		}
	}
	return kinds
}

func (o *Orchestrator) startCapture(req CaptureRequest) uint64 {
	o.abandon()
	o.generation++
	gen := o.generation

	last := req
	o.last = &last

	ctx, cancel := context.WithCancel(context.Background())
	o.current = &inflight{
		generation: gen,
		request:    req,
		started:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	o.annotations = nil
	o.deferral = nil
	o.deps.Store.Clear(gen)
	o.state = StateCapturing
	o.publishStatus()

	logger.WithSession(o.sessionID, gen).WithField("reference", req.Reference).Info("capture started")
	o.emit(observer.SessionEvent{
		EventType:  observer.CaptureStarted,
		Generation: gen,
		Reference:  req.Reference,
		Success:    true,
	})

	o.spawn(func() { o.load(ctx, gen, req) })
	return gen
}

// abandon cancels the current generation's work best-effort. Workers that
// ignore cancellation still report back and are dropped as stale.
func (o *Orchestrator) abandon() {
	if o.current != nil {
		o.current.cancel()
	}
}

func (o *Orchestrator) reset() {
	o.abandon()
	o.generation++
	o.current = nil
	o.last = nil
	o.annotations = nil
	o.deferral = nil
	o.deps.Store.Clear(o.generation)
	o.state = StateIdle
	o.publishStatus()

	logger.WithSession(o.sessionID, o.generation).Info("session reset")
	o.emit(observer.SessionEvent{EventType: observer.SessionReset, Generation: o.generation, Success: true})
}

func (o *Orchestrator) load(ctx context.Context, gen uint64, req CaptureRequest) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Capture)
	defer cancel()

	start := time.Now()
	img, err := o.deps.Captures.LoadCapture(ctx, req.Reference)
	if err == nil {
		img.Orientation = req.Orientation
	}
	o.complete(completion{generation: gen, stage: stageCapture, image: img, err: err, elapsed: time.Since(start)})
}

func (o *Orchestrator) detect(ctx context.Context, gen uint64, img models.CapturedImage) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Detection)
	defer cancel()

	start := time.Now()
	if o.deps.Readability != nil {
		if err := o.deps.Readability.ValidateCapture(img); err != nil {
			o.complete(completion{generation: gen, stage: stageDetection, err: failure(ctx, err, apperrors.ErrorTypeDetection, "text detection"), elapsed: time.Since(start)})
			return
		}
	}
	observations, err := o.deps.Detector.Detect(ctx, img)
	switch {
	case err != nil:
		err = failure(ctx, err, apperrors.ErrorTypeDetection, "text detection")
	case len(observations) == 0:
		err = apperrors.NewDetectionError("no text detected", nil)
	}
	o.complete(completion{generation: gen, stage: stageDetection, observations: observations, err: err, elapsed: time.Since(start)})
}

func (o *Orchestrator) analyze(ctx context.Context, gen uint64, img models.CapturedImage, restaurantContext string) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Analysis)
	defer cancel()

	start := time.Now()
	result, err := o.deps.Analyzer.Analyze(ctx, img, restaurantContext)
	if err != nil {
		err = failure(ctx, err, apperrors.ErrorTypeAnalysis, "menu analysis")
	}
	o.complete(completion{generation: gen, stage: stageAnalysis, analysis: result, err: err, elapsed: time.Since(start)})
}

// index runs detached from the generation: a superseded capture's items
// are still worth keeping for search. Closing the session cancels it.
func (o *Orchestrator) index(gen uint64, img models.CapturedImage, items []models.AnalysisItem) {
	ctx, cancel := context.WithTimeout(o.life, o.timeouts.Indexing)
	defer cancel()

	start := time.Now()
	n, err := o.deps.Indexer.Index(ctx, embedding.IndexRequest{
		SessionID:      o.sessionID,
		Generation:     gen,
		ImageReference: img.Reference,
		ImageDigest:    img.Digest(),
		Items:          items,
	})

	event := observer.SessionEvent{
		EventType:  observer.IndexingCompleted,
		Generation: gen,
		Reference:  img.Reference,
		Duration:   time.Since(start),
		Success:    err == nil,
		Metadata:   map[string]interface{}{"indexed_items": n},
	}
	if err != nil {
		event.EventType = observer.IndexingFailed
		event.Error = err.Error()
	}
	o.emit(event)
}

// failure classifies a worker error, keeping kinds the worker already chose.
func failure(ctx context.Context, err error, kind apperrors.ErrorType, operation string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type == kind {
		return err
	}
	message := operation + " failed"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		message = operation + " timed out"
	}
	if kind == apperrors.ErrorTypeDetection {
		return apperrors.NewDetectionError(message, err)
	}
	return apperrors.NewAnalysisError(message, err)
}

func (o *Orchestrator) handleCompletion(c completion) {
	cur := o.current
	if cur == nil || c.generation != o.generation || cur.generation != c.generation {
		logger.WithSession(o.sessionID, c.generation).
			WithField("stage", c.stage.String()).
			WithField("current_generation", o.generation).
			Debug("dropping stale result")
		o.emit(observer.SessionEvent{
			EventType:  observer.StaleResultDropped,
			Generation: c.generation,
			Duration:   c.elapsed,
			Metadata:   map[string]interface{}{"stage": c.stage.String(), "current_generation": o.generation},
		})
		return
	}

	gen := cur.generation
	event := observer.SessionEvent{
		Generation: c.generation,
		Reference:  cur.request.Reference,
		Duration:   c.elapsed,
		Success:    c.err == nil,
	}
	if c.err != nil {
		event.Error = c.err.Error()
	}

	switch c.stage {
	case stageCapture:
		if c.err != nil {
			cur.captureErr = c.err
			cur.cancel()
			o.state = StateError
			o.publishStatus()
			event.EventType = observer.CaptureFailed
			o.emit(event)
			return
		}
		cur.image = c.image
		o.state = StateAwaitingResults
		o.publishStatus()
		event.EventType = observer.CaptureLoaded
		event.Metadata = map[string]interface{}{"width": c.image.Width, "height": c.image.Height}
		o.emit(event)

		img, restaurantContext := cur.image, cur.request.RestaurantContext
		o.spawn(func() { o.detect(cur.ctx, gen, img) })
		o.spawn(func() { o.analyze(cur.ctx, gen, img, restaurantContext) })
		return

	case stageDetection:
		cur.detected = true
		cur.observations = c.observations
		cur.detectionErr = c.err
		event.EventType = observer.DetectionCompleted
		if c.err != nil {
			event.EventType = observer.DetectionFailed
		} else {
			event.Metadata = map[string]interface{}{"observations": len(c.observations)}
		}
		o.emit(event)

	case stageAnalysis:
		cur.analyzed = true
		cur.analysis = c.analysis
		cur.analysisErr = c.err
		event.EventType = observer.AnalysisCompleted
		if c.err != nil {
			event.EventType = observer.AnalysisFailed
		} else {
			event.Metadata = map[string]interface{}{"items": len(c.analysis.Items)}
			img, items := cur.image, c.analysis.Items
			o.spawn(func() { o.index(gen, img, items) })
		}
		o.emit(event)
	}

	if cur.detected && cur.analyzed {
		o.resolve(cur)
	}
}

// resolve applies the transition rules once both results are in.
func (o *Orchestrator) resolve(cur *inflight) {
	defer cur.cancel()

	entry := logger.WithSession(o.sessionID, cur.generation)
	switch {
	case cur.detectionErr != nil && cur.analysisErr != nil:
		o.state = StateError
		entry.WithField("detection_error", cur.detectionErr.Error()).
			WithField("analysis_error", cur.analysisErr.Error()).
			Warn("capture failed")
	case cur.detectionErr != nil:
		o.state = StatePartialFailure
		entry.WithError(cur.detectionErr).Warn("showing analysis without annotations")
	case cur.analysisErr != nil:
		o.state = StatePartialFailure
		entry.WithError(cur.analysisErr).Warn("showing detected text only")
	default:
		o.annotations = matcher.Match(cur.observations, cur.analysis.Items)
		summary := matcher.Summarize(o.annotations)
		entry.WithField("annotations", summary.Total).
			WithField("degraded", summary.Degraded).
			Info("menu matched")
		o.emit(observer.SessionEvent{
			EventType:  observer.MatchCompleted,
			Generation: cur.generation,
			Reference:  cur.request.Reference,
			Duration:   time.Since(cur.started),
			Success:    true,
			Metadata:   map[string]interface{}{"annotations": summary.Total, "degraded": summary.Degraded},
		})
		o.render()
		return
	}
	o.publishStatus()
}

// render projects the matched annotations for the current view metrics and
// writes the store. Without usable metrics the store keeps the normalized
// anchors and the state stays matched.
func (o *Orchestrator) render() error {
	cur := o.current
	gen := o.generation

	var err error
	if o.metrics == nil {
		err = apperrors.NewProjectionError("no view metrics reported", nil)
	} else {
		view := viewFor(cur.image, *o.metrics)
		var projected []models.Annotation
		projected, err = projectAll(o.annotations, cur.image.Size(), view)
		if err == nil {
			o.deps.Store.Replace(store.Snapshot{
				Generation:  gen,
				Annotations: projected,
				Metrics:     &view,
				Projected:   true,
			})
			o.deferral = nil
			o.state = StateRendered
			o.publishStatus()
			o.emit(observer.SessionEvent{
				EventType:  observer.AnnotationsRendered,
				Generation: gen,
				Reference:  cur.request.Reference,
				Success:    true,
				Metadata:   map[string]interface{}{"annotations": len(projected)},
			})
			return nil
		}
	}

	o.deps.Store.Replace(store.Snapshot{
		Generation:  gen,
		Annotations: o.annotations,
		Metrics:     o.metrics,
	})
	o.deferral = err
	o.state = StateMatched
	o.publishStatus()

	logger.WithSession(o.sessionID, gen).WithError(err).Warn("projection deferred")
	o.emit(observer.SessionEvent{
		EventType:  observer.ProjectionDeferred,
		Generation: gen,
		Reference:  cur.request.Reference,
		Error:      err.Error(),
	})
	return err
}

// viewFor applies the capture's own rotation when it has one. Captures
// tagged upright keep the orientation the view reported.
func viewFor(img models.CapturedImage, metrics models.ViewMetrics) models.ViewMetrics {
	if img.Orientation != models.OrientationUp {
		metrics.Orientation = img.Orientation
	}
	return metrics
}

func projectAll(annotations []models.Annotation, imageSize models.Size, metrics models.ViewMetrics) ([]models.Annotation, error) {
	out := make([]models.Annotation, len(annotations))
	for i, a := range annotations {
		display, err := projection.Project(a.Anchor, imageSize, metrics)
		if err != nil {
			return nil, err
		}
		out[i] = a.Clone()
		out[i].Display = &display
	}
	return out, nil
}

// applyMetrics records new view metrics and re-projects without re-matching.
func (o *Orchestrator) applyMetrics(metrics models.ViewMetrics) error {
	o.metrics = &metrics

	if o.state == StateMatched || o.state == StateRendered {
		return o.render()
	}

	imageSize := models.Size{Width: 1, Height: 1}
	if o.current != nil && o.current.image.Size().IsValid() {
		imageSize = o.current.image.Size()
		metrics = viewFor(o.current.image, metrics)
	}
	err := projection.Validate(imageSize, metrics)
	if err != nil {
		logger.WithSession(o.sessionID, o.generation).WithError(err).Warn("view metrics rejected")
	}
	o.publishStatus()
	return err
}
