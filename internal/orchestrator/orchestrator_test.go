package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-menu-annotator/internal/embedding"
	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/observer"
	"go-menu-annotator/internal/projection"
	"go-menu-annotator/internal/store"
	"go-menu-annotator/pkg/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type loaderFunc func(ctx context.Context, reference string) (models.CapturedImage, error)

func (f loaderFunc) LoadCapture(ctx context.Context, reference string) (models.CapturedImage, error) {
	return f(ctx, reference)
}

type detectorFunc func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error)

func (f detectorFunc) Detect(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
	return f(ctx, img)
}

type analyzerFunc func(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error)

func (f analyzerFunc) Analyze(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
	return f(ctx, img, restaurantContext)
}

type recordingIndexer struct {
	mu       sync.Mutex
	requests []embedding.IndexRequest
	err      error
}

func (r *recordingIndexer) Index(ctx context.Context, req embedding.IndexRequest) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return 0, r.err
	}
	return len(req.Items), nil
}

func (r *recordingIndexer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type eventLog struct {
	mu     sync.Mutex
	events []observer.SessionEvent
}

func (l *eventLog) OnEvent(ctx context.Context, event observer.SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) GetObserverName() string { return "event_log" }

func (l *eventLog) has(eventType observer.EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

func price(v float64) *float64 { return &v }

func menuImage(reference string) models.CapturedImage {
	return models.CapturedImage{Reference: reference, Data: []byte(reference), Width: 1000, Height: 2000}
}

var (
	menuObservations = []models.TextObservation{
		{ID: "obs-0000", Text: "Margherita Pizza", Box: models.Rect{X: 0.1, Y: 0.1, Width: 0.4, Height: 0.05}, Confidence: 0.9},
		{ID: "obs-0001", Text: "12.50", Box: models.Rect{X: 0.7, Y: 0.1, Width: 0.1, Height: 0.05}, Confidence: 0.9},
	}
	menuItems = []models.AnalysisItem{
		{ID: "item-0000", Name: "Margherita Pizza", Price: price(12.5), Category: "star", MarginPercent: 68, Ordinal: 0},
	}
	portraitView = models.ViewMetrics{
		ViewSize:    models.Size{Width: 500, Height: 1000},
		ContentMode: models.ContentModeAspectFit,
		Orientation: models.OrientationUp,
		BoxSpace:    models.BoxSpaceUpright,
	}
)

func okLoader() CaptureLoader {
	return loaderFunc(func(ctx context.Context, reference string) (models.CapturedImage, error) {
		return menuImage(reference), nil
	})
}

func okDetector() detectorFunc {
	return func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
		return menuObservations, nil
	}
}

func okAnalyzer() analyzerFunc {
	return func(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
		return models.AnalysisResult{Items: menuItems, Restaurant: []byte(`{"name":"Luigi's"}`)}, nil
	}
}

func newTestOrchestrator(t *testing.T, deps Dependencies) *Orchestrator {
	t.Helper()
	if deps.Captures == nil {
		deps.Captures = okLoader()
	}
	if deps.Detector == nil {
		deps.Detector = okDetector()
	}
	if deps.Analyzer == nil {
		deps.Analyzer = okAnalyzer()
	}
	o := New("table-1", deps, Timeouts{Detection: time.Second, Analysis: time.Second})
	o.Start()
	t.Cleanup(o.Close)
	return o
}

func waitForState(t *testing.T, o *Orchestrator, generation uint64, state State) Status {
	t.Helper()
	require.Eventually(t, func() bool {
		st := o.Status()
		return st.Generation == generation && st.State == state
	}, waitFor, tick, "expected generation %d to reach %s", generation, state)
	return o.Status()
}

func TestOrchestrator_StartsIdle(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{})

	st := o.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, uint64(0), st.Generation)
	assert.False(t, st.CanRetry)
}

func TestOrchestrator_BothSucceedRenders(t *testing.T) {
	indexer := &recordingIndexer{}
	o := newTestOrchestrator(t, Dependencies{Indexer: indexer})
	require.NoError(t, o.UpdateViewMetrics(portraitView))

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	require.Equal(t, uint64(1), gen)

	st := waitForState(t, o, gen, StateRendered)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 1, st.Summary.Total)
	assert.False(t, st.ProjectionDeferred)
	assert.JSONEq(t, `{"name":"Luigi's"}`, string(st.Restaurant))

	snap := o.Store().Snapshot()
	assert.Equal(t, gen, snap.Generation)
	assert.True(t, snap.Projected)
	require.Len(t, snap.Annotations, 1)
	a := snap.Annotations[0]
	assert.Equal(t, models.StrategyExactName, a.Strategy)
	require.NotNil(t, a.Display)
	assert.InDelta(t, 50, a.Display.X, 1e-9)
	assert.InDelta(t, 100, a.Display.Y, 1e-9)
	assert.InDelta(t, 200, a.Display.Width, 1e-9)
	assert.InDelta(t, 50, a.Display.Height, 1e-9)

	hit, ok := o.Store().AnnotationAt(models.Point{X: 60, Y: 110})
	require.True(t, ok)
	assert.Equal(t, "item-0000", hit.ItemID)

	require.Eventually(t, func() bool { return indexer.count() == 1 }, waitFor, tick)
}

func TestOrchestrator_DefersProjectionUntilMetrics(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	st := waitForState(t, o, gen, StateMatched)
	assert.True(t, st.ProjectionDeferred)

	snap := o.Store().Snapshot()
	require.Len(t, snap.Annotations, 1)
	assert.False(t, snap.Projected)
	assert.Nil(t, snap.Annotations[0].Display)

	invalid := portraitView
	invalid.ViewSize = models.Size{}
	err := o.UpdateViewMetrics(invalid)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeProjection))
	assert.Equal(t, StateMatched, o.Status().State)
	assert.Equal(t, menuObservations[0].Box, o.Store().All()[0].Anchor)

	require.NoError(t, o.UpdateViewMetrics(portraitView))
	st = o.Status()
	assert.Equal(t, StateRendered, st.State)
	assert.Equal(t, gen, st.Generation)
	assert.NotNil(t, o.Store().All()[0].Display)
}

func TestOrchestrator_InvalidMetricsAfterRenderFallsBackToMatched(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{})
	require.NoError(t, o.UpdateViewMetrics(portraitView))
	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	waitForState(t, o, gen, StateRendered)

	bad := portraitView
	bad.ContentMode = "stretch"
	require.Error(t, o.UpdateViewMetrics(bad))

	st := o.Status()
	assert.Equal(t, StateMatched, st.State)
	assert.True(t, st.ProjectionDeferred)
	assert.Nil(t, o.Store().All()[0].Display)
}

func TestOrchestrator_DetectionFailureExposesItems(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			return nil, errors.New("engine crashed")
		}),
	})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	st := waitForState(t, o, gen, StatePartialFailure)

	assert.Equal(t, MessageDetectionFailed, st.Message)
	assert.Equal(t, []string{string(apperrors.ErrorTypeDetection)}, st.Errors)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "Margherita Pizza", st.Items[0].Name)
	assert.Empty(t, st.DetectedText)
	assert.Empty(t, o.Store().All())
}

func TestOrchestrator_NoTextIsDetectionFailure(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			return []models.TextObservation{}, nil
		}),
	})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/blank.jpg"})
	st := waitForState(t, o, gen, StatePartialFailure)
	assert.Equal(t, MessageDetectionFailed, st.Message)
}

type readabilityFunc func(img models.CapturedImage) error

func (f readabilityFunc) ValidateCapture(img models.CapturedImage) error { return f(img) }

func TestOrchestrator_UnreadableCaptureSkipsDetection(t *testing.T) {
	var detected int32
	o := newTestOrchestrator(t, Dependencies{
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			atomic.AddInt32(&detected, 1)
			return menuObservations, nil
		}),
		Readability: readabilityFunc(func(img models.CapturedImage) error {
			return apperrors.NewDetectionError("image cannot be read: image has no visible content", nil)
		}),
	})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/blank.jpg"})
	st := waitForState(t, o, gen, StatePartialFailure)

	assert.Equal(t, MessageDetectionFailed, st.Message)
	require.Len(t, st.Items, 1)
	assert.Equal(t, int32(0), atomic.LoadInt32(&detected))
}

func TestOrchestrator_AnalysisFailureExposesText(t *testing.T) {
	indexer := &recordingIndexer{}
	o := newTestOrchestrator(t, Dependencies{
		Indexer: indexer,
		Analyzer: analyzerFunc(func(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
			return models.AnalysisResult{}, errors.New("upstream 503")
		}),
	})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	st := waitForState(t, o, gen, StatePartialFailure)

	assert.Equal(t, MessageAnalysisFailed, st.Message)
	assert.Equal(t, []string{string(apperrors.ErrorTypeAnalysis)}, st.Errors)
	assert.Equal(t, []string{"Margherita Pizza", "12.50"}, st.DetectedText)
	assert.Empty(t, st.Items)
	assert.Empty(t, o.Store().All())
	assert.Equal(t, 0, indexer.count())
}

func TestOrchestrator_BothFailIsError(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			return nil, apperrors.NewDetectionError("unreadable image", nil)
		}),
		Analyzer: analyzerFunc(func(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
			<-ctx.Done()
			return models.AnalysisResult{}, ctx.Err()
		}),
	})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	st := waitForState(t, o, gen, StateError)

	assert.Equal(t, MessageBothFailed, st.Message)
	assert.ElementsMatch(t, []string{"detection", "analysis"}, st.Errors)
	assert.True(t, st.CanRetry)
}

func TestOrchestrator_CaptureFailure(t *testing.T) {
	var detections int32
	o := newTestOrchestrator(t, Dependencies{
		Captures: loaderFunc(func(ctx context.Context, reference string) (models.CapturedImage, error) {
			return models.CapturedImage{}, apperrors.NewNetworkError("failed to fetch image", nil)
		}),
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			atomic.AddInt32(&detections, 1)
			return menuObservations, nil
		}),
	})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/missing.jpg"})
	st := waitForState(t, o, gen, StateError)

	assert.Equal(t, MessageCaptureFailed, st.Message)
	assert.Equal(t, []string{"network"}, st.Errors)
	assert.Equal(t, int32(0), atomic.LoadInt32(&detections))
}

func TestOrchestrator_Retry(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	o := newTestOrchestrator(t, Dependencies{
		Analyzer: analyzerFunc(func(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
			if failing.Load() {
				return models.AnalysisResult{}, errors.New("backend down")
			}
			assert.Equal(t, "downtown bistro", restaurantContext)
			return models.AnalysisResult{Items: menuItems}, nil
		}),
	})

	_, err := o.Retry()
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg", RestaurantContext: "downtown bistro"})
	waitForState(t, o, gen, StatePartialFailure)

	failing.Store(false)
	retried, err := o.Retry()
	require.NoError(t, err)
	assert.Equal(t, gen+1, retried)

	st := waitForState(t, o, retried, StateMatched)
	assert.Empty(t, st.Message)
	assert.Empty(t, st.Errors)
	assert.Len(t, o.Store().All(), 1)
}

func TestOrchestrator_Reset(t *testing.T) {
	events := &eventLog{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(events)
	o := newTestOrchestrator(t, Dependencies{Events: publisher})

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	waitForState(t, o, gen, StateMatched)

	o.Reset()
	st := o.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Greater(t, st.Generation, gen)
	assert.False(t, st.CanRetry)
	assert.Empty(t, o.Store().All())
	assert.Equal(t, st.Generation, o.Store().Generation())

	_, err := o.Retry()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return events.has(observer.SessionReset) }, waitFor, tick)
}

func TestOrchestrator_SupersededGenerationIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	cancelled := make(chan struct{})
	slowRef := "https://example.com/slow.jpg"

	events := &eventLog{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(events)

	o := newTestOrchestrator(t, Dependencies{
		Events: publisher,
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			if img.Reference == slowRef {
				// Ignores cancellation and reports late.
				<-release
				return []models.TextObservation{
					{ID: "obs-0000", Text: "Stale Soup", Box: models.Rect{X: 0.5, Y: 0.5, Width: 0.2, Height: 0.05}},
				}, nil
			}
			return menuObservations, nil
		}),
		Analyzer: analyzerFunc(func(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
			if img.Reference == slowRef {
				<-ctx.Done()
				close(cancelled)
				return models.AnalysisResult{}, ctx.Err()
			}
			return models.AnalysisResult{Items: menuItems}, nil
		}),
	})

	first := o.Capture(CaptureRequest{Reference: slowRef})
	waitForState(t, o, first, StateAwaitingResults)

	second := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	require.Greater(t, second, first)

	select {
	case <-cancelled:
	case <-time.After(waitFor):
		t.Fatal("superseded analysis was not cancelled")
	}

	waitForState(t, o, second, StateMatched)
	close(release)

	require.Eventually(t, func() bool { return events.has(observer.StaleResultDropped) }, waitFor, tick)

	snap := o.Store().Snapshot()
	assert.Equal(t, second, snap.Generation)
	require.Len(t, snap.Annotations, 1)
	assert.Equal(t, "Margherita Pizza", snap.Annotations[0].Name)
	assert.Equal(t, StateMatched, o.Status().State)
	assert.Equal(t, second, o.Status().Generation)
}

func TestOrchestrator_IndexingFailureDoesNotChangeState(t *testing.T) {
	events := &eventLog{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(events)
	o := newTestOrchestrator(t, Dependencies{
		Events:  publisher,
		Indexer: &recordingIndexer{err: errors.New("qdrant unavailable")},
	})
	require.NoError(t, o.UpdateViewMetrics(portraitView))

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	waitForState(t, o, gen, StateRendered)

	require.Eventually(t, func() bool { return events.has(observer.IndexingFailed) }, waitFor, tick)
	assert.Equal(t, StateRendered, o.Status().State)
}

func TestOrchestrator_ClosedRejectsCommands(t *testing.T) {
	o := New("closed", Dependencies{
		Captures: okLoader(),
		Detector: okDetector(),
		Analyzer: okAnalyzer(),
		Store:    store.NewAnnotationStore(store.DefaultTouchPadding),
	}, Timeouts{})
	o.Start()
	o.Close()

	assert.Equal(t, uint64(0), o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"}))
	_, err := o.Retry()
	assert.Error(t, err)
	assert.Error(t, o.UpdateViewMetrics(portraitView))
}

func TestOrchestrator_CaptureOrientationRotatesSensorBoxes(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{})
	sensorView := portraitView
	sensorView.BoxSpace = models.BoxSpaceSensor
	require.NoError(t, o.UpdateViewMetrics(sensorView))

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg", Orientation: models.OrientationRight})
	waitForState(t, o, gen, StateRendered)

	snap := o.Store().Snapshot()
	require.Len(t, snap.Annotations, 1)
	a := snap.Annotations[0]
	require.NotNil(t, a.Display)
	require.NotNil(t, snap.Metrics)
	assert.Equal(t, models.OrientationRight, snap.Metrics.Orientation)

	rotatedView := sensorView
	rotatedView.Orientation = models.OrientationRight
	imageSize := models.Size{Width: 1000, Height: 2000}
	want, err := projection.Project(a.Anchor, imageSize, rotatedView)
	require.NoError(t, err)
	unrotated, err := projection.Project(a.Anchor, imageSize, sensorView)
	require.NoError(t, err)

	assert.InDelta(t, want.X, a.Display.X, 1e-9)
	assert.InDelta(t, want.Y, a.Display.Y, 1e-9)
	assert.InDelta(t, want.Width, a.Display.Width, 1e-9)
	assert.InDelta(t, want.Height, a.Display.Height, 1e-9)
	assert.NotEqual(t, unrotated, *a.Display)
}

func TestOrchestrator_UprightCaptureKeepsViewOrientation(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{})
	view := portraitView
	view.BoxSpace = models.BoxSpaceSensor
	view.Orientation = models.OrientationDown
	require.NoError(t, o.UpdateViewMetrics(view))

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	waitForState(t, o, gen, StateRendered)

	snap := o.Store().Snapshot()
	require.NotNil(t, snap.Metrics)
	assert.Equal(t, models.OrientationDown, snap.Metrics.Orientation)
}

func TestOrchestrator_CloseWaitsForWorkers(t *testing.T) {
	var finished int32
	o := New("draining", Dependencies{
		Captures: okLoader(),
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return nil, ctx.Err()
		}),
		Analyzer: okAnalyzer(),
	}, Timeouts{Detection: time.Minute, Drain: waitFor})
	o.Start()

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	waitForState(t, o, gen, StateAwaitingResults)

	o.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestOrchestrator_CloseCancelsIndexing(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan error, 1)
	indexer := indexerFunc(func(ctx context.Context, req embedding.IndexRequest) (int, error) {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
		return 0, ctx.Err()
	})
	o := New("indexing", Dependencies{
		Captures: okLoader(),
		Detector: okDetector(),
		Analyzer: okAnalyzer(),
		Indexer:  indexer,
	}, Timeouts{Indexing: time.Minute, Drain: waitFor})
	o.Start()

	o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("indexing never started")
	}

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("close did not return")
	}
	require.Len(t, cancelled, 1)
	assert.ErrorIs(t, <-cancelled, context.Canceled)
}

func TestOrchestrator_CloseGivesUpOnStuckWorkers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := New("stuck", Dependencies{
		Captures: okLoader(),
		Detector: detectorFunc(func(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
			<-release
			return nil, errors.New("released")
		}),
		Analyzer: okAnalyzer(),
	}, Timeouts{Detection: time.Minute, Drain: 20 * time.Millisecond})
	o.Start()

	gen := o.Capture(CaptureRequest{Reference: "https://example.com/menu.jpg"})
	waitForState(t, o, gen, StateAwaitingResults)

	start := time.Now()
	o.Close()
	assert.Less(t, time.Since(start), waitFor)
}

type indexerFunc func(ctx context.Context, req embedding.IndexRequest) (int, error)

func (f indexerFunc) Index(ctx context.Context, req embedding.IndexRequest) (int, error) {
	return f(ctx, req)
}
