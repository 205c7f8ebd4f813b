package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/orchestrator"
	"go-menu-annotator/pkg/models"
	"go-menu-annotator/pkg/validation"
)

type stubLoader struct{}

func (stubLoader) LoadCapture(ctx context.Context, reference string) (models.CapturedImage, error) {
	return models.CapturedImage{Reference: reference, Data: []byte("menu"), Width: 800, Height: 600}, nil
}

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
	return []models.TextObservation{
		{ID: "obs-0000", Text: "Caesar Salad", Box: models.Rect{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.05}, Confidence: 0.95},
	}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
	return models.AnalysisResult{Items: []models.AnalysisItem{
		{ID: "item-0000", Name: "Caesar Salad", Category: "plowhorse", MarginPercent: 55},
	}}, nil
}

func newTestService(t *testing.T) SessionService {
	t.Helper()
	svc := NewSessionService(validation.NewReferenceValidator(), func(sessionID string) *orchestrator.Orchestrator {
		return orchestrator.New(sessionID, orchestrator.Dependencies{
			Captures: stubLoader{},
			Detector: stubDetector{},
			Analyzer: stubAnalyzer{},
		}, orchestrator.Timeouts{})
	})
	t.Cleanup(svc.Close)
	return svc
}

var view = models.ViewMetrics{
	ViewSize:    models.Size{Width: 800, Height: 600},
	ContentMode: models.ContentModeAspectFit,
	Orientation: models.OrientationUp,
	BoxSpace:    models.BoxSpaceUpright,
}

func TestSessionService_CaptureToRendered(t *testing.T) {
	svc := newTestService(t)

	status, err := svc.UpdateView("table-7", view)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateIdle, status.State)

	gen, err := svc.Capture("table-7", orchestrator.CaptureRequest{Reference: "https://example.com/menu.jpg"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := svc.Status("table-7")
		return err == nil && st.Generation == gen && st.State == orchestrator.StateRendered
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := svc.Annotations("table-7")
	require.NoError(t, err)
	require.Len(t, snap.Annotations, 1)
	assert.True(t, snap.Projected)

	// The badge projects to (80,120) 240x30 in an unscaled view
	hit, err := svc.AnnotationAt("table-7", models.Point{X: 100, Y: 130})
	require.NoError(t, err)
	assert.Equal(t, "Caesar Salad", hit.Name)

	_, err = svc.AnnotationAt("table-7", models.Point{X: 790, Y: 590})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestSessionService_InvalidInputs(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Capture("table-7", orchestrator.CaptureRequest{Reference: "ftp://example.com/menu.jpg"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = svc.Capture("table-7", orchestrator.CaptureRequest{Reference: "https://example.com/menu.jpg", Orientation: 45})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = svc.Capture("  ", orchestrator.CaptureRequest{Reference: "https://example.com/menu.jpg"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	// Rejected captures never open a session
	_, err = svc.Status("table-7")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestSessionService_UnknownSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Retry("nobody")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.True(t, apperrors.IsType(svc.Reset("nobody"), apperrors.ErrorTypeNotFound))
	_, err = svc.Annotations("nobody")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestSessionService_InvalidViewIsDeferredNotFailed(t *testing.T) {
	svc := newTestService(t)

	bad := view
	bad.ViewSize = models.Size{Width: 0, Height: 600}
	status, err := svc.UpdateView("table-9", bad)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateIdle, status.State)
}

func TestSessionService_RetryNeedsCapture(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.UpdateView("table-3", view)
	require.NoError(t, err)

	_, err = svc.Retry("table-3")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestSessionService_SessionsAreIndependent(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.Capture("a", orchestrator.CaptureRequest{Reference: "https://example.com/a.jpg"})
	require.NoError(t, err)
	second, err := svc.Capture("b", orchestrator.CaptureRequest{Reference: "https://example.com/b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(1), second)

	require.NoError(t, svc.Reset("a"))
	st, err := svc.Status("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Generation)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newLimitedService(t *testing.T, limits SessionLimits, clock *fakeClock) (*sessionService, map[string]*orchestrator.Orchestrator) {
	t.Helper()
	built := map[string]*orchestrator.Orchestrator{}
	svc := newSessionService(validation.NewReferenceValidator(), func(sessionID string) *orchestrator.Orchestrator {
		o := orchestrator.New(sessionID, orchestrator.Dependencies{
			Captures: stubLoader{},
			Detector: stubDetector{},
			Analyzer: stubAnalyzer{},
		}, orchestrator.Timeouts{})
		built[sessionID] = o
		return o
	}, limits, clock.Now)
	t.Cleanup(svc.Close)
	return svc, built
}

func TestSessionService_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, built := newLimitedService(t, SessionLimits{MaxSessions: 2, IdleTTL: time.Hour}, clock)

	for _, id := range []string{"a", "b"} {
		_, err := svc.UpdateView(id, view)
		require.NoError(t, err)
		clock.now = clock.now.Add(time.Minute)
	}
	// Touch "a" so "b" becomes the oldest
	_, err := svc.Status("a")
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Minute)

	_, err = svc.UpdateView("c", view)
	require.NoError(t, err)

	_, err = svc.Status("b")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	_, err = svc.Status("a")
	assert.NoError(t, err)
	_, err = svc.Status("c")
	assert.NoError(t, err)

	assert.Len(t, svc.sessions, 2)
	assert.Equal(t, uint64(0), built["b"].Capture(orchestrator.CaptureRequest{Reference: "https://example.com/menu.jpg"}),
		"evicted orchestrator must be closed")
}

func TestSessionService_EvictsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, built := newLimitedService(t, SessionLimits{MaxSessions: 10, IdleTTL: 10 * time.Minute}, clock)

	for i := 0; i < 5; i++ {
		_, err := svc.UpdateView(fmt.Sprintf("idle-%d", i), view)
		require.NoError(t, err)
	}
	clock.now = clock.now.Add(11 * time.Minute)

	_, err := svc.UpdateView("fresh", view)
	require.NoError(t, err)

	assert.Len(t, svc.sessions, 1)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("idle-%d", i)
		_, err := svc.Status(id)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), id)
		assert.Equal(t, uint64(0), built[id].Capture(orchestrator.CaptureRequest{Reference: "https://example.com/menu.jpg"}))
	}
}

func TestSessionService_ViewUpdatesCannotGrowPastLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, _ := newLimitedService(t, SessionLimits{MaxSessions: 3, IdleTTL: time.Hour}, clock)

	for i := 0; i < 50; i++ {
		_, err := svc.UpdateView(fmt.Sprintf("random-%d", i), view)
		require.NoError(t, err)
		clock.now = clock.now.Add(time.Second)
	}
	assert.Len(t, svc.sessions, 3)
}
