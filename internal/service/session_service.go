package service

import (
	"strings"
	"sync"
	"time"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/orchestrator"
	"go-menu-annotator/internal/store"
	"go-menu-annotator/pkg/models"
)

const maxSessionIDLength = 128

// SessionService defines the operations the presentation layer drives per session
type SessionService interface {
	// Capture validates the reference and starts a new generation
	Capture(sessionID string, req orchestrator.CaptureRequest) (uint64, error)
	Retry(sessionID string) (uint64, error)
	Reset(sessionID string) error

	// UpdateView re-projects the session's annotations for new view metrics
	UpdateView(sessionID string, metrics models.ViewMetrics) (orchestrator.Status, error)

	Status(sessionID string) (orchestrator.Status, error)
	Annotations(sessionID string) (store.Snapshot, error)
	AnnotationAt(sessionID string, point models.Point) (models.Annotation, error)

	// Close stops every session
	Close()
}

// ReferenceChecker validates capture references before a session is touched
type ReferenceChecker interface {
	ValidateReference(reference string) error
}

// OrchestratorFactory builds an unstarted orchestrator for a session
type OrchestratorFactory func(sessionID string) *orchestrator.Orchestrator

// SessionLimits bounds the number of live sessions
type SessionLimits struct {
	MaxSessions int
	// Sessions untouched for longer are closed when a new one is opened
	IdleTTL time.Duration
}

// DefaultSessionLimits returns the default limits
func DefaultSessionLimits() SessionLimits {
	return SessionLimits{
		MaxSessions: 1000,
		IdleTTL:     30 * time.Minute,
	}
}

type sessionEntry struct {
	orch     *orchestrator.Orchestrator
	lastUsed time.Time
}

// sessionService implements SessionService with one orchestrator per session
type sessionService struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	build    OrchestratorFactory
	checker  ReferenceChecker
	limits   SessionLimits
	now      func() time.Time
}

// NewSessionService creates a new session service with default limits
func NewSessionService(checker ReferenceChecker, build OrchestratorFactory) SessionService {
	return NewSessionServiceWithLimits(checker, build, DefaultSessionLimits())
}

// NewSessionServiceWithLimits creates a session service; zero limits take the defaults
func NewSessionServiceWithLimits(checker ReferenceChecker, build OrchestratorFactory, limits SessionLimits) SessionService {
	return newSessionService(checker, build, limits, time.Now)
}

func newSessionService(checker ReferenceChecker, build OrchestratorFactory, limits SessionLimits, now func() time.Time) *sessionService {
	defaults := DefaultSessionLimits()
	if limits.MaxSessions <= 0 {
		limits.MaxSessions = defaults.MaxSessions
	}
	if limits.IdleTTL <= 0 {
		limits.IdleTTL = defaults.IdleTTL
	}
	return &sessionService{
		sessions: make(map[string]*sessionEntry),
		build:    build,
		checker:  checker,
		limits:   limits,
		now:      now,
	}
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.NewValidationError("session id cannot be empty", nil)
	}
	if len(sessionID) > maxSessionIDLength {
		return apperrors.NewValidationError("session id is too long", nil)
	}
	return nil
}

// session returns the session's orchestrator, creating and starting it when create is set
func (s *sessionService) session(sessionID string, create bool) (*orchestrator.Orchestrator, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := s.now()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.lastUsed = now
		s.mu.Unlock()
		return sess.orch, nil
	}
	if !create {
		s.mu.Unlock()
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}

	evicted := s.evictLocked(now)
	o := s.build(sessionID)
	o.Start()
	s.sessions[sessionID] = &sessionEntry{orch: o, lastUsed: now}
	s.mu.Unlock()

	logger.WithField("session_id", sessionID).Info("session opened")
	closeSessions(evicted)
	return o, nil
}

// evictLocked drops idle sessions and, when still at capacity, the least
// recently used one. The caller closes what it returns.
func (s *sessionService) evictLocked(now time.Time) map[string]*orchestrator.Orchestrator {
	evicted := make(map[string]*orchestrator.Orchestrator)
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) > s.limits.IdleTTL {
			evicted[id] = sess.orch
			delete(s.sessions, id)
		}
	}
	for len(s.sessions) >= s.limits.MaxSessions {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, sess := range s.sessions {
			if oldestID == "" || sess.lastUsed.Before(oldest) {
				oldestID, oldest = id, sess.lastUsed
			}
		}
		evicted[oldestID] = s.sessions[oldestID].orch
		delete(s.sessions, oldestID)
	}
	return evicted
}

func (s *sessionService) Capture(sessionID string, req orchestrator.CaptureRequest) (uint64, error) {
	if s.checker != nil {
		if err := s.checker.ValidateReference(req.Reference); err != nil {
			return 0, err
		}
	}
	if !req.Orientation.IsValid() {
		return 0, apperrors.NewValidationError("orientation must be 0, 90, 180 or 270", nil)
	}

	o, err := s.session(sessionID, true)
	if err != nil {
		return 0, err
	}
	gen := o.Capture(req)
	if gen == 0 {
		return 0, apperrors.NewInternalError("session is closed", nil)
	}
	return gen, nil
}

func (s *sessionService) Retry(sessionID string) (uint64, error) {
	o, err := s.session(sessionID, false)
	if err != nil {
		return 0, err
	}
	return o.Retry()
}

func (s *sessionService) Reset(sessionID string) error {
	o, err := s.session(sessionID, false)
	if err != nil {
		return err
	}
	o.Reset()
	return nil
}

// UpdateView accepts metrics before the first capture so projection can
// happen as soon as annotations exist. A projection error is reported in
// the returned status rather than as a failure.
func (s *sessionService) UpdateView(sessionID string, metrics models.ViewMetrics) (orchestrator.Status, error) {
	o, err := s.session(sessionID, true)
	if err != nil {
		return orchestrator.Status{}, err
	}
	if err := o.UpdateViewMetrics(metrics); err != nil && !apperrors.IsType(err, apperrors.ErrorTypeProjection) {
		return orchestrator.Status{}, err
	}
	return o.Status(), nil
}

func (s *sessionService) Status(sessionID string) (orchestrator.Status, error) {
	o, err := s.session(sessionID, false)
	if err != nil {
		return orchestrator.Status{}, err
	}
	return o.Status(), nil
}

func (s *sessionService) Annotations(sessionID string) (store.Snapshot, error) {
	o, err := s.session(sessionID, false)
	if err != nil {
		return store.Snapshot{}, err
	}
	return o.Store().Snapshot(), nil
}

func (s *sessionService) AnnotationAt(sessionID string, point models.Point) (models.Annotation, error) {
	o, err := s.session(sessionID, false)
	if err != nil {
		return models.Annotation{}, err
	}
	a, ok := o.Store().AnnotationAt(point)
	if !ok {
		return models.Annotation{}, apperrors.NewNotFoundError("no annotation at point", nil)
	}
	return a, nil
}

func (s *sessionService) Close() {
	s.mu.Lock()
	sessions := make(map[string]*orchestrator.Orchestrator, len(s.sessions))
	for id, sess := range s.sessions {
		sessions[id] = sess.orch
	}
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	closeSessions(sessions)
}

// closeSessions stops orchestrators in parallel; each waits for its workers.
func closeSessions(sessions map[string]*orchestrator.Orchestrator) {
	var wg sync.WaitGroup
	for id, o := range sessions {
		wg.Add(1)
		go func(id string, o *orchestrator.Orchestrator) {
			defer wg.Done()
			o.Close()
			logger.WithField("session_id", id).Debug("session closed")
		}(id, o)
	}
	wg.Wait()
}
