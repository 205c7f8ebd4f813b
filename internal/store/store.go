// Package store holds the current annotation set for one capture session.
//
// The set is an immutable snapshot swapped atomically by a single writer.
// Readers never observe a partially replaced set.
package store

import (
	"sync/atomic"

	"go-menu-annotator/pkg/models"
)

// DefaultTouchPadding is the hit-test slack around each badge in view points.
const DefaultTouchPadding = 8.0

// Snapshot is one generation's annotation set.
type Snapshot struct {
	Generation  uint64              `json:"generation"`
	Annotations []models.Annotation `json:"annotations"`
	Metrics     *models.ViewMetrics `json:"metrics,omitempty"`
	// Projected is set when every annotation carries a display rect.
	Projected bool `json:"projected"`
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		Generation:  s.Generation,
		Annotations: make([]models.Annotation, len(s.Annotations)),
		Projected:   s.Projected,
	}
	for i, a := range s.Annotations {
		c.Annotations[i] = a.Clone()
	}
	if s.Metrics != nil {
		m := *s.Metrics
		c.Metrics = &m
	}
	return c
}

// AnnotationStore is safe for concurrent readers and one writer.
type AnnotationStore struct {
	current      atomic.Pointer[Snapshot]
	touchPadding float64
}

// NewAnnotationStore creates an empty store. A negative padding selects the default.
func NewAnnotationStore(touchPadding float64) *AnnotationStore {
	if touchPadding < 0 {
		touchPadding = DefaultTouchPadding
	}
	s := &AnnotationStore{touchPadding: touchPadding}
	s.current.Store(&Snapshot{Annotations: []models.Annotation{}})
	return s
}

// Replace swaps in a copy of snap.
func (s *AnnotationStore) Replace(snap Snapshot) {
	s.current.Store(snap.clone())
}

// Clear empties the store and tags it with generation.
func (s *AnnotationStore) Clear(generation uint64) {
	s.current.Store(&Snapshot{Generation: generation, Annotations: []models.Annotation{}})
}

// Snapshot returns a copy of the current snapshot.
func (s *AnnotationStore) Snapshot() Snapshot {
	return *s.current.Load().clone()
}

// Generation returns the generation of the current snapshot.
func (s *AnnotationStore) Generation() uint64 {
	return s.current.Load().Generation
}

// All enumerates the current annotations for overlay rendering.
func (s *AnnotationStore) All() []models.Annotation {
	return s.current.Load().clone().Annotations
}

// AnnotationAt returns the annotation whose padded display rect contains p.
// Overlaps resolve to the highest confidence, then the highest similarity,
// then the lowest ordinal.
func (s *AnnotationStore) AnnotationAt(p models.Point) (models.Annotation, bool) {
	snap := s.current.Load()

	best := -1
	for i, a := range snap.Annotations {
		if a.Display == nil || !a.Display.Inset(-s.touchPadding).Contains(p) {
			continue
		}
		if best < 0 || outranks(a, snap.Annotations[best]) {
			best = i
		}
	}
	if best < 0 {
		return models.Annotation{}, false
	}
	return snap.Annotations[best].Clone(), true
}

func outranks(a, b models.Annotation) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.Ordinal < b.Ordinal
}
