package models

// CaptureRequest asks a session to annotate a new menu image
type CaptureRequest struct {
	ImageURL          string      `json:"image_url" binding:"required"`
	RestaurantContext string      `json:"restaurant_context,omitempty"`
	Orientation       Orientation `json:"orientation"`
}

// ViewRequest reports the presentation layer's current geometry. Unusable
// values are accepted and defer projection.
type ViewRequest struct {
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	ContentMode ContentMode `json:"content_mode"`
	Orientation Orientation `json:"orientation"`
	BoxSpace    BoxSpace    `json:"box_space,omitempty"`
}

// Metrics converts the request into view metrics
func (r ViewRequest) Metrics() ViewMetrics {
	return ViewMetrics{
		ViewSize:    Size{Width: r.Width, Height: r.Height},
		ContentMode: r.ContentMode,
		Orientation: r.Orientation,
		BoxSpace:    r.BoxSpace,
	}
}

// GenerationResponse acknowledges an accepted capture or retry
type GenerationResponse struct {
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
}

// AnnotationsResponse enumerates a session's current annotations
type AnnotationsResponse struct {
	SessionID   string       `json:"session_id"`
	Generation  uint64       `json:"generation"`
	Projected   bool         `json:"projected"`
	Metrics     *ViewMetrics `json:"metrics,omitempty"`
	Annotations []Annotation `json:"annotations"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
