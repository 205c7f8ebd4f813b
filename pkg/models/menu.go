package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// TextObservation is a single text detection produced by the OCR engine.
type TextObservation struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Box        Rect    `json:"box"`
	Confidence float64 `json:"confidence"`
}

// AnalysisItem is one dish record returned by the AI analysis backend.
type AnalysisItem struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Price         *float64 `json:"price,omitempty"`
	Category      string   `json:"category"`
	EstimatedCost float64  `json:"estimated_cost"`
	MarginPercent float64  `json:"margin_percentage"`
	Justification string   `json:"justification,omitempty"`
	Ordinal       int      `json:"ordinal"`
}

// AnalysisResult is the normalized backend response for one image.
type AnalysisResult struct {
	Items      []AnalysisItem  `json:"items"`
	Restaurant json.RawMessage `json:"restaurant,omitempty"`
}

// MatchStrategy tags how an annotation was anchored.
type MatchStrategy string

const (
	StrategyExactName          MatchStrategy = "exact_name"
	StrategyPriceAnchor        MatchStrategy = "price_anchor"
	StrategyFuzzy              MatchStrategy = "fuzzy"
	StrategyPositionalFallback MatchStrategy = "positional_fallback"
)

// Rank orders strategies by how much their anchors can be trusted.
func (s MatchStrategy) Rank() int {
	switch s {
	case StrategyExactName:
		return 4
	case StrategyPriceAnchor:
		return 3
	case StrategyFuzzy:
		return 2
	case StrategyPositionalFallback:
		return 1
	default:
		return 0
	}
}

// Annotation binds an analysis item to a location on the captured image.
type Annotation struct {
	ItemID         string        `json:"item_id"`
	Ordinal        int           `json:"ordinal"`
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	MarginPercent  float64       `json:"margin_percentage"`
	ObservationIDs []string      `json:"observation_ids"`
	Strategy       MatchStrategy `json:"strategy"`
	Confidence     float64       `json:"confidence"`
	Similarity     float64       `json:"similarity"`
	Anchor         Rect          `json:"anchor"`
	Display        *Rect         `json:"display,omitempty"`
}

// Clone returns a deep copy so snapshots never share mutable state.
func (a Annotation) Clone() Annotation {
	c := a
	c.ObservationIDs = append([]string{}, a.ObservationIDs...)
	if a.Display != nil {
		d := *a.Display
		c.Display = &d
	}
	return c
}

// CapturedImage is an image buffer handed to the OCR engine and analysis backend.
type CapturedImage struct {
	Reference   string      `json:"reference"`
	Data        []byte      `json:"-"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Orientation Orientation `json:"orientation"`
}

// Size returns the pixel dimensions as floats.
func (c CapturedImage) Size() Size {
	return Size{Width: float64(c.Width), Height: float64(c.Height)}
}

// Digest returns the hex sha256 of the image bytes.
func (c CapturedImage) Digest() string {
	sum := sha256.Sum256(c.Data)
	return hex.EncodeToString(sum[:])
}
