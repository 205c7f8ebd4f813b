// Package matcher binds AI analysis items to OCR text detections.
//
// Each item runs through an ordered chain of strategies: exact name,
// price anchor, normalized fuzzy and finally a positional fallback, so
// every item always receives exactly one annotation. Matching is pure and
// deterministic; it holds no state between calls.
package matcher

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"go-menu-annotator/pkg/models"
)

const (
	// PriceTolerance is the maximum absolute difference between an item
	// price and a detected price.
	PriceTolerance = 0.01
	// FuzzyThreshold is the token similarity a fuzzy match must exceed.
	FuzzyThreshold = 0.34

	minLengthRatio = 0.5
	maxLengthRatio = 2.0

	confidenceExact       = 1.0
	confidencePriceJoined = 0.8
	confidencePriceAlone  = 0.6
	confidenceFuzzyBase   = 0.3
	confidenceFuzzyScale  = 0.45
	confidenceFallback    = 0.1
	fallbackGap           = 0.01
	fallbackHeight        = 0.04
	priceEpsilon          = 1e-9
)

// FirstFallbackAnchor is where an unmatched first item is placed.
var FirstFallbackAnchor = models.Rect{X: 0.02, Y: 0.02, Width: 0.3, Height: 0.04}

type observation struct {
	models.TextObservation
	norm    string
	price   float64
	isPrice bool
	named   bool
}

type run struct {
	obs          []observation
	consumed     []bool
	fuzzyClaimed []bool
	prev         *models.Rect
}

type strategy func(r *run, item models.AnalysisItem, name string) (models.Annotation, bool)

var chain = []strategy{
	(*run).exactName,
	(*run).priceAnchor,
	(*run).fuzzy,
}

// Match produces one annotation per item, in ascending item ordinal.
// Observations consumed by an exact-name or price-anchor match are never
// reused by another such match within the same call.
func Match(observations []models.TextObservation, items []models.AnalysisItem) []models.Annotation {
	ordered := make([]models.AnalysisItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	r := newRun(observations)
	out := make([]models.Annotation, 0, len(ordered))
	for _, item := range ordered {
		name := Normalize(item.Name)

		var ann models.Annotation
		matched := false
		for _, s := range chain {
			if ann, matched = s(r, item, name); matched {
				break
			}
		}
		if !matched {
			ann = r.positional()
		}

		ann.ItemID = item.ID
		ann.Ordinal = item.Ordinal
		ann.Name = item.Name
		ann.Category = item.Category
		ann.MarginPercent = item.MarginPercent
		if ann.ObservationIDs == nil {
			ann.ObservationIDs = []string{}
		}

		anchor := ann.Anchor
		r.prev = &anchor
		out = append(out, ann)
	}
	return out
}

func newRun(observations []models.TextObservation) *run {
	r := &run{
		obs:          make([]observation, len(observations)),
		consumed:     make([]bool, len(observations)),
		fuzzyClaimed: make([]bool, len(observations)),
	}
	for i, o := range observations {
		n := Normalize(o.Text)
		price, isPrice := ParsePrice(o.Text)
		r.obs[i] = observation{
			TextObservation: o,
			norm:            n,
			price:           price,
			isPrice:         isPrice,
			named:           !isPrice && hasLetter(n),
		}
	}
	return r
}

func (r *run) exactName(item models.AnalysisItem, name string) (models.Annotation, bool) {
	if name == "" {
		return models.Annotation{}, false
	}
	nameLen := float64(utf8.RuneCountInString(name))

	best, bestSim := -1, -1.0
	for i, o := range r.obs {
		if r.consumed[i] || o.norm == "" || !containsEitherWay(o.norm, name) {
			continue
		}
		ratio := float64(utf8.RuneCountInString(o.norm)) / nameLen
		if ratio < minLengthRatio || ratio > maxLengthRatio {
			continue
		}
		if sim := StringSimilarity(o.norm, name); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return models.Annotation{}, false
	}

	r.consumed[best] = true
	return models.Annotation{
		ObservationIDs: []string{r.obs[best].ID},
		Strategy:       models.StrategyExactName,
		Confidence:     confidenceExact,
		Similarity:     bestSim,
		Anchor:         r.obs[best].Box,
	}, true
}

// containsEitherWay compares on token boundaries so "ham" does not match "graham".
func containsEitherWay(a, b string) bool {
	if a == b {
		return true
	}
	pa, pb := " "+a+" ", " "+b+" "
	return strings.Contains(pa, pb) || strings.Contains(pb, pa)
}

func (r *run) priceAnchor(item models.AnalysisItem, name string) (models.Annotation, bool) {
	if item.Price == nil {
		return models.Annotation{}, false
	}
	target := *item.Price

	first := -1
	bestPrice, bestName := -1, -1
	bestTok, bestSim := 0.0, 0.0
	for i, o := range r.obs {
		if r.consumed[i] || !o.isPrice || math.Abs(o.price-target) > PriceTolerance+priceEpsilon {
			continue
		}
		if first < 0 {
			first = i
		}
		j, tok, sim := r.bandName(i, name)
		if j < 0 {
			continue
		}
		if bestPrice < 0 || tok > bestTok || (tok == bestTok && sim > bestSim) {
			bestPrice, bestName, bestTok, bestSim = i, j, tok, sim
		}
	}

	switch {
	case bestPrice >= 0:
		r.consumed[bestPrice] = true
		r.consumed[bestName] = true
		return models.Annotation{
			ObservationIDs: []string{r.obs[bestName].ID, r.obs[bestPrice].ID},
			Strategy:       models.StrategyPriceAnchor,
			Confidence:     confidencePriceJoined,
			Similarity:     bestSim,
			Anchor:         r.obs[bestPrice].Box.Union(r.obs[bestName].Box),
		}, true
	case first >= 0:
		r.consumed[first] = true
		return models.Annotation{
			ObservationIDs: []string{r.obs[first].ID},
			Strategy:       models.StrategyPriceAnchor,
			Confidence:     confidencePriceAlone,
			Anchor:         r.obs[first].Box,
		}, true
	}
	return models.Annotation{}, false
}

// bandName finds the unconsumed name-like observation on the same visual
// row as the price at index p that best resembles the dish name.
func (r *run) bandName(p int, name string) (int, float64, float64) {
	if name == "" {
		return -1, 0, 0
	}
	price := r.obs[p].Box
	best, bestTok, bestSim := -1, 0.0, 0.0
	for j, o := range r.obs {
		if j == p || r.consumed[j] || !o.named {
			continue
		}
		if math.Abs(o.Box.CenterY()-price.CenterY()) > price.Height {
			continue
		}
		tok := TokenSimilarity(o.norm, name)
		if tok <= 0 {
			continue
		}
		sim := StringSimilarity(o.norm, name)
		if best < 0 || tok > bestTok || (tok == bestTok && sim > bestSim) {
			best, bestTok, bestSim = j, tok, sim
		}
	}
	return best, bestTok, bestSim
}

func (r *run) fuzzy(item models.AnalysisItem, name string) (models.Annotation, bool) {
	if name == "" {
		return models.Annotation{}, false
	}
	pick, tok, sim := r.bestFuzzy(name, func(i int) bool {
		return !r.consumed[i] && !r.fuzzyClaimed[i]
	})
	if pick < 0 {
		// Relaxed pass: consumed and fuzzy-claimed observations may be reused.
		pick, tok, sim = r.bestFuzzy(name, func(int) bool { return true })
	}
	if pick < 0 {
		return models.Annotation{}, false
	}

	r.fuzzyClaimed[pick] = true
	return models.Annotation{
		ObservationIDs: []string{r.obs[pick].ID},
		Strategy:       models.StrategyFuzzy,
		Confidence:     confidenceFuzzyBase + confidenceFuzzyScale*tok,
		Similarity:     sim,
		Anchor:         r.obs[pick].Box,
	}, true
}

func (r *run) bestFuzzy(name string, eligible func(int) bool) (int, float64, float64) {
	best, bestTok, bestSim := -1, 0.0, 0.0
	for i, o := range r.obs {
		if !eligible(i) || o.norm == "" {
			continue
		}
		tok := TokenSimilarity(o.norm, name)
		if tok <= FuzzyThreshold {
			continue
		}
		sim := StringSimilarity(o.norm, name)
		if best < 0 || tok > bestTok || (tok == bestTok && sim > bestSim) {
			best, bestTok, bestSim = i, tok, sim
		}
	}
	return best, bestTok, bestSim
}

func (r *run) positional() models.Annotation {
	anchor := FirstFallbackAnchor
	if r.prev != nil {
		anchor = models.Rect{
			X:      r.prev.X,
			Y:      r.prev.MaxY() + fallbackGap,
			Width:  r.prev.Width,
			Height: fallbackHeight,
		}.ClampUnit()
	}
	return models.Annotation{
		ObservationIDs: []string{},
		Strategy:       models.StrategyPositionalFallback,
		Confidence:     confidenceFallback,
		Anchor:         anchor,
	}
}

// Summary counts annotations per strategy.
type Summary struct {
	Total      int                          `json:"total"`
	ByStrategy map[models.MatchStrategy]int `json:"by_strategy"`
	// Degraded is set when at least one item fell back to a positional guess.
	Degraded bool `json:"degraded"`
}

// Summarize reports how a match run went. A degraded run is informational
// and never an error.
func Summarize(annotations []models.Annotation) Summary {
	s := Summary{Total: len(annotations), ByStrategy: make(map[models.MatchStrategy]int)}
	for _, a := range annotations {
		s.ByStrategy[a.Strategy]++
		if a.Strategy == models.StrategyPositionalFallback {
			s.Degraded = true
		}
	}
	return s
}
