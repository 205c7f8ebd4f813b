// Package analysis talks to the AI analysis backend and turns its
// responses into ordered analysis items.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/matcher"
	"go-menu-annotator/pkg/models"
)

// flexNumber accepts a JSON number, a numeric string or null. Strings that
// do not hold a number, such as "market price", decode as absent.
type flexNumber struct {
	value *float64
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		n.value = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Same separator rules as prices read off the menu, so "12,50"
		// here and on the page compare equal.
		s = strings.TrimSpace(s)
		negative := strings.HasPrefix(s, "-")
		v, ok := matcher.ParsePrice(strings.TrimPrefix(s, "-"))
		if !ok {
			n.value = nil
			return nil
		}
		if negative {
			v = -v
		}
		n.value = &v
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.value = &v
	return nil
}

func (n flexNumber) orZero() float64 {
	if n.value == nil {
		return 0
	}
	return *n.value
}

type rawItem struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Price         flexNumber `json:"price"`
	Category      string     `json:"category"`
	EstimatedCost flexNumber `json:"estimated_cost"`
	MarginPercent flexNumber `json:"margin_percentage"`
	Justification string     `json:"justification"`
	Index         *int       `json:"index"`
}

type rawResponse struct {
	Items      *[]rawItem      `json:"items"`
	Restaurant json.RawMessage `json:"restaurant"`
}

// Ingest parses a backend response body. Items come back sorted by
// ordinal; the ordinal is the backend's index field or, when absent, the
// item's position in the response. Items without a name are dropped.
func Ingest(body []byte) (models.AnalysisResult, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.AnalysisResult{}, apperrors.NewAnalysisError("malformed analysis response", err)
	}
	if raw.Items == nil {
		return models.AnalysisResult{}, apperrors.NewAnalysisError("analysis response has no items", nil)
	}

	items := make([]models.AnalysisItem, 0, len(*raw.Items))
	seen := make(map[int]bool, len(*raw.Items))
	for pos, r := range *raw.Items {
		name := strings.TrimSpace(r.Name)
		ordinal := pos
		if r.Index != nil {
			ordinal = *r.Index
		}
		if name == "" {
			logger.WithFields(logrus.Fields{
				"position": pos,
				"ordinal":  ordinal,
			}).Warn("Dropping analysis item without a name")
			continue
		}

		id := strings.TrimSpace(r.ID)
		switch {
		case id != "":
		case seen[ordinal]:
			// Repeated backend index: the position keeps ids unique.
			id = fmt.Sprintf("item-%04d-%d", ordinal, pos)
		default:
			id = fmt.Sprintf("item-%04d", ordinal)
		}
		seen[ordinal] = true
		items = append(items, models.AnalysisItem{
			ID:            id,
			Name:          name,
			Price:         r.Price.value,
			Category:      strings.TrimSpace(r.Category),
			EstimatedCost: r.EstimatedCost.orZero(),
			MarginPercent: r.MarginPercent.orZero(),
			Justification: strings.TrimSpace(r.Justification),
			Ordinal:       ordinal,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Ordinal < items[j].Ordinal
	})

	result := models.AnalysisResult{Items: items}
	if len(raw.Restaurant) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Restaurant), []byte("null")) {
		result.Restaurant = raw.Restaurant
	}
	return result, nil
}
