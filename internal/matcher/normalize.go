package matcher

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds s for comparison: diacritics removed, lowercased,
// punctuation and symbols replaced by single spaces.
func Normalize(s string) string {
	// Transformers carry state, so the chain is built per call.
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

func tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// TokenSimilarity is the intersection over union of the two token sets.
func TokenSimilarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = false
	}
	union := len(set)
	inter := 0
	for _, t := range tb {
		seen, ok := set[t]
		switch {
		case !ok:
			set[t] = true
			union++
		case !seen:
			set[t] = true
			inter++
		}
	}
	return float64(inter) / float64(union)
}

// StringSimilarity blends character edit distance with word error rate.
// Both inputs must already be normalized. The result lies in [0,1].
func StringSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	maxLen := math.Max(float64(utf8.RuneCountInString(a)), float64(utf8.RuneCountInString(b)))
	charScore := 1 - float64(levenshtein.Distance(a, b))/maxLen

	ref, cand := tokens(a), tokens(b)
	rate, _ := wer.WER(ref, cand)
	wordScore := 1 - math.Min(1, math.Max(0, float64(rate)))

	return clamp01((charScore + wordScore) / 2)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// ParsePrice extracts a numeric price from OCR text such as "$12.50",
// "12,50 €" or "1,250". It reports false when the text holds anything
// other than a single number with optional currency marks.
func ParsePrice(text string) (float64, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case unicode.IsSpace(r), unicode.Is(unicode.Sc, r):
		default:
			return 0, false
		}
	}
	s := b.String()
	if s == "" || !strings.ContainsAny(s, "0123456789") {
		return 0, false
	}

	// A single comma followed by exactly two digits is a decimal separator.
	if i := strings.LastIndex(s, ","); i >= 0 && strings.Count(s, ",") == 1 &&
		!strings.Contains(s, ".") && len(s)-i-1 == 2 {
		s = s[:i] + "." + s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
