package recognize

import (
	"strings"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// ocrConfusions lists two-character sequences OCR engines commonly produce
// for a single glyph.
var ocrConfusions = []struct{ seen, actual string }{
	{"rn", "m"},
	{"cl", "d"},
	{"vv", "w"},
	{"ij", "j"},
}

// ShapeSelector picks one full guess from the ensemble output. The
// vision-model candidate wins when it passes the shape check; otherwise the
// OCR candidate is tried under the same check. Characters are never merged
// across strategies: a hybrid string would silently be invalid and waste a
// solve attempt.
type ShapeSelector struct {
	minLen int
	maxLen int
}

// NewShapeSelector builds a selector with the expected guess length range.
func NewShapeSelector(minLen, maxLen int) *ShapeSelector {
	if minLen <= 0 {
		minLen = 4
	}
	if maxLen < minLen {
		maxLen = minLen + 4
	}
	return &ShapeSelector{minLen: minLen, maxLen: maxLen}
}

// Select returns the chosen candidate or scrape.ErrNoUsableCandidate.
func (s *ShapeSelector) Select(candidates []scrape.Candidate) (scrape.Candidate, error) {
	for _, strategy := range []string{StrategyVision, StrategyOCR} {
		for _, c := range candidates {
			if c.Strategy != strategy {
				continue
			}
			if s.passesShape(c.Text) {
				return c, nil
			}
			if strategy != StrategyOCR {
				continue
			}
			// OCR engines split some glyphs into two characters. Try the
			// single-glyph readings of this candidate before giving up on it.
			for _, variant := range correctedVariants(c.Text) {
				if s.passesShape(variant) {
					corrected := c
					corrected.Text = variant
					return corrected, nil
				}
			}
		}
	}
	return scrape.Candidate{}, scrape.ErrNoUsableCandidate
}

func (s *ShapeSelector) passesShape(text string) bool {
	if len(text) < s.minLen || len(text) > s.maxLen {
		return false
	}
	return isAlphanumeric(text)
}

// correctedVariants expands a guess into the variants obtained by fixing one
// common two-character misread. Each variant stays within the one candidate.
func correctedVariants(text string) []string {
	var out []string
	for _, conf := range ocrConfusions {
		for i := 0; i+len(conf.seen) <= len(text); i++ {
			if strings.EqualFold(text[i:i+len(conf.seen)], conf.seen) {
				out = append(out, text[:i]+conf.actual+text[i+len(conf.seen):])
			}
		}
	}
	return out
}
