package navigator

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// jsGateDetector decides from simple HTML signals whether the search page
// came back as a bot-check interstitial instead of the real form: the body is
// suspiciously small, contains a known interstitial phrase, or lacks a form
// element entirely.
type jsGateDetector struct {
	minHTMLBytes int
	keywords     [][]byte
}

var defaultGateKeywords = []string{
	"enable javascript",
	"checking your browser",
	"just a moment",
}

func newJSGateDetector(minBytes int, keywords []string) *jsGateDetector {
	if len(keywords) == 0 {
		keywords = defaultGateKeywords
	}
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &jsGateDetector{minHTMLBytes: minBytes, keywords: lowered}
}

// NeedsJS reports whether the body looks gated.
func (d *jsGateDetector) NeedsJS(body []byte) bool {
	if d == nil {
		return false
	}
	switch {
	case d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes:
		return true
	case d.containsKeywords(body):
		return true
	default:
		return d.missingForm(body)
	}
}

func (d *jsGateDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *jsGateDetector) missingForm(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	return doc.Find("form").Length() == 0
}
