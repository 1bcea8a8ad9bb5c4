package navigator

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The results grid and its pagination summary as the site renders them.
const (
	resultsTableSelector = "table.items"
	summarySelector      = "div.summary"
)

// summaryPattern extracts the total from "Displaying 1-10 of 14 result(s).".
var summaryPattern = regexp.MustCompile(`of\s+(\d+)\s+result`)

func documentFrom(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// hasResultsMarker reports whether the page is a results page. An empty
// result set still renders the summary, so either marker suffices.
func hasResultsMarker(doc *goquery.Document) bool {
	return doc.Find(resultsTableSelector).Length() > 0 ||
		doc.Find(summarySelector).Length() > 0
}

// formComplaint returns the first validation error the form rendered, if any.
func formComplaint(doc *goquery.Document) (string, bool) {
	var complaint string
	doc.Find(".errorSummary li, .errorMessage, div.error, span.error").
		EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := strings.TrimSpace(sel.Text())
			if text == "" {
				return true
			}
			complaint = text
			return false
		})
	return complaint, complaint != ""
}

// isVerifyCodeComplaint distinguishes a bad challenge guess from bad search
// parameters.
func isVerifyCodeComplaint(complaint string) bool {
	lower := strings.ToLower(complaint)
	return strings.Contains(lower, "verification code") ||
		strings.Contains(lower, "verify code") ||
		strings.Contains(lower, "captcha")
}

// paging describes the result set the first page reported.
type paging struct {
	total      int
	firstRows  int
	totalPages int
}

// parsePaging reads the pagination summary and the first page's row count.
// A page without a summary or with all results on one page yields totalPages
// of 1.
func parsePaging(doc *goquery.Document) paging {
	p := paging{totalPages: 1}
	p.firstRows = dataRowCount(doc.Find(resultsTableSelector))

	summary := strings.TrimSpace(doc.Find(summarySelector).First().Text())
	match := summaryPattern.FindStringSubmatch(summary)
	if match == nil {
		return p
	}
	total, err := strconv.Atoi(match[1])
	if err != nil || total <= 0 {
		return p
	}
	p.total = total
	if p.firstRows > 0 && total > p.firstRows {
		p.totalPages = (total + p.firstRows - 1) / p.firstRows
	}
	return p
}

// dataRowCount counts rows in the grid excluding the header row.
func dataRowCount(table *goquery.Selection) int {
	if table.Length() == 0 {
		return 0
	}
	body := table.First().Find("tbody")
	if body.Length() > 0 {
		return body.Find("tr").Length()
	}
	rows := table.First().Find("tr").Length()
	if rows > 0 {
		rows--
	}
	return rows
}

// mergePages appends the data rows of every follow-up page into the first
// page's grid and returns the combined document as HTML. Downstream parsers
// then see a single table holding the whole result set.
func mergePages(first []byte, rest [][]byte) ([]byte, error) {
	if len(rest) == 0 {
		return first, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(first))
	if err != nil {
		return nil, fmt.Errorf("parse first results page: %w", err)
	}
	table := doc.Find(resultsTableSelector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("first results page has no results grid")
	}
	target := table.Find("tbody").First()
	if target.Length() == 0 {
		target = table
	}

	for i, page := range rest {
		pageDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
		if err != nil {
			return nil, fmt.Errorf("parse results page %d: %w", i+2, err)
		}
		pageTable := pageDoc.Find(resultsTableSelector).First()
		if pageTable.Length() == 0 {
			// A follow-up page without the grid means the pagination walk
			// was interrupted. A truncated payload must not look complete.
			return nil, fmt.Errorf("results page %d has no results grid", i+2)
		}
		rows := pageTable.Find("tbody tr")
		if rows.Length() == 0 {
			all := pageTable.Find("tr")
			if all.Length() < 2 {
				continue
			}
			rows = all.Slice(1, all.Length())
		}
		target.AppendSelection(rows)
	}

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render merged results: %w", err)
	}
	return []byte(html), nil
}
