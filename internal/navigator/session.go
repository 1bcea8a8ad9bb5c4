package navigator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// Search form field names used by the posting site. The form is a Yii-style
// GET form: every value travels in the query string.
const (
	fieldState      = "Orders[PropertyStateCode]"
	fieldCountyID   = "Orders[PropertyCountyID]"
	fieldStartDate  = "Orders[startSaleDateTime]"
	fieldEndDate    = "Orders[endSaleDateTime]"
	fieldOrderID    = "Orders[id]"
	fieldTsNumber   = "Orders[TsNumber]"
	fieldAPN        = "Orders[APN]"
	fieldZip        = "Orders[PropertyZip]"
	fieldVerifyCode = "Orders[verifyCode]"
	fieldSubmit     = "yt0"
	fieldPage       = "Orders_page"

	submitValue = "Search"
)

// session owns the cookie jar and form state for exactly one run. It is
// created fresh per run and discarded afterwards; it implements scrape.Gate
// for the solve loop.
type session struct {
	http      *resty.Client
	base      *url.URL
	searchURL string
	logger    *zap.Logger

	req      scrape.SearchRequest
	countyID string

	// form carries the base search fields plus hidden inputs scraped from
	// the most recently fetched search page. The accepted verify code is
	// written back here so pagination requests reuse it.
	form url.Values

	acceptedBody []byte
	pagesFetched int
}

func newSession(cfg Config, req scrape.SearchRequest, countyID string, logger *zap.Logger) (*session, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.5")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(cfg.Timeout)

	route := cfg.SearchRoute
	if route == "" {
		route = "orders/search"
	}

	return &session{
		http:      client,
		base:      base,
		searchURL: "/index.php?r=" + url.QueryEscape(route),
		logger:    logger,
		req:       req,
		countyID:  countyID,
		form:      url.Values{},
	}, nil
}

// absoluteSearchURL resolves the search route against the base URL, for the
// headless renderer which does not share the resty base.
func (s *session) absoluteSearchURL() string {
	return strings.TrimRight(s.base.String(), "/") + s.searchURL
}

// importCookies merges cookies obtained by the headless browser into the
// session jar.
func (s *session) importCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	jar := s.http.GetClient().Jar
	if jar == nil {
		return
	}
	jar.SetCookies(s.base, cookies)
}

// fetchSearchPage GETs the search form page and returns the parsed document
// plus the raw bytes (the detector wants bytes, goquery wants a document).
func (s *session) fetchSearchPage(ctx context.Context) (*goquery.Document, []byte, error) {
	resp, err := s.http.R().SetContext(ctx).Get(s.searchURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch search page: %w", err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("fetch search page: http %d", resp.StatusCode())
	}
	body := resp.Body()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse search page: %w", err)
	}
	return doc, body, nil
}

// rebuildForm resets the form values from the given search page: the fixed
// search fields for this run plus any hidden inputs the page carries
// (Yii includes per-session tokens this way).
func (s *session) rebuildForm(doc *goquery.Document) {
	form := url.Values{}
	form.Set(fieldState, s.req.State)
	form.Set(fieldCountyID, s.countyID)
	form.Set(fieldStartDate, s.req.StartDate)
	form.Set(fieldEndDate, s.req.EndDate)
	form.Set(fieldOrderID, "")
	form.Set(fieldTsNumber, "")
	form.Set(fieldAPN, "")
	form.Set(fieldZip, "")
	form.Set(fieldSubmit, submitValue)

	doc.Find("form input[type=hidden]").Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := sel.Attr("value")
		form.Set(name, value)
	})

	s.form = form
}

// FetchChallenge pulls a fresh search page and downloads its challenge image.
// Every call yields a brand-new challenge; a rejected token is never reused.
func (s *session) FetchChallenge(ctx context.Context) (scrape.Challenge, error) {
	doc, _, err := s.fetchSearchPage(ctx)
	if err != nil {
		return scrape.Challenge{}, err
	}
	s.rebuildForm(doc)

	src, ok := findChallengeImage(doc)
	if !ok {
		return scrape.Challenge{}, fmt.Errorf("%w: no challenge image on search page", scrape.ErrNavigationFailed)
	}

	resp, err := s.http.R().SetContext(ctx).Get(src)
	if err != nil {
		return scrape.Challenge{}, fmt.Errorf("fetch challenge image: %w", err)
	}
	if resp.IsError() {
		return scrape.Challenge{}, fmt.Errorf("fetch challenge image: http %d", resp.StatusCode())
	}

	return scrape.Challenge{
		Image:    resp.Body(),
		Token:    src,
		IssuedAt: time.Now().UTC(),
	}, nil
}

// SubmitResolution submits the full search form with the guess in the verify
// code field and classifies the response: results page means accepted, a
// verify-code complaint means rejected, any other form error means the search
// parameters themselves are invalid.
func (s *session) SubmitResolution(ctx context.Context, res scrape.Resolution) (bool, error) {
	s.form.Set(fieldVerifyCode, res.Guess)

	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(s.form).
		Get(s.searchURL)
	if err != nil {
		return false, fmt.Errorf("submit search: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("submit search: http %d", resp.StatusCode())
	}

	body := resp.Body()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("parse search response: %w", err)
	}

	if hasResultsMarker(doc) {
		s.acceptedBody = body
		s.pagesFetched = 1
		return true, nil
	}

	if complaint, ok := formComplaint(doc); ok {
		if isVerifyCodeComplaint(complaint) {
			s.logger.Debug("verify code rejected", zap.String("complaint", complaint))
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", scrape.ErrSearchRejected, complaint)
	}

	return false, fmt.Errorf("%w: response has neither results nor a form error", scrape.ErrNavigationFailed)
}

// fetchPage GETs one numbered results page using the accepted form values.
func (s *session) fetchPage(ctx context.Context, page int) ([]byte, error) {
	form := url.Values{}
	for k, v := range s.form {
		form[k] = v
	}
	form.Set(fieldPage, fmt.Sprintf("%d", page))

	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(form).
		Get(s.searchURL)
	if err != nil {
		return nil, fmt.Errorf("fetch results page %d: %w", page, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch results page %d: http %d", page, resp.StatusCode())
	}
	s.pagesFetched++
	return resp.Body(), nil
}

// findChallengeImage locates the challenge image the way the site renders
// it: an img whose alt or src mentions the challenge.
func findChallengeImage(doc *goquery.Document) (string, bool) {
	var src string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		alt, _ := sel.Attr("alt")
		href, _ := sel.Attr("src")
		if strings.Contains(strings.ToLower(alt), "captcha") ||
			strings.Contains(strings.ToLower(href), "captcha") {
			src = href
			return false
		}
		return true
	})
	return src, src != ""
}
