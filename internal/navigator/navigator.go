// Package navigator drives the posting site: session establishment, the
// CAPTCHA gate, search form submission and paginated result collection.
package navigator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/metrics"
	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// Config describes the target site and session behavior.
type Config struct {
	BaseURL      string
	SearchRoute  string
	UserAgent    string
	Timeout      time.Duration
	PageDelay    time.Duration
	CountyIDs    map[string]string
	MinHTMLBytes int
	GateKeywords []string
}

// Navigator implements scrape.Navigator. Each Run builds a fresh session;
// cookies never leak between runs.
type Navigator struct {
	cfg      Config
	solver   scrape.Solver
	detector *jsGateDetector
	renderer *Renderer
	logger   *zap.Logger
}

// New builds a navigator. The renderer may be nil when headless fallback is
// disabled.
func New(cfg Config, solver scrape.Solver, renderer *Renderer, logger *zap.Logger) (*Navigator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if solver == nil {
		return nil, fmt.Errorf("solver is required")
	}
	return &Navigator{
		cfg:      cfg,
		solver:   solver,
		detector: newJSGateDetector(cfg.MinHTMLBytes, cfg.GateKeywords),
		renderer: renderer,
		logger:   logger,
	}, nil
}

// Run executes one search end to end: establish a session, clear the CAPTCHA
// gate, and collect every results page into a single payload. Terminal
// failures surface unchanged so the caller learns which condition occurred.
func (n *Navigator) Run(ctx context.Context, req scrape.SearchRequest) (scrape.RawResultPayload, error) {
	if err := req.Validate(); err != nil {
		return scrape.RawResultPayload{}, fmt.Errorf("%w: %v", scrape.ErrSearchRejected, err)
	}
	countyID, ok := n.countyID(req.County)
	if !ok {
		return scrape.RawResultPayload{}, fmt.Errorf("%w: county %q is not served", scrape.ErrSearchRejected, req.County)
	}

	sess, err := newSession(n.cfg, req, countyID, n.logger)
	if err != nil {
		return scrape.RawResultPayload{}, fmt.Errorf("%w: %v", scrape.ErrNavigationFailed, err)
	}

	if err := n.establish(ctx, sess); err != nil {
		return scrape.RawResultPayload{}, err
	}

	res, err := n.solver.Solve(ctx, sess)
	if err != nil {
		return scrape.RawResultPayload{}, err
	}

	body, err := n.collect(ctx, sess)
	if err != nil {
		return scrape.RawResultPayload{}, err
	}

	n.logger.Info("search run complete",
		zap.String("county", req.County),
		zap.String("range", req.StartDate+".."+req.EndDate),
		zap.Int("pages", sess.pagesFetched),
		zap.Int("solve_attempts", res.Attempt),
		zap.Int("payload_bytes", len(body)),
	)

	return scrape.RawResultPayload{
		Body:          body,
		Request:       req,
		FetchedAt:     time.Now().UTC(),
		Pages:         sess.pagesFetched,
		SolveAttempts: res.Attempt,
	}, nil
}

// establish verifies the search page is reachable as plain HTML, promoting to
// the headless renderer once when the page looks bot-gated.
func (n *Navigator) establish(ctx context.Context, sess *session) error {
	_, body, err := sess.fetchSearchPage(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", scrape.ErrNavigationFailed, err)
	}
	if !n.detector.NeedsJS(body) {
		return nil
	}
	if n.renderer == nil {
		return fmt.Errorf("%w: search page is bot-gated and headless fallback is disabled", scrape.ErrNavigationFailed)
	}

	n.logger.Info("search page looks bot-gated, promoting to headless render")
	rendered, cookies, err := n.renderer.Render(ctx, sess.absoluteSearchURL())
	if err != nil {
		return fmt.Errorf("%w: headless render: %v", scrape.ErrNavigationFailed, err)
	}
	sess.importCookies(cookies)
	if n.detector.NeedsJS(rendered) {
		return fmt.Errorf("%w: page still gated after headless render", scrape.ErrNavigationFailed)
	}
	return nil
}

// collect fetches result pages 2..N and merges their rows into the accepted
// first page.
func (n *Navigator) collect(ctx context.Context, sess *session) ([]byte, error) {
	first := sess.acceptedBody
	metrics.ObservePageFetch(len(first))

	doc, err := documentFrom(first)
	if err != nil {
		return nil, fmt.Errorf("%w: parse results: %v", scrape.ErrNavigationFailed, err)
	}
	pg := parsePaging(doc)
	if pg.totalPages <= 1 {
		return first, nil
	}

	n.logger.Info("collecting paginated results",
		zap.Int("total_records", pg.total),
		zap.Int("total_pages", pg.totalPages),
	)

	rest := make([][]byte, 0, pg.totalPages-1)
	for page := 2; page <= pg.totalPages; page++ {
		if err := pauseFor(ctx, n.cfg.PageDelay); err != nil {
			return nil, err
		}
		body, err := sess.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", scrape.ErrNavigationFailed, err)
		}
		metrics.ObservePageFetch(len(body))
		rest = append(rest, body)
	}

	merged, err := mergePages(first, rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrNavigationFailed, err)
	}
	return merged, nil
}

func (n *Navigator) countyID(county string) (string, bool) {
	id, ok := n.cfg.CountyIDs[strings.ToLower(strings.TrimSpace(county))]
	return id, ok && id != ""
}

func pauseFor(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
