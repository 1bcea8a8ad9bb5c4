package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/captcha"
	"github.com/parcelpipe/salecrawler/internal/clock/system"
	"github.com/parcelpipe/salecrawler/internal/config"
	"github.com/parcelpipe/salecrawler/internal/hash/sha256"
	"github.com/parcelpipe/salecrawler/internal/id/uuid"
	"github.com/parcelpipe/salecrawler/internal/navigator"
	publisherpubsub "github.com/parcelpipe/salecrawler/internal/publisher/pubsub"
	"github.com/parcelpipe/salecrawler/internal/recognize"
	"github.com/parcelpipe/salecrawler/internal/scrape"
	storagegcs "github.com/parcelpipe/salecrawler/internal/storage/gcs"
	storagelocal "github.com/parcelpipe/salecrawler/internal/storage/local"
	storagemem "github.com/parcelpipe/salecrawler/internal/storage/memory"
	storagepg "github.com/parcelpipe/salecrawler/internal/storage/postgres"
	"github.com/parcelpipe/salecrawler/internal/worker"
)

var rootLogger *zap.Logger

// services bundles everything a command needs, plus the teardown.
type services struct {
	worker   *worker.Worker
	runStore scrape.RunStore
	cleanup  func()
}

// buildServices assembles the full pipeline from configuration.
func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*services, error) {
		cleanup()
		return nil, err
	}

	ensemble, err := buildEnsemble(cfg, logger)
	if err != nil {
		return fail(err)
	}
	selector := recognize.NewShapeSelector(cfg.Captcha.MinGuessLen, cfg.Captcha.MaxGuessLen)
	solver, err := captcha.NewLoop(ensemble, selector, captcha.Config{
		MaxAttempts: cfg.Captcha.MaxAttempts,
		BackoffBase: time.Duration(cfg.Captcha.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Captcha.BackoffMaxMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("build solver: %w", err))
	}

	renderer, err := buildRenderer(cfg, logger)
	if err != nil {
		return fail(err)
	}
	if renderer != nil {
		closers = append(closers, func() { _ = renderer.Close() })
	}

	nav, err := navigator.New(navigator.Config{
		BaseURL:      cfg.Site.BaseURL,
		SearchRoute:  cfg.Site.SearchRoute,
		UserAgent:    cfg.Site.UserAgent,
		Timeout:      cfg.SiteTimeout(),
		PageDelay:    time.Duration(cfg.Site.PageDelayMs) * time.Millisecond,
		CountyIDs:    cfg.Site.CountyIDs,
		MinHTMLBytes: cfg.Headless.MinHTMLBytes,
		GateKeywords: cfg.Headless.MarkerKeywords,
	}, solver, renderer, logger)
	if err != nil {
		return fail(fmt.Errorf("build navigator: %w", err))
	}

	blobStore, blobClosers, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, blobClosers...)

	clock := system.New()
	runStore, storeClosers, err := buildRunStore(ctx, cfg, clock)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, storeClosers...)

	publisher, pubClosers, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pubClosers...)

	w := worker.New(nav, runStore, blobStore, publisher,
		sha256.New(), clock, uuid.NewGenerator(),
		worker.Config{
			ContentType:   cfg.Storage.ContentType,
			BlobPrefix:    cfg.Storage.Prefix,
			Topic:         cfg.PubSub.TopicName,
			InterRunDelay: cfg.InterRunDelay(),
		}, logger)

	return &services{worker: w, runStore: runStore, cleanup: cleanup}, nil
}

// buildEnsemble wires the recognizer strategies that have credentials
// configured. At least one strategy is required.
func buildEnsemble(cfg config.Config, logger *zap.Logger) (*recognize.Ensemble, error) {
	var strategies []recognize.Strategy

	if cfg.Vision.APIKey != "" {
		vision, err := recognize.NewVisionRecognizer(recognize.VisionConfig{
			APIKey:  cfg.Vision.APIKey,
			BaseURL: cfg.Vision.BaseURL,
			Model:   cfg.Vision.Model,
			Timeout: time.Duration(cfg.Vision.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("build vision recognizer: %w", err)
		}
		strategies = append(strategies, recognize.Strategy{
			Name:       recognize.StrategyVision,
			Timeout:    time.Duration(cfg.Vision.TimeoutSeconds) * time.Second,
			Recognizer: vision,
		})
	}

	if cfg.OCR.Endpoint != "" && cfg.OCR.APIKey != "" {
		ocr, err := recognize.NewOCRRecognizer(recognize.OCRConfig{
			Endpoint:     cfg.OCR.Endpoint,
			APIKey:       cfg.OCR.APIKey,
			Timeout:      time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
			PollInterval: time.Duration(cfg.OCR.PollIntervalMs) * time.Millisecond,
			MaxPolls:     cfg.OCR.MaxPolls,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("build ocr recognizer: %w", err)
		}
		strategies = append(strategies, recognize.Strategy{
			Name:       recognize.StrategyOCR,
			Timeout:    time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
			Recognizer: ocr,
		})
	}

	if len(strategies) == 0 {
		return nil, fmt.Errorf("no recognizer strategy configured: set vision.api_key or ocr credentials")
	}
	return recognize.NewEnsemble(logger, strategies...)
}

func buildRenderer(cfg config.Config, logger *zap.Logger) (*navigator.Renderer, error) {
	if !cfg.Headless.Enabled {
		return nil, nil
	}
	renderer, err := navigator.NewRenderer(navigator.RendererConfig{
		MaxParallel: cfg.Headless.MaxParallel,
		NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		DomainQPS:   cfg.Headless.DomainQPS,
		UserAgent:   cfg.Site.UserAgent,
	}, logger)
	switch {
	case err == nil:
		return renderer, nil
	case errors.Is(err, navigator.ErrRendererDisabled):
		logger.Warn("headless renderer disabled despite feature flag")
		return nil, nil
	default:
		return nil, fmt.Errorf("build renderer: %w", err)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (scrape.BlobStore, []func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storagemem.NewBlobStore(), nil, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := storagegcs.New(client, storagegcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: "",
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, []func(){func() { _ = client.Close() }}, nil
	default:
		store, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil, nil
	}
}

func buildRunStore(ctx context.Context, cfg config.Config, clock scrape.Clock) (scrape.RunStore, []func(), error) {
	if cfg.DB.DSN == "" {
		return storagemem.NewRunStore(clock), nil, nil
	}
	store, err := storagepg.NewRunStore(ctx, storagepg.RunStoreConfig{
		DSN:          cfg.DB.DSN,
		PayloadTable: cfg.DB.Table,
		MaxConns:     cfg.DB.MaxConns,
	}, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres run store: %w", err)
	}
	return store, []func(){store.Close}, nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (scrape.Publisher, []func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, nil, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub, err := publisherpubsub.New(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	return pub, []func(){func() { _ = client.Close() }}, nil
}
