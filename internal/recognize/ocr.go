package recognize

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// OCRConfig controls the remote image-to-text engine client.
type OCRConfig struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// OCRRecognizer runs the classical OCR strategy: the image is normalized
// locally, then submitted to an image-to-text engine over HTTP with a
// create-task/poll-result protocol.
type OCRRecognizer struct {
	http         *resty.Client
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.Logger
}

// NewOCRRecognizer builds a recognizer for the configured OCR engine.
func NewOCRRecognizer(cfg OCRConfig, logger *zap.Logger) (*OCRRecognizer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ocr endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ocr api key is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	maxPolls := cfg.MaxPolls
	if maxPolls == 0 {
		maxPolls = 15
	}

	client := resty.New()
	client.SetBaseURL(cfg.Endpoint)
	client.SetTimeout(timeout)

	return &OCRRecognizer{
		http:         client,
		apiKey:       cfg.APIKey,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       logger,
	}, nil
}

type ocrTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	Task      ocrTaskSpec `json:"task"`
}

type ocrTaskSpec struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

type ocrTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
}

type ocrResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type ocrResultResponse struct {
	ErrorID  int    `json:"errorId"`
	Status   string `json:"status"`
	Solution struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"solution"`
}

// Recognize normalizes the image and runs it through the remote engine. Any
// non-alphanumeric output is stripped before a candidate is produced.
func (r *OCRRecognizer) Recognize(ctx context.Context, image []byte) ([]scrape.Candidate, error) {
	normalized, err := Normalize(image)
	if err != nil {
		return nil, fmt.Errorf("normalize image: %w", err)
	}

	taskID, err := r.createTask(ctx, normalized)
	if err != nil {
		return nil, err
	}

	text, score, err := r.awaitResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	text = stripNonAlphanumeric(text)
	if text == "" {
		return nil, nil
	}
	if score <= 0 {
		score = 0.5
	}
	return []scrape.Candidate{{
		Text:       text,
		Strategy:   StrategyOCR,
		Confidence: score,
	}}, nil
}

func (r *OCRRecognizer) createTask(ctx context.Context, image []byte) (string, error) {
	var created ocrTaskResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(ocrTaskRequest{
			ClientKey: r.apiKey,
			Task: ocrTaskSpec{
				Type: "ImageToTextTask",
				Body: base64.StdEncoding.EncodeToString(image),
			},
		}).
		SetResult(&created).
		Post("/createTask")
	if err != nil {
		return "", fmt.Errorf("ocr create task: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ocr create task: http %d", resp.StatusCode())
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("ocr create task: %s", created.ErrorDescription)
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("ocr create task: missing task id")
	}
	return created.TaskID, nil
}

func (r *OCRRecognizer) awaitResult(ctx context.Context, taskID string) (string, float64, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for poll := 0; poll < r.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return "", 0, fmt.Errorf("ocr poll canceled: %w", ctx.Err())
		case <-ticker.C:
		}

		var result ocrResultResponse
		resp, err := r.http.R().
			SetContext(ctx).
			SetBody(ocrResultRequest{ClientKey: r.apiKey, TaskID: taskID}).
			SetResult(&result).
			Post("/getTaskResult")
		if err != nil {
			return "", 0, fmt.Errorf("ocr poll result: %w", err)
		}
		if resp.IsError() {
			return "", 0, fmt.Errorf("ocr poll result: http %d", resp.StatusCode())
		}

		switch result.Status {
		case "ready":
			return result.Solution.Text, result.Solution.Score, nil
		case "failed":
			return "", 0, fmt.Errorf("ocr task failed")
		default:
			r.logger.Debug("ocr task pending", zap.String("task_id", taskID), zap.Int("poll", poll+1))
		}
	}
	return "", 0, fmt.Errorf("ocr task timed out after %d polls", r.maxPolls)
}
