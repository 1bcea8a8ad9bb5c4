// Package recognize implements the challenge-image recognizer strategies and
// the candidate selector.
package recognize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

// Strategy tags attached to candidates.
const (
	StrategyVision = "vision"
	StrategyOCR    = "ocr"
)

const visionPrompt = "Extract ONLY the alphanumeric characters from this CAPTCHA image. " +
	"Return ONLY the code with no explanation, no spaces, no punctuation. Just the characters you see."

// VisionConfig controls the vision-model strategy.
type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// visionAPI is the slice of the OpenAI client the strategy uses.
type visionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// VisionRecognizer reads challenge text with a vision-capable language model.
type VisionRecognizer struct {
	api     visionAPI
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewVisionRecognizer builds a recognizer backed by the OpenAI chat API.
func NewVisionRecognizer(cfg VisionConfig, logger *zap.Logger) (*VisionRecognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &VisionRecognizer{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Recognize sends the image to the model under a constrained instruction. A
// response containing whitespace, punctuation outside the expected alphabet,
// or no text at all is filtered rather than returned.
func (r *VisionRecognizer) Recognize(ctx context.Context, image []byte) ([]scrape.Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	resp, err := r.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       r.model,
		MaxTokens:   50,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" || !isAlphanumeric(text) {
		r.logger.Debug("vision response filtered", zap.String("raw", text))
		return nil, nil
	}
	return []scrape.Candidate{{
		Text:       text,
		Strategy:   StrategyVision,
		Confidence: 0.9,
	}}, nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

func stripNonAlphanumeric(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			b.WriteRune(c)
		}
	}
	return b.String()
}
