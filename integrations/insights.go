package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// InsightFallback is returned whenever the insight service cannot answer.
const InsightFallback = "Unable to generate insights at this time."

const insightPrompt = "Analyze the following logistics data and provide 3 key insights regarding efficiency, risk, and financial health."

type InsightGenerator interface {
	Generate(ctx context.Context, snapshot any) (string, error)
}

type insightRequest struct {
	Prompt string `json:"prompt"`
	Data   any    `json:"data"`
}

type insightResponse struct {
	Text string `json:"text"`
}

type HTTPInsightGenerator struct {
	url    string
	client *http.Client
}

func NewInsightGenerator(url string) *HTTPInsightGenerator {
	return &HTTPInsightGenerator{url: strings.TrimSpace(url), client: &http.Client{}}
}

func (g *HTTPInsightGenerator) Generate(ctx context.Context, snapshot any) (string, error) {
	if g.url == "" {
		return "", errors.New("insight service not configured")
	}
	body, err := json.Marshal(insightRequest{Prompt: insightPrompt, Data: snapshot})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("insight service returned %d", resp.StatusCode)
	}
	var out insightResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode insight response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", errors.New("insight service returned no text")
	}
	return out.Text, nil
}

// FallbackInsights never fails: timeouts, breaker rejections and service
// errors all yield InsightFallback.
type FallbackInsights struct {
	next    InsightGenerator
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

func WithFallback(next InsightGenerator, timeout time.Duration, cfg BreakerConfig, logger *logrus.Logger) *FallbackInsights {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FallbackInsights{
		next:    next,
		timeout: timeout,
		breaker: newBreaker("insights", cfg, logger),
		logger:  logger,
	}
}

func (f *FallbackInsights) Insights(ctx context.Context, snapshot any) string {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	text, err := execute(f.breaker, "insights", func() (string, error) {
		return f.next.Generate(ctx, snapshot)
	})
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"field": "insights",
		}).Warn("insight generation failed: " + err.Error())
		return InsightFallback
	}
	return text
}

func (f *FallbackInsights) Generate(ctx context.Context, snapshot any) (string, error) {
	return f.Insights(ctx, snapshot), nil
}
