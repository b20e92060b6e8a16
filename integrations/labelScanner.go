package integrations

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	maxLabelImageBytes = 10 << 20
	maxLabelDimension  = 1600
	labelScanPrompt    = "Extract shipping label details: tracking number, weight, customer name, and destination. Return as JSON."
)

var (
	ErrScanUnavailable = errors.New("label scan unavailable")
	ErrInvalidImage    = errors.New("invalid label image")
)

// ScannedLabel is what the OCR service could read off a label. Only the
// tracking number is guaranteed.
type ScannedLabel struct {
	TrackingNumber string           `json:"trackingNumber"`
	Weight         *decimal.Decimal `json:"weight,omitempty"`
	CustomerName   *string          `json:"customerName,omitempty"`
	Destination    *string          `json:"destination,omitempty"`
}

type LabelScanner interface {
	Scan(ctx context.Context, image []byte) (ScannedLabel, error)
}

type scanRequest struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
	Prompt   string `json:"prompt"`
}

// HTTPLabelScanner posts normalised label images to an OCR endpoint.
type HTTPLabelScanner struct {
	url     string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewLabelScanner(url string, timeout time.Duration, cfg BreakerConfig, logger *logrus.Logger) *HTTPLabelScanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPLabelScanner{
		url:     strings.TrimSpace(url),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		breaker: newBreaker("label-scanner", cfg, logger),
		logger:  logger,
	}
}

// Scan returns ErrScanUnavailable for every service-side failure, including an
// unconfigured endpoint and an open breaker. A bad image is ErrInvalidImage.
func (s *HTTPLabelScanner) Scan(ctx context.Context, image []byte) (ScannedLabel, error) {
	if s.url == "" {
		return ScannedLabel{}, ErrScanUnavailable
	}
	normalized, err := NormalizeLabelImage(image)
	if err != nil {
		return ScannedLabel{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	label, err := execute(s.breaker, "label-scanner", func() (ScannedLabel, error) {
		return s.post(ctx, normalized)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"field": "labelScanner",
			"url":   s.url,
		}).Warn("label scan failed: " + err.Error())
		return ScannedLabel{}, fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	return label, nil
}

func (s *HTTPLabelScanner) post(ctx context.Context, image []byte) (ScannedLabel, error) {
	body, err := json.Marshal(scanRequest{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(image),
		Prompt:   labelScanPrompt,
	})
	if err != nil {
		return ScannedLabel{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return ScannedLabel{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ScannedLabel{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ScannedLabel{}, fmt.Errorf("ocr service returned %d", resp.StatusCode)
	}
	var label ScannedLabel
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&label); err != nil {
		return ScannedLabel{}, fmt.Errorf("decode ocr response: %w", err)
	}
	label.TrackingNumber = strings.ToUpper(strings.TrimSpace(label.TrackingNumber))
	if label.TrackingNumber == "" {
		return ScannedLabel{}, errors.New("ocr response has no tracking number")
	}
	return label, nil
}

// NormalizeLabelImage decodes any supported format, shrinks it so neither side
// exceeds 1600px and re-encodes it as JPEG.
func NormalizeLabelImage(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	if len(data) > maxLabelImageBytes {
		return nil, fmt.Errorf("%w: exceeds 10MB", ErrInvalidImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() > maxLabelDimension || b.Dy() > maxLabelDimension {
		img = imaging.Fit(img, maxLabelDimension, maxLabelDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
