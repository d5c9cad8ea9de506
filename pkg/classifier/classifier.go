// Package classifier predicts a label key for issue text. The model itself
// lives behind an HTTP inference endpoint; this package only speaks its
// protocol.
package classifier

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

	"github.com/rs/zerolog"
)

// ErrNoPrediction is returned when the endpoint answers without a label.
var ErrNoPrediction = errors.New("classifier returned no label")

// maxResponseBytes caps the inference response size.
const maxResponseBytes = 1 << 20

// Prediction is a label key and the model's confidence in it (0..1).
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier predicts a label for issue text.
type Classifier interface {
	Predict(ctx context.Context, text string) (Prediction, error)
}

// Text joins an issue's title and body the way the model was trained.
func Text(title, body string) string {
	return strings.TrimSpace(title + "\n\n" + body)
}

// HTTPClassifier posts {"text": ...} to an inference endpoint and expects
// {"label": ..., "confidence": ...} back.
type HTTPClassifier struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPClassifier creates a client for endpoint. A nil httpClient selects
// one with a 10 second timeout.
func NewHTTPClassifier(endpoint string, httpClient *http.Client, logger zerolog.Logger) *HTTPClassifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClassifier{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Predict implements Classifier.
func (c *HTTPClassifier) Predict(ctx context.Context, text string) (Prediction, error) {
	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Prediction{}, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("classifier returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var prediction Prediction
	if err := json.Unmarshal(data, &prediction); err != nil {
		return Prediction{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if prediction.Label == "" {
		return Prediction{}, ErrNoPrediction
	}

	c.logger.Debug().
		Str("label", prediction.Label).
		Float64("confidence", prediction.Confidence).
		Dur("duration", time.Since(start)).
		Msg("Classifier prediction")
	return prediction, nil
}

// Static always returns the same prediction.
type Static struct {
	Prediction Prediction
	Err        error
}

// Predict implements Classifier.
func (s Static) Predict(context.Context, string) (Prediction, error) {
	return s.Prediction, s.Err
}
