package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPredictor posts features to a model service and decodes a Prediction.
type HTTPPredictor struct {
	url    string
	client *http.Client
}

func NewHTTPPredictor(url string, timeout time.Duration) *HTTPPredictor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPPredictor{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPredictor) Predict(ctx context.Context, features Features) (Prediction, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal features: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("post %s: %w", p.url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Prediction{}, fmt.Errorf("predictor status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	prediction.Direction = NormalizeDirection(string(prediction.Direction))
	return prediction, nil
}
