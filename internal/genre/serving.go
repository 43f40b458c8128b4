// SPDX-License-Identifier: MIT
package genre

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

// TileSide is the edge length of the square tile the model expects.
const TileSide = 128

// ServingClient calls a TensorFlow Serving REST predict endpoint, e.g.
// http://localhost:8501/v1/models/genre:predict.
type ServingClient struct {
	endpoint   string
	httpClient *http.Client
}

var _ Predictor = (*ServingClient)(nil)

// NewServingClient creates a client with the given request timeout.
func NewServingClient(endpoint string, timeout time.Duration) *ServingClient {
	return &ServingClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// predictRequest carries one instance shaped [128][128][1].
type predictRequest struct {
	Instances [][][][1]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions []struct {
		Classes       json.RawMessage `json:"classes"`
		Probabilities []float64       `json:"probabilities"`
	} `json:"predictions"`
}

// Predict reshapes tile to [1, 128, 128, 1] and posts it.
func (c *ServingClient) Predict(ctx context.Context, tile []float32) (Prediction, error) {
	if len(tile) != TileSide*TileSide {
		return Prediction{}, fmt.Errorf("tile has %d values, want %d", len(tile), TileSide*TileSide)
	}

	instance := make([][][1]float32, TileSide)
	for r := range instance {
		row := make([][1]float32, TileSide)
		for c := range row {
			row[c][0] = tile[r*TileSide+c]
		}
		instance[r] = row
	}

	jsonBody, err := json.Marshal(predictRequest{Instances: [][][][1]float32{instance}})
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Prediction{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, fmt.Errorf("predict status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Prediction{}, fmt.Errorf("decode: %w", err)
	}
	if len(result.Predictions) == 0 {
		return Prediction{}, fmt.Errorf("decode: empty predictions")
	}

	p := result.Predictions[0]
	class, err := parseClass(p.Classes)
	if err != nil {
		return Prediction{}, err
	}
	if class < 0 || class >= len(Labels) {
		return Prediction{}, fmt.Errorf("class %d: %w", class, ErrUnknownClass)
	}
	return Prediction{Class: class, Probabilities: p.Probabilities}, nil
}

// parseClass accepts either a scalar class or a one-element list.
func parseClass(raw json.RawMessage) (int, error) {
	var class int
	if err := json.Unmarshal(raw, &class); err == nil {
		return class, nil
	}
	var classes []int
	if err := json.Unmarshal(raw, &classes); err != nil {
		return 0, fmt.Errorf("decode classes: %w", err)
	}
	if len(classes) == 0 {
		return 0, fmt.Errorf("decode classes: empty")
	}
	return classes[0], nil
}

// NewFactory returns a factory for the configured endpoint. An empty
// endpoint yields no predictor.
func NewFactory(endpoint string, timeout time.Duration) Factory {
	return func() (Predictor, error) {
		if endpoint == "" {
			return nil, nil
		}
		return NewServingClient(endpoint, timeout), nil
	}
}
