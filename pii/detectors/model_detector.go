package detectors

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

const defaultModelTimeout = 30 * time.Second

// ModelDetector delegates recognition to a model server that exposes
// POST <baseURL>/detect.
type ModelDetector struct {
	baseURL string
	client  *http.Client
}

func NewModelDetector(baseURL string) *ModelDetector {
	return NewModelDetectorWithClient(baseURL, &http.Client{Timeout: defaultModelTimeout})
}

// NewModelDetectorWithClient uses the given HTTP client, e.g. one with a
// custom transport or timeout.
func NewModelDetectorWithClient(baseURL string, client *http.Client) *ModelDetector {
	return &ModelDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// GetName returns the name of this detector
func (m *ModelDetector) GetName() string {
	return DetectorNameModel
}

// SafeForConcurrentUse reports true: http.Client is safe to share.
func (m *ModelDetector) SafeForConcurrentUse() bool {
	return true
}

type modelRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type modelResponse struct {
	Entities []Entity `json:"entities"`
}

// Detect processes the input and returns detected entities
func (m *ModelDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	jsonData, err := json.Marshal(modelRequest{Text: input.Text, Language: input.Language})
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/detect", bytes.NewReader(jsonData))
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := m.client.Do(req)
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("%w: model server request failed: %v", ErrUnavailable, err)
	}
	defer func() { _ = response.Body.Close() }()

	switch {
	case response.StatusCode == http.StatusServiceUnavailable || response.StatusCode == http.StatusBadGateway:
		return DetectorOutput{}, fmt.Errorf("%w: model server returned %d", ErrUnavailable, response.StatusCode)
	case response.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return DetectorOutput{}, fmt.Errorf("model server returned %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded modelResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return DetectorOutput{}, fmt.Errorf("failed to decode model server response: %w", err)
	}

	entities := decoded.Entities
	if entities == nil {
		entities = []Entity{}
	}
	for i := range entities {
		e := &entities[i]
		if e.StartPos < 0 || e.EndPos > len(input.Text) || e.StartPos >= e.EndPos {
			return DetectorOutput{}, fmt.Errorf("model server returned span [%d:%d] outside text of length %d", e.StartPos, e.EndPos, len(input.Text))
		}
		e.Text = input.Text[e.StartPos:e.EndPos]
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// Close implements the Detector interface
func (m *ModelDetector) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
