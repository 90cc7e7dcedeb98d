package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medscrape/telegram-warehouse/internal/domain"
)

// Engine is the object-detection boundary. Given a decoded image buffer
// and a confidence threshold it returns the detected objects, or an
// explicit failure. The model itself lives behind this interface and is
// not reimplemented here.
type Engine interface {
	Detect(ctx context.Context, image []byte, threshold float64) ([]domain.Detection, error)
	ModelVersion() string
}

// HTTPEngine calls a YOLO-style inference server over HTTP.
type HTTPEngine struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewHTTPEngine(baseURL, model string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	Image      []byte  `json:"image"` // base64 via encoding/json
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}

type detectResponse struct {
	Detections []struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

func (e *HTTPEngine) ModelVersion() string {
	return e.model
}

// Detect submits one image for inference. Any non-200 response or decode
// failure is reported as an error; the caller decides whether to skip.
func (e *HTTPEngine) Detect(ctx context.Context, image []byte, threshold float64) ([]domain.Detection, error) {
	body, err := json.Marshal(detectRequest{Image: image, Model: e.model, Confidence: threshold})
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, string(payload))
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	detections := make([]domain.Detection, 0, len(decoded.Detections))
	for _, d := range decoded.Detections {
		detections = append(detections, domain.Detection{Class: d.Class, Confidence: d.Confidence})
	}

	return detections, nil
}
