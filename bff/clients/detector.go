package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrUpstreamUnavailable means the downstream service refused the
	// connection; the gateway maps it to 503.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrUpstreamTimeout means the downstream service did not answer in
	// time; the gateway maps it to 504.
	ErrUpstreamTimeout = errors.New("upstream service timeout")
)

// UpstreamError carries a non-200 downstream response through to the caller.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// DetectorClient talks to the YOLOv8 model service. The model itself is an
// opaque external dependency; this client only forwards images and relays
// JSON results.
type DetectorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDetectorClient(baseURL string) *DetectorClient {
	return &DetectorClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Predict sends one image to the detector and returns the raw JSON result.
func (c *DetectorClient) Predict(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := createImagePart(writer, fileName, contentType)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	endpoint := c.baseURL + "/predict?conf=" + strconv.FormatFloat(conf, 'f', -1, 64)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

// ModelInfo proxies GET /model/info.
func (c *DetectorClient) ModelInfo(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model/info", nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Health reports the detector's own health document, or an unhealthy stub
// when the detector cannot be reached.
func (c *DetectorClient) Health(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}

	raw, err := c.do(req)
	if err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}
	return doc
}

func (c *DetectorClient) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return data, nil
}

func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
}
