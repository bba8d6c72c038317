package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Detection is one box the model found on an image.
type Detection struct {
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

// PredictResponse is the parsed detector answer for one image.
type PredictResponse struct {
	Detections []Detection `json:"detections"`
}

// DetectorClient talks to the YOLOv8 model service.
type DetectorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDetectorClient(baseURL string) *DetectorClient {
	return &DetectorClient{
		baseURL: baseURL,
		// Batch images can be large and the model queues requests, so the
		// per-image deadline is generous.
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Predict runs detection on one image.
func (c *DetectorClient) Predict(ctx context.Context, fileName string, content []byte, conf float64) (*PredictResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	header.Set("Content-Type", "application/octet-stream")

	part, err := writer.CreatePart(header)
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, data)
	}

	var result PredictResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	return &result, nil
}

var quoteReplacer = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}
