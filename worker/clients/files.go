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
	"time"

	"github.com/google/uuid"
)

// StoredFile is the metadata the files service returns for an upload.
type StoredFile struct {
	ID       uuid.UUID `json:"id"`
	FileName string    `json:"file_name"`
	FileSize int64     `json:"file_size"`
	MimeType string    `json:"mime_type"`
}

// FilesClient talks to the file-storage service.
type FilesClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewFilesClient(baseURL string) *FilesClient {
	return &FilesClient{
		baseURL: baseURL,
		// Archive downloads for big batches take a while.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Upload stores content under the given project and returns the stored file id.
func (c *FilesClient) Upload(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType string) (*StoredFile, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := writer.WriteField("project_id", projectID); err != nil {
		return nil, err
	}
	if err := writer.WriteField("file_type", fileType); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("files upload: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("files service returned %d: %s", resp.StatusCode, data)
	}

	var stored StoredFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &stored, nil
}

// BatchItem is one file of a batch upload.
type BatchItem struct {
	Name string
	Data []byte
}

// BatchUpload stores several files in one request and returns their metadata
// in the same order.
func (c *FilesClient) BatchUpload(ctx context.Context, items []BatchItem, projectID, fileType string) ([]StoredFile, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, item := range items {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(item.Name)))
		header.Set("Content-Type", "application/octet-stream")

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(item.Data); err != nil {
			return nil, fmt.Errorf("write form file: %w", err)
		}
	}
	if err := writer.WriteField("project_id", projectID); err != nil {
		return nil, err
	}
	if err := writer.WriteField("file_type", fileType); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/batch-upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("files batch upload: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read batch upload response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("files service returned %d: %s", resp.StatusCode, data)
	}

	var result struct {
		Files []StoredFile `json:"files"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode batch upload response: %w", err)
	}
	if len(result.Files) != len(items) {
		return nil, fmt.Errorf("batch upload returned %d files for %d items", len(result.Files), len(items))
	}
	return result.Files, nil
}

// DownloadedFile is one entry of a batch download.
type DownloadedFile struct {
	ID       uuid.UUID `json:"id"`
	FileName string    `json:"file_name"`
	Content  []byte    `json:"content"`
}

// BatchDownload fetches several blobs in one round trip. Content travels
// base64-encoded inside JSON, which encoding/json decodes transparently.
func (c *FilesClient) BatchDownload(ctx context.Context, fileIDs []uuid.UUID) ([]DownloadedFile, error) {
	payload, err := json.Marshal(map[string]any{"file_ids": fileIDs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/batch-download", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("files batch download: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read batch download response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("files service returned %d: %s", resp.StatusCode, data)
	}

	var result struct {
		Files []DownloadedFile `json:"files"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode batch download response: %w", err)
	}
	return result.Files, nil
}

// UploadBytes is Upload for content already held in memory.
func (c *FilesClient) UploadBytes(ctx context.Context, data []byte, fileName, contentType, projectID, fileType string) (*StoredFile, error) {
	return c.Upload(ctx, fileName, contentType, bytes.NewReader(data), projectID, fileType)
}

// Download fetches a blob into memory. Only suitable for single images.
func (c *FilesClient) Download(ctx context.Context, fileID string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.DownloadTo(ctx, fileID, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadTo streams a blob into w, used for multi-gigabyte archives.
func (c *FilesClient) DownloadTo(ctx context.Context, fileID string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/download", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("files download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("files service returned %d: %s", resp.StatusCode, data)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream blob: %w", err)
	}
	return nil
}

// Delete removes a stored file.
func (c *FilesClient) Delete(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("files delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("files service returned %d", resp.StatusCode)
	}
	return nil
}
