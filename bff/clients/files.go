package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"gridinspect/bff/dto"
)

// FilesClient talks to the file-storage service.
type FilesClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewFilesClient(baseURL string) *FilesClient {
	return &FilesClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload stores one file under the given project and returns its metadata.
func (c *FilesClient) Upload(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType, uploadedBy string) (*dto.StoredFile, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := createImagePart(writer, fileName, contentType)
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
	if uploadedBy != "" {
		if err := writer.WriteField("uploaded_by", uploadedBy); err != nil {
			return nil, err
		}
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
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var stored dto.StoredFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode stored file: %w", err)
	}
	return &stored, nil
}

// UploadBytes is Upload for content already held in memory.
func (c *FilesClient) UploadBytes(ctx context.Context, data []byte, fileName, contentType, projectID, fileType string) (*dto.StoredFile, error) {
	return c.Upload(ctx, fileName, contentType, bytes.NewReader(data), projectID, fileType, "")
}

// Download fetches the raw blob for a file id.
func (c *FilesClient) Download(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/download", nil)
	if err != nil {
		return nil, err
	}

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

// Metadata fetches the metadata document for a file id.
func (c *FilesClient) Metadata(ctx context.Context, fileID string) (*dto.StoredFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return nil, err
	}

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

	var stored dto.StoredFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &stored, nil
}

// ProjectFiles lists every stored file under a project id.
func (c *FilesClient) ProjectFiles(ctx context.Context, projectID string) ([]dto.StoredFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/project/"+projectID, nil)
	if err != nil {
		return nil, err
	}

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

	var list dto.FileListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	return list.Files, nil
}

// Delete removes a file blob and its metadata.
func (c *FilesClient) Delete(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return nil
}
