package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"easel/internal/config"
	"easel/internal/services"
)

// HTTPDoer describes the HTTP client used by the CMS service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Document is a CMS document as returned by the data API.
type Document map[string]any

// AssetRef reports the asset id referenced by an image slot, or "" when the
// slot is empty.
func (d Document) AssetRef(slot string) string {
	field, ok := d[slot].(map[string]any)
	if !ok {
		return ""
	}
	asset, ok := field["asset"].(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := asset["_ref"].(string)
	return ref
}

// Client talks to the CMS HTTP API.
type Client struct {
	baseURL string
	dataset string
	token   string
	client  HTTPDoer
}

// NewClient constructs a CMS client from configuration.
func NewClient(cfg *config.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.CMS.BaseURL), "/")
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "cms", "new", "cms.base_url is not configured", nil)
	}
	timeout := time.Duration(cfg.CMS.RequestTimeout) * time.Second
	return &Client{
		baseURL: baseURL,
		dataset: strings.TrimSpace(cfg.CMS.Dataset),
		token:   strings.TrimSpace(cfg.CMS.Token),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// NewClientWith constructs a CMS client with an injected HTTP doer.
func NewClientWith(baseURL, dataset, token string, client HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		dataset: strings.TrimSpace(dataset),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

// UploadAsset streams an image file to the asset endpoint and returns the
// created asset id.
func (c *Client) UploadAsset(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open asset %s: %w", path, err)
	}
	defer file.Close()

	uploadURL := fmt.Sprintf("%s/assets/images/%s?filename=%s",
		c.baseURL, c.dataset, url.QueryEscape(filepath.Base(path)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, file)
	if err != nil {
		return "", fmt.Errorf("build asset upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentTypeFor(path))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "cms", "upload", "asset upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", statusError("upload", resp)
	}

	var payload struct {
		Document struct {
			ID string `json:"_id"`
		} `json:"document"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode asset response: %w", err)
	}
	if payload.Document.ID == "" {
		return "", services.Wrap(services.ErrExternalTool, "cms", "upload", "asset response missing document id", nil)
	}
	return payload.Document.ID, nil
}

// GetDocument fetches a document by id. Returns services.ErrNotFound when the
// document does not exist.
func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	docURL := fmt.Sprintf("%s/data/doc/%s/%s", c.baseURL, c.dataset, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "cms", "get document", "document fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, services.Wrap(services.ErrNotFound, "cms", "get document", fmt.Sprintf("document %s not found", id), nil)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError("get document", resp)
	}

	var payload struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode document response: %w", err)
	}
	if len(payload.Documents) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "cms", "get document", fmt.Sprintf("document %s not found", id), nil)
	}
	return payload.Documents[0], nil
}

// PatchDocument sets fields on a document in a single mutation.
func (c *Client) PatchDocument(ctx context.Context, id string, set map[string]any) error {
	if len(set) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"mutations": []map[string]any{
			{"patch": map[string]any{"id": id, "set": set}},
		},
	})
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}

	mutateURL := fmt.Sprintf("%s/data/mutate/%s", c.baseURL, c.dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mutateURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mutation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "cms", "patch", "document patch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError("patch", resp)
	}
	return nil
}

func statusError(operation string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	marker := services.ErrExternalTool
	if resp.StatusCode >= http.StatusInternalServerError {
		marker = services.ErrTransient
	}
	return services.Wrap(marker, "cms", operation,
		fmt.Sprintf("cms returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
