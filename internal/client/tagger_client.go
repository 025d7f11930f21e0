package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/framelight/api/internal/config"
	"github.com/framelight/api/internal/model"
)

// Dispatch failure classes. The tagger reports failures as message text, so
// classification is best-effort string matching on the response body.
var (
	// ErrItemsNotVisible means the service's view of the asset records has not
	// caught up with records created moments ago. Retryable.
	ErrItemsNotVisible = errors.New("tagger: items not yet visible")

	// ErrVocabularyNotConfigured means the workspace has no classification
	// vocabulary set up. Terminal.
	ErrVocabularyNotConfigured = errors.New("tagger: vocabulary not configured")
)

// TaggerClient handles communication with the remote classification service
type TaggerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTaggerClient creates a new tagger API client
func NewTaggerClient(cfg *config.TaggerConfig) *TaggerClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TaggerClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ClassifyItem holds one item submitted for classification
type ClassifyItem struct {
	AssetID  string `json:"assetId"`
	MediaURL string `json:"mediaUrl"`
}

// ClassifyItemsRequest bundles every item of a batch into one wire call
type ClassifyItemsRequest struct {
	WorkspaceID string         `json:"workspaceId"`
	Items       []ClassifyItem `json:"items"`
}

// ItemResult holds per-item tags from an immediate-mode call
type ItemResult struct {
	AssetID string   `json:"assetId"`
	Tags    []string `json:"tags"`
}

// ClassifyItemsResponse is the immediate-mode response
type ClassifyItemsResponse struct {
	Results []ItemResult `json:"results"`
}

// SubmitBatchResponse is the async-mode response
type SubmitBatchResponse struct {
	BatchHandle string `json:"batchId"`
	ItemCount   int    `json:"itemCount"`
}

// ClassifyItems performs a synchronous classification of the whole batch in a
// single call and returns per-item tags.
func (c *TaggerClient) ClassifyItems(ctx context.Context, workspaceID string, items []model.AssetRef) ([]ItemResult, error) {
	req := &ClassifyItemsRequest{
		WorkspaceID: workspaceID,
		Items:       toClassifyItems(items),
	}

	var resp ClassifyItemsResponse
	if err := c.post(ctx, "/v1/classify", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SubmitBatch submits the whole batch as an asynchronous classification job and
// returns an opaque handle. Results arrive later through the record store.
func (c *TaggerClient) SubmitBatch(ctx context.Context, workspaceID string, items []model.AssetRef) (string, error) {
	req := &ClassifyItemsRequest{
		WorkspaceID: workspaceID,
		Items:       toClassifyItems(items),
	}

	var resp SubmitBatchResponse
	if err := c.post(ctx, "/v1/classify/batch", req, &resp); err != nil {
		return "", err
	}
	return resp.BatchHandle, nil
}

func toClassifyItems(items []model.AssetRef) []ClassifyItem {
	out := make([]ClassifyItem, 0, len(items))
	for _, it := range items {
		out = append(out, ClassifyItem{AssetID: it.AssetID, MediaURL: it.StorageURL})
	}
	return out
}

// post sends a POST request with JSON body
func (c *TaggerClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *TaggerClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Tagger API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Tagger API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Tagger API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Tagger API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Tagger API] ✗ unmarshal error for %s %s: %v (body: %s)", req.Method, req.URL.String(), err, string(respBody))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// classifyAPIError maps an error response onto a failure class by message
// content. Unmatched messages fall through to a generic terminal error.
func classifyAPIError(status int, body []byte) error {
	msg := strings.ToLower(string(body))

	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unknown asset"):
		return fmt.Errorf("%w: status %d: %s", ErrItemsNotVisible, status, strings.TrimSpace(string(body)))
	case strings.Contains(msg, "vocabulary") || strings.Contains(msg, "no labels configured"):
		return fmt.Errorf("%w: status %d: %s", ErrVocabularyNotConfigured, status, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("tagger API error (status %d): %s", status, strings.TrimSpace(string(body)))
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *TaggerClient) IsConfigured() bool {
	return c.apiKey != ""
}
