package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicodishanthj/echogarden/internal/common"
)

// Client talks to a Qdrant-compatible HTTP endpoint. A client that failed
// its readiness probe stays constructed but reports Available() == false so
// retrieval can degrade to FTS-only.
type Client struct {
	httpClient *http.Client
	baseURL    string
	collection string
	dim        int

	mu        sync.RWMutex
	available bool
	ensured   bool
}

// NewClient probes the endpoint and prepares the collection lazily on first
// upsert (the vector dimension is only known once an embedding exists).
func NewClient(ctx context.Context, endpoint, collection string) *Client {
	logger := common.Logger()
	client := &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:    strings.TrimRight(endpoint, "/"),
		collection: collection,
	}
	if err := client.probe(ctx); err != nil {
		logger.Warn("vector: endpoint unreachable, retrieval will degrade to fts-only",
			"endpoint", endpoint, "error", err)
		return client
	}
	client.setAvailable(true)
	logger.Info("vector: endpoint connected", "endpoint", endpoint, "collection", collection)
	return client
}

func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) setAvailable(ok bool) {
	c.mu.Lock()
	c.available = ok
	c.mu.Unlock()
}

func (c *Client) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, dim int) error {
	c.mu.Lock()
	if c.ensured && c.dim == dim {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": dim, "distance": "Cosine"},
	}
	status, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", c.collection), body, nil)
	if err != nil {
		return err
	}
	// 409 means the collection already exists, which is fine.
	if status >= 400 && status != http.StatusConflict {
		return fmt.Errorf("ensure collection status %d", status)
	}
	c.mu.Lock()
	c.ensured = true
	c.dim = dim
	c.mu.Unlock()
	return nil
}

func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if !c.Available() {
		return fmt.Errorf("vector endpoint unavailable")
	}
	if err := c.ensureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}
	payload := make([]map[string]interface{}, 0, len(points))
	for _, point := range points {
		payload = append(payload, map[string]interface{}{
			"id":     point.ID,
			"vector": point.Vector,
			"payload": map[string]interface{}{
				"memory_id": point.MemoryID,
				"modality":  point.Modality,
			},
		})
	}
	status, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", c.collection),
		map[string]interface{}{"points": payload}, nil)
	if err != nil {
		c.setAvailable(false)
		return err
	}
	if status >= 400 {
		return fmt.Errorf("upsert status %d", status)
	}
	return nil
}

func (c *Client) Search(ctx context.Context, vector []float32, modality string, limit int) ([]Result, error) {
	if !c.Available() {
		return nil, fmt.Errorf("vector endpoint unavailable")
	}
	if limit <= 0 {
		limit = 10
	}
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if modality != "" {
		body["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "modality", "match": map[string]interface{}{"value": modality}},
			},
		}
	}
	var decoded struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", c.collection), body, &decoded)
	if err != nil {
		c.setAvailable(false)
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("search status %d", status)
	}
	results := make([]Result, 0, len(decoded.Result))
	for _, hit := range decoded.Result {
		result := Result{Score: hit.Score}
		result.ID = fmt.Sprint(hit.ID)
		if hit.Payload != nil {
			if mid, ok := hit.Payload["memory_id"].(string); ok {
				result.MemoryID = mid
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if !c.Available() {
		return fmt.Errorf("vector endpoint unavailable")
	}
	status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection),
		map[string]interface{}{"points": ids}, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("delete status %d", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
