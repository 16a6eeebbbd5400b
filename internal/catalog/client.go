// internal/catalog/client.go
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markerlens/tracker/pkg/core"
)

// ErrUnexpectedStatus is wrapped by errors for non-200 catalog replies.
var ErrUnexpectedStatus = errors.New("unexpected status")

// maxCatalogBytes caps the catalog response body.
const maxCatalogBytes = 8 << 20

// Client fetches marker assets from the content backend.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
}

// New creates a new catalog client. path is appended to baseURL for List.
func New(baseURL, path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if path == "" {
		path = "/api/ads"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       path,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// record accepts both the backend's native field names and the canonical ones.
type record struct {
	MongoID      string `json:"_id"`
	ID           string `json:"id"`
	VideoURL     string `json:"videoUrl"`
	MediaLocator string `json:"mediaLocator"`
	Name         string `json:"name"`
}

// Healthcheck checks if the content backend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("healthcheck returned status %d: %w", resp.StatusCode, ErrUnexpectedStatus)
	}
	return nil
}

// List returns every asset in the catalog. Records without an id are skipped;
// relative media locators are resolved against the base URL.
func (c *Client) List(ctx context.Context) ([]core.MarkerAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d: %w", resp.StatusCode, ErrUnexpectedStatus)
	}

	var records []record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogBytes)).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	assets := make([]core.MarkerAsset, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = r.MongoID
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		locator := r.MediaLocator
		if locator == "" {
			locator = r.VideoURL
		}
		assets = append(assets, core.MarkerAsset{
			ID:           id,
			MediaLocator: c.resolve(locator),
			DisplayName:  r.Name,
		})
	}
	return assets, nil
}

func (c *Client) resolve(locator string) string {
	if locator == "" {
		return ""
	}
	u, err := url.Parse(locator)
	if err != nil || u.IsAbs() {
		return locator
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return locator
	}
	return base.ResolveReference(u).String()
}
