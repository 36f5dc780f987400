// Package engine is the HTTP client for the backing document-search
// engine. It exposes the small slice of the engine's REST surface the rest
// of the system needs: index lifecycle, aliases, bulk writes, and search.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eklundh/strandr/pkg/config"
	apperrors "github.com/eklundh/strandr/pkg/errors"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/resilience"
)

// Client talks to one engine cluster. Bulk writes get their own, longer
// timeout; everything else shares the query timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	bulkClient *http.Client
	retry      resilience.RetryConfig
	log        *slog.Logger
}

// NewClient creates a Client from the engine configuration.
func NewClient(cfg config.EngineConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		bulkClient: &http.Client{Timeout: cfg.BulkTimeout},
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
		log: logger.WithComponent("engine"),
	}
}

// Ping checks that the engine answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", nil, nil)
}

// CreateIndex creates an index with the given settings and mappings body.
func (c *Client) CreateIndex(ctx context.Context, name string, body map[string]any) error {
	return c.do(ctx, http.MethodPut, "/"+url.PathEscape(name), body, nil)
}

// DeleteIndex removes an index. Deleting a missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(name), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// IndexExists reports whether an index (or alias) exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodHead, "/"+url.PathEscape(name), nil, nil)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AliasAction is one add or remove entry of an alias update.
type AliasAction struct {
	Add    *AliasTarget `json:"add,omitempty"`
	Remove *AliasTarget `json:"remove,omitempty"`
}

// AliasTarget names the index and alias of an alias action.
type AliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

// UpdateAliases applies alias actions atomically, so readers never observe
// a corpus without its alias mid-swap.
func (c *Client) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	return c.do(ctx, http.MethodPost, "/_aliases", map[string]any{"actions": actions}, nil)
}

// ResolveAlias returns the physical index names behind an alias.
func (c *Client) ResolveAlias(ctx context.Context, alias string) ([]string, error) {
	var out map[string]json.RawMessage
	err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(alias)+"/_alias", nil, &out)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	return names, nil
}

// PutSettings updates dynamic settings on an index.
func (c *Client) PutSettings(ctx context.Context, index string, settings map[string]any) error {
	return c.do(ctx, http.MethodPut, "/"+url.PathEscape(index)+"/_settings", settings, nil)
}

// Refresh makes recent writes to an index visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	return c.do(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_refresh", nil, nil)
}

// ForceMerge compacts an index down to maxSegments segments. Run after a
// full indexing pass, never during one.
func (c *Client) ForceMerge(ctx context.Context, index string, maxSegments int) error {
	path := fmt.Sprintf("/%s/_forcemerge?max_num_segments=%d", url.PathEscape(index), maxSegments)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Search runs one query against an index or alias. Transient engine
// failures are retried; request errors are not.
func (c *Client) Search(ctx context.Context, index string, body *SearchBody) (*SearchResponse, error) {
	var out SearchResponse
	var permanent error
	err := resilience.Retry(ctx, "engine search", c.retry, func() error {
		out = SearchResponse{}
		err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", body, &out)
		if err != nil && !errors.Is(err, apperrors.ErrEngineUnavailable) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument fetches one stored document by id. Returns
// ErrDocumentNotFound when the id does not exist.
func (c *Client) GetDocument(ctx context.Context, index, id string) (json.RawMessage, error) {
	var out struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	path := "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(id)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	if isNotFound(err) || (err == nil && !out.Found) {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "no document %s in %s", id, index)
	}
	if err != nil {
		return nil, err
	}
	return out.Source, nil
}

// statusError is a non-2xx engine response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWith(ctx, c.httpClient, method, path, body, out)
}

func (c *Client) doWith(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding engine request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building engine request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return apperrors.Newf(apperrors.ErrEngineUnavailable, 503, "engine request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if resp.StatusCode >= http.StatusInternalServerError {
			return apperrors.New(apperrors.ErrEngineUnavailable, 503, serr.Error())
		}
		return serr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding engine response: %w", err)
		}
	}
	return nil
}
