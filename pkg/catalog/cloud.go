// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/resilience"
)

// cloudRecord is the wire shape of one skill in the snapshot response.
type cloudRecord struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Owner   string          `json:"owner"`
	Version string          `json:"version"`
	Mode    string          `json:"mode"`
	Diagram json.RawMessage `json:"diagram"`
	Mapping json.RawMessage `json:"data_mapping,omitempty"`
}

type cloudSnapshot struct {
	Skills []cloudRecord `json:"skills"`
}

// CloudClient fetches the cloud's skill snapshot over HTTP. Calls run behind
// a circuit breaker; when the upstream is down the last good snapshot is
// served from cache.
type CloudClient struct {
	base    string
	httpc   *http.Client
	breaker *resilience.CircuitBreaker
	cache   *resilience.CachedFallback
	log     *slog.Logger
}

// CloudOption configures the client.
type CloudOption func(*CloudClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) CloudOption {
	return func(cc *CloudClient) { cc.httpc = c }
}

// WithCloudLogger sets the client logger.
func WithCloudLogger(log *slog.Logger) CloudOption {
	return func(cc *CloudClient) { cc.log = log }
}

// NewCloudClient builds a snapshot client for the given base URL.
func NewCloudClient(base string, opts ...CloudOption) *CloudClient {
	c := &CloudClient{
		base:  strings.TrimRight(base, "/"),
		httpc: &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "catalog.cloud",
			FailureThreshold: 3,
			Timeout:          30 * time.Second,
		}),
		cache: &resilience.CachedFallback{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the cloud skill records, falling back to the cached
// previous snapshot when the fetch fails.
func (c *CloudClient) Snapshot(ctx context.Context) ([]Record, error) {
	value, err := resilience.WithFallback(ctx, func() (any, error) {
		var recs []Record
		callErr := c.breaker.Call(ctx, func() error {
			var err error
			recs, err = c.fetch(ctx)
			return err
		})
		if callErr != nil {
			return nil, callErr
		}
		c.cache.Cache = recs
		return recs, nil
	}, c.cache)
	if err != nil {
		return nil, err
	}
	recs, ok := value.([]Record)
	if !ok {
		return nil, errors.New(errors.KindInternal, "unexpected snapshot cache type", nil)
	}
	return recs, nil
}

func (c *CloudClient) fetch(ctx context.Context) ([]Record, error) {
	url := c.base + "/v1/skills/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "build snapshot request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.New(errors.KindToolCallFailure, "fetch skill snapshot", err).
			WithContext("url", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.KindToolCallFailure, "skill snapshot request failed", nil).
			WithContext("url", url).
			WithContext("status", fmt.Sprintf("%d", resp.StatusCode)).
			WithContext("body", string(body))
	}

	var snap cloudSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, errors.New(errors.KindConfig, "decode skill snapshot", err)
	}

	now := time.Now()
	recs := make([]Record, 0, len(snap.Skills))
	for _, cr := range snap.Skills {
		recs = append(recs, Record{
			ID:        cr.ID,
			Name:      cr.Name,
			Owner:     cr.Owner,
			Version:   cr.Version,
			Mode:      cr.Mode,
			Source:    SourceCloud,
			Diagram:   []byte(cr.Diagram),
			Mapping:   []byte(cr.Mapping),
			UpdatedAt: now,
		})
	}
	c.log.Debug("catalog.cloud.snapshot", "skills", len(recs))
	return recs, nil
}
