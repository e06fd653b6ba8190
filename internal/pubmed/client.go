// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pubmed talks to the NCBI E-utilities: ESearch returns an
// identifier batch for a query, EFetch returns bibliographic XML for a batch,
// and Normalize turns that XML into uniform Article records.
package pubmed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// maxBodyBytes bounds a single E-utilities response.
const maxBodyBytes = 32 << 20

// Client issues search and fetch calls. Its configuration is read-only;
// every call builds its own query parameters.
type Client struct {
	HTTP   *http.Client
	Config types.PubMedConfig
	Logger *slog.Logger
}

// NewClient returns a Client with a default HTTP client.
func NewClient(cfg types.PubMedConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		HTTP:   &http.Client{},
		Config: cfg,
		Logger: logger,
	}
}

// baseParams returns a fresh parameter set carrying the settings shared by
// every call.
func (c *Client) baseParams(retmode string) url.Values {
	db := c.Config.Database
	if db == "" {
		db = "pubmed"
	}
	params := url.Values{
		"db":      {db},
		"retmode": {retmode},
	}
	if c.Config.APIKey != "" {
		params.Set("api_key", c.Config.APIKey)
	}
	return params
}

// get performs one GET with the configured timeout and retry policy and
// returns the full response body.
func (c *Client) get(ctx context.Context, stage, endpoint string, params url.Values) ([]byte, error) {
	if c.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", stage, err)
	}
	if c.Config.UserAgent != "" {
		req.Header.Set("User-Agent", c.Config.UserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.Do(ctx, client, req, httputil.Request{
		Stage:       stage,
		MaxAttempts: c.Config.MaxAttempts,
		Logger:      c.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &types.UpstreamError{Kind: types.ErrUpstreamUnavailable, Stage: stage, Err: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
