// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ESearch JSON envelope.
type esearchResponse struct {
	Error         string         `json:"error"`
	ESearchResult *esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string    `json:"count"`
	IDList *[]string `json:"idlist"`
	Error  string    `json:"ERROR"`
}

// Search sends query to the ESearch endpoint and returns up to maxResults
// unique identifiers in the order the service ranked them. A query with no
// matches returns an empty batch and no error. When maxResults is not
// positive the configured cap is used.
func (c *Client) Search(ctx context.Context, query types.SearchQuery, maxResults int) (types.IdentifierBatch, error) {
	if strings.TrimSpace(query.String()) == "" {
		return nil, &types.MissingFieldError{Fields: []string{"query"}}
	}
	if maxResults <= 0 {
		maxResults = c.Config.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	params := c.baseParams("json")
	params.Set("retmax", itoa(maxResults))
	params.Set("term", query.String())

	body, err := c.get(ctx, "search", c.Config.SearchURL, params)
	if err != nil {
		return nil, err
	}

	ids, err := parseSearch(body)
	if err != nil {
		return nil, err
	}
	return capUnique(ids, maxResults), nil
}

// parseSearch extracts the identifier list from an ESearch JSON envelope.
func parseSearch(body []byte) ([]string, error) {
	var sr esearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, malformed("search", fmt.Errorf("decoding JSON: %w", err))
	}

	// E-utilities report key throttling in-band with HTTP 200.
	if sr.Error != "" {
		if strings.Contains(strings.ToLower(sr.Error), "rate limit") {
			return nil, &types.UpstreamError{Kind: types.ErrRateLimited, Stage: "search", Err: fmt.Errorf("%s", sr.Error)}
		}
		return nil, malformed("search", fmt.Errorf("service error: %s", sr.Error))
	}
	if sr.ESearchResult == nil {
		return nil, malformed("search", fmt.Errorf("missing esearchresult"))
	}
	if sr.ESearchResult.Error != "" {
		return nil, malformed("search", fmt.Errorf("service error: %s", sr.ESearchResult.Error))
	}
	if sr.ESearchResult.IDList == nil {
		return nil, malformed("search", fmt.Errorf("missing esearchresult.idlist"))
	}
	return *sr.ESearchResult.IDList, nil
}

// capUnique drops blank and repeated identifiers, keeping first occurrences,
// and truncates to max.
func capUnique(ids []string, max int) types.IdentifierBatch {
	seen := make(map[string]bool, len(ids))
	batch := types.IdentifierBatch{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		batch = append(batch, id)
		if len(batch) == max {
			break
		}
	}
	return batch
}

func malformed(stage string, err error) error {
	return &types.UpstreamError{Kind: types.ErrMalformedResponse, Stage: stage, Err: err}
}
