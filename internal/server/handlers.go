// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pdiddy/evidence-engine/internal/archive"
	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/internal/query"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// RunStore archives finished runs. *archive.Store implements it.
type RunStore interface {
	Save(ctx context.Context, label string, res *pipeline.Result) error
	Load(ctx context.Context, id string) (*pipeline.Result, error)
	List(ctx context.Context, limit int) ([]archive.RunSummary, error)
	Search(ctx context.Context, q string, limit int) ([]archive.Hit, error)
}

// Handler serves pipeline requests. Archive is optional; without it runs
// are not kept and the /runs endpoints answer 404.
type Handler struct {
	Runner   *pipeline.Runner
	Sessions *pipeline.Sessions
	Archive  RunStore
	Logger   *slog.Logger
	Version  string
}

// AskRequest is the body of POST /api/v1/ask.
type AskRequest struct {
	Question    string `json:"question"`
	ReviewsOnly bool   `json:"reviews_only"`
	MaxResults  int    `json:"max_results"`
	Mode        string `json:"mode"`
}

// PICORequest is the body of POST /api/v1/pico.
type PICORequest struct {
	query.PICO
	ReviewsOnly bool   `json:"reviews_only"`
	MaxResults  int    `json:"max_results"`
	Mode        string `json:"mode"`
}

// SearchRequest is the body of POST /api/v1/search. PICO wins when set.
type SearchRequest struct {
	Question    string      `json:"question"`
	PICO        *query.PICO `json:"pico"`
	ReviewsOnly bool        `json:"reviews_only"`
	MaxResults  int         `json:"max_results"`
}

// ErrorResponse carries a top-level failure and any partial result.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Kind      string           `json:"kind"`
	Retryable bool             `json:"retryable"`
	Fields    []string         `json:"fields,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.Version,
		"sessions":  h.Sessions.Len(),
	})
}

// Ask handles POST /api/v1/ask: a free-text question summarized as one batch.
func (h *Handler) Ask(c *gin.Context) {
	var body AskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"})
		return
	}
	h.run(c, pipeline.Request{
		Question:    body.Question,
		ReviewsOnly: body.ReviewsOnly,
		MaxResults:  body.MaxResults,
		Mode:        modeOr(body.Mode, types.ModeBatch),
	})
}

// PICO handles POST /api/v1/pico: per-article summaries plus a synthesis.
func (h *Handler) PICO(c *gin.Context) {
	var body PICORequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"})
		return
	}
	p := body.PICO
	h.run(c, pipeline.Request{
		PICO:        &p,
		ReviewsOnly: body.ReviewsOnly,
		MaxResults:  body.MaxResults,
		Mode:        modeOr(body.Mode, types.ModeSingle),
	})
}

// Search handles POST /api/v1/search: articles without summaries.
func (h *Handler) Search(c *gin.Context) {
	var body SearchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"})
		return
	}
	h.run(c, pipeline.Request{
		Question:    body.Question,
		PICO:        body.PICO,
		ReviewsOnly: body.ReviewsOnly,
		MaxResults:  body.MaxResults,
		SearchOnly:  true,
	})
}

// CancelSession handles DELETE /api/v1/sessions/:id.
func (h *Handler) CancelSession(c *gin.Context) {
	cancelled := h.Sessions.Cancel(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// ListRuns handles GET /api/v1/runs?limit=n.
func (h *Handler) ListRuns(c *gin.Context) {
	if !h.archiveEnabled(c) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := h.Archive.List(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if runs == nil {
		runs = []archive.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// SearchRuns handles GET /api/v1/runs/search?q=text&limit=n.
func (h *Handler) SearchRuns(c *gin.Context) {
	if !h.archiveEnabled(c) {
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing 'q' parameter", Kind: "bad_request"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	hits, err := h.Archive.Search(c.Request.Context(), q, limit)
	if errors.Is(err, archive.ErrBadQuery) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	if hits == nil {
		hits = []archive.Hit{}
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	if !h.archiveEnabled(c) {
		return
	}
	res, err := h.Archive.Load(c.Request.Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "not_found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) run(c *gin.Context, req pipeline.Request) {
	ctx := c.Request.Context()
	res, err := h.Sessions.Run(ctx, c.GetHeader(SessionHeader), h.Runner, req)
	if err != nil {
		status, kind := classify(err)
		resp := ErrorResponse{Error: err.Error(), Kind: kind, Retryable: types.Retryable(err), Result: res}
		var mf *types.MissingFieldError
		if errors.As(err, &mf) {
			resp.Fields = mf.Fields
		}
		if status >= http.StatusInternalServerError {
			h.logger().Warn("run failed", "error", err)
		}
		c.JSON(status, resp)
		return
	}

	if h.Archive != nil && !req.SearchOnly && !res.Empty() {
		if err := h.Archive.Save(ctx, "", res); err != nil {
			h.logger().Warn("archiving run failed", "run", res.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// classify maps the error taxonomy onto HTTP status codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrMissingField):
		return http.StatusBadRequest, "missing_field"
	case errors.Is(err, pipeline.ErrUnknownMode):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, types.ErrMalformedResponse):
		return http.StatusBadGateway, "malformed_response"
	case errors.Is(err, types.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "upstream_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) archiveEnabled(c *gin.Context) bool {
	if h.Archive == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "archive disabled", Kind: "not_found"})
		return false
	}
	return true
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.logger().Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Kind: "internal"})
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h.Logger
}

func modeOr(mode string, fallback types.PromptMode) types.PromptMode {
	if mode == "" {
		return fallback
	}
	return types.PromptMode(mode)
}
