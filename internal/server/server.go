// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the pipeline as an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SessionHeader names the request header that groups runs into a session.
// A new run in a session cancels the session's in-flight run.
const SessionHeader = "X-Session-ID"

// NewServer creates a gin engine with all routes configured.
func NewServer(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(h.logger()))
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.POST("/ask", h.Ask)
		api.POST("/pico", h.PICO)
		api.POST("/search", h.Search)
		api.DELETE("/sessions/:id", h.CancelSession)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/search", h.SearchRuns)
		api.GET("/runs/:id", h.GetRun)
	}
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewServer(h),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		h.logger().Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"session", c.GetHeader(SessionHeader),
		)
	}
}
