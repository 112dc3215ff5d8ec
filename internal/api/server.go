//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package api serves read-only queries over the processed and analytics
// tables.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgEdge/pgedge-salesetl/internal/db"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// Reader is the read side of the analytical store.
type Reader interface {
	ListProcessed(ctx context.Context, f db.SalesFilter) ([]model.ProcessedRecord, error)
	ListAnalytics(ctx context.Context, date time.Time, metricType string) ([]model.AnalyticsRecord, error)
	Ping(ctx context.Context) error
}

// Config holds API settings.
type Config struct {
	Listen       string
	DefaultLimit int
	MaxLimit     int

	// QueryTimeout bounds each store query.
	QueryTimeout time.Duration
}

// DefaultConfig returns default API configuration.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8000",
		DefaultLimit: 100,
		MaxLimit:     1000,
		QueryTimeout: 15 * time.Second,
	}
}

// NewRouter builds the gin engine with all routes.
func NewRouter(reader Reader, cfg Config) *gin.Engine {
	h := &handlers{reader: reader, cfg: cfg}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/", h.root)
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sales := router.Group("/sales")
	{
		sales.GET("/data", h.listSales)
		sales.GET("/analytics/daily", h.dailyAnalytics)
	}

	return router
}

// requestLogger logs each request through the global logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logging.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}

// Serve runs the API until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, reader Reader, cfg Config) error {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewRouter(reader, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("listen", cfg.Listen).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
