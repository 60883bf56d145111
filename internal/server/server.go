// Package server exposes the lifecycle engine's operations over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/cropyard/internal/allocator"
	"github.com/zulandar/cropyard/internal/block"
	"gorm.io/gorm"
)

// Opts holds configuration for the API server.
type Opts struct {
	DB        *gorm.DB
	Engine    *block.Engine
	Allocator *allocator.Allocator
	Port      int
	Out       io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.DB == nil {
		return fmt.Errorf("server: db is required")
	}
	if opts.Engine == nil {
		return fmt.Errorf("server: engine is required")
	}
	if opts.Allocator == nil {
		return fmt.Errorf("server: allocator is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Cropyard API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
