// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the daemon's admin HTTP surface: health, status,
// predictions, and manual preparation triggers. The API is meant for
// the device-local client and for fleet operators, not for end users.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/config"
	"github.com/medtranslate/edgecache/internal/engine"
)

// Server is the admin HTTP server.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	http   *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, eng *engine.Engine) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, engine: eng}
	h := &Handler{engine: eng}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1", s.authMiddleware())
	{
		v1.GET("/status", h.Status)
		v1.GET("/session", h.Session)
		v1.GET("/predictions", h.Predictions)
		v1.GET("/model", h.Model)
		v1.GET("/feedback/stats", h.FeedbackStats)
		v1.POST("/usage", h.LogUsage)
		v1.POST("/prepare", h.Prepare)
		v1.POST("/refresh", h.Refresh)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	log.Infof("Admin API listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// authMiddleware verifies the admin key header against the configured
// bcrypt hash. With no hash configured every request passes; that is
// the local-only deployment mode.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.CheckAdminKey(c.GetHeader("X-Admin-Key")) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		c.Next()
	}
}

// requestLogger emits one debug line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
