// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api contains the HTTP surface of the place saver: the Telegram
// webhook, the health and index probes, and a read-only view of saved places.
//
// Routes:
//   - GET  /health: liveness probe.
//   - GET  /: service name, status and version.
//   - POST /webhook: Telegram update delivery. The update is acknowledged at
//     once and handled in the background.
//   - GET  /api/v1/places: saved places, newest first.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/jaycherian/gcp-go-place-saver/internal/telegram"
)

// Dispatcher accepts updates for background handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, u telegram.Update)
}

// PlaceLister reads saved places.
type PlaceLister interface {
	Recent(ctx context.Context, chatID int64, city string, limit int) ([]*model.PlaceRecord, error)
}

// Routes are the collaborators of the router. Updates and Places may be nil,
// in which case their routes answer 503.
type Routes struct {
	Name    string
	Version string
	Updates Dispatcher
	Places  PlaceLister

	// BaseContext is the context updates are handled under. It must outlive
	// the webhook request.
	BaseContext context.Context
}

// NewRouter builds the gin engine with tracing, CORS and request logging.
func NewRouter(routes Routes) *gin.Engine {
	if routes.BaseContext == nil {
		routes.BaseContext = context.Background()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(routes.Name))
	r.Use(cors.Default())
	r.Use(requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": routes.Name, "status": "running", "version": routes.Version})
	})
	r.POST("/webhook", routes.webhook)

	apiV1 := r.Group("/api/v1")
	{
		PlacesRouter(apiV1, routes.Places)
	}
	return r
}

func (routes Routes) webhook(c *gin.Context) {
	if routes.Updates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	var u telegram.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		slog.WarnContext(c.Request.Context(), "invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}
	routes.Updates.Dispatch(routes.BaseContext, u)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// PlacesRouter registers GET /places?chat_id=&city=&limit=.
func PlacesRouter(r *gin.RouterGroup, places PlaceLister) {
	r.GET("/places", func(c *gin.Context) {
		if places == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "place store is not configured"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultListLimit)))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number"})
			return
		}
		var chatID int64
		if v := c.Query("chat_id"); v != "" {
			if chatID, err = strconv.ParseInt(v, 10, 64); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id must be a number"})
				return
			}
		}
		out, err := places.Recent(c.Request.Context(), chatID, c.Query("city"), limit)
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "failed to list places", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list places"})
			return
		}
		c.JSON(http.StatusOK, out)
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
