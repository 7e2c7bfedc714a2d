// Package http exposes the relay's status and metrics endpoints. Media
// never touches this surface; it is observability only.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/app"
	"github.com/quietroom/relay/internal/domain"
)

func SetupRouter(mode string, core *app.Server, gatherer prometheus.Gatherer) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/v1")
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": core.Registry.Snapshot()})
	})
	api.DELETE("/sessions/:id", func(c *gin.Context) {
		sid, err := domain.ParseSessionID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		core.Registry.TeardownSession(sid)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "transport.http").Msg("router setup")
	return r
}
