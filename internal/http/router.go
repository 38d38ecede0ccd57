package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/trace-backend/internal/http/handlers"
	httpMW "github.com/yungbote/trace-backend/internal/http/middleware"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string

	HealthHandler  *httpH.HealthHandler
	SearchHandler  *httpH.SearchHandler
	ImageHandler   *httpH.ImageHandler
	MediaHandler   *httpH.MediaHandler
	JobHandler     *httpH.JobHandler
	LineageHandler *httpH.LineageHandler
	AdminHandler   *httpH.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestID())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Resolution
		if cfg.SearchHandler != nil {
			api.POST("/search", cfg.SearchHandler.Search)
		}
		if cfg.ImageHandler != nil {
			api.POST("/image", cfg.ImageHandler.Resolve)
		}
		if cfg.MediaHandler != nil {
			api.POST("/audio", cfg.MediaHandler.SubmitAudio)
			api.POST("/video", cfg.MediaHandler.SubmitVideo)
		}

		// Jobs
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.GET("/jobs/:id/result", cfg.JobHandler.GetResult)
			api.GET("/jobs/:id/stream", cfg.JobHandler.Stream)
		}

		// Lineage
		if cfg.LineageHandler != nil {
			api.GET("/lineage/:id", cfg.LineageHandler.GetOrigin)
			api.GET("/lineage/:id/spread", cfg.LineageHandler.GetSpread)
		}

		// Batch jobs
		if cfg.AdminHandler != nil {
			api.GET("/admin/batch", cfg.AdminHandler.BatchStatus)
			api.POST("/admin/batch/:name/run", cfg.AdminHandler.RunBatch)
		}
	}

	return r
}
