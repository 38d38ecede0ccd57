package app

import (
	"github.com/yungbote/trace-backend/internal/http"
	httpH "github.com/yungbote/trace-backend/internal/http/handlers"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type Handlers struct {
	Health  *httpH.HealthHandler
	Search  *httpH.SearchHandler
	Image   *httpH.ImageHandler
	Media   *httpH.MediaHandler
	Job     *httpH.JobHandler
	Lineage *httpH.LineageHandler
	Admin   *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:  httpH.NewHealthHandler(),
		Search:  httpH.NewSearchHandler(services.Router),
		Image:   httpH.NewImageHandler(services.Images),
		Media:   httpH.NewMediaHandler(services.Runner, services.Audio, services.Video, services.Tools),
		Job:     httpH.NewJobHandler(services.Runner, services.Hub),
		Lineage: httpH.NewLineageHandler(services.Lineage),
		Admin:   httpH.NewAdminHandler(services.Scheduler),
	}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		CORSOrigins:    cfg.CORSOrigins,
		HealthHandler:  handlers.Health,
		SearchHandler:  handlers.Search,
		ImageHandler:   handlers.Image,
		MediaHandler:   handlers.Media,
		JobHandler:     handlers.Job,
		LineageHandler: handlers.Lineage,
		AdminHandler:   handlers.Admin,
	})
}
