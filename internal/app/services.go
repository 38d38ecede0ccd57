package app

import (
	"context"
	"errors"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/imagesearch"
	"github.com/yungbote/trace-backend/internal/index"
	"github.com/yungbote/trace-backend/internal/jobs"
	"github.com/yungbote/trace-backend/internal/lineage"
	"github.com/yungbote/trace-backend/internal/matchqueue"
	"github.com/yungbote/trace-backend/internal/media"
	"github.com/yungbote/trace-backend/internal/platform/localmedia"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/scheduler"
	"github.com/yungbote/trace-backend/internal/search"
	"github.com/yungbote/trace-backend/internal/sse"
)

type Services struct {
	Cache      cache.Cache
	Index      *index.Index
	Router     *search.Router
	Lineage    *lineage.Engine
	MatchQueue *matchqueue.Queue
	Images     *imagesearch.Service
	Audio      *media.AudioPipeline
	Video      *media.VideoPipeline
	Tools      localmedia.Tools
	Hub        *sse.Hub
	Reporter   *jobs.Reporter
	Runner     *jobs.Runner
	Scheduler  *scheduler.Scheduler
}

// wireServices falls back to in-process implementations for every unconfigured client.
// Nil client pointers are never passed as interfaces.
func wireServices(ctx context.Context, log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	var s Services

	// Cache
	if clients.Redis != nil {
		s.Cache = cache.NewRedis(log, clients.Redis, cfg.CachePrefix)
	} else {
		log.Warn("REDIS_ADDR not set; using in-memory cache")
		s.Cache = cache.NewMemory()
	}

	// Local similarity index
	store, _ := resolveVectorStore(log, clients.Qdrant)
	var embedder index.Embedder = index.HashEmbedder{Dim: cfg.HashEmbeddingDim}
	if clients.OpenAI != nil {
		embedder = clients.OpenAI
	}
	s.Index = index.New(log, store, embedder)

	// Search router
	var external search.ExternalSearcher
	switch {
	case clients.Perplexity != nil:
		external = clients.Perplexity
	case clients.OpenAI != nil:
		external = search.NewLLMSearcher(log, clients.OpenAI)
	}
	s.Router = search.NewRouter(log, s.Cache, s.Index, external, cfg.routerConfig())

	// Lineage
	var graph lineage.Graph
	if clients.Neo4j != nil {
		graph = lineage.NewNeo4jGraph(ctx, log, clients.Neo4j)
	} else {
		log.Warn("NEO4J_URI not set; using in-memory lineage graph")
		graph = lineage.NewMemoryGraph()
	}
	s.Lineage = lineage.NewEngine(log, graph, s.Cache)

	// Progress
	s.Hub = sse.NewHub(log)
	if clients.Redis != nil {
		bus, err := sse.NewRedisBus(log, clients.Redis, cfg.SSEChannel)
		if err != nil {
			return Services{}, err
		}
		if err := s.Hub.AttachBus(ctx, bus); err != nil {
			return Services{}, err
		}
	}
	s.Reporter = jobs.NewReporter(log, s.Cache, s.Hub)
	s.Runner = jobs.NewRunner(ctx, log, s.Reporter, s.Cache, cfg.JobTimeout.Std())

	// Media pipelines
	s.Tools = localmedia.New(log)
	var transcriber media.Transcriber
	if clients.Speech != nil {
		transcriber = clients.Speech
	}
	var music media.MusicIdentifier
	if clients.ACRCloud != nil {
		music = clients.ACRCloud
	}
	s.Audio = media.NewAudioPipeline(log, s.Cache, s.Tools, transcriber, music, s.Router, s.Lineage)

	var frames media.FrameStore
	if clients.Frames != nil {
		frames = clients.Frames
	}
	var gpu media.GPU
	if clients.RunPod != nil {
		gpu = clients.RunPod
	}
	s.Video = media.NewVideoPipeline(log, s.Cache, s.Tools, frames, gpu, s.Index, s.Audio, s.Lineage, cfg.videoConfig())

	// Image search
	var submitter matchqueue.Submitter
	var batches imagesearch.BatchFetcher
	if clients.TinEye != nil {
		submitter = clients.TinEye
		batches = clients.TinEye
	}
	s.MatchQueue = matchqueue.New(log, submitter, cfg.MatchQueue.Capacity, cfg.MatchQueue.FPRate)
	var matcher imagesearch.Matcher
	if clients.Vision != nil {
		matcher = clients.Vision
	}
	s.Images = imagesearch.NewService(log, s.Cache, matcher, s.MatchQueue, batches, s.Lineage)

	// Batch jobs
	s.Scheduler = scheduler.New(ctx, log)
	if err := registerBatchJobs(s, cfg.Schedules); err != nil {
		return Services{}, err
	}
	return s, nil
}

func registerBatchJobs(s Services, cfg ScheduleConfig) error {
	lineageSchedule, matchSchedule := cfg.LineageBuild, cfg.MatchBatch
	if !cfg.Enabled {
		lineageSchedule, matchSchedule = "", ""
	}
	if err := s.Scheduler.Register(scheduler.JobLineageBuild, lineageSchedule, func(ctx context.Context) (any, error) {
		stats := s.Lineage.BuildSpreadGraph(ctx)
		if stats.Error != "" {
			return stats, errors.New(stats.Error)
		}
		return stats, nil
	}); err != nil {
		return err
	}
	return s.Scheduler.Register(scheduler.JobMatchBatch, matchSchedule, func(ctx context.Context) (any, error) {
		run, err := s.Images.RunBatch(ctx)
		return run, err
	})
}
