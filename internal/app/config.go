package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/trace-backend/internal/matchqueue"
	"github.com/yungbote/trace-backend/internal/media"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/search"
)

const defaultConfigPath = "./config/config.yaml"

// Duration reads Go duration strings ("3s", "5m") or bare seconds from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	raw := strings.TrimSpace(n.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := n.Decode(&secs); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", n.Line, raw)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type SearchConfig struct {
	LocalLimit         int      `yaml:"local_limit"`
	LocalMinSimilarity float64  `yaml:"local_min_similarity"`
	MinLocalHits       int      `yaml:"min_local_hits"`
	StrongSimilarity   float64  `yaml:"strong_similarity"`
	ExternalMaxResults int      `yaml:"external_max_results"`
	StoreTimeout       Duration `yaml:"store_timeout"`
}

type VideoConfig struct {
	FrameCount         int      `yaml:"frame_count"`
	FrameSearchLimit   int      `yaml:"frame_search_limit"`
	FrameMinSimilarity float64  `yaml:"frame_min_similarity"`
	GPUPollInterval    Duration `yaml:"gpu_poll_interval"`
	GPUTimeout         Duration `yaml:"gpu_timeout"`
	CancelOnTimeout    bool     `yaml:"cancel_on_timeout"`
}

type MatchQueueConfig struct {
	Capacity uint    `yaml:"capacity"`
	FPRate   float64 `yaml:"false_positive_rate"`
}

type ScheduleConfig struct {
	Enabled      bool   `yaml:"enabled"`
	LineageBuild string `yaml:"lineage_build"`
	MatchBatch   string `yaml:"match_batch"`
}

type Config struct {
	HTTPAddr         string           `yaml:"http_addr"`
	CORSOrigins      []string         `yaml:"cors_origins"`
	JobTimeout       Duration         `yaml:"job_timeout"`
	ShutdownTimeout  Duration         `yaml:"shutdown_timeout"`
	CachePrefix      string           `yaml:"cache_prefix"`
	SSEChannel       string           `yaml:"sse_channel"`
	HashEmbeddingDim int              `yaml:"hash_embedding_dim"`
	Search           SearchConfig     `yaml:"search"`
	Video            VideoConfig      `yaml:"video"`
	MatchQueue       MatchQueueConfig `yaml:"match_queue"`
	Schedules        ScheduleConfig   `yaml:"schedules"`
}

func defaultConfig() Config {
	sc := search.DefaultConfig()
	vc := media.DefaultVideoConfig()
	return Config{
		HTTPAddr:         ":8080",
		JobTimeout:       Duration(15 * time.Minute),
		ShutdownTimeout:  Duration(30 * time.Second),
		SSEChannel:       "trace:sse",
		HashEmbeddingDim: 256,
		Search: SearchConfig{
			LocalLimit:         sc.LocalLimit,
			LocalMinSimilarity: sc.LocalMinSimilarity,
			MinLocalHits:       sc.MinLocalHits,
			StrongSimilarity:   sc.StrongSimilarity,
			ExternalMaxResults: sc.ExternalMaxResults,
			StoreTimeout:       Duration(sc.StoreTimeout),
		},
		Video: VideoConfig{
			FrameCount:         vc.FrameCount,
			FrameSearchLimit:   vc.FrameSearchLimit,
			FrameMinSimilarity: vc.FrameMinSimilarity,
			GPUPollInterval:    Duration(vc.GPUPollInterval),
			GPUTimeout:         Duration(vc.GPUTimeout),
			CancelOnTimeout:    vc.CancelOnTimeout,
		},
		MatchQueue: MatchQueueConfig{
			Capacity: matchqueue.DefaultCapacity,
			FPRate:   matchqueue.DefaultFPRate,
		},
		Schedules: ScheduleConfig{
			Enabled:      true,
			LineageBuild: "@daily",
			MatchBatch:   "@hourly",
		},
	}
}

// LoadConfig applies defaults, then the YAML file, then env overrides.
// TRACE_CONFIG_PATH must exist when set; the default path is optional.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()

	path := strings.TrimSpace(os.Getenv("TRACE_CONFIG_PATH"))
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		log.Info("Loaded config file", "path", path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = Duration(30 * time.Second)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)
	if origins := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	cfg.JobTimeout = Duration(envutil.Duration("JOB_TIMEOUT", cfg.JobTimeout.Std()))
	cfg.CachePrefix = envutil.String("CACHE_PREFIX", cfg.CachePrefix)
	cfg.HashEmbeddingDim = envutil.Int("HASH_EMBEDDING_DIM", cfg.HashEmbeddingDim)

	cfg.Search.LocalMinSimilarity = envutil.Float("SEARCH_LOCAL_MIN_SIMILARITY", cfg.Search.LocalMinSimilarity)
	cfg.Search.StrongSimilarity = envutil.Float("SEARCH_STRONG_SIMILARITY", cfg.Search.StrongSimilarity)
	cfg.Search.MinLocalHits = envutil.Int("SEARCH_MIN_LOCAL_HITS", cfg.Search.MinLocalHits)

	cfg.Video.GPUPollInterval = Duration(envutil.Duration("GPU_POLL_INTERVAL", cfg.Video.GPUPollInterval.Std()))
	cfg.Video.GPUTimeout = Duration(envutil.Duration("GPU_TIMEOUT", cfg.Video.GPUTimeout.Std()))
	cfg.Video.CancelOnTimeout = envutil.Bool("GPU_CANCEL_ON_TIMEOUT", cfg.Video.CancelOnTimeout)

	cfg.Schedules.Enabled = envutil.Bool("SCHEDULER_ENABLED", cfg.Schedules.Enabled)
	cfg.Schedules.LineageBuild = envutil.String("LINEAGE_BUILD_SCHEDULE", cfg.Schedules.LineageBuild)
	cfg.Schedules.MatchBatch = envutil.String("MATCH_BATCH_SCHEDULE", cfg.Schedules.MatchBatch)
}

func (c Config) validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: http_addr is required")
	}
	if c.Search.LocalMinSimilarity < 0 || c.Search.LocalMinSimilarity > 1 {
		return fmt.Errorf("config: search.local_min_similarity out of range: %v", c.Search.LocalMinSimilarity)
	}
	if c.MatchQueue.FPRate < 0 || c.MatchQueue.FPRate >= 1 {
		return fmt.Errorf("config: match_queue.false_positive_rate out of range: %v", c.MatchQueue.FPRate)
	}
	return nil
}

func (c Config) routerConfig() search.Config {
	return search.Config{
		LocalLimit:         c.Search.LocalLimit,
		LocalMinSimilarity: c.Search.LocalMinSimilarity,
		MinLocalHits:       c.Search.MinLocalHits,
		StrongSimilarity:   c.Search.StrongSimilarity,
		ExternalMaxResults: c.Search.ExternalMaxResults,
		StoreTimeout:       c.Search.StoreTimeout.Std(),
	}
}

func (c Config) videoConfig() media.VideoConfig {
	vc := media.DefaultVideoConfig()
	vc.FrameCount = c.Video.FrameCount
	vc.FrameSearchLimit = c.Video.FrameSearchLimit
	vc.FrameMinSimilarity = c.Video.FrameMinSimilarity
	vc.GPUPollInterval = c.Video.GPUPollInterval.Std()
	vc.GPUTimeout = c.Video.GPUTimeout.Std()
	vc.CancelOnTimeout = c.Video.CancelOnTimeout
	return vc
}
