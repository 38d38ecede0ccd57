package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/trace-backend/internal/platform/acrcloud"
	"github.com/yungbote/trace-backend/internal/platform/gcp"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/neo4jdb"
	"github.com/yungbote/trace-backend/internal/platform/openai"
	"github.com/yungbote/trace-backend/internal/platform/perplexity"
	"github.com/yungbote/trace-backend/internal/platform/qdrant"
	"github.com/yungbote/trace-backend/internal/platform/redisdb"
	"github.com/yungbote/trace-backend/internal/platform/runpod"
	"github.com/yungbote/trace-backend/internal/platform/tineye"
)

// Clients holds the external services. Every field is nil when its env is not configured.
type Clients struct {
	Redis      *goredis.Client
	Neo4j      *neo4jdb.Client
	Qdrant     *qdrant.Store
	OpenAI     openai.Client
	Perplexity *perplexity.Client
	Vision     *gcp.Vision
	Speech     *gcp.Speech
	Frames     *gcp.FrameStore
	ACRCloud   *acrcloud.Client
	RunPod     *runpod.Client
	TinEye     *tineye.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients
	fail := func(what string, err error) (Clients, error) {
		c.Close()
		return Clients{}, fmt.Errorf("init %s: %w", what, err)
	}

	var err error
	if c.Redis, err = redisdb.NewFromEnv(log); err != nil {
		return fail("redis", err)
	}
	if c.Neo4j, err = neo4jdb.NewFromEnv(log); err != nil {
		return fail("neo4j", err)
	}
	if c.Qdrant, err = qdrant.NewFromEnv(log); err != nil {
		return fail("qdrant", classifyVectorStoreError(err))
	}
	if c.OpenAI, err = openai.NewFromEnv(log); err != nil {
		return fail("openai client", err)
	}
	if c.Perplexity, err = perplexity.NewFromEnv(log); err != nil {
		return fail("perplexity client", err)
	}
	if c.Vision, err = gcp.NewVisionFromEnv(log); err != nil {
		return fail("vision client", err)
	}
	if c.Speech, err = gcp.NewSpeechFromEnv(log); err != nil {
		return fail("speech client", err)
	}
	if c.Frames, err = gcp.NewFrameStoreFromEnv(log); err != nil {
		return fail("frame store", err)
	}
	if c.ACRCloud, err = acrcloud.NewFromEnv(log); err != nil {
		return fail("acrcloud client", err)
	}
	if c.RunPod, err = runpod.NewFromEnv(log); err != nil {
		return fail("runpod client", err)
	}
	if c.TinEye, err = tineye.NewFromEnv(log); err != nil {
		return fail("tineye client", err)
	}

	log.Info("Clients wired",
		"redis", c.Redis != nil,
		"neo4j", c.Neo4j != nil,
		"qdrant", c.Qdrant != nil,
		"openai", c.OpenAI != nil,
		"perplexity", c.Perplexity != nil,
		"vision", c.Vision != nil,
		"speech", c.Speech != nil,
		"frames", c.Frames != nil,
		"acrcloud", c.ACRCloud != nil,
		"runpod", c.RunPod != nil,
		"tineye", c.TinEye != nil,
	)
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Frames != nil {
		_ = c.Frames.Close()
	}
	if c.Speech != nil {
		_ = c.Speech.Close()
	}
	if c.Vision != nil {
		_ = c.Vision.Close()
	}
	if c.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Neo4j.Close(ctx)
		cancel()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
