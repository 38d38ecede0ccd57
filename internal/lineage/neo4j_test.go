package lineage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/neo4jdb"
)

func TestNeo4jGraphIntegration(t *testing.T) {
	if os.Getenv("NEO4J_URI") == "" {
		t.Skip("NEO4J_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := neo4jdb.NewFromEnv(logger.Nop())
	require.NoError(t, err)
	defer client.Close(ctx)
	g := NewNeo4jGraph(ctx, logger.Nop(), client)

	suffix := uuid.NewString()
	url := "https://it.example/" + suffix
	first, second := "it-a-"+suffix, "it-b-"+suffix
	for i, id := range []string{first, second} {
		a := simple(url, "it", time.Duration(i)*time.Second)
		a.ArtifactID = id
		require.NoError(t, g.SaveAssignment(ctx, a))
	}

	loaded, err := g.LoadAssignment(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Found())

	n, err := g.LinkSharedOrigins(ctx, domain.ComponentNone)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	items, err := g.Spread(ctx, first, domain.ComponentNone, 2, 10)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, second, items[0].ArtifactID)
	assert.Equal(t, 1, items[0].HopCount)
}
