package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/neo4jdb"
)

var schemaStatements = []string{
	`CREATE CONSTRAINT artifact_id_unique IF NOT EXISTS FOR (a:Artifact) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT origin_id_unique IF NOT EXISTS FOR (o:Origin) REQUIRE o.id IS UNIQUE`,
	`CREATE INDEX artifact_created_idx IF NOT EXISTS FOR (a:Artifact) ON (a.created_at)`,
}

type Neo4jGraph struct {
	client *neo4jdb.Client
	log    *logger.Logger
	now    func() time.Time
}

func NewNeo4jGraph(ctx context.Context, log *logger.Logger, client *neo4jdb.Client) *Neo4jGraph {
	client.EnsureConstraints(ctx, schemaStatements)
	return &Neo4jGraph{client: client, log: log.With("service", "Neo4jLineageGraph"), now: time.Now}
}

func (g *Neo4jGraph) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := g.client.WriteSession(ctx)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}

func (g *Neo4jGraph) read(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := g.client.ReadSession(ctx)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, fn)
}

func (g *Neo4jGraph) SaveAssignment(ctx context.Context, a domain.OriginAssignment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("lineage: encode assignment: %w", err)
	}
	now := formatTime(g.now())
	created := a.CreatedAt
	if created.IsZero() {
		created = g.now()
	}
	rows := make([]map[string]any, 0, 2)
	for _, l := range links(a) {
		rows = append(rows, map[string]any{
			"rel":             originRel[l.Component],
			"id":              l.Record.ID,
			"url":             l.Record.URL,
			"title":           l.Record.Title,
			"channel_id":      l.Record.ChannelID,
			"timestamp":       optionalTime(l.Record.Timestamp),
			"component":       string(l.Component),
			"confidence":      l.Confidence,
			"matching_frames": int64(l.MatchingFrames),
		})
	}

	_, err = g.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (a:Artifact {id: $id})
ON CREATE SET a.created_at = $created_at
SET a.type = $type,
    a.is_composite = $is_composite,
    a.assignment_json = $assignment_json,
    a.updated_at = $now
WITH a
OPTIONAL MATCH (a)-[r:ORIGINATED_FROM|AUDIO_FROM|VISUAL_FROM]->(:Origin)
DELETE r
`, map[string]any{
			"id":              a.ArtifactID,
			"created_at":      formatTime(created),
			"type":            string(a.Type),
			"is_composite":    a.IsComposite(),
			"assignment_json": string(raw),
			"now":             now,
		})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		for _, row := range rows {
			// Relationship types cannot be parameterized.
			stmt := fmt.Sprintf(`
MATCH (a:Artifact {id: $artifact_id})
MERGE (o:Origin {id: $row.id})
SET o.url = $row.url,
    o.title = $row.title,
    o.channel_id = $row.channel_id,
    o.timestamp = $row.timestamp,
    o.component = $row.component
MERGE (a)-[r:%s]->(o)
SET r.confidence = $row.confidence,
    r.matching_frames = $row.matching_frames
`, row["rel"])
			res, err := tx.Run(ctx, stmt, map[string]any{"artifact_id": a.ArtifactID, "row": row})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("lineage: save assignment %s: %w", a.ArtifactID, err)
	}
	return nil
}

func (g *Neo4jGraph) LoadAssignment(ctx context.Context, artifactID string) (*domain.OriginAssignment, error) {
	out, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (a:Artifact {id: $id}) RETURN a.assignment_json AS assignment_json`, map[string]any{"id": artifactID})
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return "", nil
		}
		return stringValue(recs[0], "assignment_json"), nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineage: load assignment %s: %w", artifactID, err)
	}
	raw, _ := out.(string)
	if raw == "" {
		return nil, nil
	}
	var a domain.OriginAssignment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("lineage: decode assignment %s: %w", artifactID, err)
	}
	return &a, nil
}

func (g *Neo4jGraph) LinkSharedOrigins(ctx context.Context, c domain.Component) (int, error) {
	stmt := fmt.Sprintf(`
MATCH (a1:Artifact)-[:%[1]s]->(o:Origin)<-[:%[1]s]-(a2:Artifact)
WHERE a1.id <> a2.id
  AND (a1.created_at < a2.created_at OR (a1.created_at = a2.created_at AND a1.id < a2.id))
  AND NOT EXISTS((a1)-[:%[2]s]-(a2))
WITH a1, a2, min(o.id) AS origin_id
CREATE (a1)-[r:%[2]s {created_at: $now, origin_id: origin_id, hop_count: 1}]->(a2)
RETURN count(r) AS created
`, originRel[c], spreadRel[c])
	return g.writeCount(ctx, stmt, map[string]any{"now": formatTime(g.now())}, "created")
}

func (g *Neo4jGraph) ExtendTransitive(ctx context.Context) (int, int, error) {
	shortened, err := g.writeCount(ctx, `
MATCH (a1:Artifact)-[r1:SPREAD_TO]->(:Artifact)-[r2:SPREAD_TO]->(a3:Artifact),
      (a1)-[d:SPREAD_TO]->(a3)
WITH d, min(r1.hop_count + r2.hop_count) AS via
WHERE via < d.hop_count
SET d.hop_count = via
RETURN count(d) AS shortened
`, nil, "shortened")
	if err != nil {
		return 0, 0, fmt.Errorf("lineage: shorten hops: %w", err)
	}
	created, err := g.writeCount(ctx, `
MATCH (a1:Artifact)-[r1:SPREAD_TO]->(:Artifact)-[r2:SPREAD_TO]->(a3:Artifact)
WHERE a1 <> a3 AND NOT EXISTS((a1)-[:SPREAD_TO]-(a3))
WITH a1, a3, min(r1.hop_count + r2.hop_count) AS total_hops
CREATE (a1)-[r:SPREAD_TO {created_at: $now, hop_count: total_hops}]->(a3)
RETURN count(r) AS created
`, map[string]any{"now": formatTime(g.now())}, "created")
	if err != nil {
		return 0, shortened, fmt.Errorf("lineage: transitive edges: %w", err)
	}
	return created, shortened, nil
}

func (g *Neo4jGraph) CountArtifacts(ctx context.Context) (int, error) {
	out, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (a:Artifact) RETURN count(a) AS n`, nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return intValue(rec, "n"), nil
	})
	if err != nil {
		return 0, fmt.Errorf("lineage: count artifacts: %w", err)
	}
	return out.(int), nil
}

func (g *Neo4jGraph) RecomputeEngagement(ctx context.Context) (int, error) {
	return g.writeCount(ctx, `
MATCH (o:Origin)<-[:ORIGINATED_FROM|AUDIO_FROM|VISUAL_FROM]-(a:Artifact)
WITH o, count(DISTINCT a) AS spread_count
SET o.spread_count = spread_count,
    o.engagement_score = CASE
      WHEN spread_count > 100 THEN 5
      WHEN spread_count > 50 THEN 4
      WHEN spread_count > 20 THEN 3
      WHEN spread_count > 5 THEN 2
      ELSE 1
    END
RETURN count(o) AS updated
`, nil, "updated")
}

func (g *Neo4jGraph) Spread(ctx context.Context, artifactID string, c domain.Component, maxDepth, limit int) ([]domain.SpreadItem, error) {
	maxDepth = ClampDepth(maxDepth)
	stmt := fmt.Sprintf(`
MATCH path = (a:Artifact {id: $id})-[:%[1]s*1..%[2]d]->(related:Artifact)
WHERE related.id <> $id
WITH related, min(reduce(h = 0, r IN relationships(path) | h + r.hop_count)) AS hops
OPTIONAL MATCH (related)-[:%[3]s]->(ro:Origin)
RETURN related.id AS artifact_id,
       related.type AS artifact_type,
       hops,
       ro.id AS origin_id,
       ro.url AS url,
       ro.title AS title,
       ro.channel_id AS channel_id,
       ro.timestamp AS timestamp,
       ro.spread_count AS spread_count,
       ro.engagement_score AS engagement_score
ORDER BY hops ASC, timestamp ASC, artifact_id ASC
LIMIT $limit
`, spreadRel[c], maxDepth, originRel[c])

	out, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, stmt, map[string]any{"id": artifactID, "limit": int64(limit)})
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]domain.SpreadItem, 0, len(recs))
		for _, rec := range recs {
			items = append(items, domain.SpreadItem{
				ArtifactID:   stringValue(rec, "artifact_id"),
				ArtifactType: domain.ContentType(stringValue(rec, "artifact_type")),
				HopCount:     intValue(rec, "hops"),
				Component:    c,
				Origin:       originFromRecord(rec, "origin_id"),
			})
		}
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineage: spread %s: %w", artifactID, err)
	}
	return out.([]domain.SpreadItem), nil
}

func (g *Neo4jGraph) Summary(ctx context.Context, artifactID string) (*Summary, error) {
	out, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Artifact {id: $id})
OPTIONAL MATCH (a)-[:ORIGINATED_FROM]->(o:Origin)
OPTIONAL MATCH (a)-[:AUDIO_FROM]->(ao:Origin)
OPTIONAL MATCH (a)-[:VISUAL_FROM]->(vo:Origin)
RETURN a.type AS type, a.is_composite AS is_composite,
       o.id AS o_id, o.url AS o_url, o.title AS o_title, o.channel_id AS o_channel_id,
       o.timestamp AS o_timestamp, o.spread_count AS o_spread_count, o.engagement_score AS o_engagement_score,
       ao.id AS ao_id, ao.url AS ao_url, ao.title AS ao_title, ao.channel_id AS ao_channel_id,
       ao.timestamp AS ao_timestamp, ao.spread_count AS ao_spread_count, ao.engagement_score AS ao_engagement_score,
       vo.id AS vo_id, vo.url AS vo_url, vo.title AS vo_title, vo.channel_id AS vo_channel_id,
       vo.timestamp AS vo_timestamp, vo.spread_count AS vo_spread_count, vo.engagement_score AS vo_engagement_score
LIMIT 1
`, map[string]any{"id": artifactID})
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return (*Summary)(nil), nil
		}
		rec := recs[0]
		composite, _ := value(rec, "is_composite").(bool)
		return &Summary{
			ArtifactID:   artifactID,
			Type:         domain.ContentType(stringValue(rec, "type")),
			IsComposite:  composite,
			Origin:       prefixedOrigin(rec, "o_"),
			AudioOrigin:  prefixedOrigin(rec, "ao_"),
			VisualOrigin: prefixedOrigin(rec, "vo_"),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineage: summary %s: %w", artifactID, err)
	}
	return out.(*Summary), nil
}

func (g *Neo4jGraph) writeCount(ctx context.Context, stmt string, params map[string]any, key string) (int, error) {
	out, err := g.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, stmt, params)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return 0, nil
		}
		return intValue(recs[0], key), nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func value(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func stringValue(rec *neo4j.Record, key string) string {
	s, _ := value(rec, key).(string)
	return s
}

func intValue(rec *neo4j.Record, key string) int {
	switch v := value(rec, key).(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func originFromRecord(rec *neo4j.Record, idKey string) *domain.OriginRecord {
	id := stringValue(rec, idKey)
	if id == "" {
		return nil
	}
	o := &domain.OriginRecord{
		ID:              id,
		URL:             stringValue(rec, "url"),
		Title:           stringValue(rec, "title"),
		ChannelID:       stringValue(rec, "channel_id"),
		SpreadCount:     intValue(rec, "spread_count"),
		EngagementScore: intValue(rec, "engagement_score"),
	}
	o.Timestamp = parseStoredTime(stringValue(rec, "timestamp"))
	return o
}

func prefixedOrigin(rec *neo4j.Record, p string) *domain.OriginRecord {
	id := stringValue(rec, p+"id")
	if id == "" {
		return nil
	}
	return &domain.OriginRecord{
		ID:              id,
		URL:             stringValue(rec, p+"url"),
		Title:           stringValue(rec, p+"title"),
		ChannelID:       stringValue(rec, p+"channel_id"),
		Timestamp:       parseStoredTime(stringValue(rec, p+"timestamp")),
		SpreadCount:     intValue(rec, p+"spread_count"),
		EngagementScore: intValue(rec, p+"engagement_score"),
	}
}

func parseStoredTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
