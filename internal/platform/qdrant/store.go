package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const (
	payloadNamespaceKey = "_trace_namespace"
	payloadPointKey     = "_trace_point_id"
	maxResponseBytes    = 10 << 20
)

var pointIDNamespaceUUID = uuid.MustParse("6b1f0f0e-5d2a-4b8e-9a57-2f0d3c9e7a41")

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Condition matches Key against Value, or against any of Any when set.
type Condition struct {
	Key   string
	Value any
	Any   []any
}

type Filter struct {
	Must    []Condition
	MustNot []Condition
}

func (f Filter) asMap(namespace string) map[string]any {
	must := []any{matchCondition(Condition{Key: payloadNamespaceKey, Value: namespace})}
	for _, c := range f.Must {
		must = append(must, matchCondition(c))
	}
	out := map[string]any{"must": must}
	if len(f.MustNot) > 0 {
		mustNot := make([]any, 0, len(f.MustNot))
		for _, c := range f.MustNot {
			mustNot = append(mustNot, matchCondition(c))
		}
		out["must_not"] = mustNot
	}
	return out
}

func matchCondition(c Condition) map[string]any {
	if len(c.Any) > 0 {
		return map[string]any{"key": c.Key, "match": map[string]any{"any": c.Any}}
	}
	return map[string]any{"key": c.Key, "match": map[string]any{"value": c.Value}}
}

type Store struct {
	log      *logger.Logger
	cfg      Config
	baseURL  string
	nsPrefix string
	distance string
	http     *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantScoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// NewFromEnv returns (nil, nil) when QDRANT_URL is unset.
func NewFromEnv(log *logger.Logger) (*Store, error) {
	if envutil.String("QDRANT_URL", "") == "" {
		return nil, nil
	}
	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(log, cfg)
}

func New(log *logger.Logger, cfg Config) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("qdrant: logger required")
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}

	s := &Store{
		log:      log.With("service", "QdrantStore"),
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		nsPrefix: strings.TrimSpace(cfg.NamespacePrefix),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	s.log.Info(
		"Qdrant store selected",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"namespace_prefix", s.nsPrefix,
		"vector_dim", cfg.VectorDim,
		"distance", s.distance,
	)
	return s, nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, points []Point) error {
	if s == nil {
		return nil
	}
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	qualifiedNS := s.qualifyNamespace(namespace)
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if err := s.checkDim(op, fmt.Sprintf("point %q", id), p.Vector); err != nil {
			return err
		}
		payload := clonePayload(p.Payload)
		payload[payloadNamespaceKey] = qualifiedNS
		payload[payloadPointKey] = id
		body = append(body, map[string]any{
			"id":      s.PointID(qualifiedNS, id),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

// Search returns matches with score >= minScore, best first.
func (s *Store) Search(ctx context.Context, namespace string, vector []float32, limit int, minScore float64, filter *Filter) ([]Match, error) {
	if s == nil {
		return nil, fmt.Errorf("qdrant store unavailable")
	}
	const op = "search"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if err := s.checkDim(op, "query vector", vector); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	qualifiedNS := s.qualifyNamespace(namespace)
	f := Filter{}
	if filter != nil {
		f = *filter
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"filter":       f.asMap(qualifiedNS),
	}
	if minScore > 0 && s.scoreIsSimilarity() {
		req["score_threshold"] = minScore
	}

	var raw []qdrantScoredPoint
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		id := extractPointID(item)
		if id == "" {
			continue
		}
		score := s.normalizeScore(item.Score)
		if score < minScore {
			continue
		}
		out = append(out, Match{ID: id, Score: score, Payload: stripInternal(item.Payload)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *Store) Exists(ctx context.Context, namespace, id string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("qdrant store unavailable")
	}
	const op = "exists"
	id = strings.TrimSpace(id)
	if id == "" {
		return false, opErr(op, OperationErrorValidation, "point id is required", nil)
	}
	req := map[string]any{
		"ids":          []string{s.PointID(s.qualifyNamespace(namespace), id)},
		"with_payload": false,
		"with_vector":  false,
	}
	var found []json.RawMessage
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points"), req, &found); err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if s == nil {
		return nil
	}
	const op = "delete"
	qualifiedNS := s.qualifyNamespace(namespace)
	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		pid := s.PointID(qualifiedNS, id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	if len(pointIDs) == 0 {
		return nil
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": pointIDs}, nil)
}

// PointID is the deterministic qdrant point id for an id within a qualified namespace.
func (s *Store) PointID(qualifiedNS, id string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(qualifiedNS+"|"+id)).String()
}

func (s *Store) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	s.authorize(readyReq)
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err = s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result)
	var typed *OperationError
	if errors.As(err, &typed) && typed.Code == OperationErrorNotFound && s.cfg.CreateCollection {
		return s.createCollection(ctx)
	}
	if err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message:   fmt.Sprintf("qdrant collection %q vector size mismatch: expected=%d actual=%d", s.cfg.Collection, s.cfg.VectorDim, size),
		}
	}
	s.distance = strings.TrimSpace(result.Config.Params.Vectors.Distance)
	return nil
}

func (s *Store) createCollection(ctx context.Context) error {
	const op = "create_collection"
	req := map[string]any{
		"vectors": map[string]any{"size": s.cfg.VectorDim, "distance": "Cosine"},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return err
	}
	s.distance = "Cosine"
	index := map[string]any{"field_name": payloadNamespaceKey, "field_schema": "keyword"}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
		s.log.Warn("qdrant namespace index failed (continuing)", "error", err)
	}
	s.log.Info("qdrant collection created", "collection", s.cfg.Collection, "vector_dim", s.cfg.VectorDim)
	return nil
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	raw, readErr := httpx.ReadBody(resp, maxResponseBytes)
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &OperationError{Code: OperationErrorNotFound, Operation: op, StatusCode: resp.StatusCode, Message: httpx.TruncateBody(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, httpx.TruncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{Code: OperationErrorQueryFailed, Operation: op, StatusCode: resp.StatusCode, Message: statusErr}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (s *Store) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *Store) checkDim(op, what string, vector []float32) error {
	if len(vector) == 0 {
		return opErr(op, OperationErrorValidation, what+" has empty values", nil)
	}
	if s.cfg.VectorDim > 0 && len(vector) != s.cfg.VectorDim {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("%s dimension mismatch: expected=%d got=%d", what, s.cfg.VectorDim, len(vector)), nil)
	}
	return nil
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stripInternal(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == payloadNamespaceKey || k == payloadPointKey {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Store) qualifyNamespace(namespace string) string {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}

func (s *Store) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func extractPointID(item qdrantScoredPoint) string {
	if id, ok := item.Payload[payloadPointKey].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	if len(item.ID) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(item.ID, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(item.ID, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(item.ID))
}

func (s *Store) scoreIsSimilarity() bool {
	switch strings.ToLower(strings.TrimSpace(s.distance)) {
	case "euclid", "manhattan":
		return false
	default:
		return true
	}
}

func (s *Store) normalizeScore(score float64) float64 {
	if s.scoreIsSimilarity() {
		return score
	}
	if score < 0 {
		score = -score
	}
	return 1.0 / (1.0 + score)
}
