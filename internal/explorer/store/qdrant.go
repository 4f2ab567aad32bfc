package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant only accepts UUIDs or unsigned integers as point ids, so the
// record's real string id is kept in this payload field and the point id
// is a deterministic UUID derived from it.
const payloadIDField = "_original_id"

// TextEmbedder produces the vectors Upsert and Search need. Qdrant's
// vector API takes vectors, not text, so an injected embedder stands in
// for a server-side embedding model: callers still pass plain text.
type TextEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// QdrantStore is the production VectorStore backend.
type QdrantStore struct {
	client    *qdrant.Client
	embedder  TextEmbedder
	dimension int
	metric    string
	batchSize int
}

// QdrantOptions configures a QdrantStore.
type QdrantOptions struct {
	DSN        string // e.g. "http://localhost:6334" or "https://host:6334?api_key=..."
	Dimensions int
	Metric     string // cosine|l2|euclidean|ip|dot|manhattan, default cosine
	BatchSize  int    // upsert batch size, default 96
}

// NewQdrantStore connects to Qdrant and ensures the named collection
// exists before returning. collection is the Explorer's single logical
// namespace (VECTOR_INDEX_NAME, default "Search").
func NewQdrantStore(ctx context.Context, collection string, opts QdrantOptions, embedder TextEmbedder) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant store: collection name is required")
	}
	parsed, err := url.Parse(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: connect: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 96
	}

	qs := &QdrantStore{
		client:    client,
		embedder:  embedder,
		dimension: opts.Dimensions,
		metric:    opts.Metric,
		batchSize: batchSize,
	}
	if err := qs.ensureCollection(ctx, collection); err != nil {
		_ = client.Close()
		return nil, err
	}
	return qs, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("qdrant store: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant store: dimensions must be > 0 to create collection %q", collection)
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant store: create collection %q: %w", collection, err)
	}
	return nil
}

// EnsureIndex is a no-op once the collection has been created by
// NewQdrantStore; it exists to satisfy VectorStore for callers that want
// to re-assert index presence explicitly (idempotent either way).
func (q *QdrantStore) EnsureIndex(ctx context.Context) error {
	return nil
}

func pointIDFor(id string) (*qdrant.PointId, string) {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(id), ""
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	return qdrant.NewID(derived), id
}

// Upsert writes records in batches of at most q.batchSize.
func (q *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	for start := 0; start < len(records); start += q.batchSize {
		end := start + q.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := q.upsertBatch(ctx, namespace, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (q *QdrantStore) upsertBatch(ctx context.Context, namespace string, batch []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(batch))
	for _, r := range batch {
		pointID, originalID := pointIDFor(r.ID)
		payload := map[string]any{
			"unique_id":   r.UniqueID,
			"url":         r.URL,
			"title":       r.Title,
			"description": r.Description,
			"chunk_id":    r.ChunkID,
			"chunk_text":  r.ChunkText,
		}
		if originalID != "" {
			payload[payloadIDField] = originalID
		}
		vec, err := q.embedder.EmbedQuery(ctx, r.ChunkText)
		if err != nil {
			return fmt.Errorf("qdrant store: embed chunk %q: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID,
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant store: upsert batch: %w", err)
	}
	return nil
}

// Search embeds queryText with the injected TextEmbedder, then runs a
// filtered top-k query scoped to uniqueID.
func (q *QdrantStore) Search(ctx context.Context, namespace, queryText string, topK int, uniqueID string) ([]Hit, error) {
	if uniqueID == "" {
		return nil, fmt.Errorf("qdrant store: search requires a non-empty unique_id filter")
	}
	if topK <= 0 {
		topK = 10
	}
	vec, err := q.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: embed query: %w", err)
	}
	limit := uint64(topK)
	result, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword("unique_id", uniqueID)}},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: query: %w", err)
	}
	hits := make([]Hit, 0, len(result))
	for _, p := range result {
		fields := fieldsFromPayload(p.Payload)
		hits = append(hits, Hit{
			ID:     fields["_id"],
			Fields: fields,
			Score:  float64(p.Score),
		})
	}
	return hits, nil
}

func fieldsFromPayload(payload map[string]*qdrant.Value) map[string]string {
	fields := make(map[string]string, len(payload)+1)
	var originalID string
	for k, v := range payload {
		if k == payloadIDField {
			originalID = v.GetStringValue()
			continue
		}
		switch k {
		case "chunk_id":
			fields[k] = strconv.FormatInt(v.GetIntegerValue(), 10)
		default:
			fields[k] = v.GetStringValue()
		}
	}
	if originalID != "" {
		fields["_id"] = originalID
	}
	return fields
}

// FetchByID performs an exact lookup via Qdrant's Get API. This is the
// operation the orchestrator's URL existence check relies on.
func (q *QdrantStore) FetchByID(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, _ := pointIDFor(id)
		pointIDs = append(pointIDs, pid)
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: namespace,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: fetch by id: %w", err)
	}
	out := make(map[string]Record, len(points))
	for _, p := range points {
		fields := fieldsFromPayload(p.Payload)
		id := fields["_id"]
		if id == "" {
			continue
		}
		chunkID, _ := strconv.Atoi(fields["chunk_id"])
		rec := Record{
			ID:          id,
			UniqueID:    fields["unique_id"],
			URL:         fields["url"],
			Title:       fields["title"],
			Description: fields["description"],
			ChunkID:     chunkID,
			ChunkText:   fields["chunk_text"],
		}
		out[id] = rec
	}
	return out, nil
}

// Delete removes every record whose unique_id equals uniqueID, for
// workspace-scoped purge.
func (q *QdrantStore) Delete(ctx context.Context, namespace, uniqueID string) error {
	if uniqueID == "" {
		return fmt.Errorf("qdrant store: delete requires a non-empty unique_id filter")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword("unique_id", uniqueID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant store: delete: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
