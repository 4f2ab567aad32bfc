// Package store implements the Vector Store Adapter (C5): tenant-scoped,
// content-addressed storage of ChunkRecords with approximate-nearest-
// neighbor search. The production backend is Qdrant (qdrant.go); memory.go
// provides an in-memory double for tests and for MAX_RETRIES=0 style unit
// coverage of the orchestrator.
package store

import "context"

// Hit is one search result: a stored record plus the index-reported score
// for the query that produced it.
type Hit struct {
	ID     string
	Fields map[string]string
	Score  float64
}

// Record is the durable storage unit for one chunk, scoped to a workspace
// and a source URL. It is kept independent of the root explorer package's
// types so the store package has no import-cycle dependency on the
// orchestrator package.
type Record struct {
	ID          string
	UniqueID    string
	URL         string
	Title       string
	Description string
	ChunkID     int
	ChunkText   string
}

// VectorStore is the Explorer's storage contract. Every method that
// accepts a unique_id filter MUST enforce it: a missing or wrong
// unique_id on an operation is a programming error, not a recoverable
// condition.
type VectorStore interface {
	// EnsureIndex creates the backing index/collection on first use. Must
	// be idempotent.
	EnsureIndex(ctx context.Context) error

	// Upsert inserts-or-replaces records by ID, batching internally into
	// groups of at most UpsertBatchSize.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Search returns up to topK hits for queryText, restricted to records
	// whose unique_id equals uniqueID. queryText is embedded server-side
	// (or by an injected local embedder standing in for one); callers
	// never pass vectors.
	Search(ctx context.Context, namespace, queryText string, topK int, uniqueID string) ([]Hit, error)

	// FetchByID performs an exact lookup. Missing ids are simply absent
	// from the returned map.
	FetchByID(ctx context.Context, namespace string, ids []string) (map[string]Record, error)

	// Delete removes every record matching uniqueID within namespace.
	Delete(ctx context.Context, namespace, uniqueID string) error
}
