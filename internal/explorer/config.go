package explorer

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in the Explorer Engine's external
// interface. LoadConfig starts from DefaultConfig and overrides only the
// keys set in the environment; a Config built by hand (e.g. in tests)
// should start from DefaultConfig if zero-values are not desired.
type Config struct {
	// SearXNGHost is the base URL of the search endpoint.
	SearXNGHost string
	// VectorIndexName is the logical index identifier; this implementation
	// uses a single namespace ("Search") and multiplexes tenants via the
	// unique_id filter.
	VectorIndexName string

	// ChunkSize is the chunker's target chunk size, in tokens.
	ChunkSize int
	// Overlap is the number of trailing-sentence tokens prepended to each
	// chunk after the first.
	Overlap int

	// IngestSimilarityThreshold is the floor cosine similarity (computed
	// locally by the Embedding Service) for storing a chunk.
	IngestSimilarityThreshold float64
	// RetrieveScoreThreshold is the floor index-reported score for
	// returning a stored chunk to a caller.
	RetrieveScoreThreshold float64

	// MaxRetries bounds the outer retrieval-retry recursion depth.
	MaxRetries int
	// QueryBatchSize is the number of queries ingested in parallel per
	// ingestion batch.
	QueryBatchSize int
	// MaxConcurrentURLs bounds per-query URL fetch fan-out.
	MaxConcurrentURLs int
	// MinDelayBetweenRequests floors the interval between Search Client
	// requests.
	MinDelayBetweenRequests time.Duration
	// UpsertBatchSize bounds the number of ChunkRecords written per Vector
	// Store upsert call.
	UpsertBatchSize int
}

// DefaultConfig returns the documented defaults for every tunable.
func DefaultConfig() Config {
	return Config{
		SearXNGHost:               "http://localhost:8080",
		VectorIndexName:           "Search",
		ChunkSize:                 400,
		Overlap:                   50,
		IngestSimilarityThreshold: 0.35,
		RetrieveScoreThreshold:    0.50,
		MaxRetries:                5,
		QueryBatchSize:            10,
		MaxConcurrentURLs:         30,
		MinDelayBetweenRequests:   5 * time.Second,
		UpsertBatchSize:           96,
	}
}

// LoadConfig reads the eleven Explorer configuration keys from the
// environment, following the repository's TrimSpace-then-fallback idiom
// (see internal/config/loader.go). Unset or unparsable values fall back to
// DefaultConfig's values rather than erroring; the Explorer is meant to run
// with sane behavior out of the box.
func LoadConfig() Config {
	// Use Overload so .env values override existing OS environment
	// variables. This allows repository/local configuration to
	// deterministically control runtime behavior in development unless
	// explicitly changed.
	_ = godotenv.Overload()

	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("SEARXNG_HOST")); v != "" {
		cfg.SearXNGHost = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_INDEX_NAME")); v != "" {
		cfg.VectorIndexName = v
	}
	if v, ok := parseIntEnv("CHUNK_SIZE"); ok {
		cfg.ChunkSize = v
	}
	if v, ok := parseIntEnv("OVERLAP"); ok {
		cfg.Overlap = v
	}
	if v, ok := parseFloatEnv("INGEST_SIMILARITY_THRESHOLD"); ok {
		cfg.IngestSimilarityThreshold = v
	}
	if v, ok := parseFloatEnv("RETRIEVE_SCORE_THRESHOLD"); ok {
		cfg.RetrieveScoreThreshold = v
	}
	if v, ok := parseIntEnv("MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v, ok := parseIntEnv("QUERY_BATCH_SIZE"); ok {
		cfg.QueryBatchSize = v
	}
	if v, ok := parseIntEnv("MAX_CONCURRENT_URLS"); ok {
		cfg.MaxConcurrentURLs = v
	}
	if v, ok := parseIntEnv("MIN_DELAY_BETWEEN_REQUESTS"); ok {
		cfg.MinDelayBetweenRequests = time.Duration(v) * time.Second
	}
	if v, ok := parseIntEnv("UPSERT_BATCH_SIZE"); ok {
		cfg.UpsertBatchSize = v
	}

	return cfg
}

func parseIntEnv(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFloatEnv(name string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
