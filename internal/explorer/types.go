package explorer

import "strings"

// WorkspaceId is the opaque tenant boundary under which every ChunkRecord
// is stored. Every Vector Store read and write carries one.
type WorkspaceId string

// AnswerMode selects what Run returns.
type AnswerMode string

const (
	// AnswerRetrieve returns a sequence of matching ChunkRecords aggregated
	// across all input queries.
	AnswerRetrieve AnswerMode = "retrieve"
	// AnswerIngestOnly performs ingestion for every query and returns no
	// observable result beyond side effects on the store.
	AnswerIngestOnly AnswerMode = "ingest_only"
)

// NormalizeURL prepends "http://" to urls missing a scheme, matching the
// original crawler's normalization rule.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") {
		return trimmed
	}
	return "http://" + trimmed
}

// ExplorerResult is the record type handed back to the outer research
// workflow; it carries the index-reported retrieval score alongside the
// chunk's provenance.
type ExplorerResult struct {
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ChunkText   string  `json:"chunk_text"`
	Score       float64 `json:"score"`
}
