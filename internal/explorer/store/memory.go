package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-process VectorStore double for tests. Search
// ranks by naive substring/term overlap against queryText rather than a
// real embedding space; it exists to exercise the orchestrator's control
// flow (fan-out, retry, tenant filtering), not to validate ranking
// quality.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]Record // namespace -> id -> record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]Record)}
}

func (m *MemoryStore) EnsureIndex(ctx context.Context) error { return nil }

func (m *MemoryStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.data[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, namespace, queryText string, topK int, uniqueID string) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.data[namespace]
	if ns == nil || uniqueID == "" {
		return nil, nil
	}
	terms := strings.Fields(strings.ToLower(queryText))

	type scored struct {
		rec   Record
		score float64
	}
	var candidates []scored
	for _, r := range ns {
		if r.UniqueID != uniqueID {
			continue
		}
		candidates = append(candidates, scored{rec: r, score: overlapScore(terms, r.ChunkText)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK <= 0 {
		topK = 10
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}
	hits := make([]Hit, 0, topK)
	for _, c := range candidates[:topK] {
		hits = append(hits, Hit{
			ID:    c.rec.ID,
			Score: c.score,
			Fields: map[string]string{
				"_id":         c.rec.ID,
				"unique_id":   c.rec.UniqueID,
				"url":         c.rec.URL,
				"title":       c.rec.Title,
				"description": c.rec.Description,
				"chunk_id":    strconv.Itoa(c.rec.ChunkID),
				"chunk_text":  c.rec.ChunkText,
			},
		})
	}
	return hits, nil
}

func overlapScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func (m *MemoryStore) FetchByID(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record)
	ns := m.data[namespace]
	if ns == nil {
		return out, nil
	}
	for _, id := range ids {
		if r, ok := ns[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, namespace, uniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.data[namespace]
	for id, r := range ns {
		if r.UniqueID == uniqueID {
			delete(ns, id)
		}
	}
	return nil
}
