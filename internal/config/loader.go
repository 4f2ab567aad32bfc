package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// LoadEmbedding reads the embedding endpoint configuration from the
// environment and applies defaults for anything unset. The default target
// is the OpenAI embeddings API; a local llama.cpp or other OpenAI-compatible
// server is selected by pointing EMBED_BASE_URL at it.
func LoadEmbedding() EmbeddingConfig {
	var cfg EmbeddingConfig

	cfg.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.APIHeader = strings.TrimSpace(os.Getenv("EMBED_API_HEADER"))
	// Optional: set EMBED_API_HEADERS as JSON string or comma-separated key:value pairs
	if v := strings.TrimSpace(os.Getenv("EMBED_API_HEADERS")); v != "" {
		cfg.Headers = parseHeaders(v)
	}
	cfg.Path = strings.TrimSpace(os.Getenv("EMBED_PATH"))
	if v := strings.TrimSpace(os.Getenv("EMBED_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dimensions = n
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.APIHeader == "" {
		cfg.APIHeader = "Authorization"
	}
	if cfg.Path == "" {
		cfg.Path = "/v1/embeddings"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	return cfg
}

// parseHeaders accepts either a JSON object or comma-separated key:value
// (or key=value) pairs.
func parseHeaders(v string) map[string]string {
	var m map[string]string
	if err := json.Unmarshal([]byte(v), &m); err == nil {
		return m
	}
	m = make(map[string]string)
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sep := ":"
		if !strings.Contains(p, ":") {
			sep = "="
		}
		if !strings.Contains(p, sep) {
			continue
		}
		kv := strings.SplitN(p, sep, 2)
		m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return m
}
