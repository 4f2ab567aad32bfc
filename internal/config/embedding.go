package config

// EmbeddingConfig describes how to reach an HTTP embedding endpoint
// (local llama.cpp server, OpenAI-compatible gateway, etc).
//
// APIHeader selects how APIKey is sent: "Authorization" sends it as a
// bearer token, any other non-empty value is used as a literal header
// name carrying APIKey verbatim. Headers carries additional static
// headers (and may itself supply "Authorization", in which case it wins
// over APIHeader/APIKey for that header only).
type EmbeddingConfig struct {
	BaseURL    string
	Path       string
	Model      string
	APIKey     string
	APIHeader  string
	Headers    map[string]string
	Timeout    int // seconds; 0 means a default is applied by the caller
	Dimensions int
}
