// Command explorer runs the Explorer Engine from the command line: it
// retrieves (or ingests) the queries given as arguments against a
// workspace-scoped vector index, driving web search, crawling, and
// chunk-level ingestion for queries the index cannot yet answer.
//
// Configuration comes from the environment (and a local .env): the
// Explorer's own keys (SEARXNG_HOST, VECTOR_INDEX_NAME, CHUNK_SIZE, ...),
// EMBED_* for the embedding endpoint, and VECTOR_DSN for the Qdrant
// connection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"manifold/internal/config"
	"manifold/internal/explorer"
	"manifold/internal/rag/embedder"
)

func main() {
	log.SetFlags(0)
	var (
		workspace  = flag.String("workspace", "", "workspace id scoping all reads and writes (required)")
		mode       = flag.String("mode", "retrieve", "answer mode: retrieve or ingest_only")
		maxResults = flag.Int("max-results", 5, "max search results per query")
		purge      = flag.Bool("purge", false, "delete every record for -workspace and exit")
		browser    = flag.Bool("browser", false, "enable the headless-Chrome fallback for client-rendered pages")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *workspace == "" {
		log.Fatal("-workspace is required")
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg := explorer.LoadConfig()
	embedCfg := config.LoadEmbedding()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, qdrantStore, err := explorer.NewFromConfig(ctx, cfg, explorer.BuildOptions{
		Embedder:              embedder.NewClient(embedCfg, embedCfg.Dimensions),
		QdrantDSN:             strings.TrimSpace(os.Getenv("VECTOR_DSN")),
		EnableBrowserFallback: *browser,
	},
		explorer.WithLogger(explorer.NewZerologLogger(zl)),
		explorer.WithMetrics(explorer.NewOtelMetrics()),
	)
	if err != nil {
		log.Fatalf("build explorer: %v", err)
	}
	defer qdrantStore.Close()

	if *purge {
		if err := eng.PurgeWorkspace(ctx, explorer.WorkspaceId(*workspace)); err != nil {
			log.Fatalf("purge workspace: %v", err)
		}
		return
	}

	queries := flag.Args()
	if len(queries) == 0 {
		log.Fatal("no queries given; pass them as arguments")
	}

	var answerMode explorer.AnswerMode
	switch *mode {
	case "retrieve":
		answerMode = explorer.AnswerRetrieve
	case "ingest_only":
		answerMode = explorer.AnswerIngestOnly
	default:
		log.Fatalf("unknown mode %q; want retrieve or ingest_only", *mode)
	}

	results, err := eng.Run(ctx, queries, explorer.WorkspaceId(*workspace), answerMode, *maxResults)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	if answerMode == explorer.AnswerIngestOnly {
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatalf("encode results: %v", err)
	}
}
