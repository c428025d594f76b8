package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vocsight/vocsight-go/internal/classify"
	"github.com/vocsight/vocsight-go/internal/embedder"
	"github.com/vocsight/vocsight-go/internal/engine"
	"github.com/vocsight/vocsight-go/internal/governance"
	"github.com/vocsight/vocsight-go/internal/provider"
	"github.com/vocsight/vocsight-go/internal/retrieval"
	"github.com/vocsight/vocsight-go/internal/store"
	"github.com/vocsight/vocsight-go/internal/vecstore"
)

// resolveMode maps VOCSIGHT_MODE to a processing mode, defaulting to hybrid.
func resolveMode() (governance.ProcessingMode, error) {
	raw := getEnvOrDefault("VOCSIGHT_MODE", string(governance.ModeHybrid))
	mode := governance.ProcessingMode(raw)
	switch mode {
	case governance.ModeDiscovery, governance.ModeRestricted, governance.ModeHybrid:
		return mode, nil
	}
	return "", fmt.Errorf("invalid VOCSIGHT_MODE %q (valid values: discovery, restricted, hybrid)", raw)
}

// openVectorStore opens the embedding store at VOCSIGHT_DB or the default
// path, stamping the active mode into the write identity.
func openVectorStore(mode governance.ProcessingMode) (*vecstore.SQLiteStore, error) {
	path := os.Getenv("VOCSIGHT_DB")
	if path == "" {
		var err error
		path, err = vecstore.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return vecstore.Open(path, vecstore.Identity{
		Mode:          string(mode),
		Processor:     "vocsight",
		PromptVersion: classify.PromptVersion,
	})
}

// openSessionStore opens the session snapshot store. VOCSIGHT_SESSIONS_DB
// overrides the default path (~/.vocsight/sessions.db); "disabled" keeps
// sessions in memory only. Persistence failures degrade to memory with a
// warning rather than aborting the command.
func openSessionStore(log *slog.Logger) store.SessionStore {
	path := os.Getenv("VOCSIGHT_SESSIONS_DB")
	if path == "disabled" {
		log.Info("sessions: in-memory store (VOCSIGHT_SESSIONS_DB=disabled)")
		return store.NewMemoryStore()
	}
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("sessions: could not resolve default DB path, using memory", slog.Any("error", err))
			return store.NewMemoryStore()
		}
	}
	s, err := store.Open(path)
	if err != nil {
		log.Warn("sessions: failed to open store, using memory", slog.Any("error", err))
		return store.NewMemoryStore()
	}
	log.Info("sessions: store opened", slog.String("path", path))
	return s
}

// buildClassifier constructs the LLM classifier from env configuration.
func buildClassifier(ctx context.Context) (*classify.Classifier, error) {
	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	return classify.New(&classify.Config{
		ChatModel:        chatModel,
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
	})
}

// buildEngine wires the embedder, classifier, stores, and governance profile
// into a processing engine. The returned cleanup closes both stores.
func buildEngine(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*engine.Engine, *vecstore.SQLiteStore, store.SessionStore, func(), error) {
	mode, err := resolveMode()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, nil, nil, nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	classifier, err := buildClassifier(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	vectors, err := openVectorStore(mode)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	sessions := openSessionStore(log)

	cleanup := func() {
		_ = sessions.Close()
		_ = vectors.Close()
	}

	eng, err := engine.New(&engine.Config{
		Embedder:     emb,
		Classifier:   classifier,
		Vectors:      vectors,
		Sessions:     sessions,
		Profile:      governance.NewProfile(mode),
		Workers:      getEnvInt("ENGINE_WORKERS", 0),
		ChunkSize:    getEnvInt("ENGINE_CHUNK_SIZE", 0),
		GeneratorRPS: getEnvFloat("ENGINE_GENERATOR_RPS", 0),
		Metrics:      engine.NewMetrics(reg),
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}

	log.Info("engine ready",
		slog.String("mode", string(mode)),
		slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")),
	)
	return eng, vectors, sessions, cleanup, nil
}

// buildRetriever constructs a governed retriever over the given store.
func buildRetriever(vectors *vecstore.SQLiteStore, log *slog.Logger) (*retrieval.Retriever, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	return retrieval.New(emb, vectors, &retrieval.Config{
		Profile: os.Getenv("RETRIEVAL_PROFILE"),
	})
}

// defaultLedgerPath is where the discovery ledger lives next to the stores.
func defaultLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".vocsight", "discovery.jsonl"), nil
}

// getEnvOrDefault returns the env var value or fallback when unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or
// unparsable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns the env var parsed as float64, or fallback when unset
// or unparsable.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
