// Command retrievald runs the multi-tenant retrieval core as a standalone
// service: write saga, hybrid/advanced search, the relevance engine,
// ripple recall, memory triage, and the decay-maintenance worker, all
// composed behind internal/retrievalservice.Service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"alfred-ai/internal/adapter/cache"
	"alfred-ai/internal/adapter/embedding"
	"alfred-ai/internal/adapter/llm"
	"alfred-ai/internal/adapter/store/decayqueue"
	"alfred-ai/internal/adapter/store/graphstore"
	"alfred-ai/internal/adapter/store/relational"
	"alfred-ai/internal/adapter/store/vectorstore"
	"alfred-ai/internal/domain"
	"alfred-ai/internal/infra/config"
	"alfred-ai/internal/infra/logger"
	"alfred-ai/internal/infra/tracer"
	"alfred-ai/internal/retrievalservice"
	"alfred-ai/internal/usecase/advancedsearch"
	"alfred-ai/internal/usecase/decayjob"
	"alfred-ai/internal/usecase/eventbus"
	"alfred-ai/internal/usecase/hybridsearch"
	"alfred-ai/internal/usecase/relevance"
	"alfred-ai/internal/usecase/ripple"
	"alfred-ai/internal/usecase/triage"
	"alfred-ai/internal/usecase/writesaga"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("RETRIEVALD_CONFIG"); p != "" {
		return p
	}
	return "retrievald.yaml"
}

func run() error {
	cfg, err := config.LoadRetrieval(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	bus := eventbus.New(log)
	defer bus.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	relevanceCache := cache.NewRelevanceCache(redisClient, log)

	embedder, err := buildEmbedder(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	relStore, err := relational.New(ctx, cfg.Postgres.DSN, log)
	if err != nil {
		return fmt.Errorf("relational store: %w", err)
	}
	defer relStore.Close()

	vecStore, err := vectorstore.New(ctx, cfg.Postgres.DSN, cfg.Embedding.Dimensions, log)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	defer vecStore.Close()

	graphStore, err := graphstore.New(cfg.Graph.Path)
	if err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	defer graphStore.Close()

	decayQueue, err := decayqueue.New(cfg.Graph.QueuePath)
	if err != nil {
		return fmt.Errorf("decay queue: %w", err)
	}
	defer decayQueue.Close()

	saga := writesaga.New(embedder, relStore, vecStore, graphStore, bus, log, writesaga.Config{})
	hybrid := hybridsearch.New(relStore, vecStore, embedder, relevanceCache, log)
	advanced := advancedsearch.New(hybrid)
	relevanceEngine := relevance.New(relevanceCache, bus, log)
	rippleRecall := ripple.New(graphStore, relStore, bus, log)

	llmProvider := buildTriageLLM(cfg)
	triageClassifier := triage.New(llmProvider)

	svc := retrievalservice.New(saga, hybrid, advanced, relevanceEngine, rippleRecall, triageClassifier, relStore, log)

	decayWorker := decayjob.NewWorker(decayQueue, relStore, relevanceCache, bus, log, relStore.ListTenants)
	if err := decayWorker.Start(ctx, cfg.Decay.Period); err != nil {
		return fmt.Errorf("decay worker: %w", err)
	}
	defer decayWorker.Stop()

	log.Info("retrievald starting",
		"embedding_provider", cfg.Embedding.Provider,
		"decay_period", cfg.Decay.Period,
		"triage_llm", llmProvider != nil,
	)

	// TODO: expose svc over a gRPC or HTTP handler once this core needs an
	// external transport; today it's exercised directly by
	// internal/retrievalservice's own tests.
	_ = svc

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	log.Info("retrievald shutting down")
	return nil
}

// buildEmbedder wires the configured embedding provider behind the
// teacher's in-process LRU, then behind the Redis-backed content-hash
// cache for cross-process convergence on identical content.
func buildEmbedder(cfg *config.RetrievalConfig, redisClient *redis.Client) (domain.EmbeddingProvider, error) {
	var provider domain.EmbeddingProvider
	switch cfg.Embedding.Provider {
	case "openai", "":
		provider = embedding.NewOpenAIProvider(cfg.Embedding.APIKey,
			embedding.WithOpenAIModel(cfg.Embedding.Model),
			embedding.WithOpenAIDimensions(cfg.Embedding.Dimensions),
		)
	case "gemini":
		provider = embedding.NewGeminiProvider(cfg.Embedding.APIKey,
			embedding.WithGeminiModel(cfg.Embedding.Model),
			embedding.WithGeminiDimensions(cfg.Embedding.Dimensions),
		)
	case "ollama":
		provider = embedding.NewOllamaProvider(
			embedding.WithOllamaModel(cfg.Embedding.Model),
			embedding.WithOllamaDimensions(cfg.Embedding.Dimensions),
		)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}

	lruWrapped := embedding.NewCachedEmbedder(provider, cfg.Embedding.LRUSize)
	embeddingCache := cache.NewEmbeddingCache(redisClient)
	return embedding.NewContentHasher(lruWrapped, embeddingCache, cfg.Embedding.SharedTTL), nil
}

// buildTriageLLM constructs the optional LLM provider memory triage
// escalates to for ambiguous content. Returns nil when disabled, which
// triage.Classifier treats as heuristic-only.
func buildTriageLLM(cfg *config.RetrievalConfig) domain.LLMProvider {
	if !cfg.LLM.Enabled {
		return nil
	}
	pc := config.ProviderConfig{Name: cfg.LLM.Provider, Type: cfg.LLM.Provider, Model: cfg.LLM.Model, APIKey: cfg.LLM.APIKey}
	discard, _, _ := logger.New(config.LoggerConfig{Level: "error", Format: "text", Output: "stderr"})

	var provider domain.LLMProvider
	switch cfg.LLM.Provider {
	case "anthropic":
		provider = llm.NewAnthropicProvider(pc, discard)
	case "openai", "":
		provider = llm.NewOpenAIProvider(pc, discard)
	default:
		return nil
	}

	// A flaky triage-escalation provider should degrade to heuristic-only
	// classification, not stall every ambiguous Store call.
	return llm.NewCircuitBreakerProvider(provider, llm.CircuitBreakerConfig{}, discard)
}
