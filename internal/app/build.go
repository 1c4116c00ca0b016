package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ent0n29/ragent/internal/agent"
	"github.com/ent0n29/ragent/internal/config"
	"github.com/ent0n29/ragent/internal/controller"
	"github.com/ent0n29/ragent/internal/httpapi"
	"github.com/ent0n29/ragent/internal/llm"
	"github.com/ent0n29/ragent/internal/memory"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/retrieval"
	"github.com/ent0n29/ragent/internal/summarize"
)

type BuildResult struct {
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Store      memory.Store
	Backend    retrieval.Backend
	Generator  llm.Generator
	Controller *controller.Controller
	API        *httpapi.Server

	// Corpus is set when retrieval runs on a local corpus directory that
	// can be watched for changes.
	Corpus *retrieval.LocalBackend

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	shutdownTracing, err := observability.SetupTracing(cfg.TracesEnabled, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	store, err := memory.NewStore(ctx, memory.Config{
		Kind:        cfg.StoreKind,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		BadgerPath:  cfg.BadgerPath,
		Compress:    cfg.StoreCompress,
		Logger:      logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("session store init failed: %w", err), shutdownTracing(ctx))
	}

	fail := func(err error) (*BuildResult, error) {
		return nil, errors.Join(err, store.Close(), shutdownTracing(ctx))
	}

	backend, err := NewRetrieval(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	gen, err := llm.NewGenerator(llm.Config{
		Mode:         cfg.LLMMode,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIBase:   cfg.OpenAIBaseURL,
		Model:        cfg.LLMModel,
		HTTPURL:      cfg.LLMHTTPURL,
		FallbackMock: cfg.LLMFallbackMock,
	})
	if err != nil {
		return fail(fmt.Errorf("generator init failed: %w", err))
	}

	observer := observability.NewMultiObserver(
		observability.NewSlogObserver(logger),
		observability.NewMetricsObserver(metrics),
	)

	engine := agent.NewEngine(gen, retrieval.NewAdapter(backend, cfg.AgentCallTimeout), agent.Config{
		MaxIterations: cfg.AgentMaxIterations,
		CallTimeout:   cfg.AgentCallTimeout,
		DefaultK:      cfg.RetrievalDefaultK,
		SystemPrompt:  cfg.AgentSystemPrompt,
	}, agent.WithObserver(observer), agent.WithMetrics(metrics), agent.WithLogger(logger))

	trigger := summarize.NewTrigger(gen, summarize.Policy{
		MaxTurns:     cfg.SummaryMaxTurns,
		MaxTokens:    cfg.SummaryMaxTokens,
		RetainRecent: cfg.SummaryRetainRecent,
	}, cfg.AgentCallTimeout, observer, metrics)

	ctrl := controller.New(store, engine, controller.Config{
		PersistRetries: cfg.StorePersistRetry,
		RetryBackoff:   cfg.StoreRetryBackoff,
		CallTimeout:    cfg.AgentCallTimeout,
		RedactPII:      cfg.RedactPersistedPII,
	},
		controller.WithSummarizer(trigger),
		controller.WithObserver(observer),
		controller.WithMetrics(metrics),
		controller.WithLogger(logger),
	)

	api := httpapi.New(cfg, ctrl, metrics, logger, func(ctx context.Context) error {
		_, err := store.List(ctx, 1)
		return err
	})

	var corpus *retrieval.LocalBackend
	if lb, ok := backend.(*retrieval.LocalBackend); ok && lb.Name() == "local" {
		corpus = lb
	}

	logger.Info("components ready",
		"store", fmt.Sprintf("%T", store),
		"retrieval", backend.Name(),
		"generator", gen.Name(),
	)

	return &BuildResult{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Store:      store,
		Backend:    backend,
		Generator:  gen,
		Controller: ctrl,
		API:        api,
		Corpus:     corpus,
		Cleanup: func(ctx context.Context) error {
			return errors.Join(store.Close(), shutdownTracing(ctx))
		},
	}, nil
}

// NewRetrieval builds only the retrieval backend, for commands that search
// without running the agent.
func NewRetrieval(ctx context.Context, cfg config.Config, logger *slog.Logger) (retrieval.Backend, error) {
	backend, err := retrieval.NewBackend(ctx, retrieval.Config{
		Mode:           cfg.RetrievalMode,
		WeaviateURL:    cfg.WeaviateURL,
		WeaviateClass:  cfg.WeaviateClass,
		HTTPURL:        cfg.RetrievalHTTPURL,
		CorpusDir:      cfg.CorpusDir,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIBaseURL:  cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval init failed: %w", err)
	}
	return backend, nil
}
