package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/redworks/red/internal/adapters/embedding"
	"github.com/redworks/red/internal/adapters/id"
	redllm "github.com/redworks/red/internal/adapters/llm"
	"github.com/redworks/red/internal/adapters/membus"
	"github.com/redworks/red/internal/adapters/memstore"
	"github.com/redworks/red/internal/adapters/mongostore"
	"github.com/redworks/red/internal/adapters/redisbus"
	"github.com/redworks/red/internal/adapters/scrape"
	"github.com/redworks/red/internal/adapters/search"
	"github.com/redworks/red/internal/adapters/tokenizer"
	"github.com/redworks/red/internal/adapters/tracing"
	"github.com/redworks/red/internal/background"
	"github.com/redworks/red/internal/engine"
	"github.com/redworks/red/internal/generation"
	"github.com/redworks/red/internal/graph"
	"github.com/redworks/red/internal/httpapi"
	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/stream"
	"github.com/redworks/red/internal/toolregistry"
	"github.com/redworks/red/internal/toolrpc"
	"github.com/redworks/red/internal/toolservers"
)

const shutdownGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Red API server",
		Long: `Start the OpenAI-compatible HTTP API and the in-process tool
servers.

With no bus or store URL configured, Red runs fully in-process on the
in-memory adapters; set RED_BUS_URL (Redis) and RED_STORE_URL (MongoDB)
for multi-node or durable deployments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func runServer(ctx context.Context) error {
	slogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(slogger)

	slogger.Info("starting Red API server", "addr", cfg.Addr(), "llm", cfg.LLM.URL, "model", cfg.LLM.Model)

	shutdownTracer, err := tracing.InitTracer("red-api")
	if err != nil {
		slogger.Warn("tracing init failed", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slogger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	var bus ports.Bus
	if cfg.Bus.URL != "" {
		rb, err := redisbus.New(cfg.Bus.URL)
		if err != nil {
			return fmt.Errorf("connect redis bus: %w", err)
		}
		defer rb.Close()
		bus = rb
		slogger.Info("bus: redis", "url", cfg.Bus.URL)
	} else {
		mb := membus.New()
		defer mb.Close()
		bus = mb
		slogger.Info("bus: in-memory")
	}

	var store ports.DurableStore
	if cfg.Store.URL != "" {
		ms, err := mongostore.New(ctx, mongostore.Options{URL: cfg.Store.URL, Database: cfg.Store.Database})
		if err != nil {
			return fmt.Errorf("connect mongo store: %w", err)
		}
		defer func() {
			if err := ms.Close(context.Background()); err != nil {
				slogger.Warn("store close failed", "error", err)
			}
		}()
		store = ms
		slogger.Info("store: mongodb", "database", cfg.Store.Database)
	} else {
		store = memstore.New()
		slogger.Info("store: in-memory")
	}

	ids := id.New()
	logger := logs.NewPersistent(bus, store, ids, slogger)
	defer logger.Close(context.Background())

	llmClient := redllm.New(redllm.Options{
		BaseURL:     cfg.LLM.URL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}, slogger)

	mem := memory.NewManager(bus, store, tokenizer.New(cfg.LLM.Model), logger, slogger, memory.Options{
		MaxContextTokens:     cfg.Memory.MaxContextTokens,
		SummaryCushionTokens: cfg.Memory.SummaryCushionTokens,
	})
	pipeline := stream.NewPipeline(bus, slogger)
	registry := toolregistry.New(bus, pipeline, slogger)
	defer registry.Disconnect()
	generations := generation.NewRegistry(bus, store, ids, logger, slogger)

	if err := startToolServers(ctx, bus, mem, store, ids, registry, slogger); err != nil {
		return err
	}

	g := graph.New(llmClient, registry, mem, pipeline, logger, slogger, graph.Options{
		Model:           cfg.LLM.Model,
		OptimizeQueries: true,
	})
	tasks := background.NewTasks(mem, llmClient, logger, slogger, cfg.LLM.Model)
	eng := engine.New(registry, generations, mem, store, pipeline, g, tasks, logger, slogger, ids, engine.Options{
		Model:         cfg.LLM.Model,
		SystemMessage: cfg.Memory.SystemPrompt,
	})

	api := httpapi.NewServer(eng, pipeline, generations, logger, slogger, httpapi.Options{
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Model:       cfg.LLM.Model,
		Version:     version,
	})

	heartbeat := background.NewHeartbeat(bus, nodeID(), slogger)
	heartbeat.Start(ctx)
	defer heartbeat.Stop(context.Background())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := api.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		slogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return api.Stop(shutdownCtx)
	})

	return group.Wait()
}

// startToolServers brings up the in-process tool servers and registers
// them with the tool registry. Search and rag only start when their
// backing services are configured.
func startToolServers(ctx context.Context, bus ports.Bus, mem *memory.Manager, store ports.DurableStore, ids ports.IDGenerator, registry *toolregistry.Registry, slogger *slog.Logger) error {
	start := func(name string, srv *toolrpc.Server) error {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start %s tool server: %w", name, err)
		}
		if err := registry.RegisterServer(ctx, name); err != nil {
			return fmt.Errorf("register %s tool server: %w", name, err)
		}
		return nil
	}

	if err := start("context", toolservers.NewContextServer(bus, mem, store, ids, slogger)); err != nil {
		return err
	}
	if err := start("system", toolservers.NewSystemServer(bus, cfg.Command.AllowedCommands, slogger)); err != nil {
		return err
	}

	if cfg.IsSearchConfigured() {
		web := toolservers.NewWebServer(bus, search.New(cfg.Search.Endpoint, cfg.Search.APIKey), scrape.New(), slogger)
		if err := start("web", web); err != nil {
			return err
		}
	} else {
		slogger.Info("web tools disabled: no search API key")
	}

	if cfg.IsEmbeddingConfigured() {
		embedder := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, cfg.Embedding.Model, 0, slogger)
		rag, err := toolservers.NewRagServer(bus, cfg.RAG.Path, embedder.Func(), ids, slogger)
		if err != nil {
			return fmt.Errorf("open rag store: %w", err)
		}
		if err := start("rag", rag); err != nil {
			return err
		}
	} else {
		slogger.Info("rag tools disabled: no embedding service")
	}
	return nil
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "red"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
