package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nicodishanthj/echogarden/internal/api"
	"github.com/nicodishanthj/echogarden/internal/chat"
	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/graph"
	"github.com/nicodishanthj/echogarden/internal/llm"
	"github.com/nicodishanthj/echogarden/internal/orchestrator"
	"github.com/nicodishanthj/echogarden/internal/queue"
	"github.com/nicodishanthj/echogarden/internal/retrieval"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
	"github.com/nicodishanthj/echogarden/internal/vector"
	"github.com/nicodishanthj/echogarden/internal/watcher"
)

func main() {
	logger := common.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logger.Debug("echogarden: .env file not loaded", "error", err)
	} else {
		logger.Info("echogarden: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	watchPath := flag.String("watch", "", "watch root override")
	dbPath := flag.String("db", "", "sqlite database path override")
	workers := flag.Int("workers", 0, "job worker count override")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("echogarden: config load failed", "error", err)
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	cfg = cfg.Merge(config.Config{
		WatchPath: strings.TrimSpace(*watchPath),
		DBPath:    strings.TrimSpace(*dbPath),
		Workers:   *workers,
	})

	logger.Info("echogarden: startup initiated",
		"addr", *addr, "watch", cfg.WatchPath, "db", cfg.DBPath, "workers", cfg.Workers)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("echogarden: data directory create failed", "error", err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("echogarden: store open failed", "error", err)
		fmt.Println("store error:", err)
		os.Exit(1)
	}
	defer st.Close()

	var index vector.Store
	if cfg.VectorEndpoint != "" {
		index = vector.NewClient(ctx, cfg.VectorEndpoint, cfg.VectorCollection)
	} else {
		index = vector.NewMemStore()
		logger.Info("echogarden: using in-process vector store")
	}

	provider := llm.NewProvider(cfg)
	logger.Info("echogarden: llm provider ready", "provider", provider.Name())

	registry := tools.NewRegistry(st)
	textEmbed := tools.NewTextEmbedTool(provider, index)
	for _, tool := range []tools.Tool{
		tools.NewDocParseTool(st),
		tools.NewOCRTool(st, cfg.VisionMode),
		tools.NewASRTool(st, cfg.WhisperMode),
		textEmbed,
		tools.NewVisionEmbedTool(st, index, cfg.VisionMode),
		tools.NewSummarizerTool(provider),
		tools.NewExtractorTool(),
		tools.NewGraphBuilderTool(),
	} {
		if err := registry.Register(tool); err != nil {
			logger.Error("echogarden: tool registration failed", "error", err)
			os.Exit(1)
		}
	}

	graphSvc := graph.NewService(st)
	retriever := retrieval.NewService(st, index, graphSvc, textEmbed, cfg.FusionWeights)
	orch := orchestrator.New(st, registry, cfg)
	chatSvc := chat.NewService(st, registry)

	for _, tool := range []tools.Tool{
		retrieval.NewTool(retriever),
		chat.NewWeaverTool(provider),
		chat.NewVerifierTool(provider),
	} {
		if err := registry.Register(tool); err != nil {
			logger.Error("echogarden: tool registration failed", "error", err)
			os.Exit(1)
		}
	}

	watch := watcher.New(st, cfg)
	go func() {
		if err := watch.Run(ctx); err != nil {
			logger.Error("echogarden: watcher stopped", "error", err)
		}
	}()

	pool := queue.NewPool(st, cfg.Workers, cfg.MaxJobAttempts)
	pool.Register("ingest_blob", func(ctx context.Context, job store.Job) error {
		var payload orchestrator.JobPayload
		if err := queue.DecodePayload(job, &payload); err != nil {
			return err
		}
		_, err := orch.IngestBlob(ctx, payload)
		return err
	})
	go func() {
		if err := pool.Run(ctx); err != nil {
			logger.Error("echogarden: worker pool stopped", "error", err)
		}
	}()

	server := api.NewServer(cfg, api.Deps{
		Store:        st,
		Registry:     registry,
		Orchestrator: orch,
		Retriever:    retriever,
		Chat:         chatSvc,
		Graph:        graphSvc,
		Vector:       index,
		Provider:     provider,
		Watcher:      watch,
	})

	httpServer := &http.Server{Addr: *addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("echogarden: http shutdown error", "error", err)
		}
	}()

	logger.Info("echogarden: serving", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("echogarden: server stopped", "error", err)
		fmt.Println("server stopped:", err)
		os.Exit(1)
	}
	logger.Info("echogarden: shutdown complete")
}
