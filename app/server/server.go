package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	accesslog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"docqa/app/agent"
	"docqa/app/api"
	"docqa/app/middleware"
	"docqa/chunker"
	"docqa/config"
	"docqa/loader"
	"docqa/memory"
	"docqa/model"
	"docqa/rag"
	"docqa/store"
)

const (
	bodyLimit       = 64 << 20
	probeTimeout    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	listenAddr string
	app        *fiber.App
	engine     *rag.Engine
	db         store.DBStorer
	logger     *slog.Logger
}

// NewServer builds every component from cfg and restores persisted documents.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := slog.Default()

	embedder, err := model.NewEmbedder(model.Config{
		Type:       cfg.Embedder,
		Model:      cfg.EmbeddingModel,
		URL:        cfg.EmbeddingURL,
		APIKey:     cfg.OpenAIAPIKey,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	extractor, err := loader.NewExtractor(loader.Config{
		Type:       cfg.Extractor,
		DoclingURL: cfg.DoclingURL,
		CropTop:    cfg.CropTop,
		CropBottom: cfg.CropBottom,
	})
	if err != nil {
		return nil, fmt.Errorf("creating extractor: %w", err)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dispatcher, local := newDispatcher(cfg)
	if local != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		if err := local.Probe(probeCtx); err != nil {
			logger.Warn("[SERVER] local model unavailable", "url", cfg.LocalLLMURL, "model", cfg.LocalLLMModel, "err", err)
		}
		cancel()
	}

	engine := rag.New(rag.Config{
		TopK:         cfg.TopK,
		ContextTurns: cfg.ContextTurns,
	}, rag.Deps{
		Chunker:   chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap)),
		Embedder:  embedder,
		Extractor: extractor,
		Documents: store.NewDocumentStore(db),
		Memory:    memory.New(cfg.MaxHistory),
		Agent:     dispatcher,
	})
	if err := engine.Restore(ctx); err != nil {
		closeStore(db)
		return nil, fmt.Errorf("restoring documents: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "docqa",
		ErrorHandler:          api.ErrorHandler,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})
	app.Use(
		recover.New(),
		middleware.RequestID(),
		accesslog.New(accesslog.Config{
			Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
		}),
		cors.New(),
	)
	api.RegisterRoutes(app, api.Handlers{
		Documents: api.NewDocumentHandler(engine),
		Requests:  api.NewRequestHandler(engine),
		Check:     api.NewCheckHandler(engine, dispatcher, local),
	})
	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			middleware.Static(app, cfg.StaticDir)
		} else {
			logger.Warn("[SERVER] static directory not found, frontend disabled", "dir", cfg.StaticDir)
		}
	}

	return &Server{
		listenAddr: cfg.ServerAddr,
		app:        app,
		engine:     engine,
		db:         db,
		logger:     logger,
	}, nil
}

// openStore returns the durable store selected by cfg. The memory driver
// returns a nil store.
func openStore(ctx context.Context, cfg *config.Config) (store.DBStorer, error) {
	var (
		db  store.DBStorer
		err error
	)
	switch cfg.StoreDriver {
	case "memory":
		return nil, nil
	case "sqlite":
		db, err = store.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		db, err = store.NewPostgresStore(ctx, cfg.PostgresDSN())
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("error to connect to %s database: %w", cfg.StoreDriver, err)
	}
	if err := db.Init(ctx); err != nil {
		closeStore(db)
		return nil, fmt.Errorf("error to create tables: %w", err)
	}
	return db, nil
}

func closeStore(db store.DBStorer) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("[SERVER] closing store", "err", err)
	}
}

func newDispatcher(cfg *config.Config) (*agent.Dispatcher, *agent.LocalBackend) {
	var counter agent.TokenCounter
	if cfg.CountPromptTokens {
		counter = agent.NewTiktokenCounter("")
	}

	temperature := float32(cfg.Temperature)
	local := agent.NewLocalBackend(agent.LocalConfig{
		URL:         cfg.LocalLLMURL,
		Model:       cfg.LocalLLMModel,
		MaxTokens:   cfg.MaxTokens,
		Temperature: temperature,
		Timeout:     cfg.LLMTimeout,
	})
	chat := func(url, model, key string) agent.ChatConfig {
		return agent.ChatConfig{
			BaseURL:     url,
			Model:       model,
			APIKey:      key,
			MaxTokens:   cfg.MaxTokens,
			Temperature: temperature,
			Timeout:     cfg.LLMTimeout,
		}
	}

	dispatcher := agent.NewDispatcher(counter,
		local,
		agent.NewOpenAIBackend(chat(cfg.OpenAIURL, cfg.OpenAIModel, cfg.OpenAIAPIKey)),
		agent.NewGeminiBackend(chat(cfg.GeminiURL, cfg.GeminiModel, cfg.GeminiAPIKey)),
		agent.NewAIMLBackend(chat(cfg.AIMLURL, cfg.AIMLModel, cfg.AIMLAPIKey)),
	)
	if cfg.LocalLLMURL == "" || cfg.LocalLLMModel == "" {
		return dispatcher, nil
	}
	return dispatcher, local
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Engine() *rag.Engine { return s.engine }

// Run blocks serving HTTP until Stop is called.
func (s *Server) Run() error {
	s.logger.Info("[SERVER] listening", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop() {
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		s.logger.Error("[SERVER] shutdown", "err", err)
	}
	closeStore(s.db)
	s.logger.Info("server stopped")
}
