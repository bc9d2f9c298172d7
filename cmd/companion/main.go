package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/solverai/companion/internal/api"
	"github.com/solverai/companion/internal/config"
	"github.com/solverai/companion/internal/embedding"
	"github.com/solverai/companion/internal/llm"
	"github.com/solverai/companion/internal/rag"
	"github.com/solverai/companion/internal/repository"
	"github.com/solverai/companion/internal/service"
)

var configPath = flag.String("config", "", "Path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	conversationRepo := repository.NewConversationRepository(db)
	documentRepo := repository.NewDocumentRepository(db)

	embedder := embedding.NewOllamaEmbedder(embedding.OllamaConfig{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	})

	chunker := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	retriever, err := rag.NewRetriever(chunker, embedder, cfg.RAG.IndexPath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize retriever", zap.Error(err))
	}

	primary := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.LLM.OllamaBaseURL,
		Model:   cfg.LLM.OllamaModel,
	})
	var fallback *llm.OpenAIClient
	if cfg.LLM.OpenAIAPIKey != "" {
		fallback = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: cfg.LLM.OpenAIAPIKey,
			Model:  cfg.LLM.OpenAIModel,
		})
	}
	orchestrator := llm.NewOrchestrator(primary, fallback, cfg.LLM.MockMode, logger)

	chatService := service.NewChatService(
		conversationRepo,
		retriever,
		orchestrator,
		cfg.RAG.Enabled,
		cfg.RAG.TopK,
		logger,
	)
	ingestService := service.NewIngestService(
		documentRepo,
		retriever,
		cfg.Storage.Documents,
		logger,
	)

	router := api.SetupRouter(chatService, ingestService, orchestrator, api.RouterConfig{
		AllowOrigins: cfg.Server.AllowOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streamed generations run long
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting AI Companion server",
			zap.String("address", cfg.Address()),
			zap.Bool("rag_enabled", cfg.RAG.Enabled),
			zap.Bool("mock_mode", cfg.LLM.MockMode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
