package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/decksense/presentation-backend/config"
	"github.com/decksense/presentation-backend/pkg/ai/gemini"
	"github.com/decksense/presentation-backend/pkg/ai/openai"
	"github.com/decksense/presentation-backend/pkg/datamodel"
	"github.com/decksense/presentation-backend/pkg/extractor"
	"github.com/decksense/presentation-backend/pkg/handler"
	"github.com/decksense/presentation-backend/pkg/knowledgebase"
	"github.com/decksense/presentation-backend/pkg/repository"
	"github.com/decksense/presentation-backend/pkg/service"

	database "github.com/decksense/presentation-backend/pkg/db"
	logx "github.com/decksense/presentation-backend/pkg/logger"
)

const gracefulShutdownTimeout = 60 * time.Second

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, _ := logx.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	cfg := config.Config

	// Redis backs both the job queue and the expiring task status store.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	db := database.GetConnection(&cfg.Database)
	defer database.Close(db)
	if err := db.AutoMigrate(&datamodel.ProcessingRecord{}); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	taskStore := repository.NewTaskStore(redisClient, cfg.Processing.TaskTTL)
	queue := repository.NewJobQueue(redisClient)
	records := repository.NewRecordStore(db)

	// Object storage is optional: without it, jobs can only be consumed by a
	// worker sharing the upload directory.
	var objectStorage repository.ObjectStorage
	if cfg.Minio.Host != "" {
		storage, err := repository.NewMinioObjectStorage(ctx, cfg.Minio, logger)
		if err != nil {
			logger.Warn("Object storage unavailable, jobs will carry local paths only", zap.Error(err))
		} else {
			objectStorage = storage
		}
	}

	embedder, err := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
	if err != nil {
		logger.Fatal("Failed to initialize embedding client", zap.Error(err))
	}

	vectorDB, closeVectorDB, err := repository.NewVectorDatabase(ctx, cfg.Milvus.Host, cfg.Milvus.Port)
	if err != nil {
		logger.Fatal("Failed to connect to vector database", zap.Error(err))
	}
	defer func() {
		if err := closeVectorDB(); err != nil {
			logger.Error("Failed to close vector database connection", zap.Error(err))
		}
	}()
	if err := vectorDB.EnsureCollection(ctx, cfg.Milvus.CollectionName, embedder.Dimensionality()); err != nil {
		logger.Fatal("Failed to ensure vector collection", zap.Error(err))
	}

	analyzer, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		logger.Fatal("Failed to initialize analysis client", zap.Error(err))
	}
	logger.Info("Analysis client initialized", zap.String("client", analyzer.Name()))

	var publisher knowledgebase.Publisher
	if cfg.KnowledgeBase.URL != "" && cfg.KnowledgeBase.APIKey != "" {
		publisher = knowledgebase.NewClient(ctx, cfg.KnowledgeBase.URL, cfg.KnowledgeBase.APIKey, cfg.KnowledgeBase.DefaultDatasetID)
		logger.Info("Knowledge base publishing enabled", zap.String("url", cfg.KnowledgeBase.URL))
	} else {
		logger.Info("Knowledge base not configured, publishing disabled")
	}

	slideExtractor, err := extractor.NewExtractor(cfg.Upload.TempDir, cfg.Processing.ConvertTimeout)
	if err != nil {
		logger.Fatal("Failed to initialize slide extractor", zap.Error(err))
	}

	processor := service.NewProcessor(service.ProcessorConfig{
		Extractor:      slideExtractor,
		Analyzer:       analyzer,
		Embedder:       embedder,
		Records:        records,
		Tasks:          taskStore,
		Vectors:        vectorDB,
		Storage:        objectStorage,
		Publisher:      publisher,
		CollectionName: cfg.Milvus.CollectionName,
		SlidesPerBatch: cfg.Processing.SlidesPerBatch,
		OverlapSlides:  cfg.Processing.OverlapSlides,
	})

	// The API process also runs one queue consumer so a single-binary
	// deployment works out of the box. Scale out with cmd/worker replicas.
	worker := service.NewWorker(queue, processor)
	worker.Start(ctx)

	svc := service.NewService(queue, taskStore, records, vectorDB, embedder, objectStorage, processor, cfg.Milvus.CollectionName)

	server := handler.NewServer(svc, cfg.Upload)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Start(ctx, addr); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	quitSig := make(chan os.Signal, 1)
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)
	<-quitSig

	logger.Info("Shutdown signal received, draining...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()

	server.Stop(shutdownCtx)
	worker.Stop()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Fallback jobs did not finish before the deadline", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
