package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bankchat/internal/ai"
	"bankchat/internal/app"
	"bankchat/internal/cache"
	"bankchat/internal/chunker"
	"bankchat/internal/client"
	"bankchat/internal/config"
	"bankchat/internal/extract"
	"bankchat/internal/ingest"
	"bankchat/internal/memory"
	"bankchat/internal/model"
	mysqlClient "bankchat/internal/platform/mysql"
	rabbitmqClient "bankchat/internal/platform/rabbitmq"
	redisClient "bankchat/internal/platform/redis"
	"bankchat/internal/repository"
	"bankchat/internal/retrieval"
	"bankchat/internal/tools"
	"bankchat/internal/vectorstore"
	memorystore "bankchat/internal/vectorstore/memory"
	milvusstore "bankchat/internal/vectorstore/milvus"
	"bankchat/internal/worker"
)

// App holds every long-lived resource and service of the running process.
type App struct {
	Config  *config.Config
	MySQL   *gorm.DB
	Redis   *redis.Client
	MQConn  *amqp.Connection
	Vectors vectorstore.Store

	ChatService *app.ChatService
	Pipeline    *ingest.Pipeline

	workerCancel context.CancelFunc
	StartedAt    time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Document{}, &model.Chunk{}, &model.Session{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	documentRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	sessionRepo := repository.NewSessionRepository(mysqlDB)
	messageRepo := repository.NewMessageRepository(mysqlDB)

	llmClient := ai.NewOpenAICompatibleClient()
	embedCfg := ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	}
	embedder := ai.NewEmbedder(llmClient, embedCfg)

	analyzer := extract.NewLayoutAnalyzer(cfg.DocIntel.Endpoint, cfg.DocIntel.APIKey, cfg.DocIntel.Enabled)
	extractor := extract.NewService(analyzer)

	splitter := chunker.New(chunker.Config{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		MinChunkSize: cfg.RAG.MinChunkSize,
		MaxChunkSize: cfg.RAG.MaxChunkSize,
	})

	reconciler := rabbitmqClient.NewReconcilePublisher(mqConn, cfg.RabbitMQ.ReconcileQueue)
	pipeline := ingest.NewPipeline(documentRepo, chunkRepo, extractor, splitter, embedder, store, reconciler, cfg.RAG.DocumentsPath)

	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	memoryManager := memory.NewManager(sessionRepo, messageRepo, historyCache, cfg.Memory.WindowSize)

	engine := retrieval.NewEngine(store, embedder, retrieval.Config{
		TopK:                cfg.RAG.TopK,
		SimilarityThreshold: cfg.RAG.SimilarityThreshold,
	})

	dispatcher := tools.NewDispatcher()
	tools.RegisterBankTools(
		dispatcher,
		client.NewBeneficiaryClient(cfg.Services.BeneficiaryBaseURL),
		client.NewTransferClient(cfg.Services.TransferBaseURL),
	)

	chatCfg := ai.ChatConfig{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
	}
	chatService := app.NewChatService(llmClient, chatCfg, memoryManager, engine, dispatcher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	reconcileWorker := worker.NewReconcileWorker(mqConn, cfg.RabbitMQ.ReconcileQueue, store, chunkRepo)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil {
			logrus.WithError(err).Error("reconcile worker exited")
		}
	}()

	if cfg.RAG.AutoIngest {
		if err := pipeline.IngestDirectory(ctx, cfg.RAG.DocumentsPath); err != nil {
			logrus.WithError(err).Warn("startup document ingestion incomplete")
		}
	}

	return &App{
		Config:       cfg,
		MySQL:        mysqlDB,
		Redis:        redisCli,
		MQConn:       mqConn,
		Vectors:      store,
		ChatService:  chatService,
		Pipeline:     pipeline,
		workerCancel: workerCancel,
		StartedAt:    time.Now(),
	}, nil
}

func newVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "milvus":
		return milvusstore.NewStore(ctx, cfg.VectorStore.MilvusAddress, cfg.VectorStore.MilvusCollection, cfg.VectorStore.Dimension)
	case "", "memory":
		return memorystore.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.workerCancel != nil {
		a.workerCancel()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
