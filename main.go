package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchatgo/internal/api"
	"docchatgo/internal/auth"
	"docchatgo/internal/config"
	"docchatgo/internal/index"
	"docchatgo/internal/knowledge"
	"docchatgo/internal/logging"
	"docchatgo/internal/redis"
	"docchatgo/internal/service/ai"
	"docchatgo/internal/session"
	"docchatgo/internal/storage"
	"docchatgo/internal/table"
	"docchatgo/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("DOCCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.BasicConfig.LogFile, cfg.BasicConfig.Production)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := cfg.BasicConfig.Database
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	// Create necessary tables: knowledge_chunks, usage_stats
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	var (
		store knowledge.Store = knowledge.NewSQLStore(db)
		usage knowledge.Usage = knowledge.NewSQLUsage(db)
	)
	if vs := cfg.VectorStore; vs.DSN != "" {
		pool, err := knowledge.OpenPG(ctx, knowledge.PGConfig{
			DSN:        vs.DSN,
			Table:      vs.Table,
			StatsTable: vs.StatsTable,
			Dimensions: vs.Dimensions,
		})
		if err != nil {
			logger.Fatal("open vector store", zap.Error(err))
		}
		defer pool.Close()
		store = knowledge.NewPGStore(pool, vs.Table)
		usage = knowledge.NewPGUsage(pool, vs.StatsTable)
		logger.Info("knowledge base on postgres", zap.String("table", vs.Table))
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	sessionTTL := time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute
	var mirror *session.Mirror
	if rdb != nil {
		mirror, err = session.NewMirror(rdb, sessionTTL, logger)
		if err != nil {
			logger.Fatal("init session mirror", zap.Error(err))
		}
	}

	factory := ai.NewModelFactory(cfg)
	geminiModel := ""
	if cfg.ProviderKey(ai.ProviderGemini) != "" {
		geminiModel = cfg.Providers[ai.ProviderGemini].Model
	}
	policy := session.NewPolicy(cfg.IsSelfHosted(), cfg.ProviderKey(ai.ProviderClaude) != "", geminiModel)
	sessions := session.NewStore(policy, sessionTTL, mirror, logger)

	workers := worker.NewManager(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}, logger)
	defer workers.Close()
	sessions.OnEvict(workers.CancelSession)
	sessions.StartCleaner(ctx, time.Duration(cfg.BasicConfig.SessionCleanEvery)*time.Minute)
	if mirror != nil {
		if err := sessions.Listen(ctx); err != nil {
			logger.Fatal("subscribe session invalidations", zap.Error(err))
		}
	}

	extractor, err := knowledge.NewExtractor(ctx, cfg.BasicConfig.UploadDir, logger)
	if err != nil {
		logger.Fatal("init extractor", zap.Error(err))
	}
	batch := cfg.Embedding.BatchSize
	handlers := api.NewHandler(api.Deps{
		Sessions:  sessions,
		Workers:   workers,
		Auth:      auth.NewService(sessionTTL, cfg.BasicConfig.Production),
		Provider:  factory,
		Builder:   index.NewBuilder(cfg.BasicConfig.CacheDir, batch, logger),
		Extractor: extractor,
		Brain:     knowledge.NewBrain(store, usage, extractor, factory, batch, cfg.BasicConfig.UsageLimit, logger),
		Asker:     table.NewAsker(logger),
		Logger:    logger,
	})

	if cfg.BasicConfig.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	// document names in /api/brain/documents/:name may contain escaped slashes
	router.UseRawPath = true
	router.Use(gin.Recovery(), logging.GinMiddleware(logger, auth.SessionContextKey))
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", srv.Addr), zap.Bool("self_hosted", cfg.IsSelfHosted()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
