package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/imageclassify/internal/grpcclient"
	"github.com/example/imageclassify/internal/handlers"
	"github.com/example/imageclassify/internal/httpclient"
	"github.com/example/imageclassify/internal/imageprocessor"
	"github.com/example/imageclassify/internal/inference"
	"github.com/example/imageclassify/internal/logging"
	"github.com/example/imageclassify/internal/objectstore"
	"github.com/example/imageclassify/internal/repository"
	"github.com/example/imageclassify/internal/usecase"
	"github.com/example/imageclassify/internal/worker"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store := initStore(ctx, cfg, logger)

	backend, closeBackend := initBackend(ctx, cfg, logger)
	defer closeBackend()

	var repo usecase.JobRepository
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		jobRepo := repository.NewJobRepository(db, logger)
		if err := jobRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = jobRepo
	} else {
		logger.Info("DATABASE_DSN not set, job audit trail disabled")
	}

	runner := usecase.NewJobRunner(store, backend, repo, cfg.ScratchDir, logger)
	pool := worker.NewPool(runner.Run, worker.Options{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout,
		Logger:     logger,
	})
	pool.Start()

	uc := usecase.NewClassificationUseCase(store, pool, repo, logger)

	if cfg.GRPCListenAddr != "" {
		grpcServer := serveClassifier(cfg.GRPCListenAddr, backend, logger)
		defer grpcServer.GracefulStop()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(handlers.RequestLogger(logger), gin.Recovery())
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.RegisterRoutes(r, uc, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigin:  cfg.CORSOrigin,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("image classification API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.StoreBackend),
		zap.String("backend", cfg.Backend),
		zap.Int("workers", cfg.Workers),
	)
	serveErr := serveHTTPServer(server, 15*time.Second, logger)

	// Accepted jobs still write their results before the process exits.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.JobTimeout+5*time.Second)
	defer drainCancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		logger.Error("worker pool did not drain", zap.Error(err), zap.Int("pending", pool.Pending()))
	}

	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

func initStore(ctx context.Context, cfg Config, logger *zap.Logger) objectstore.Store {
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory object store, data is lost on restart")
		return objectstore.NewMemoryStore()
	case "file":
		store, err := objectstore.NewFileStore(cfg.FileStoreDir)
		if err != nil {
			logger.Fatal("failed to open file store", zap.Error(err), zap.String("dir", cfg.FileStoreDir))
		}
		return store
	default:
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		client := initRedis(redisCtx, cfg.RedisAddr, logger)
		return objectstore.NewRedisStore(client, objectstore.RedisOptions{
			Prefix: cfg.ObjectPrefix,
			TTL:    cfg.ResultTTL,
			Logger: logger,
		})
	}
}

func initBackend(ctx context.Context, cfg Config, logger *zap.Logger) (imageprocessor.Backend, func()) {
	labels := inference.DefaultLabels()

	switch cfg.Backend {
	case "http":
		client, err := httpclient.NewClassifier(httpclient.Options{
			URL:     cfg.DelegateURL,
			Timeout: cfg.JobTimeout,
			Labels:  labels,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("failed to configure delegate backend", zap.Error(err))
		}
		return client, func() {}
	case "grpc":
		client, conn, err := grpcclient.DialClassifier(ctx, cfg.GRPCAddr, labels, logger)
		if err != nil {
			logger.Fatal("failed to connect to classifier", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
		}
		return client, func() { _ = conn.Close() }
	default:
		engine, err := inference.LoadEngine(cfg.ModelPath)
		if err != nil {
			logger.Fatal("failed to load model", zap.Error(err), zap.String("path", cfg.ModelPath))
		}
		logger.Info("model loaded",
			zap.String("path", cfg.ModelPath),
			zap.String("input", engine.InputShape().String()),
			zap.Int("labels", len(engine.Labels())),
		)
		return engine, func() {}
	}
}

// serveClassifier exposes the configured backend over gRPC so other
// instances can delegate to this one.
func serveClassifier(addr string, backend imageprocessor.Backend, logger *zap.Logger) *grpc.Server {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.Error(err), zap.String("addr", addr))
	}
	server := grpc.NewServer()
	grpcclient.RegisterClassifierServer(server, backend, logger)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	logger.Info("classifier gRPC service listening", zap.String("addr", addr))
	return server
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
