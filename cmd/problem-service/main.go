package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ojtrust/internal/common/cache"
	"ojtrust/internal/common/db"
	commonmw "ojtrust/internal/common/http/middleware"
	"ojtrust/internal/common/mq"
	contestcontroller "ojtrust/internal/contest/controller"
	contestrepo "ojtrust/internal/contest/repository"
	contestrpc "ojtrust/internal/contest/rpc"
	contestservice "ojtrust/internal/contest/service"
	"ojtrust/internal/problem/controller"
	"ojtrust/internal/problem/repository"
	"ojtrust/internal/problem/service"
	"ojtrust/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const defaultConfigPath = "configs/problem-service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "problem service exited", zap.Error(err))
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	moderationCfg, quota, err := appCfg.Moderation.build()
	if err != nil {
		return err
	}

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	problemRepo := repository.NewProblemRepository(mysqlDB)
	voteRepo := repository.NewVoteRepository(mysqlDB)
	rankBoard := repository.NewRankBoard(redisCache)

	var (
		queue     *mq.KafkaQueue
		publisher service.EventPublisher
	)
	if appCfg.Messaging.IsEnabled() {
		queue, err = mq.NewKafkaQueue(appCfg.Messaging.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka: %w", err)
		}
		defer func() {
			_ = queue.Close()
		}()
		publisher = service.NewLifecyclePublisher(queue, appCfg.Messaging.LifecycleTopic)
	}

	contestRepo := contestrepo.NewCachedContestRepository(
		contestrepo.NewContestRepository(mysqlDB),
		redisCache,
		appCfg.ContestCache.TTL,
		appCfg.ContestCache.EmptyTTL,
	)
	contestService := contestservice.NewContestService(contestRepo)

	moderationService := service.NewModerationService(mysqlDB, problemRepo, voteRepo, rankBoard, publisher, moderationCfg)
	problemService := service.NewProblemService(mysqlDB, problemRepo, rankBoard, publisher, contestService, quota)

	if queue != nil {
		consumer := service.NewSubmissionConsumer(moderationService)
		if err := consumer.Subscribe(ctx, queue, appCfg.Messaging.SubmissionTopic, appCfg.Messaging.toSubscribeOptions()); err != nil {
			return fmt.Errorf("subscribe submission results: %w", err)
		}
		if err := queue.Start(); err != nil {
			return fmt.Errorf("start kafka consumers: %w", err)
		}
	}

	authenticator := commonmw.NewAuthenticator(appCfg.JWT.Secret, appCfg.JWT.Issuer)
	problemController := controller.NewProblemController(problemService, moderationService).WithRateLimits(
		commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.RedisTimeout),
		commonmw.RateLimitPolicy{Max: appCfg.RateLimit.VoteMax, Window: appCfg.RateLimit.Window},
		commonmw.RateLimitPolicy{Max: appCfg.RateLimit.CreateMax, Window: appCfg.RateLimit.Window},
	)
	httpServer, err := buildHTTPServer(appCfg.Server, authenticator,
		problemController,
		contestcontroller.NewContestController(contestService),
	)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(contestrpc.ServerOptions()...)
	contestrpc.RegisterAdmissionService(grpcServer, contestService)

	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("init grpc listener: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "problem http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info(ctx, "admission grpc server started", zap.String("addr", appCfg.GRPC.Addr))
		errCh <- grpcServer.Serve(grpcListener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if queue != nil {
		_ = queue.Stop()
	}
	grpcServer.GracefulStop()
	return nil
}

func buildHTTPServer(
	cfg ServerConfig,
	auth *commonmw.Authenticator,
	problems *controller.ProblemController,
	contests *contestcontroller.ContestController,
) (*http.Server, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	problems.RegisterRoutes(router, auth)
	contests.RegisterRoutes(router, auth)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
