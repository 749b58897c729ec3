package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-feed-fanout/internal/aws"
	"github.com/imrishuroy/go-feed-fanout/internal/config"
	"github.com/imrishuroy/go-feed-fanout/internal/dynamostore"
	"github.com/imrishuroy/go-feed-fanout/internal/feed"
	"github.com/imrishuroy/go-feed-fanout/internal/handlers"
	"github.com/imrishuroy/go-feed-fanout/internal/logging"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.AccessLog(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterFeedRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	opts := []feed.Option{feed.WithLogger(logger.Named("feed"))}
	if cfg.EnableMetrics {
		opts = append(opts, feed.WithRecorder(aws.NewMetricsRecorder(clients.CloudWatch, cfg.MetricsNamespace, logger)))
	}
	svc, err := feed.NewService(dynamostore.NewStore(clients.DynamoDB, cfg.FeedTable), cfg.Feed, opts...)
	if err != nil {
		logger.Fatal("failed to build feed service", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := setupRouter(handlers.HandlerConfig{
		Service: svc,
		Logger:  logger.Named("http"),
	})

	// RUN_LOCAL=true serves HTTP directly for development.
	if cfg.RunLocal {
		logger.Info("running local server", zap.String("addr", cfg.ServerAddress))
		if err := r.Run(cfg.ServerAddress); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
