package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-feed-fanout/internal/aws"
	"github.com/imrishuroy/go-feed-fanout/internal/config"
	"github.com/imrishuroy/go-feed-fanout/internal/dynamostore"
	"github.com/imrishuroy/go-feed-fanout/internal/feed"
	"github.com/imrishuroy/go-feed-fanout/internal/idempotency"
	"github.com/imrishuroy/go-feed-fanout/internal/logging"
)

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

	var publisher EventPublisher
	if cfg.EventsQueueURL != "" {
		publisher = aws.NewPublisher(clients.SQS, cfg.EventsQueueURL)
	}
	p := NewProcessor(svc,
		idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		publisher,
		logger.Named("worker"))

	// RUN_LOCAL=true processes a single message from LOCAL_SQS_BODY and exits.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"id":"local-event-1","type":"post.deleted","occurred_at":"` +
				time.Now().UTC().Format(time.RFC3339) + `","payload":{"post_id":"local-post-1"}}`
		}
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
