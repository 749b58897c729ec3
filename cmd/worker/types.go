package main

import (
	"context"

	"github.com/imrishuroy/go-feed-fanout/internal/aws"
	"github.com/imrishuroy/go-feed-fanout/internal/feed"
	"github.com/imrishuroy/go-feed-fanout/internal/idempotency"
)

// FeedService is the part of the feed core the worker drives.
type FeedService interface {
	FanOut(ctx context.Context, post feed.Post, audience []string) (feed.FanOutResult, error)
	DeleteByPost(ctx context.Context, postID string) (feed.CleanupResult, error)
	DeleteByAuthorForUser(ctx context.Context, userID, authorID string) (feed.CleanupResult, error)
	ClearFeed(ctx context.Context, userID string) (feed.CleanupResult, error)
}

// Ledger tracks processed events across SQS redeliveries.
type Ledger interface {
	Begin(ctx context.Context, eventID, eventType string) (*idempotency.EventRecord, bool, error)
	MarkDone(ctx context.Context, eventID, result string) error
	MarkFailed(ctx context.Context, eventID, note string) error
}

// EventPublisher sends follow-up events, e.g. fan-out reconciliation.
type EventPublisher interface {
	SendEvent(ctx context.Context, body []byte, attributes map[string]string) error
}

var (
	_ FeedService    = (*feed.Service)(nil)
	_ Ledger         = (*idempotency.Store)(nil)
	_ EventPublisher = (*aws.Publisher)(nil)
)
