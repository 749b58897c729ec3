package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	feedevents "github.com/imrishuroy/go-feed-fanout/internal/events"
	"github.com/imrishuroy/go-feed-fanout/internal/feed"
	"github.com/imrishuroy/go-feed-fanout/internal/validation"
)

// errIncomplete marks an event whose feed operation left work behind. The
// message is redelivered; every operation is safe to repeat.
var errIncomplete = errors.New("feed operation incomplete")

// Processor consumes feed events from SQS.
type Processor struct {
	svc       FeedService
	ledger    Ledger
	publisher EventPublisher // nil disables reconciliation re-publishing
	v         *validatorv10.Validate
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewProcessor wires a Processor.
func NewProcessor(svc FeedService, ledger Ledger, publisher EventPublisher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		svc:       svc,
		ledger:    ledger,
		publisher: publisher,
		v:         validation.New(),
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Handle processes an SQS batch and reports the messages that should be
// redelivered. Malformed messages are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	p.logger.Debug("received SQS batch", zap.Int("records", len(ev.Records)))

	for _, rec := range ev.Records {
		err := p.processMessage(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, feedevents.ErrMalformed), errors.Is(err, feed.ErrInvalidInput):
			p.logger.Warn("dropping unprocessable message",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
		default:
			p.logger.Error("event processing failed",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	env, ev, err := feedevents.Decode([]byte(rec.Body), p.v)
	if err != nil {
		return err
	}
	logger := p.logger.With(
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.String("message_id", rec.MessageId))

	prev, started, err := p.ledger.Begin(ctx, env.ID, string(env.Type))
	if err != nil {
		return fmt.Errorf("claim event %s: %w", env.ID, err)
	}
	if !started {
		logger.Info("event already processed")
		return nil
	}
	if prev != nil {
		logger.Info("retrying event", zap.Int("previous_attempts", prev.Attempts), zap.String("previous_status", prev.Status))
	}

	result, err := p.dispatch(ctx, ev)
	if err != nil {
		if markErr := p.ledger.MarkFailed(ctx, env.ID, err.Error()); markErr != nil {
			logger.Warn("mark event failed", zap.Error(markErr))
		}
		return fmt.Errorf("event %s: %w", env.ID, err)
	}

	summary, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := p.ledger.MarkDone(ctx, env.ID, string(summary)); err != nil {
		return fmt.Errorf("mark event %s done: %w", env.ID, err)
	}
	logger.Info("event processed")
	return nil
}

func (p *Processor) dispatch(ctx context.Context, ev feedevents.Event) (any, error) {
	switch e := ev.(type) {
	case feedevents.PostCreated:
		return p.fanOut(ctx, e)
	case feedevents.PostDeleted:
		res, err := p.svc.DeleteByPost(ctx, e.PostID)
		return res, cleanupErr(res, err)
	case feedevents.UserUnfollowed:
		res, err := p.svc.DeleteByAuthorForUser(ctx, e.UserID, e.AuthorID)
		return res, cleanupErr(res, err)
	case feedevents.UserDeleted:
		return p.userDeleted(ctx, e)
	default:
		return nil, fmt.Errorf("%w: unhandled event %T", feedevents.ErrMalformed, ev)
	}
}

// fanOut writes the post and re-publishes failed recipients once as a
// reconcile event. A reconcile event that fails again is left to SQS.
func (p *Processor) fanOut(ctx context.Context, e feedevents.PostCreated) (feed.FanOutResult, error) {
	res, err := p.svc.FanOut(ctx, e.Post.ToFeedPost(), e.Audience)
	if err != nil {
		return res, err
	}
	if len(res.Failed) == 0 {
		return res, nil
	}
	if e.Reconcile || p.publisher == nil {
		return res, fmt.Errorf("%d of %d recipients failed: %w", len(res.Failed), res.Requested, errIncomplete)
	}

	env, err := feedevents.NewEnvelope(feedevents.PostCreated{
		Post:      e.Post,
		Audience:  res.Failed,
		Reconcile: true,
	}, p.nowFunc())
	if err != nil {
		return res, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return res, fmt.Errorf("marshal reconcile event: %w", err)
	}
	if err := p.publisher.SendEvent(ctx, body, env.Attributes()); err != nil {
		return res, fmt.Errorf("publish reconcile event: %w", err)
	}
	p.logger.Info("published fan-out reconciliation",
		zap.String("post_id", res.PostID),
		zap.String("reconcile_event_id", env.ID),
		zap.Int("recipients", len(res.Failed)))
	return res, nil
}

// userDeleted clears the user's own feed and then removes the user's posts
// from each follower's feed.
func (p *Processor) userDeleted(ctx context.Context, e feedevents.UserDeleted) ([]feed.CleanupResult, error) {
	results := make([]feed.CleanupResult, 0, len(e.Followers)+1)

	res, err := p.svc.ClearFeed(ctx, e.UserID)
	results = append(results, res)
	if err != nil {
		return results, err
	}
	incomplete := res.Partial()

	for _, follower := range e.Followers {
		res, err := p.svc.DeleteByAuthorForUser(ctx, follower, e.UserID)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		incomplete = incomplete || res.Partial()
	}
	if incomplete {
		return results, errIncomplete
	}
	return results, nil
}

func cleanupErr(res feed.CleanupResult, err error) error {
	if err != nil {
		return err
	}
	if res.Partial() {
		return fmt.Errorf("%d items remaining: %w", len(res.Remaining), errIncomplete)
	}
	return nil
}
