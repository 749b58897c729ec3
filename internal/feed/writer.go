package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Writer materializes a new post into each audience member's feed.
type Writer struct {
	store Store
	cfg   Config
	deps
}

// NewWriter creates a Writer. cfg is assumed valid; see Config.Validate.
func NewWriter(store Store, cfg Config, opts ...Option) *Writer {
	return &Writer{store: store, cfg: cfg, deps: newDeps(opts)}
}

// FanOut writes one feed item per audience member. A failed recipient write
// never aborts the others: failures are listed in the result and the caller
// decides whether to reconcile. Writes are conditional on the key being
// absent, so repeating a fan-out does not duplicate items.
//
// If ctx is canceled, recipients not yet attempted are reported as failed and
// ctx.Err() is returned with the result.
func (w *Writer) FanOut(ctx context.Context, post Post, audience []string) (FanOutResult, error) {
	if err := validatePost(post); err != nil {
		return FanOutResult{}, err
	}
	recipients, err := dedupeAudience(audience)
	if err != nil {
		return FanOutResult{}, err
	}

	res := FanOutResult{PostID: post.ID, Requested: len(recipients)}
	now := w.nowFunc().UTC()
	template := newFeedItem(post, now, w.cfg.TTL)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.FanOutConcurrency)

	for i, recipient := range recipients {
		if ctx.Err() != nil {
			mu.Lock()
			res.Failed = append(res.Failed, recipients[i:]...)
			mu.Unlock()
			break
		}
		item := template
		item.UserID = recipient
		g.Go(func() error {
			created, err := w.put(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed = append(res.Failed, item.UserID)
				w.logger.Warn("fan-out write failed",
					zap.String("post_id", post.ID),
					zap.String("recipient", item.UserID),
					zap.Error(err))
			case created:
				res.Written++
			default:
				res.Existing++
			}
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("fan-out completed",
		zap.String("post_id", post.ID),
		zap.String("author_id", post.AuthorID),
		zap.Int("requested", res.Requested),
		zap.Int("written", res.Written),
		zap.Int("existing", res.Existing),
		zap.Int("failed", len(res.Failed)))
	w.recorder.FanOutCompleted(ctx, res)

	return res, ctx.Err()
}

func (w *Writer) put(ctx context.Context, item FeedItem) (bool, error) {
	callCtx, cancel := withCallTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()
	return w.store.PutItem(callCtx, item)
}

func newFeedItem(post Post, now time.Time, ttl time.Duration) FeedItem {
	return FeedItem{
		SortKey:       EncodeSortKey(post.CreatedAt, post.ID),
		PostID:        post.ID,
		AuthorID:      post.AuthorID,
		AuthorHandle:  post.AuthorHandle,
		Caption:       post.Caption,
		ImageURL:      post.ImageURL,
		LikesCount:    post.LikesCount,
		CommentsCount: post.CommentsCount,
		IsPublic:      post.IsPublic,
		CreatedAt:     post.CreatedAt.UTC(),
		FannedOutAt:   now,
		ExpiresAt:     now.Add(ttl).Unix(),
	}
}

func validatePost(p Post) error {
	if err := validateID("post id", p.ID); err != nil {
		return err
	}
	if err := validateID("author id", p.AuthorID); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() || p.CreatedAt.UnixMilli() < 0 {
		return invalidf("post created_at must be set and after the Unix epoch")
	}
	if p.LikesCount < 0 || p.CommentsCount < 0 {
		return invalidf("post counters must not be negative")
	}
	return nil
}

func dedupeAudience(audience []string) ([]string, error) {
	seen := make(map[string]struct{}, len(audience))
	out := make([]string, 0, len(audience))
	for _, id := range audience {
		if err := validateID("recipient id", id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
