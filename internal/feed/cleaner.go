package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// partitionScanPage is the page size used when walking a whole partition.
const partitionScanPage = 100

// Cleaner removes feed items explicitly, ahead of TTL expiry. Every mode is
// idempotent: running it again after a partial result finishes the job.
type Cleaner struct {
	store Store
	cfg   Config
	deps
}

// NewCleaner creates a Cleaner. cfg is assumed valid; see Config.Validate.
func NewCleaner(store Store, cfg Config, opts ...Option) *Cleaner {
	return &Cleaner{store: store, cfg: cfg, deps: newDeps(opts)}
}

// DeleteByPost removes postID from every feed it was fanned out to. Matching
// items are found through the by-post index, so the cost is proportional to
// the post's audience rather than to the table.
//
// The result is always populated. A non-nil error means a hard store failure
// or cancellation; exhausted retries are reported as a partial result only.
func (c *Cleaner) DeleteByPost(ctx context.Context, postID string) (CleanupResult, error) {
	res := CleanupResult{Operation: OpDeleteByPost, Status: StatusDone}
	if err := validateID("post id", postID); err != nil {
		return res, err
	}

	var keys []ItemKey
	complete, err := c.retryRead(ctx, "post index", func(callCtx context.Context) error {
		var err error
		keys, err = c.store.QueryIndex(callCtx, c.cfg.PostIndexName, postID)
		return err
	})
	if err != nil {
		res.Status = StatusPartial
		return res, fmt.Errorf("look up feed items for post %s: %w", postID, err)
	}
	if !complete {
		res.Status = StatusPartial
	}
	return c.deleteKeys(ctx, res, keys, zap.String("post_id", postID))
}

// DeleteByAuthorForUser removes authorID's posts from userID's feed only,
// e.g. after userID unfollows authorID. Other users' feeds are untouched.
func (c *Cleaner) DeleteByAuthorForUser(ctx context.Context, userID, authorID string) (CleanupResult, error) {
	res := CleanupResult{Operation: OpDeleteByAuthorForUser, Status: StatusDone}
	if err := validateID("user id", userID); err != nil {
		return res, err
	}
	if err := validateID("author id", authorID); err != nil {
		return res, err
	}

	// One user's partition is bounded, so filter in process instead of
	// maintaining an author index.
	keys, complete, err := c.collectPartition(ctx, userID, func(it FeedItem) bool {
		return it.AuthorID == authorID
	})
	if err != nil {
		res.Status = StatusPartial
		return res, fmt.Errorf("scan feed of %s: %w", userID, err)
	}
	if !complete {
		res.Status = StatusPartial
	}
	return c.deleteKeys(ctx, res, keys,
		zap.String("user_id", userID),
		zap.String("author_id", authorID))
}

// ClearFeed removes every item from userID's feed, e.g. on account deletion.
func (c *Cleaner) ClearFeed(ctx context.Context, userID string) (CleanupResult, error) {
	res := CleanupResult{Operation: OpClearFeed, Status: StatusDone}
	if err := validateID("user id", userID); err != nil {
		return res, err
	}

	keys, complete, err := c.collectPartition(ctx, userID, nil)
	if err != nil {
		res.Status = StatusPartial
		return res, fmt.Errorf("scan feed of %s: %w", userID, err)
	}
	if !complete {
		res.Status = StatusPartial
	}
	return c.deleteKeys(ctx, res, keys, zap.String("user_id", userID))
}

// collectPartition walks userID's partition and returns the keys of items
// accepted by match (all items when match is nil). complete is false when a
// page could not be read within the retry budget; the keys collected up to
// that page are still returned.
func (c *Cleaner) collectPartition(ctx context.Context, userID string, match func(FeedItem) bool) ([]ItemKey, bool, error) {
	var keys []ItemKey
	var start *ItemKey
	for {
		var out QueryOutput
		ok, err := c.retryRead(ctx, "partition scan", func(callCtx context.Context) error {
			var err error
			out, err = c.store.QueryPartition(callCtx, userID, QueryOptions{
				Limit:             partitionScanPage,
				ExclusiveStartKey: start,
				ScanForward:       true,
				Projection:        []string{AttrUserID, AttrSortKey, AttrAuthorID},
			})
			return err
		})
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return keys, false, nil
		}
		for _, it := range out.Items {
			if match == nil || match(it) {
				keys = append(keys, it.Key())
			}
		}
		if out.LastEvaluatedKey == nil {
			return keys, true, nil
		}
		start = out.LastEvaluatedKey
	}
}

// retryRead runs one store lookup under the delete backoff policy. It reports
// false with a nil error once transient failures outlast the attempts, and
// returns ctx.Err() if ctx ends during a backoff wait.
func (c *Cleaner) retryRead(ctx context.Context, lookup string, read func(context.Context) error) (bool, error) {
	policy := c.cfg.Delete.Backoff
	for attempt := 1; ; attempt++ {
		callCtx, cancel := withCallTimeout(ctx, c.cfg.CallTimeout)
		err := read(callCtx)
		cancel()
		if err == nil {
			return true, nil
		}
		if !isRetryable(ctx, err) {
			return false, err
		}
		c.logger.Warn("transient lookup failure",
			zap.String("lookup", lookup),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt >= policy.MaxAttempts {
			c.logger.Warn("lookup retries exhausted",
				zap.String("lookup", lookup),
				zap.Int("attempts", attempt))
			return false, nil
		}
		if !sleep(ctx, policy.Delay(attempt)) {
			return false, ctx.Err()
		}
	}
}

// deleteKeys runs the batched delete with bounded concurrency and fills in
// res. Cancellation is checked before each batch is launched; a batch already
// in flight finishes its current store call.
func (c *Cleaner) deleteKeys(ctx context.Context, res CleanupResult, keys []ItemKey, fields ...zap.Field) (CleanupResult, error) {
	res.Matched = len(keys)
	if len(keys) == 0 {
		c.finish(ctx, res, fields)
		return res, nil
	}

	batches := chunkKeys(keys, c.cfg.Delete.BatchSize)

	var (
		mu        sync.Mutex
		deleted   int
		remaining []ItemKey
	)
	record := func(n int, left []ItemKey) {
		mu.Lock()
		deleted += n
		remaining = append(remaining, left...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Delete.Concurrency)

	for i, batch := range batches {
		if gctx.Err() != nil {
			for _, rest := range batches[i:] {
				record(0, rest)
			}
			break
		}
		g.Go(func() error {
			n, left, err := c.deleteBatch(gctx, batch)
			record(n, left)
			return err
		})
	}
	err := g.Wait()

	res.DeletedCount = deleted
	res.Remaining = remaining
	if len(remaining) > 0 {
		res.Status = StatusPartial
	}

	switch {
	case err != nil:
		res.Status = StatusPartial
		err = fmt.Errorf("batch delete: %w", err)
	case ctx.Err() != nil:
		res.Status = StatusPartial
		err = ctx.Err()
	}
	c.finish(ctx, res, fields)
	return res, err
}

// deleteBatch deletes one batch, retrying only the unprocessed subset with
// backoff. It returns the confirmed count and whatever is left once attempts
// run out. Only non-transient store errors are returned.
func (c *Cleaner) deleteBatch(ctx context.Context, batch []ItemKey) (int, []ItemKey, error) {
	policy := c.cfg.Delete.Backoff
	pending := batch
	deleted := 0

	for attempt := 1; ; attempt++ {
		out, err := c.batchDelete(ctx, pending)
		switch {
		case err == nil:
			deleted += len(out.Deleted)
			pending = out.Unprocessed
		case isRetryable(ctx, err):
			c.logger.Warn("transient batch delete failure",
				zap.Int("attempt", attempt),
				zap.Int("keys", len(pending)),
				zap.Error(err))
		default:
			return deleted, pending, err
		}

		if len(pending) == 0 {
			return deleted, nil, nil
		}
		if attempt >= policy.MaxAttempts {
			c.logger.Warn("batch delete retries exhausted",
				zap.Int("attempts", attempt),
				zap.Int("unprocessed", len(pending)))
			return deleted, pending, nil
		}
		if !sleep(ctx, policy.Delay(attempt)) {
			return deleted, pending, nil
		}
	}
}

// batchDelete issues one store call. The call is detached from ctx
// cancellation so a batch is never abandoned mid-flight; CallTimeout still
// bounds it.
func (c *Cleaner) batchDelete(ctx context.Context, keys []ItemKey) (BatchDeleteOutput, error) {
	callCtx, cancel := withCallTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
	defer cancel()
	return c.store.BatchDeleteItems(callCtx, keys)
}

func (c *Cleaner) finish(ctx context.Context, res CleanupResult, fields []zap.Field) {
	fields = append(fields,
		zap.String("operation", string(res.Operation)),
		zap.String("status", string(res.Status)),
		zap.Int("matched", res.Matched),
		zap.Int("deleted", res.DeletedCount),
		zap.Int("remaining", len(res.Remaining)))
	if res.Partial() {
		c.logger.Warn("feed cleanup incomplete", fields...)
	} else {
		c.logger.Info("feed cleanup completed", fields...)
	}
	c.recorder.CleanupCompleted(ctx, res)
}

func chunkKeys(keys []ItemKey, size int) [][]ItemKey {
	chunks := make([][]ItemKey, 0, (len(keys)+size-1)/size)
	for size < len(keys) {
		keys, chunks = keys[size:], append(chunks, keys[:size:size])
	}
	return append(chunks, keys)
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
