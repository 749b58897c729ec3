package feed

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Reader serves paginated reads of a user's materialized feed.
type Reader struct {
	store Store
	cfg   Config
	deps
}

// NewReader creates a Reader. cfg is assumed valid; see Config.Validate.
func NewReader(store Store, cfg Config, opts ...Option) *Reader {
	return &Reader{store: store, cfg: cfg, deps: newDeps(opts)}
}

// GetFeed returns up to limit items of userID's feed, newest first, starting
// strictly after cursor. A zero limit selects the default page size and limits
// above the maximum are clamped. Reads may lag recent writes.
func (r *Reader) GetFeed(ctx context.Context, userID string, limit int, cursor *Cursor) (Page, error) {
	if err := validateID("user id", userID); err != nil {
		return Page{}, err
	}
	switch {
	case limit < 0:
		return Page{}, invalidf("limit must not be negative, got %d", limit)
	case limit == 0:
		limit = r.cfg.DefaultPageSize
	case limit > r.cfg.MaxPageSize:
		limit = r.cfg.MaxPageSize
	}

	var start *ItemKey
	if cursor != nil {
		sk, err := cursor.sortKey()
		if err != nil {
			return Page{}, err
		}
		start = &ItemKey{UserID: userID, SortKey: sk}
	}

	// Ask for one item past the page so HasMore is exact. The store may return
	// short pages when expired items are filtered out, so keep reading until the
	// page is full or the partition is exhausted.
	items := make([]FeedItem, 0, limit+1)
	for {
		out, err := r.query(ctx, userID, QueryOptions{
			Limit:             limit + 1 - len(items),
			ExclusiveStartKey: start,
			ScanForward:       false,
		})
		if err != nil {
			return Page{}, fmt.Errorf("query feed for %s: %w", userID, err)
		}
		items = append(items, out.Items...)
		if len(items) > limit || out.LastEvaluatedKey == nil {
			break
		}
		start = out.LastEvaluatedKey
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		next := NewCursor(page.Items[limit-1].SortKey)
		page.NextCursor = &next
	}

	r.logger.Debug("feed page served",
		zap.String("user_id", userID),
		zap.Int("items", len(page.Items)),
		zap.Bool("has_more", page.HasMore))
	return page, nil
}

func (r *Reader) query(ctx context.Context, userID string, opts QueryOptions) (QueryOutput, error) {
	callCtx, cancel := withCallTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.store.QueryPartition(callCtx, userID, opts)
}
