package feed

import "context"

// Store is the storage contract the feed core consumes. It models a
// partitioned, range-queryable table keyed by (user_id, sort_key) with a
// secondary index keyed by (post_id, user_id).
//
// Implementations must hide items whose ExpiresAt has passed from
// QueryPartition results; physical removal of expired items is left to the
// store's own TTL sweep.
type Store interface {
	// PutItem writes item unless an unexpired item with the same key already
	// exists. created is false in that case.
	PutItem(ctx context.Context, item FeedItem) (created bool, err error)

	// BatchDeleteItems deletes up to one store batch of keys. Keys the store
	// could not process in this call are returned in Unprocessed.
	BatchDeleteItems(ctx context.Context, keys []ItemKey) (BatchDeleteOutput, error)

	// QueryPartition reads one page of a user's partition.
	QueryPartition(ctx context.Context, userID string, opts QueryOptions) (QueryOutput, error)

	// QueryIndex returns the main-table keys of every item whose index
	// partition key equals partitionKey.
	QueryIndex(ctx context.Context, indexName, partitionKey string) ([]ItemKey, error)
}

// QueryOptions controls a partition query.
type QueryOptions struct {
	Limit             int
	ExclusiveStartKey *ItemKey
	ScanForward       bool
	// Projection restricts returned attributes; empty means all.
	Projection []string
}

// QueryOutput is one page of a partition query. LastEvaluatedKey is nil when
// the partition has been read to the end.
type QueryOutput struct {
	Items            []FeedItem
	LastEvaluatedKey *ItemKey
}

// BatchDeleteOutput splits a batch into confirmed and unprocessed keys.
type BatchDeleteOutput struct {
	Deleted     []ItemKey
	Unprocessed []ItemKey
}

// Attribute names shared with store implementations.
const (
	AttrUserID    = "user_id"
	AttrSortKey   = "sort_key"
	AttrPostID    = "post_id"
	AttrAuthorID  = "author_id"
	AttrExpiresAt = "expires_at"
)

// Recorder receives operation summaries, typically for metrics.
type Recorder interface {
	FanOutCompleted(ctx context.Context, res FanOutResult)
	CleanupCompleted(ctx context.Context, res CleanupResult)
}

type nopRecorder struct{}

func (nopRecorder) FanOutCompleted(context.Context, FanOutResult) {}
func (nopRecorder) CleanupCompleted(context.Context, CleanupResult) {}
