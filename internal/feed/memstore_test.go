package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store that mirrors the DynamoDB semantics the core
// relies on: conditional puts, expiry filtering on partition queries, Limit
// applied before the filter, and batch deletes that may leave keys unprocessed.
type memStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[ItemKey]FeedItem

	putErr       func(item FeedItem) error
	deleteHook   func(call int, keys []ItemKey) (unprocessed []ItemKey, err error)
	queryErr     error
	indexErr     error
	queryHook    func(call int) error
	indexHook    func(call int) error
	deleteCalls  int
	queryCalls   int
	indexQueries int
	maxInFlight  int
	inFlight     int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now, items: map[ItemKey]FeedItem{}}
}

func (m *memStore) PutItem(ctx context.Context, item FeedItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		if err := m.putErr(item); err != nil {
			return false, err
		}
	}
	if existing, ok := m.items[item.Key()]; ok && !existing.Expired(m.now()) {
		return false, nil
	}
	m.items[item.Key()] = item
	return true, nil
}

func (m *memStore) BatchDeleteItems(ctx context.Context, keys []ItemKey) (BatchDeleteOutput, error) {
	if len(keys) > MaxBatchSize {
		return BatchDeleteOutput{}, ErrBatchTooLarge
	}
	m.mu.Lock()
	m.deleteCalls++
	call := m.deleteCalls
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	hook := m.deleteHook
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	var unprocessed []ItemKey
	if hook != nil {
		var err error
		unprocessed, err = hook(call, keys)
		if err != nil {
			return BatchDeleteOutput{}, err
		}
	}
	skip := make(map[ItemKey]bool, len(unprocessed))
	for _, k := range unprocessed {
		skip[k] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out BatchDeleteOutput
	for _, k := range keys {
		if skip[k] {
			out.Unprocessed = append(out.Unprocessed, k)
			continue
		}
		delete(m.items, k)
		out.Deleted = append(out.Deleted, k)
	}
	return out, nil
}

func (m *memStore) QueryPartition(ctx context.Context, userID string, opts QueryOptions) (QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.queryErr != nil {
		return QueryOutput{}, m.queryErr
	}
	if m.queryHook != nil {
		if err := m.queryHook(m.queryCalls); err != nil {
			return QueryOutput{}, err
		}
	}

	var part []FeedItem
	for k, it := range m.items {
		if k.UserID == userID {
			part = append(part, it)
		}
	}
	sort.Slice(part, func(i, j int) bool {
		if opts.ScanForward {
			return part[i].SortKey < part[j].SortKey
		}
		return part[i].SortKey > part[j].SortKey
	})
	if opts.ExclusiveStartKey != nil {
		sk := opts.ExclusiveStartKey.SortKey
		idx := sort.Search(len(part), func(i int) bool {
			if opts.ScanForward {
				return part[i].SortKey > sk
			}
			return part[i].SortKey < sk
		})
		part = part[idx:]
	}

	var out QueryOutput
	evaluated := part
	if opts.Limit > 0 && len(part) > opts.Limit {
		evaluated = part[:opts.Limit]
		last := evaluated[len(evaluated)-1].Key()
		out.LastEvaluatedKey = &last
	}
	now := m.now()
	for _, it := range evaluated {
		if !it.Expired(now) {
			out.Items = append(out.Items, it)
		}
	}
	return out, nil
}

func (m *memStore) QueryIndex(ctx context.Context, indexName, partitionKey string) ([]ItemKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexQueries++
	if m.indexErr != nil {
		return nil, m.indexErr
	}
	if m.indexHook != nil {
		if err := m.indexHook(m.indexQueries); err != nil {
			return nil, err
		}
	}
	if indexName == "" {
		return nil, errors.New("index name required")
	}
	var keys []ItemKey
	for k, it := range m.items {
		if it.PostID == partitionKey {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].UserID < keys[j].UserID })
	return keys, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *memStore) has(userID, postID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, it := range m.items {
		if k.UserID == userID && it.PostID == postID {
			return true
		}
	}
	return false
}
