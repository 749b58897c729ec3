package dynamostore

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-feed-fanout/internal/aws"
	"github.com/imrishuroy/go-feed-fanout/internal/feed"
)

// Store implements feed.Store on a single DynamoDB table keyed by
// (user_id, sort_key) with a post_id GSI and TTL on expires_at.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

var _ feed.Store = (*Store)(nil)

// NewStore returns a Store bound to tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// PutItem writes item unless a live copy already exists. An expired copy
// that DynamoDB's TTL sweep has not removed yet is overwritten.
func (s *Store) PutItem(ctx context.Context, item feed.FeedItem) (bool, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("marshal feed item: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name(feed.AttrSortKey)).
		Or(expression.Name(feed.AttrExpiresAt).LessThanEqual(expression.Value(s.nowFunc().Unix())))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, fmt.Errorf("build put condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, wrapErr("put item", err)
	}
	return true, nil
}

// BatchDeleteItems issues one BatchWriteItem of delete requests. Keys that
// come back in UnprocessedItems are reported, not retried.
func (s *Store) BatchDeleteItems(ctx context.Context, keys []feed.ItemKey) (feed.BatchDeleteOutput, error) {
	var out feed.BatchDeleteOutput
	if len(keys) == 0 {
		return out, nil
	}
	if len(keys) > feed.MaxBatchSize {
		return out, fmt.Errorf("%w: %d keys", feed.ErrBatchTooLarge, len(keys))
	}

	requests := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		av, err := attributevalue.MarshalMap(k)
		if err != nil {
			return out, fmt.Errorf("marshal key: %w", err)
		}
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: av},
		})
	}

	resp, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
	})
	if err != nil {
		return out, wrapErr("batch write item", err)
	}

	unprocessed := make(map[feed.ItemKey]bool)
	for _, wr := range resp.UnprocessedItems[s.tableName] {
		if wr.DeleteRequest == nil {
			continue
		}
		var k feed.ItemKey
		if err := attributevalue.UnmarshalMap(wr.DeleteRequest.Key, &k); err != nil {
			return out, fmt.Errorf("unmarshal unprocessed key: %w", err)
		}
		unprocessed[k] = true
	}
	for _, k := range keys {
		if unprocessed[k] {
			out.Unprocessed = append(out.Unprocessed, k)
		} else {
			out.Deleted = append(out.Deleted, k)
		}
	}
	return out, nil
}

// QueryPartition reads one page of userID's partition. Expired items are
// removed by a filter expression, so a page may hold fewer than opts.Limit
// items while LastEvaluatedKey is still set.
func (s *Store) QueryPartition(ctx context.Context, userID string, opts feed.QueryOptions) (feed.QueryOutput, error) {
	var out feed.QueryOutput

	keyCond := expression.Key(feed.AttrUserID).Equal(expression.Value(userID))
	filter := expression.Name(feed.AttrExpiresAt).GreaterThan(expression.Value(s.nowFunc().Unix()))
	builder := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter)
	if len(opts.Projection) > 0 {
		names := make([]expression.NameBuilder, len(opts.Projection))
		for i, p := range opts.Projection {
			names[i] = expression.Name(p)
		}
		builder = builder.WithProjection(expression.NamesList(names[0], names[1:]...))
	}
	expr, err := builder.Build()
	if err != nil {
		return out, fmt.Errorf("build partition query: %w", err)
	}

	input := &dyn.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          sdkaws.Bool(opts.ScanForward),
	}
	if opts.Limit > 0 {
		input.Limit = sdkaws.Int32(int32(opts.Limit))
	}
	if opts.ExclusiveStartKey != nil {
		start, err := attributevalue.MarshalMap(opts.ExclusiveStartKey)
		if err != nil {
			return out, fmt.Errorf("marshal start key: %w", err)
		}
		input.ExclusiveStartKey = start
	}

	resp, err := s.client.Query(ctx, input)
	if err != nil {
		return out, wrapErr("query partition", err)
	}
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &out.Items); err != nil {
		return out, fmt.Errorf("unmarshal feed items: %w", err)
	}
	if len(resp.LastEvaluatedKey) > 0 {
		var last feed.ItemKey
		if err := attributevalue.UnmarshalMap(resp.LastEvaluatedKey, &last); err != nil {
			return out, fmt.Errorf("unmarshal last evaluated key: %w", err)
		}
		out.LastEvaluatedKey = &last
	}
	return out, nil
}

// QueryIndex pages through a GSI and returns the main-table key of every
// entry under partitionKey. Index entries are not filtered on expiry; deleting
// an expired item is harmless.
func (s *Store) QueryIndex(ctx context.Context, indexName, partitionKey string) ([]feed.ItemKey, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(feed.AttrPostID).Equal(expression.Value(partitionKey))).
		WithProjection(expression.NamesList(expression.Name(feed.AttrUserID), expression.Name(feed.AttrSortKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build index query: %w", err)
	}

	paginator := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 &indexName,
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var keys []feed.ItemKey
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("query index "+indexName, err)
		}
		var batch []feed.ItemKey
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal index keys: %w", err)
		}
		keys = append(keys, batch...)
	}
	return keys, nil
}
