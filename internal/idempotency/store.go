package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-feed-fanout/internal/aws"
)

// ErrRecordVanished is returned by Begin when an event record exists for the
// conditional put but is gone by the time it is read, twice in a row.
var ErrRecordVanished = errors.New("ledger record vanished between create and read")

// Store records which feed events have been processed so that SQS
// redeliveries of a finished event are skipped.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a record is kept
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table keyed by event_id with TTL on expires_at.
// ttlWindow: should exceed the queue's retention period (e.g., 48*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// CreateIfNotExists creates an IN_PROGRESS record for eventID.
// Returns (true, nil) if created, (false, nil) if a record already exists
// (caller should Get to inspect it), (false, err) on other errors.
func (s *Store) CreateIfNotExists(ctx context.Context, eventID, eventType string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := EventRecord{
		EventID:   eventID,
		EventType: eventType,
		Status:    StatusInProgress,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(event_id)"),
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves a record by event ID. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, eventID string) (*EventRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            eventKey(eventID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec EventRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Begin claims eventID for processing. It returns the existing record when
// the event was seen before; the caller skips it if rec.Done(). An event left
// IN_PROGRESS or FAILED by an earlier attempt is claimed again with its
// attempt counter bumped.
func (s *Store) Begin(ctx context.Context, eventID, eventType string) (*EventRecord, bool, error) {
	// A record can expire and be swept between the put and the read; claim
	// once more in that case.
	for range 2 {
		created, err := s.CreateIfNotExists(ctx, eventID, eventType)
		if err != nil {
			return nil, false, err
		}
		if created {
			return nil, true, nil
		}

		rec, err := s.Get(ctx, eventID)
		if err != nil {
			return nil, false, err
		}
		if rec == nil {
			continue
		}
		if rec.Done() {
			return rec, false, nil
		}
		if err := s.retry(ctx, eventID); err != nil {
			return rec, false, err
		}
		return rec, true, nil
	}
	return nil, false, fmt.Errorf("%w: %s", ErrRecordVanished, eventID)
}

func (s *Store) retry(ctx context.Context, eventID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              eventKey(eventID),
		UpdateExpression: awsString("SET #s = :inprogress, updated_at = :ua ADD attempts :one"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":one":        &types.AttributeValueMemberN{Value: "1"},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (retry): %w", err)
	}
	return nil
}

// MarkDone sets status to DONE and stores a small JSON summary of the result.
func (s *Store) MarkDone(ctx context.Context, eventID, result string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              eventKey(eventID),
		UpdateExpression: awsString("SET #s = :done, #r = :rb, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#r": "result",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":rb":   &types.AttributeValueMemberS{Value: result},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the record FAILED with a note; the event will be retried
// on redelivery.
func (s *Store) MarkFailed(ctx context.Context, eventID, note string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              eventKey(eventID),
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func eventKey(eventID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"event_id": &types.AttributeValueMemberS{Value: eventID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

