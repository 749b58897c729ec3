package dynamostore

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	eqPattern = regexp.MustCompile(`(#\w+)\s*=\s*(:\w+)`)
	gtPattern = regexp.MustCompile(`(#\w+)\s*>\s*(:\w+)`)
)

// mockDynamo is a small in-memory stand-in for the feed table and its
// post_id index. It understands just enough of the expressions produced by
// the expression builder to exercise Store.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue // user_id + "|" + sort_key

	putCalls   int
	queryCalls int
	batchCalls int
	lastQuery  *dyn.QueryInput

	// batchHook returns the keys to leave unprocessed, or an error.
	batchHook func(keys []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error)
	putErr    error
	queryErr  error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func num(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func itemID(item map[string]types.AttributeValue) string {
	return str(item["user_id"]) + "|" + str(item["sort_key"])
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putErr != nil {
		return nil, m.putErr
	}
	if params.Item == nil {
		return nil, errors.New("nil item")
	}
	id := itemID(params.Item)
	if existing, ok := m.items[id]; ok && params.ConditionExpression != nil {
		// attribute_not_exists(sort_key) OR expires_at <= :now
		var now int64
		for _, v := range params.ExpressionAttributeValues {
			now = num(v)
		}
		if num(existing["expires_at"]) > now {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	m.items[id] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID(params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("UpdateItem not supported by the feed table mock")
}

func (m *mockDynamo) BatchWriteItem(ctx context.Context, params *dyn.BatchWriteItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++

	out := &dyn.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range params.RequestItems {
		keys := make([]map[string]types.AttributeValue, 0, len(reqs))
		for _, r := range reqs {
			if r.DeleteRequest == nil {
				return nil, errors.New("only delete requests are supported")
			}
			keys = append(keys, r.DeleteRequest.Key)
		}
		var skip []map[string]types.AttributeValue
		if m.batchHook != nil {
			var err error
			if skip, err = m.batchHook(keys); err != nil {
				return nil, err
			}
		}
		skipped := map[string]bool{}
		for _, k := range skip {
			skipped[itemID(k)] = true
			out.UnprocessedItems[table] = append(out.UnprocessedItems[table], types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: k},
			})
		}
		for _, k := range keys {
			if !skipped[itemID(k)] {
				delete(m.items, itemID(k))
			}
		}
	}
	return out, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	m.lastQuery = params
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	match := eqPattern.FindStringSubmatch(*params.KeyConditionExpression)
	if match == nil {
		return nil, errors.New("unsupported key condition")
	}
	pkName := params.ExpressionAttributeNames[match[1]]
	pkValue := str(params.ExpressionAttributeValues[match[2]])

	// Index entries are ordered by user_id, table entries by sort_key.
	rangeKey := "sort_key"
	if params.IndexName != nil {
		rangeKey = "user_id"
	}

	var part []map[string]types.AttributeValue
	for _, it := range m.items {
		if str(it[pkName]) == pkValue {
			part = append(part, it)
		}
	}
	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.Slice(part, func(i, j int) bool {
		if forward {
			return str(part[i][rangeKey]) < str(part[j][rangeKey])
		}
		return str(part[i][rangeKey]) > str(part[j][rangeKey])
	})
	if start := params.ExclusiveStartKey; start != nil {
		from := str(start[rangeKey])
		idx := sort.Search(len(part), func(i int) bool {
			if forward {
				return str(part[i][rangeKey]) > from
			}
			return str(part[i][rangeKey]) < from
		})
		part = part[idx:]
	}

	out := &dyn.QueryOutput{}
	evaluated := part
	if params.Limit != nil && len(part) > int(*params.Limit) {
		evaluated = part[:*params.Limit]
		last := evaluated[len(evaluated)-1]
		lek := map[string]types.AttributeValue{"user_id": last["user_id"], "sort_key": last["sort_key"]}
		if params.IndexName != nil {
			lek["post_id"] = last["post_id"]
		}
		out.LastEvaluatedKey = lek
	}

	var filterName string
	var filterValue int64
	if params.FilterExpression != nil {
		f := gtPattern.FindStringSubmatch(*params.FilterExpression)
		if f == nil {
			return nil, errors.New("unsupported filter")
		}
		filterName = params.ExpressionAttributeNames[f[1]]
		filterValue = num(params.ExpressionAttributeValues[f[2]])
	}
	for _, it := range evaluated {
		if filterName != "" && num(it[filterName]) <= filterValue {
			continue
		}
		out.Items = append(out.Items, project(it, params))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func project(item map[string]types.AttributeValue, params *dyn.QueryInput) map[string]types.AttributeValue {
	if params.ProjectionExpression == nil {
		return item
	}
	out := map[string]types.AttributeValue{}
	for _, alias := range strings.Split(*params.ProjectionExpression, ",") {
		name := params.ExpressionAttributeNames[strings.TrimSpace(alias)]
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (m *mockDynamo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func strPtr(s string) *string { return &s }
