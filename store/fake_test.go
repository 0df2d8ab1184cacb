package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// --- In-memory resource table ---

// fakeTable is an in-memory resource table that evaluates the condition
// expressions built by ParamBuilder. TransactWriteItems is all-or-nothing.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[int64]map[string]types.AttributeValue

	// beforeWrite runs before every TransactWriteItems call with its 1-based
	// call number. A non-nil error fails the call without applying it.
	beforeWrite func(call int, in *dynamodb.TransactWriteItemsInput) error

	// afterWrite runs after every successful TransactWriteItems call.
	afterWrite func(call int, in *dynamodb.TransactWriteItemsInput)

	// queryErr fails every Query.
	queryErr error

	// getErr fails every TransactGetItems. dropGets answers every get with
	// an empty item instead.
	getErr   error
	dropGets bool

	writeCalls int
}

var errConditionFailed = errors.New("conditional check failed")

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[int64]map[string]types.AttributeValue)}
}

func (f *fakeTable) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := stringValue(in.ExpressionAttributeValues[":hkey"])
	resourceType := stringValue(in.ExpressionAttributeValues[":resourceType"])

	versions := make([]int64, 0, len(f.items[id]))
	for vid := range f.items[id] {
		versions = append(versions, vid)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	// Limit applies before the filter, as in DynamoDB.
	if in.Limit != nil && int(*in.Limit) < len(versions) {
		versions = versions[:*in.Limit]
	}

	out := &dynamodb.QueryOutput{}
	for _, vid := range versions {
		item := f.items[id][vid]
		if stringValue(item[AttrResourceType]) != resourceType {
			continue
		}
		out.Items = append(out.Items, project(item, in.ProjectionExpression, in.ExpressionAttributeNames))
	}
	return out, nil
}

func (f *fakeTable) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.get(in.Key)}, nil
}

func (f *fakeTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkPut(in.Item, in.ConditionExpression); err != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String(err.Error())}
	}
	f.put(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	update := &types.Update{
		Key:                       in.Key,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
	}
	if err := f.checkUpdate(update); err != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String(err.Error())}
	}
	f.applyUpdate(update)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeTable) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	f.writeCalls++
	call := f.writeCalls
	f.mu.Unlock()

	if f.beforeWrite != nil {
		if err := f.beforeWrite(call, in); err != nil {
			return nil, err
		}
	}

	if err := f.transactWrite(in.TransactItems); err != nil {
		return nil, &types.TransactionCanceledException{Message: aws.String(err.Error())}
	}

	if f.afterWrite != nil {
		f.afterWrite(call, in)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeTable) transactWrite(writes []types.TransactWriteItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range writes {
		switch {
		case w.Put != nil:
			if err := f.checkPut(w.Put.Item, w.Put.ConditionExpression); err != nil {
				return err
			}
		case w.Update != nil:
			if err := f.checkUpdate(w.Update); err != nil {
				return err
			}
		}
	}
	for _, w := range writes {
		switch {
		case w.Put != nil:
			f.put(w.Put.Item)
		case w.Update != nil:
			f.applyUpdate(w.Update)
		case w.Delete != nil:
			id, vid := keyOf(w.Delete.Key)
			delete(f.items[id], vid)
		}
	}
	return nil
}

func (f *fakeTable) TransactGetItems(ctx context.Context, in *dynamodb.TransactGetItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := &dynamodb.TransactGetItemsOutput{}
	for _, g := range in.TransactItems {
		if f.dropGets {
			out.Responses = append(out.Responses, types.ItemResponse{})
			continue
		}
		out.Responses = append(out.Responses, types.ItemResponse{Item: f.get(g.Get.Key)})
	}
	return out, nil
}

func (f *fakeTable) checkPut(item map[string]types.AttributeValue, cond *string) error {
	if cond == nil || *cond != notExistsCondExpr {
		return nil
	}
	id, vid := keyOf(item)
	if _, exists := f.items[id][vid]; exists {
		return errConditionFailed
	}
	return nil
}

// checkUpdate evaluates resourceTypeCondExpr or expectedStatusCondExpr,
// selected by the presence of :oldStatus.
func (f *fakeTable) checkUpdate(u *types.Update) error {
	id, vid := keyOf(u.Key)
	item, ok := f.items[id][vid]
	if !ok {
		return errConditionFailed
	}
	values := u.ExpressionAttributeValues
	if stringValue(item[AttrResourceType]) != stringValue(values[":resourceType"]) {
		return errConditionFailed
	}
	oldStatus, hasOld := values[":oldStatus"]
	if !hasOld {
		return nil
	}
	status := stringValue(item[AttrDocumentStatus])
	if status == stringValue(oldStatus) {
		return nil
	}
	if numberValue(item[AttrLockEndTs]) < numberValue(values[":currentTs"]) {
		switch status {
		case stringValue(values[":lockStatus"]), stringValue(values[":pendingStatus"]), stringValue(values[":pendingDeleteStatus"]):
			return nil
		}
	}
	return errConditionFailed
}

func (f *fakeTable) applyUpdate(u *types.Update) {
	id, vid := keyOf(u.Key)
	item := f.items[id][vid]
	values := u.ExpressionAttributeValues
	item[AttrDocumentStatus] = values[":newStatus"]
	item[AttrLockEndTs] = values[":futureEndTs"]
	if ttl, ok := values[":ttl"]; ok {
		item[AttrTTL] = ttl
	}
}

func (f *fakeTable) get(key map[string]types.AttributeValue) map[string]types.AttributeValue {
	id, vid := keyOf(key)
	item, ok := f.items[id][vid]
	if !ok {
		return nil
	}
	return copyItem(item)
}

func (f *fakeTable) put(item map[string]types.AttributeValue) {
	id, vid := keyOf(item)
	if f.items[id] == nil {
		f.items[id] = make(map[int64]map[string]types.AttributeValue)
	}
	f.items[id][vid] = copyItem(item)
}

// statuses returns the document status of every stored version of id.
func (f *fakeTable) statuses(id string) map[int64]DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]DocumentStatus, len(f.items[id]))
	for vid, item := range f.items[id] {
		out[vid] = DocumentStatus(stringValue(item[AttrDocumentStatus]))
	}
	return out
}

// raw returns a copy of one stored version, or nil.
func (f *fakeTable) raw(id string, vid int64) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(Key(id, vid))
}

// calls returns how many TransactWriteItems calls were made.
func (f *fakeTable) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCalls
}

// seed stores one version of a resource directly.
func (f *fakeTable) seed(t *testing.T, resourceType, id string, vid int64, status DocumentStatus, lockEndTs time.Time, resource Resource) {
	t.Helper()
	prepared, err := PrepareItem(resource, resourceType, id, vid, status, lockEndTs)
	if err != nil {
		t.Fatalf("prepare %s/%s: %v", resourceType, id, err)
	}
	av, err := MarshalItem(prepared)
	if err != nil {
		t.Fatalf("marshal %s/%s: %v", resourceType, id, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(av)
}

// --- Helpers ---

func keyOf(item map[string]types.AttributeValue) (string, int64) {
	return stringValue(item[AttrID]), numberValue(item[AttrVID])
}

func stringValue(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberValue(av types.AttributeValue) int64 {
	if v, ok := av.(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func project(item map[string]types.AttributeValue, expr *string, names map[string]string) map[string]types.AttributeValue {
	if expr == nil {
		return copyItem(item)
	}
	out := make(map[string]types.AttributeValue)
	for _, ph := range strings.Split(*expr, ", ") {
		attr := ph
		if name, ok := names[ph]; ok {
			attr = name
		}
		if v, ok := item[attr]; ok {
			out[attr] = v
		}
	}
	return out
}

// newTestStore returns a Store over an empty fakeTable.
func newTestStore(cfg Config) (*Store, *fakeTable) {
	table := newFakeTable()
	return New(table, cfg), table
}

// testClock is a settable clock for deadline tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
