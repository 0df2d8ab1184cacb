package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition and update expressions of the document status state machine.
const (
	statusUpdateExpr     = "SET #ds = :newStatus, #lock = :futureEndTs"
	statusUpdateTTLExpr  = statusUpdateExpr + ", #ttl = :ttl"
	resourceTypeCondExpr = "#r = :resourceType"
	// The second branch lets a transaction reclaim a lock whose holder never released it.
	expectedStatusCondExpr = resourceTypeCondExpr +
		" AND (#ds = :oldStatus OR (#lock < :currentTs AND (#ds = :lockStatus OR #ds = :pendingStatus OR #ds = :pendingDeleteStatus)))"
	notExistsCondExpr     = "attribute_not_exists(id)"
	latestVersionsKeyExpr = "id = :hkey"
)

// ParamBuilder builds the DynamoDB requests for every state transition and
// versioned read. It performs no I/O.
type ParamBuilder struct {
	// Table is the resource table name.
	Table string

	// LockDuration is added to now for the lockEndTs of LOCKED items.
	LockDuration time.Duration
}

// NewParamBuilder creates a ParamBuilder from a validated Config.
func NewParamBuilder(cfg Config) ParamBuilder {
	return ParamBuilder{Table: cfg.ResourceTable, LockDuration: cfg.LockDuration}
}

// Key returns the primary key of one version.
func Key(id string, vid int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrID:  &types.AttributeValueMemberS{Value: id},
		AttrVID: &types.AttributeValueMemberN{Value: strconv.FormatInt(vid, 10)},
	}
}

// UpdateDocumentStatus moves (id, vid) to newStatus. An empty oldStatus only
// requires the resourceType to match; otherwise the item must be in oldStatus
// or hold an expired lock.
func (b ParamBuilder) UpdateDocumentStatus(oldStatus, newStatus DocumentStatus, id string, vid int64, resourceType string, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{Update: b.statusUpdate(oldStatus, newStatus, id, vid, resourceType, now, 0)}
}

// UpdateDocumentStatusWithTTL is UpdateDocumentStatus that also stamps
// ttlInSeconds so the table's TTL process purges the item after ttl.
func (b ParamBuilder) UpdateDocumentStatusWithTTL(oldStatus, newStatus DocumentStatus, id string, vid int64, resourceType string, now time.Time, ttl time.Duration) types.TransactWriteItem {
	return types.TransactWriteItem{Update: b.statusUpdate(oldStatus, newStatus, id, vid, resourceType, now, ttl)}
}

// UpdateDocumentStatusItem is UpdateDocumentStatusWithTTL as a standalone
// UpdateItem call. A zero ttl leaves ttlInSeconds untouched.
func (b ParamBuilder) UpdateDocumentStatusItem(oldStatus, newStatus DocumentStatus, id string, vid int64, resourceType string, now time.Time, ttl time.Duration) *dynamodb.UpdateItemInput {
	u := b.statusUpdate(oldStatus, newStatus, id, vid, resourceType, now, ttl)
	return &dynamodb.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ConditionExpression:       u.ConditionExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	}
}

func (b ParamBuilder) statusUpdate(oldStatus, newStatus DocumentStatus, id string, vid int64, resourceType string, now time.Time, ttl time.Duration) *types.Update {
	currentTs := now.UnixMilli()
	futureEndTs := currentTs
	if newStatus == StatusLocked {
		futureEndTs = now.Add(b.LockDuration).UnixMilli()
	}

	names := map[string]string{
		"#ds":   AttrDocumentStatus,
		"#lock": AttrLockEndTs,
		"#r":    AttrResourceType,
	}
	values := map[string]types.AttributeValue{
		":newStatus":    &types.AttributeValueMemberS{Value: string(newStatus)},
		":futureEndTs":  millis(futureEndTs),
		":resourceType": &types.AttributeValueMemberS{Value: resourceType},
	}

	updateExpr := statusUpdateExpr
	if ttl > 0 {
		updateExpr = statusUpdateTTLExpr
		names = mergeExprNames(names, map[string]string{"#ttl": AttrTTL})
		values = mergeExprValues(values, map[string]types.AttributeValue{":ttl": ttlValue(now, ttl)})
	}

	condExpr := resourceTypeCondExpr
	if oldStatus != "" {
		condExpr = expectedStatusCondExpr
		values = mergeExprValues(values, map[string]types.AttributeValue{
			":oldStatus":           &types.AttributeValueMemberS{Value: string(oldStatus)},
			":lockStatus":          &types.AttributeValueMemberS{Value: string(StatusLocked)},
			":pendingStatus":       &types.AttributeValueMemberS{Value: string(StatusPending)},
			":pendingDeleteStatus": &types.AttributeValueMemberS{Value: string(StatusPendingDelete)},
			":currentTs":           millis(currentTs),
		})
	}

	return &types.Update{
		TableName:                 aws.String(b.Table),
		Key:                       Key(id, vid),
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String(condExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

// LatestVersionsQuery returns up to limit of the most recent versions of id,
// newest first, restricted to resourceType. projection optionally limits the
// returned attributes.
func (b ParamBuilder) LatestVersionsQuery(id, resourceType string, limit int32, projection ...string) *dynamodb.QueryInput {
	names := map[string]string{"#r": AttrResourceType}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(b.Table),
		KeyConditionExpression: aws.String(latestVersionsKeyExpr),
		FilterExpression:       aws.String(resourceTypeCondExpr),
		ScanIndexForward:       aws.Bool(false),
		Limit:                  aws.Int32(limit),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hkey":         &types.AttributeValueMemberS{Value: id},
			":resourceType": &types.AttributeValueMemberS{Value: resourceType},
		},
	}

	if len(projection) > 0 {
		placeholders := make([]string, 0, len(projection))
		for i, attr := range projection {
			ph := "#p" + strconv.Itoa(i)
			names[ph] = attr
			placeholders = append(placeholders, ph)
		}
		input.ProjectionExpression = aws.String(strings.Join(placeholders, ", "))
	}
	input.ExpressionAttributeNames = names

	return input
}

// GetItem returns a point read of one version.
func (b ParamBuilder) GetItem(id string, vid int64) *dynamodb.GetItemInput {
	return &dynamodb.GetItemInput{
		TableName: aws.String(b.Table),
		Key:       Key(id, vid),
	}
}

// TransactGet returns a point read of one version for TransactGetItems.
func (b ParamBuilder) TransactGet(id string, vid int64) types.TransactGetItem {
	return types.TransactGetItem{
		Get: &types.Get{
			TableName: aws.String(b.Table),
			Key:       Key(id, vid),
		},
	}
}

// PutItem returns a put of a prepared item. Unless allowOverwrite is set the
// put fails when the (id, vid) already exists.
func (b ParamBuilder) PutItem(item map[string]types.AttributeValue, allowOverwrite bool) *dynamodb.PutItemInput {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(b.Table),
		Item:      item,
	}
	if !allowOverwrite {
		input.ConditionExpression = aws.String(notExistsCondExpr)
	}
	return input
}

// TransactPut is PutItem for TransactWriteItems.
func (b ParamBuilder) TransactPut(item map[string]types.AttributeValue, allowOverwrite bool) types.TransactWriteItem {
	put := &types.Put{
		TableName: aws.String(b.Table),
		Item:      item,
	}
	if !allowOverwrite {
		put.ConditionExpression = aws.String(notExistsCondExpr)
	}
	return types.TransactWriteItem{Put: put}
}

// Delete returns an unconditional delete of one version.
func (b ParamBuilder) Delete(id string, vid int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(b.Table),
			Key:       Key(id, vid),
		},
	}
}
