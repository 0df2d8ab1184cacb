package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired checks if an item carries a ttlInSeconds that has passed.
// DynamoDB removes such items lazily, so they can still be returned by reads.
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[AttrTTL]
	if !exists {
		return false // No TTL = kept forever
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// ttlValue returns the epoch-seconds TTL attribute for an expiry after now.
func ttlValue(now time.Time, after time.Duration) types.AttributeValue {
	return &types.AttributeValueMemberN{
		Value: strconv.FormatInt(now.Add(after).Unix(), 10),
	}
}

// millis formats epoch milliseconds as a number attribute.
func millis(ts int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(ts, 10)}
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
