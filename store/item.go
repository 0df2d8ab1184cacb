package store

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tiendc/go-deepcopy"
)

// Attribute names of the bookkeeping fields stored next to the resource payload.
const (
	AttrID             = "id"
	AttrVID            = "vid"
	AttrResourceType   = "resourceType"
	AttrMeta           = "meta"
	AttrDocumentStatus = "documentStatus"
	AttrLockEndTs      = "lockEndTs"
	AttrReferences     = "_references"
	AttrTTL            = "ttlInSeconds"
)

// lastUpdatedLayout matches the millisecond precision UTC timestamps of meta.lastUpdated.
const lastUpdatedLayout = "2006-01-02T15:04:05.000Z"

// Resource is an opaque resource payload: nested maps, lists and scalars.
type Resource map[string]any

// Item represents a retrieved resource record with its bookkeeping fields parsed.
type Item struct {
	// Raw is the raw DynamoDB item.
	Raw map[string]types.AttributeValue

	// ID is the logical id.
	ID string

	// VID is the version id, starting at 1.
	VID int64

	// ResourceType is the polymorphism discriminator.
	ResourceType string

	// DocumentStatus is the lifecycle state of this version.
	DocumentStatus DocumentStatus

	// LockEndTs is the lock expiry in epoch milliseconds.
	LockEndTs int64

	// LastUpdated is meta.lastUpdated.
	LastUpdated string
}

// Resource decodes the caller-visible resource, without bookkeeping fields.
func (i *Item) Resource() (Resource, error) {
	var r Resource
	if err := attributevalue.UnmarshalMap(i.Raw, &r); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s/%s: %v", ErrInvalidResource, i.ResourceType, i.ID, err)
	}
	return CleanResource(r), nil
}

// unmarshalItem converts a DynamoDB item to an Item struct.
func unmarshalItem(raw map[string]types.AttributeValue) *Item {
	item := &Item{Raw: raw}

	if v, ok := raw[AttrID].(*types.AttributeValueMemberS); ok {
		item.ID = v.Value
	}
	if v, ok := raw[AttrVID].(*types.AttributeValueMemberN); ok {
		item.VID, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw[AttrResourceType].(*types.AttributeValueMemberS); ok {
		item.ResourceType = v.Value
	}
	if v, ok := raw[AttrDocumentStatus].(*types.AttributeValueMemberS); ok {
		item.DocumentStatus = DocumentStatus(v.Value)
	}
	if v, ok := raw[AttrLockEndTs].(*types.AttributeValueMemberN); ok {
		item.LockEndTs, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if meta, ok := raw[AttrMeta].(*types.AttributeValueMemberM); ok {
		if v, ok := meta.Value["lastUpdated"].(*types.AttributeValueMemberS); ok {
			item.LastUpdated = v.Value
		}
		// Projections that only carry meta still yield a usable version.
		if item.VID == 0 {
			if v, ok := meta.Value["versionId"].(*types.AttributeValueMemberS); ok {
				item.VID, _ = strconv.ParseInt(v.Value, 10, 64)
			}
		}
	}

	return item
}

// CleanResource returns a copy of r with the bookkeeping fields removed.
// Nested values are shared with r.
func CleanResource(r Resource) Resource {
	cleaned := make(Resource, len(r))
	for k, v := range r {
		switch k {
		case AttrDocumentStatus, AttrLockEndTs, AttrVID, AttrReferences, AttrTTL:
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}

// CloneResource returns a deep copy of r. Typed maps and slices in the copy
// are converted to map[string]any and []any.
func CloneResource(r Resource) (Resource, error) {
	if r == nil {
		return Resource{}, nil
	}
	var clone Resource
	if err := deepcopy.Copy(&clone, r); err != nil {
		return nil, fmt.Errorf("%w: clone: %v", ErrInvalidResource, err)
	}
	for k, v := range clone {
		clone[k] = normalizeValue(v)
	}
	return clone, nil
}

// normalizeValue rewrites string-keyed maps and non-byte slices of any
// element type into the generic containers the reference walk descends into.
// Scalars keep their type.
func normalizeValue(v any) any {
	switch node := v.(type) {
	case nil, string, bool, []byte:
		return v
	case map[string]any:
		for k, child := range node {
			node[k] = normalizeValue(child)
		}
		return node
	case Resource:
		return normalizeValue(map[string]any(node))
	case []any:
		for i, child := range node {
			node[i] = normalizeValue(child)
		}
		return node
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// GenerateMeta returns the system-generated meta for a version.
func GenerateMeta(vid int64, now time.Time) map[string]any {
	return map[string]any{
		"versionId":   strconv.FormatInt(vid, 10),
		"lastUpdated": now.UTC().Format(lastUpdatedLayout),
	}
}

// PrepareItem builds the stored form of a resource version: the payload plus
// id, vid, system meta, document status, lock timestamp and the flattened
// reference list. The input resource is not modified.
func PrepareItem(resource Resource, resourceType, id string, vid int64, status DocumentStatus, now time.Time) (Resource, error) {
	item, err := CloneResource(resource)
	if err != nil {
		return nil, err
	}
	item[AttrID] = id
	item[AttrVID] = vid
	item[AttrResourceType] = resourceType

	// versionId and lastUpdated are never taken from the caller.
	meta := GenerateMeta(vid, now)
	if existing, ok := item[AttrMeta].(map[string]any); ok {
		for k, v := range existing {
			if _, managed := meta[k]; !managed {
				meta[k] = v
			}
		}
	}
	item[AttrMeta] = meta

	item[AttrDocumentStatus] = string(status)
	item[AttrLockEndTs] = now.UnixMilli()

	refs := referenceFields(item)
	values := make([]string, 0, len(refs))
	for _, ref := range refs {
		values = append(values, ref.Value)
	}
	item[AttrReferences] = values

	return item, nil
}

// MarshalItem converts a prepared item to its DynamoDB representation.
func MarshalItem(item Resource) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrInvalidResource, err)
	}
	return av, nil
}

// metaOf returns meta.versionId and meta.lastUpdated of a prepared item.
func metaOf(item Resource) (versionID, lastUpdated string) {
	meta, _ := item[AttrMeta].(map[string]any)
	versionID, _ = meta["versionId"].(string)
	lastUpdated, _ = meta["lastUpdated"].(string)
	return versionID, lastUpdated
}
