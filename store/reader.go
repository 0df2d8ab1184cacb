package store

import (
	"context"
	"fmt"
	"time"
)

// lockingProjection is what the lock phase needs to know about the current version.
var lockingProjection = []string{AttrID, AttrVID, AttrResourceType, AttrDocumentStatus, AttrLockEndTs, AttrMeta}

// Reader resolves which version of a resource is visible.
type Reader struct {
	client API
	params ParamBuilder
	now    func() time.Time
}

// NewReader creates a Reader over the configured resource table.
func NewReader(client API, config Config) *Reader {
	config.validate()
	return &Reader{
		client: client,
		params: NewParamBuilder(config),
		now:    time.Now,
	}
}

// GetMostRecentReadable returns the version a normal caller should see.
func (r *Reader) GetMostRecentReadable(ctx context.Context, resourceType, id string) (*Item, error) {
	items, err := r.latestVersions(ctx, resourceType, id, 2)
	if err != nil {
		return nil, err
	}
	item, ok := SelectReadable(items)
	if !ok {
		return nil, &ResourceNotFoundError{ResourceType: resourceType, ID: id}
	}
	return item, nil
}

// GetMostRecentForLocking returns the newest version regardless of status.
// Callers decide whether a missing resource is acceptable.
func (r *Reader) GetMostRecentForLocking(ctx context.Context, resourceType, id string, projection ...string) (*Item, error) {
	items, err := r.latestVersions(ctx, resourceType, id, 1, projection...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &ResourceNotFoundError{ResourceType: resourceType, ID: id}
	}
	return items[0], nil
}

// GetExactVersion returns one specific version.
func (r *Reader) GetExactVersion(ctx context.Context, resourceType, id string, vid int64) (*Item, error) {
	result, err := r.client.GetItem(ctx, r.params.GetItem(id, vid))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s version %d: %w", resourceType, id, vid, err)
	}
	if result.Item == nil || IsExpired(result.Item, r.now()) {
		return nil, &ResourceVersionNotFoundError{ResourceType: resourceType, ID: id, VID: vid}
	}
	item := unmarshalItem(result.Item)
	if item.ResourceType != resourceType {
		return nil, &ResourceVersionNotFoundError{ResourceType: resourceType, ID: id, VID: vid}
	}
	return item, nil
}

func (r *Reader) latestVersions(ctx context.Context, resourceType, id string, limit int32, projection ...string) ([]*Item, error) {
	result, err := r.client.Query(ctx, r.params.LatestVersionsQuery(id, resourceType, limit, projection...))
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", resourceType, id, err)
	}
	items := make([]*Item, 0, len(result.Items))
	for _, raw := range result.Items {
		items = append(items, unmarshalItem(raw))
	}
	return items, nil
}
