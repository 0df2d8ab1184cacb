package stream

import (
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/versiondb/store"
)

// Stream event names.
const (
	eventRemove = "REMOVE"
)

const (
	aliasSuffix    = "-alias"
	binaryResource = "binary"
)

// Action is the bulk operation applied to one index document.
type Action string

const (
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
)

// CommandType classifies a command for logging and metrics.
type CommandType string

const (
	CommandDelete          CommandType = "delete"
	CommandUpsertAvailable CommandType = "upsert-AVAILABLE"
	CommandUpsertDeleted   CommandType = "upsert-DELETED"
)

// BulkCommand is one document operation of a bulk request.
type BulkCommand struct {
	// ID is the composite document id, "<id>_<vid>".
	ID     string
	Index  string
	Action Action
	Type   CommandType

	// Doc is the upserted document. Nil for deletes.
	Doc map[string]any
}

// AliasName returns the index alias a resource type is written through.
func AliasName(resourceType string) string {
	return strings.ToLower(resourceType) + aliasSuffix
}

func indexFromAlias(alias string) string {
	return strings.TrimSuffix(alias, aliasSuffix)
}

// CompositeID identifies one version of a resource in the index.
func CompositeID(id string, vid int64) string {
	return id + "_" + strconv.FormatInt(vid, 10)
}

func isBinaryResource(resourceType string) bool {
	return strings.ToLower(resourceType) == binaryResource
}

// recordImage is the image that describes the version a record is about.
func recordImage(record events.DynamoDBEventRecord) map[string]events.DynamoDBAttributeValue {
	if record.EventName == eventRemove {
		return record.Change.OldImage
	}
	return record.Change.NewImage
}

// isRemove reports whether the record removes a version from the index.
func isRemove(record events.DynamoDBEventRecord, hardDelete bool) bool {
	if record.EventName == eventRemove {
		return true
	}
	status := store.DocumentStatus(getStringAttr(record.Change.NewImage, store.AttrDocumentStatus))
	return hardDelete && status == store.StatusDeleted
}

func newDeleteCommand(image map[string]events.DynamoDBAttributeValue) BulkCommand {
	return BulkCommand{
		ID:     CompositeID(getStringAttr(image, store.AttrID), getNumberAttr(image, store.AttrVID)),
		Index:  AliasName(getStringAttr(image, store.AttrResourceType)),
		Action: ActionDelete,
		Type:   CommandDelete,
	}
}

// newUpsertCommand returns false for versions that are not visible to
// searches: only AVAILABLE and DELETED versions are indexed.
func newUpsertCommand(image map[string]events.DynamoDBAttributeValue) (BulkCommand, bool, error) {
	var cmdType CommandType
	switch store.DocumentStatus(getStringAttr(image, store.AttrDocumentStatus)) {
	case store.StatusAvailable:
		cmdType = CommandUpsertAvailable
	case store.StatusDeleted:
		cmdType = CommandUpsertDeleted
	default:
		return BulkCommand{}, false, nil
	}

	doc, err := documentFromImage(image)
	if err != nil {
		return BulkCommand{}, false, err
	}
	return BulkCommand{
		ID:     CompositeID(getStringAttr(image, store.AttrID), getNumberAttr(image, store.AttrVID)),
		Index:  AliasName(getStringAttr(image, store.AttrResourceType)),
		Action: ActionUpdate,
		Type:   cmdType,
		Doc:    doc,
	}, true, nil
}
