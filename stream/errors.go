package stream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyExists is returned by a SearchIndex when an index or alias
	// it was asked to create is already present.
	ErrAlreadyExists = errors.New("stream: index or alias already exists")

	// ErrMissingResourceType is returned for stream images without a resource type.
	ErrMissingResourceType = errors.New("stream: image has no resource type")
)

// BulkItemError describes one document the search index rejected.
type BulkItemError struct {
	ID        string
	Index     string
	Action    string
	Status    int
	ErrorType string
	Reason    string
}

// BulkError lists every document of a bulk request that failed.
type BulkError struct {
	Items []BulkItemError
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("stream: bulk sync failed for %d documents: %s", len(e.Items), strings.Join(e.IDs(), ","))
}

// IDs returns the composite ids of the failed documents.
func (e *BulkError) IDs() []string {
	ids := make([]string, len(e.Items))
	for i, item := range e.Items {
		ids[i] = item.ID
	}
	return ids
}
