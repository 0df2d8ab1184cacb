package store

import (
	"strconv"
	"time"
)

// Operation is the kind of one bundle entry.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ErrorType tells callers whether a failed bundle is worth retrying unchanged.
type ErrorType string

const (
	// UserError means the request has to change (missing resource, bad
	// reference, bundle too slow) before it can succeed.
	UserError ErrorType = "USER_ERROR"

	// SystemError means a conflict or store failure; the whole bundle may be retried.
	SystemError ErrorType = "SYSTEM_ERROR"
)

// BatchRequest is one entry of a bundle.
type BatchRequest struct {
	Operation    Operation `json:"operation"`
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id,omitempty"`
	Resource     Resource  `json:"resource,omitempty"`
}

// BatchResponse is the outcome of one bundle entry.
type BatchResponse struct {
	ID           string    `json:"id"`
	VID          string    `json:"vid"`
	Operation    Operation `json:"operation"`
	LastModified string    `json:"lastModified"`
	ResourceType string    `json:"resourceType"`
	Resource     Resource  `json:"resource"`
}

// TransactionRequest is an all-or-nothing bundle.
type TransactionRequest struct {
	Requests []BatchRequest `json:"requests"`

	// StartTime anchors the execution budget. Zero means now.
	StartTime time.Time `json:"startTime"`
}

// BundleResponse is the result of a bundle.
type BundleResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Responses []BatchResponse `json:"batchReadWriteResponses"`
	ErrorType ErrorType       `json:"errorType,omitempty"`
}

// LockedItem tracks one version a transaction holds so it can be unwound.
type LockedItem struct {
	ID           string
	VID          int64
	ResourceType string
	Operation    Operation

	// IsOriginalUpdateItem marks the pre-update version of an update, which
	// becomes DELETED on commit.
	IsOriginalUpdateItem bool
}

func resourceKey(resourceType, id string) string {
	return resourceType + "/" + id
}

func (l LockedItem) fullID() string {
	return resourceKey(l.ResourceType, l.ID) + "_" + strconv.FormatInt(l.VID, 10)
}
