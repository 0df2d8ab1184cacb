package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store provides versioned resource reads and all-or-nothing bundles on DynamoDB.
type Store struct {
	client   API
	config   Config
	registry *Registry
	params   ParamBuilder
	reader   *Reader
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time
	newID    func() string
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client:  client,
		config:  config,
		params:  NewParamBuilder(config),
		reader:  NewReader(client, config),
		logger:  zap.NewNop(),
		metrics: NewMetrics(nil),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// NewWithRegistry creates a new Store instance with versioned-link rules.
func NewWithRegistry(client API, config Config, registry *Registry) *Store {
	s := New(client, config)
	s.registry = registry
	return s
}

// SetRegistry sets the versioned-link rules for reference rewriting.
func (s *Store) SetRegistry(registry *Registry) {
	s.registry = registry
}

// Registry returns the versioned-link rules, or nil if not set.
func (s *Store) Registry() *Registry {
	return s.registry
}

// SetLogger sets the logger. A nil logger discards output.
func (s *Store) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
}

// SetMetrics replaces the Prometheus collectors.
func (s *Store) SetMetrics(m *Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Reader returns the store's versioned resource reader.
func (s *Store) Reader() *Reader {
	return s.reader
}

// Read returns the currently visible version of a resource.
func (s *Store) Read(ctx context.Context, resourceType, id string) (Resource, error) {
	item, err := s.reader.GetMostRecentReadable(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	return item.Resource()
}

// ReadVersion returns one specific version of a resource.
func (s *Store) ReadVersion(ctx context.Context, resourceType, id string, vid int64) (Resource, error) {
	item, err := s.reader.GetExactVersion(ctx, resourceType, id, vid)
	if err != nil {
		return nil, err
	}
	return item.Resource()
}

// Create writes a new resource directly as AVAILABLE version 1.
// An empty id is replaced with a generated one.
func (s *Store) Create(ctx context.Context, resourceType, id string, resource Resource) (Resource, error) {
	if id == "" {
		id = s.newID()
	}
	prepared, err := PrepareItem(resource, resourceType, id, 1, StatusAvailable, s.now())
	if err != nil {
		return nil, err
	}
	av, err := MarshalItem(prepared)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutItem(ctx, s.params.PutItem(av, false))
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("put %s/%s: %w", resourceType, id, err)
	}

	return CleanResource(prepared), nil
}

// Update writes a new version of a resource through a single-entry bundle so
// it gets the same locking as transactions.
func (s *Store) Update(ctx context.Context, resourceType, id string, resource Resource) (Resource, error) {
	if _, err := s.reader.GetMostRecentReadable(ctx, resourceType, id); err != nil {
		if !errors.Is(err, ErrResourceNotFound) || !s.config.UpdateCreateSupported {
			return nil, err
		}
	}

	resp := s.Transaction(ctx, TransactionRequest{
		Requests: []BatchRequest{{
			Operation:    OperationUpdate,
			ResourceType: resourceType,
			ID:           id,
			Resource:     resource,
		}},
		StartTime: s.now(),
	})
	if !resp.Success {
		return nil, &TransactionError{Type: resp.ErrorType, Message: resp.Message}
	}
	return resp.Responses[0].Resource, nil
}

// Delete marks the currently visible version of a resource DELETED.
func (s *Store) Delete(ctx context.Context, resourceType, id string) error {
	item, err := s.reader.GetMostRecentReadable(ctx, resourceType, id)
	if err != nil {
		return err
	}
	return s.markDeleted(ctx, resourceType, id, item.VID)
}

// DeleteVersion marks one AVAILABLE version DELETED.
func (s *Store) DeleteVersion(ctx context.Context, resourceType, id string, vid int64) error {
	item, err := s.reader.GetExactVersion(ctx, resourceType, id, vid)
	if err != nil {
		return err
	}
	if item.DocumentStatus == StatusDeleted {
		return &ResourceVersionNotFoundError{ResourceType: resourceType, ID: id, VID: vid}
	}
	return s.markDeleted(ctx, resourceType, id, vid)
}

func (s *Store) markDeleted(ctx context.Context, resourceType, id string, vid int64) error {
	input := s.params.UpdateDocumentStatusItem(StatusAvailable, StatusDeleted, id, vid, resourceType, s.now(), s.config.DeletedTTL)
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("delete %s/%s version %d: %w", resourceType, id, vid, err)
	}
	s.logger.Info("resource deleted",
		zap.String("resourceType", resourceType),
		zap.String("id", id),
		zap.Int64("vid", vid),
	)
	return nil
}

// Batch is not supported; bundles must be submitted as transactions.
func (s *Store) Batch(ctx context.Context, request TransactionRequest) (BundleResponse, error) {
	return BundleResponse{}, ErrBatchNotSupported
}
