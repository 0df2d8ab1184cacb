// Package stream provides the DynamoDB Streams handler that mirrors resource
// versions into a search index.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/versiondb/store"
)

// SearchIndex is the subset of a search engine the sync handler writes to.
type SearchIndex interface {
	// AliasesExist reports whether every alias exists.
	AliasesExist(ctx context.Context, aliases []string) (bool, error)

	// GetAliases returns every index with the aliases pointing at it.
	GetAliases(ctx context.Context) (map[string][]string, error)

	// CreateIndex creates an index with the resource mapping and an alias.
	// It returns ErrAlreadyExists if the index is already present.
	CreateIndex(ctx context.Context, index, alias string) error

	// PutAlias points alias at an existing index.
	PutAlias(ctx context.Context, index, alias string) error

	// Bulk applies the commands in order, waiting for them to be searchable.
	// Rejected documents are reported as a *BulkError.
	Bulk(ctx context.Context, commands []BulkCommand) error
}

// Config holds sync handler configuration.
type Config struct {
	// HardDelete removes DELETED versions from the index instead of
	// indexing them with their DELETED status.
	HardDelete bool

	// AliasCacheSize bounds the number of resource types remembered as
	// provisioned. Default: 1000
	AliasCacheSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AliasCacheSize: 1000,
	}
}

func (c *Config) validate() {
	if c.AliasCacheSize <= 0 {
		c.AliasCacheSize = 1000
	}
}

// Handler processes DynamoDB stream events of the resource table.
type Handler struct {
	index        SearchIndex
	config       Config
	knownIndices *lru.ARCCache
	logger       *zap.Logger
	metrics      *Metrics
}

// NewHandler creates a new stream handler. A nil logger discards output.
func NewHandler(index SearchIndex, cfg Config, logger *zap.Logger) (*Handler, error) {
	cfg.validate()
	known, err := lru.NewARC(cfg.AliasCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create alias cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		index:        index,
		config:       cfg,
		knownIndices: known,
		logger:       logger,
		metrics:      NewMetrics(nil),
	}, nil
}

// SetMetrics replaces the handler's collectors. Nil is ignored.
func (h *Handler) SetMetrics(m *Metrics) {
	if m != nil {
		h.metrics = m
	}
}

// HandleDdbToEs syncs a batch of stream records to the search index.
// This function is designed to be used as an AWS Lambda handler; a returned
// error makes Lambda redeliver the whole batch.
func (h *Handler) HandleDdbToEs(ctx context.Context, event events.DynamoDBEvent) error {
	if err := h.sync(ctx, event.Records); err != nil {
		h.logger.Error("synchronization failed, the resources that could be affected are",
			zap.Strings("resources", affectedResources(event.Records)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *Handler) sync(ctx context.Context, records []events.DynamoDBEventRecord) error {
	commands := make(map[string]BulkCommand)
	var order []string
	var toProvision []string
	pending := make(map[string]bool)

	for _, record := range records {
		h.logger.Debug("processing record", zap.String("eventName", record.EventName), zap.String("eventID", record.EventID))

		image := recordImage(record)
		resourceType := getStringAttr(image, store.AttrResourceType)
		if resourceType == "" {
			return fmt.Errorf("record %s: %w", record.EventID, ErrMissingResourceType)
		}
		if isBinaryResource(resourceType) {
			h.metrics.SkippedRecords.WithLabelValues("binary").Inc()
			continue
		}

		index := strings.ToLower(resourceType)
		if !pending[index] && !h.knownIndices.Contains(index) {
			pending[index] = true
			toProvision = append(toProvision, index)
		}

		cmd, ok, err := h.commandFor(record, image)
		if err != nil {
			return fmt.Errorf("record %s: %w", record.EventID, err)
		}
		if !ok {
			h.metrics.SkippedRecords.WithLabelValues("status").Inc()
			continue
		}

		// Streams deliver the mutations of one item in order, so the last
		// command for a version wins.
		if _, seen := commands[cmd.ID]; !seen {
			order = append(order, cmd.ID)
		}
		commands[cmd.ID] = cmd
	}

	if err := h.ensureIndices(ctx, toProvision); err != nil {
		return err
	}
	for _, index := range toProvision {
		h.knownIndices.Add(index, true)
	}

	bulk := make([]BulkCommand, len(order))
	for i, id := range order {
		bulk[i] = commands[id]
	}
	return h.execute(ctx, bulk)
}

func (h *Handler) commandFor(record events.DynamoDBEventRecord, image map[string]events.DynamoDBAttributeValue) (BulkCommand, bool, error) {
	if isRemove(record, h.config.HardDelete) {
		return newDeleteCommand(image), true, nil
	}
	return newUpsertCommand(image)
}

// ensureIndices creates the missing indices and aliases of the given
// lowercase resource types.
func (h *Handler) ensureIndices(ctx context.Context, indices []string) error {
	if len(indices) == 0 {
		return nil
	}

	aliases := make([]string, len(indices))
	for i, index := range indices {
		aliases[i] = AliasName(index)
	}
	allFound, err := h.index.AliasesExist(ctx, aliases)
	if err != nil {
		return fmt.Errorf("check aliases: %w", err)
	}
	if allFound {
		return nil
	}

	h.logger.Debug("there are missing aliases", zap.Strings("aliases", aliases))

	existing, err := h.index.GetAliases(ctx)
	if err != nil {
		return fmt.Errorf("get aliases: %w", err)
	}
	indicesToCreate := make(map[string]bool, len(indices))
	aliasesToCreate := make(map[string]bool, len(aliases))
	for i := range indices {
		indicesToCreate[indices[i]] = true
		aliasesToCreate[aliases[i]] = true
	}
	for index, indexAliases := range existing {
		delete(indicesToCreate, index)
		for _, alias := range indexAliases {
			delete(aliasesToCreate, alias)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, index := range indices {
		alias := AliasName(index)
		// An index is only created together with its alias.
		if !indicesToCreate[index] || !aliasesToCreate[alias] {
			continue
		}
		delete(aliasesToCreate, alias)
		h.logger.Info("create index and alias", zap.String("index", index), zap.String("alias", alias))
		g.Go(func() error {
			return h.created(h.index.CreateIndex(gctx, index, alias), index)
		})
	}
	for _, index := range indices {
		alias := AliasName(index)
		if !aliasesToCreate[alias] {
			continue
		}
		h.logger.Info("create alias", zap.String("alias", alias))
		g.Go(func() error {
			return h.created(h.index.PutAlias(gctx, indexFromAlias(alias), alias), alias)
		})
	}

	if err := g.Wait(); err != nil {
		h.logger.Error("failed to create indices and aliases", zap.Strings("resourceTypes", indices), zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) created(err error, name string) error {
	if errors.Is(err, ErrAlreadyExists) {
		h.logger.Debug("already exists", zap.String("name", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	h.metrics.IndicesCreated.Inc()
	return nil
}

func (h *Handler) execute(ctx context.Context, commands []BulkCommand) error {
	if len(commands) == 0 {
		return nil
	}

	ids := make([]string, len(commands))
	for i, cmd := range commands {
		ids[i] = cmd.ID
		h.metrics.Commands.WithLabelValues(string(cmd.Type)).Inc()
	}
	h.logger.Info("starting bulk sync operation", zap.Strings("ids", ids))

	if err := h.index.Bulk(ctx, commands); err != nil {
		var bulkErr *BulkError
		if errors.As(err, &bulkErr) {
			h.metrics.FailedDocuments.Add(float64(len(bulkErr.Items)))
		}
		h.logger.Error("bulk sync operation failed", zap.Strings("ids", ids), zap.Error(err))
		return err
	}
	return nil
}

func affectedResources(records []events.DynamoDBEventRecord) []string {
	resources := make([]string, len(records))
	for i, record := range records {
		image := recordImage(record)
		resources[i] = "{id: " + getStringAttr(image, store.AttrID) +
			", vid: " + strconv.FormatInt(getNumberAttr(image, store.AttrVID), 10) + "}"
	}
	return resources
}
