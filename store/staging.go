package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/versiondb/internal/chunk"
)

// errIncompleteReads is returned when a read of a locked version came back empty.
var errIncompleteReads = errors.New("failed to fulfill all READ requests")

// stagedWrite is one forward write of the stage phase.
type stagedWrite struct {
	write types.TransactWriteItem

	// response indexes the entry response this write belongs to.
	response int

	// lock is the new version the write creates, nil for deletes.
	lock *LockedItem
}

// stagingPlan holds the stage phase writes in bundle processing order:
// deletes, then creates, then updates. Reads are issued after all writes.
type stagingPlan struct {
	writes    []stagedWrite
	reads     []types.TransactGetItem
	readIndex []int
	responses []BatchResponse
}

// planStaging builds the forward writes for every request. Locked versions
// come from the lock phase; an update whose target was not locked is staged
// at version 1.
func (s *Store) planStaging(requests []BatchRequest, lockedItems []LockedItem, now time.Time) (*stagingPlan, error) {
	lockedVersions := make(map[string]int64, len(lockedItems))
	for _, locked := range lockedItems {
		lockedVersions[resourceKey(locked.ResourceType, locked.ID)] = locked.VID
	}

	plan := &stagingPlan{responses: make([]BatchResponse, len(requests))}
	var deletes, creates, updates []stagedWrite

	for i, request := range requests {
		key := resourceKey(request.ResourceType, request.ID)
		switch request.Operation {
		case OperationCreate, OperationUpdate:
			vid := int64(1)
			if request.Operation == OperationUpdate {
				vid = lockedVersions[key] + 1
			}
			prepared, err := PrepareItem(request.Resource, request.ResourceType, request.ID, vid, StatusPending, now)
			if err != nil {
				return nil, err
			}
			av, err := MarshalItem(prepared)
			if err != nil {
				return nil, err
			}
			versionID, lastUpdated := metaOf(prepared)
			plan.responses[i] = BatchResponse{
				ID:           request.ID,
				VID:          versionID,
				Operation:    request.Operation,
				LastModified: lastUpdated,
				ResourceType: request.ResourceType,
				Resource:     CleanResource(prepared),
			}
			w := stagedWrite{
				write:    s.params.TransactPut(av, false),
				response: i,
				lock: &LockedItem{
					ID:           request.ID,
					VID:          vid,
					ResourceType: request.ResourceType,
					Operation:    request.Operation,
				},
			}
			if request.Operation == OperationCreate {
				creates = append(creates, w)
			} else {
				updates = append(updates, w)
			}

		case OperationDelete:
			vid := lockedVersions[key]
			deletes = append(deletes, stagedWrite{
				write:    s.params.UpdateDocumentStatus(StatusLocked, StatusPendingDelete, request.ID, vid, request.ResourceType, now),
				response: i,
			})
			plan.responses[i] = BatchResponse{
				ID:           request.ID,
				VID:          strconv.FormatInt(vid, 10),
				Operation:    request.Operation,
				LastModified: now.UTC().Format(lastUpdatedLayout),
				ResourceType: request.ResourceType,
				Resource:     Resource{},
			}

		case OperationRead:
			vid := lockedVersions[key]
			plan.reads = append(plan.reads, s.params.TransactGet(request.ID, vid))
			plan.readIndex = append(plan.readIndex, i)
			plan.responses[i] = BatchResponse{
				ID:           request.ID,
				VID:          strconv.FormatInt(vid, 10),
				Operation:    request.Operation,
				ResourceType: request.ResourceType,
				Resource:     Resource{},
			}
		}
	}

	plan.writes = append(append(deletes, creates...), updates...)
	return plan, nil
}

// stageItems issues the stage phase. It returns the entry responses in request
// order, the responses of the new versions that were actually written, and the
// held locks extended by those new versions. On error the returned values
// still describe everything that has to be unwound.
func (s *Store) stageItems(ctx context.Context, requests []BatchRequest, lockedItems []LockedItem) (responses, staged []BatchResponse, locks []LockedItem, err error) {
	s.logger.Info("staging begins", zap.Int("requests", len(requests)))
	locks = lockedItems

	plan, err := s.planStaging(requests, lockedItems, s.now())
	if err != nil {
		return nil, nil, locks, err
	}

	for _, batch := range chunk.Slice(plan.writes, s.config.MaxTransactionSize) {
		items := make([]types.TransactWriteItem, 0, len(batch))
		for _, w := range batch {
			items = append(items, w.write)
		}
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return plan.responses, staged, locks, fmt.Errorf("stage writes: %w", err)
		}
		// Track what was written so a later failure can remove it.
		for _, w := range batch {
			if w.lock != nil {
				locks = append(locks, *w.lock)
				staged = append(staged, plan.responses[w.response])
			}
		}
	}

	if err := s.populateReads(ctx, plan); err != nil {
		return plan.responses, staged, locks, err
	}

	s.logger.Info("successfully staged items", zap.Int("writes", len(plan.writes)), zap.Int("reads", len(plan.reads)))
	return plan.responses, staged, locks, nil
}

// populateReads fills the read entry responses from the locked versions.
func (s *Store) populateReads(ctx context.Context, plan *stagingPlan) error {
	offset := 0
	for _, batch := range chunk.Slice(plan.reads, s.config.MaxTransactionSize) {
		result, err := s.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: batch})
		if err != nil {
			return fmt.Errorf("stage reads: %w", err)
		}
		for i := range batch {
			if i >= len(result.Responses) || result.Responses[i].Item == nil {
				return errIncompleteReads
			}
			item := unmarshalItem(result.Responses[i].Item)
			resource, err := item.Resource()
			if err != nil {
				return err
			}
			idx := plan.readIndex[offset+i]
			plan.responses[idx].Resource = resource
			plan.responses[idx].LastModified = item.LastUpdated
		}
		offset += len(batch)
	}
	return nil
}

// rollbackItems removes the staged create and update versions and returns
// the locks that are still held. Failures are logged and left to lock expiry.
func (s *Store) rollbackItems(ctx context.Context, staged []BatchResponse, lockedItems []LockedItem) []LockedItem {
	s.logger.Info("starting unstage items", zap.Int("staged", len(staged)))

	var deletes []types.TransactWriteItem
	removed := make(map[string]struct{})
	for _, response := range staged {
		if response.Operation != OperationCreate && response.Operation != OperationUpdate {
			continue
		}
		vid, err := strconv.ParseInt(response.VID, 10, 64)
		if err != nil {
			continue
		}
		deletes = append(deletes, s.params.Delete(response.ID, vid))
		removed[LockedItem{ID: response.ID, VID: vid, ResourceType: response.ResourceType}.fullID()] = struct{}{}
	}

	remaining := make([]LockedItem, 0, len(lockedItems))
	for _, locked := range lockedItems {
		if _, ok := removed[locked.fullID()]; ok {
			continue
		}
		remaining = append(remaining, locked)
	}

	for _, batch := range chunk.Slice(deletes, s.config.MaxTransactionSize) {
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: batch}); err != nil {
			s.metrics.UnwindFailures.Inc()
			s.logger.Error("failed to unstage items", zap.Error(err))
		}
	}

	return remaining
}

// unlockItems releases every held lock. On rollback all of them go back to
// AVAILABLE. On commit the original version of an update and the target of a
// delete become DELETED, everything else AVAILABLE.
func (s *Store) unlockItems(ctx context.Context, lockedItems []LockedItem, rollBack bool) {
	if len(lockedItems) == 0 {
		return
	}
	s.logger.Info("unlocking begins", zap.Int("items", len(lockedItems)), zap.Bool("rollBack", rollBack))

	now := s.now()
	writes := make([]types.TransactWriteItem, 0, len(lockedItems))
	for _, locked := range lockedItems {
		switch {
		case !rollBack && locked.Operation == OperationDelete:
			writes = append(writes, s.params.UpdateDocumentStatusWithTTL("", StatusDeleted, locked.ID, locked.VID, locked.ResourceType, now, s.config.DeletedTTL))
		case !rollBack && locked.Operation == OperationUpdate && locked.IsOriginalUpdateItem:
			writes = append(writes, s.params.UpdateDocumentStatus("", StatusDeleted, locked.ID, locked.VID, locked.ResourceType, now))
		default:
			writes = append(writes, s.params.UpdateDocumentStatus("", StatusAvailable, locked.ID, locked.VID, locked.ResourceType, now))
		}
	}

	batches := chunk.Slice(writes, s.config.MaxTransactionSize)
	for i, batch := range batches {
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: batch}); err != nil {
			s.metrics.UnwindFailures.Inc()
			held := 0
			for _, rest := range batches[i:] {
				held += len(rest)
			}
			s.logger.Error("failed to unlock items", zap.Int("locksFailedToRelease", held), zap.Error(err))
			return
		}
	}
	s.logger.Info("finished unlocking")
}
