package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Bundle result messages.
const (
	msgNoRequests         = "No requests to process"
	msgCommitted          = "Successfully committed requests to DB"
	msgLockFailed         = "Failed to lock resources for transaction"
	msgReferencesNotFound = "Failed to find some resource versions for transaction"
	msgStageFailed        = "Failed to stage resources for transaction"
	msgTimeBudget         = "Transaction time is greater than max allowed code execution time. Please reduce your bundle size by sending fewer Bundle entries."
)

// Transaction applies every request of the bundle or none of them.
//
// Resources are claimed by moving their current version to LOCKED, new
// versions are written as PENDING and only become visible once every write of
// the bundle succeeded. Any failure unwinds what was written and releases the
// locks. The elapsed time since request.StartTime is checked between phases
// against Config.MaxExecutionTime.
func (s *Store) Transaction(ctx context.Context, request TransactionRequest) BundleResponse {
	resp := s.transaction(ctx, request)
	s.metrics.observeResult(resp)
	return resp
}

func (s *Store) transaction(ctx context.Context, request TransactionRequest) BundleResponse {
	startTime := request.StartTime
	if startTime.IsZero() {
		startTime = s.now()
	}

	if len(request.Requests) == 0 {
		return BundleResponse{Success: true, Message: msgNoRequests, Responses: []BatchResponse{}}
	}

	requests, err := s.prepareRequests(request.Requests)
	if err != nil {
		return failure(UserError, err.Error())
	}

	// 1. Lock every resource the bundle touches.
	phaseStart := s.now()
	lockedItems, lockFailure := s.lockItems(ctx, requests)
	s.observePhase("lock", phaseStart)
	if lockFailure != nil {
		s.logger.Error("locks were rolled back because failed to lock resources", zap.String("message", lockFailure.Message))
		return *lockFailure
	}
	if s.deadlineExceeded(startTime) {
		s.unlockItems(ctx, lockedItems, true)
		return s.timeBudgetExceeded(startTime, "locks were rolled back because elapsed time is longer than max code execution time")
	}

	// 2. Pin enrolled references to the versions this bundle will leave current.
	if !s.registry.Empty() {
		phaseStart = s.now()
		ok := s.updateReferences(ctx, requests, lockedItems)
		s.observePhase("references", phaseStart)
		if s.deadlineExceeded(startTime) {
			s.unlockItems(ctx, lockedItems, true)
			return s.timeBudgetExceeded(startTime, "locks were rolled back because elapsed time is longer than max code execution time")
		}
		if !ok {
			s.unlockItems(ctx, lockedItems, true)
			s.logger.Error("locks were rolled back because failed to find versions of some resources")
			return failure(UserError, msgReferencesNotFound)
		}
	}

	// 3. Stage the new versions.
	phaseStart = s.now()
	responses, staged, lockedItems, err := s.stageItems(ctx, requests, lockedItems)
	s.observePhase("stage", phaseStart)
	if s.deadlineExceeded(startTime) {
		remaining := s.rollbackItems(ctx, staged, lockedItems)
		s.unlockItems(ctx, remaining, true)
		return s.timeBudgetExceeded(startTime, "rolled changes back because elapsed time is longer than max code execution time")
	}
	if err != nil {
		remaining := s.rollbackItems(ctx, staged, lockedItems)
		s.unlockItems(ctx, remaining, true)
		s.logger.Error("rolled changes back because staging of items failed", zap.Error(err))
		return failure(SystemError, msgStageFailed)
	}

	// 4. Commit by releasing every lock into its final status.
	phaseStart = s.now()
	s.unlockItems(ctx, lockedItems, false)
	s.observePhase("commit", phaseStart)

	return BundleResponse{Success: true, Message: msgCommitted, Responses: responses}
}

// prepareRequests copies the requests so the caller's resources are never
// modified, and assigns an id to every create that lacks one.
func (s *Store) prepareRequests(requests []BatchRequest) ([]BatchRequest, error) {
	prepared := make([]BatchRequest, 0, len(requests))
	for _, request := range requests {
		switch request.Operation {
		case OperationCreate, OperationRead, OperationUpdate, OperationDelete:
		default:
			return nil, fmt.Errorf("unsupported operation %q for %s", request.Operation, resourceKey(request.ResourceType, request.ID))
		}
		if request.Operation == OperationCreate && request.ID == "" {
			request.ID = s.newID()
		}
		if request.Resource != nil {
			clone, err := CloneResource(request.Resource)
			if err != nil {
				return nil, err
			}
			request.Resource = clone
		}
		prepared = append(prepared, request)
	}
	return prepared, nil
}

// lockItems moves the current version of every non-create request to LOCKED
// in one native transaction. A non-nil response means nothing is held.
func (s *Store) lockItems(ctx context.Context, requests []BatchRequest) ([]LockedItem, *BundleResponse) {
	var toLock []BatchRequest
	for _, request := range requests {
		if request.Operation != OperationCreate {
			toLock = append(toLock, request)
		}
	}
	if len(toLock) > s.config.MaxTransactionSize {
		resp := failure(SystemError, fmt.Sprintf("Cannot lock more than %d items", s.config.MaxTransactionSize))
		return nil, &resp
	}
	if len(toLock) == 0 {
		return nil, nil
	}

	s.logger.Info("locking begins", zap.Int("items", len(toLock)))

	items := make([]*Item, len(toLock))
	readErrs := make([]error, len(toLock))
	g, gctx := errgroup.WithContext(ctx)
	for i, request := range toLock {
		g.Go(func() error {
			items[i], readErrs[i] = s.reader.GetMostRecentForLocking(gctx, request.ResourceType, request.ID, lockingProjection...)
			return nil
		})
	}
	_ = g.Wait()

	var missing []string
	for i, err := range readErrs {
		switch {
		case err == nil:
		case errors.Is(err, ErrResourceNotFound):
			if toLock[i].Operation == OperationUpdate && s.config.UpdateCreateSupported {
				continue
			}
			missing = append(missing, resourceKey(toLock[i].ResourceType, toLock[i].ID))
		default:
			s.logger.Error("failed to read resource for locking",
				zap.String("resourceType", toLock[i].ResourceType),
				zap.String("id", toLock[i].ID),
				zap.Error(err),
			)
			resp := failure(SystemError, s.lockFailedMessage())
			return nil, &resp
		}
	}
	if len(missing) > 0 {
		resp := failure(UserError, "Failed to find resources: "+strings.Join(missing, ","))
		return nil, &resp
	}

	now := s.now()
	var lockedItems []LockedItem
	var writes []types.TransactWriteItem
	for i, item := range items {
		if item == nil {
			continue
		}
		locked := LockedItem{
			ID:                   toLock[i].ID,
			VID:                  item.VID,
			ResourceType:         toLock[i].ResourceType,
			Operation:            toLock[i].Operation,
			IsOriginalUpdateItem: toLock[i].Operation == OperationUpdate,
		}
		lockedItems = append(lockedItems, locked)
		writes = append(writes, s.params.UpdateDocumentStatus(StatusAvailable, StatusLocked, locked.ID, locked.VID, locked.ResourceType, now))
	}
	if len(writes) == 0 {
		return nil, nil
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		s.logger.Error("failed to lock", zap.Error(err))
		resp := failure(SystemError, s.lockFailedMessage())
		return nil, &resp
	}

	s.logger.Info("finished locking", zap.Int("locked", len(lockedItems)))
	return lockedItems, nil
}

func (s *Store) lockFailedMessage() string {
	seconds := strconv.FormatFloat(s.config.LockDuration.Seconds(), 'f', -1, 64)
	return msgLockFailed + ". Please try again after " + seconds + " seconds."
}

func (s *Store) elapsed(startTime time.Time) time.Duration {
	return s.now().Sub(startTime)
}

func (s *Store) deadlineExceeded(startTime time.Time) bool {
	return s.elapsed(startTime) > s.config.MaxExecutionTime
}

func (s *Store) timeBudgetExceeded(startTime time.Time, logMsg string) BundleResponse {
	s.metrics.DeadlineExceeded.Inc()
	s.logger.Warn(logMsg, zap.Duration("elapsed", s.elapsed(startTime)))
	return failure(UserError, msgTimeBudget)
}

func (s *Store) observePhase(phase string, start time.Time) {
	s.metrics.PhaseDuration.WithLabelValues(phase).Observe(s.now().Sub(start).Seconds())
}

func failure(errorType ErrorType, message string) BundleResponse {
	return BundleResponse{
		Success:   false,
		Message:   message,
		Responses: []BatchResponse{},
		ErrorType: errorType,
	}
}
