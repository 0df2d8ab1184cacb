// Package store provides a versioned resource store on DynamoDB with
// all-or-nothing multi-resource transactions.
//
// Every write creates a new immutable version of a resource. Versions share
// the logical id (hash key) and are ordered by vid (range key). Exactly one
// version of a live resource is AVAILABLE; older versions are DELETED.
//
// # Transactions
//
// DynamoDB only guarantees atomicity within one TransactWriteItems call of at
// most 100 items. [Store.Transaction] extends that to a bundle of create, read,
// update and delete requests by driving each version through a document
// status state machine:
//
//	AVAILABLE -> LOCKED -> DELETED          (original version of an update)
//	AVAILABLE -> LOCKED -> PENDING_DELETE -> DELETED   (delete)
//	PENDING -> AVAILABLE                   (new version of a create or update)
//
// Locks carry an expiry (lockEndTs) so a crashed coordinator cannot block a
// resource for longer than [Config.LockDuration].
//
// # Reads
//
// [Store.Read] returns the version a normal caller should see: a PENDING
// head is skipped in favour of the committed version it replaces.
// [Store.ReadVersion] returns one historical version.
//
// # Versioned references
//
// With a [Registry], reference fields such as "subject.reference" of the
// registered resource types are pinned to "Type/id/_history/vid" when a
// bundle writes them:
//
//	registry := store.NewRegistry()
//	registry.Register(store.VersionedLink{ResourceType: "Observation", Path: "subject.reference"})
//	s := store.NewWithRegistry(client, store.DefaultConfig(), registry)
//
// # Errors
//
// Bundles report failures through [BundleResponse.ErrorType]:
//
//   - [UserError] - missing resource, unresolvable reference, time budget exceeded
//   - [SystemError] - lock contention, staging conflict, DynamoDB failure
//
// The read and single-resource operations return:
//
//   - [ErrResourceNotFound] - no readable version exists
//   - [ErrResourceVersionNotFound] - the requested version doesn't exist
//   - [ErrAlreadyExists] - a create collided with an existing id
//   - [ErrConcurrentModification] - a conditional status change lost a race
package store
