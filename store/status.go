package store

import "time"

// DocumentStatus is the lifecycle state of one (id, vid) record.
type DocumentStatus string

const (
	// StatusAvailable marks the committed, visible version of a resource.
	StatusAvailable DocumentStatus = "AVAILABLE"

	// StatusPending marks a version staged by a transaction that has not committed yet.
	StatusPending DocumentStatus = "PENDING"

	// StatusLocked marks a version a transaction intends to replace, delete or read.
	StatusLocked DocumentStatus = "LOCKED"

	// StatusPendingDelete marks a version staged for deletion.
	StatusPendingDelete DocumentStatus = "PENDING_DELETE"

	// StatusDeleted marks a historical or deleted version.
	StatusDeleted DocumentStatus = "DELETED"
)

// HoldsLock reports whether the status is one a transaction holds with an expiry.
func (s DocumentStatus) HoldsLock() bool {
	switch s {
	case StatusLocked, StatusPending, StatusPendingDelete:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusPending, StatusLocked, StatusPendingDelete, StatusDeleted:
		return true
	}
	return false
}

// IsLockReclaimable reports whether a held lock has expired and may be taken
// over by another transaction. lockEndTs is in epoch milliseconds.
func IsLockReclaimable(status DocumentStatus, lockEndTs int64, now time.Time) bool {
	return status.HoldsLock() && lockEndTs < now.UnixMilli()
}

// SelectReadable picks the version a normal reader should see from the most
// recent versions of one resource, newest first. A PENDING head hides behind
// the version it is replacing so in-flight writes never mask committed state.
func SelectReadable(items []*Item) (*Item, bool) {
	if len(items) == 0 {
		return nil, false
	}
	latest := items[0]
	switch latest.DocumentStatus {
	case StatusDeleted:
		return nil, false
	case StatusPending:
		if len(items) < 2 || items[1].DocumentStatus == StatusDeleted {
			return nil, false
		}
		return items[1], true
	}
	// AVAILABLE, LOCKED and PENDING_DELETE heads are still the committed version.
	return latest, true
}
