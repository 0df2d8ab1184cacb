package store

import "time"

// Config holds configuration for the Store.
type Config struct {
	// ResourceTable is the name of the versioned resource table.
	// The table is keyed by id (hash, string) and vid (range, number).
	// Default: "resource-db"
	ResourceTable string

	// LockDuration is how long a LOCKED item stays exclusively held.
	// After it elapses any transaction may reclaim the lock, so a crashed
	// coordinator can only block a resource for this long.
	// Default: 35s
	LockDuration time.Duration

	// MaxExecutionTime is the wall-clock budget for one transaction, measured
	// from TransactionRequest.StartTime. It is checked between phases.
	// Default: 26s (under the usual 30s serverless invocation ceiling)
	MaxExecutionTime time.Duration

	// MaxTransactionSize is the item ceiling of one native TransactWriteItems call.
	// Default: 25
	// Max: 100
	MaxTransactionSize int

	// UpdateCreateSupported lets an update of a missing resource create it at vid 1.
	// Default: false
	UpdateCreateSupported bool

	// DeletedTTL, when positive, stamps ttlInSeconds on resources removed by a
	// transaction so the table's TTL process purges them physically.
	// Default: 0 (keep deleted versions)
	DeletedTTL time.Duration
}

// DefaultConfig returns the reference tuning values.
func DefaultConfig() Config {
	return Config{
		ResourceTable:      "resource-db",
		LockDuration:       35 * time.Second,
		MaxExecutionTime:   26 * time.Second,
		MaxTransactionSize: 25,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.ResourceTable == "" {
		c.ResourceTable = "resource-db"
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 35 * time.Second
	}
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = 26 * time.Second
	}
	if c.MaxTransactionSize < 1 {
		c.MaxTransactionSize = 25
	}
	if c.MaxTransactionSize > 100 {
		c.MaxTransactionSize = 100
	}
	if c.DeletedTTL < 0 {
		c.DeletedTTL = 0
	}
}
